package planner

import (
	"context"
	"testing"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFencedJSONBlock(t *testing.T) {
	text := "Here is my plan:\n```json\n{\"steps\": [{\"action\": \"read\", \"files\": [\"pkg/a.go\"], \"description\": \"inspect a.go\"}]}\n```\nNow proceeding."
	plan := Parse(text)
	require.NotNil(t, plan)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "read", plan.Steps[0].Action)
	assert.Equal(t, []string{"pkg/a.go"}, plan.Steps[0].Files)
}

func TestParseLooseJSONSubstring(t *testing.T) {
	text := `Plan: {"steps": [{"action": "edit", "files": [], "description": "fix bug"}]} proceeding now.`
	plan := Parse(text)
	require.NotNil(t, plan)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "fix bug", plan.Steps[0].Description)
}

func TestParseFallsBackToFilePathExtraction(t *testing.T) {
	text := "I will look at pkg/agent/flow.go and pkg/task/state.go to understand the bug."
	plan := Parse(text)
	require.NotNil(t, plan)
	require.Len(t, plan.Steps, 1)
	assert.ElementsMatch(t, []string{"pkg/agent/flow.go", "pkg/task/state.go"}, plan.Steps[0].Files)
}

func TestParseReturnsNilForUnusableText(t *testing.T) {
	plan := Parse("I have no plan to share right now.")
	assert.Nil(t, plan)
}

func TestParseDropsStepsWithNoContent(t *testing.T) {
	text := `{"steps": [{"action": "noop", "files": [], "description": ""}, {"action": "read", "files": ["x.go"], "description": ""}]}`
	plan := Parse(text)
	require.NotNil(t, plan)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "read", plan.Steps[0].Action)
}

func TestExtractFilePathsExcludesMediaAndVersionPaths(t *testing.T) {
	text := "See assets/logo.png and /v1.2/legacy.go and pkg/real.go"
	paths := ExtractFilePaths(text)
	assert.Contains(t, paths, "pkg/real.go")
	assert.NotContains(t, paths, "assets/logo.png")
}

func TestExtractRepoContextPriority(t *testing.T) {
	repo, ok := ExtractRepoContext("repository: acme/widgets, also see github.com/other/repo")
	require.True(t, ok)
	assert.Equal(t, "acme/widgets", repo)
}

func TestExtractRepoContextFromURL(t *testing.T) {
	repo, ok := ExtractRepoContext("check out github.com/acme/widgets for details")
	require.True(t, ok)
	assert.Equal(t, "acme/widgets", repo)
}

func TestPreFetchToleratesFailures(t *testing.T) {
	plan := &task.Plan{Steps: []task.PlanStep{{Files: []string{"a.go", "b.go"}}}}
	reader := func(ctx context.Context, repo, path string) (string, bool) {
		if path == "a.go" {
			return "content-a", true
		}
		return "", false
	}
	results := PreFetch(context.Background(), plan, "acme/widgets", reader)
	assert.Equal(t, "content-a", results["a.go"])
	_, ok := results["b.go"]
	assert.False(t, ok)
}

func TestInjectorResolvesRepoFromConversationAndInjectsFiles(t *testing.T) {
	plan := &task.Plan{Steps: []task.PlanStep{{Files: []string{"a.go"}}}}
	conversation := []task.Message{
		{Role: task.RoleUser, Text: "please look at repo: acme/widgets and fix the bug"},
	}
	reader := func(ctx context.Context, repo, path string) (string, bool) {
		assert.Equal(t, "acme/widgets", repo)
		assert.Equal(t, "a.go", path)
		return "package widgets", true
	}
	injector := NewInjector(reader)
	block := injector.Inject(context.Background(), plan, conversation)
	assert.Contains(t, block, "[PRE-LOADED FILES]")
	assert.Contains(t, block, "package widgets")
}

func TestInjectorReturnsEmptyWithoutRepoReference(t *testing.T) {
	plan := &task.Plan{Steps: []task.PlanStep{{Files: []string{"a.go"}}}}
	conversation := []task.Message{{Role: task.RoleUser, Text: "just fix the bug, no repo mentioned"}}
	injector := NewInjector(func(ctx context.Context, repo, path string) (string, bool) {
		t.Fatal("reader should not be called without a resolved repo")
		return "", false
	})
	assert.Equal(t, "", injector.Inject(context.Background(), plan, conversation))
}

func TestBuildInjectionSkipsBinaryAndTruncatesLarge(t *testing.T) {
	binary := string([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})
	large := ""
	for i := 0; i < 9000; i++ {
		large += "x"
	}
	inj := BuildInjection(map[string]string{
		"bin.dat": binary,
		"big.go":  large,
	})
	assert.Contains(t, inj.Skipped, "bin.dat")
	assert.Contains(t, inj.Loaded, "big.go")
	assert.Contains(t, inj.Block, "truncated")
}
