// Package planner forces a structured plan out of the model's first
// response, resolves the files it references ahead of time, and formats
// the resolved content as an injected context block. A plan is a flat step
// list, not a dependency graph.
package planner

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/corestack/taskorch/pkg/task"
)

// Prompt is the fixed planning-phase instruction appended to the system
// message for the plan phase's single model call.
const Prompt = `[PLANNING PHASE]
Before doing any work, produce a short plan as a single JSON code block:

` + "```json" + `
{"steps": [{"action": "...", "files": ["..."], "description": "..."}]}
` + "```" + `

Produce between 3 and 8 steps. Immediately after the plan, proceed with execution — do not wait for confirmation.`

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	looseStepsRe = regexp.MustCompile(`(?s)\{\s*"steps"\s*:\s*\[.*?\]\s*\}`)

	pathWithSlashRe = regexp.MustCompile(`[\w./-]+/[\w.-]+\.(?:ts|tsx|js|jsx|py|rs|go|java|rb|php|md|json|yaml|yml|toml|sql|sh|html|css|c|cpp|h|hpp)(?::\d+)?`)
	bareFileRe      = regexp.MustCompile("[`'\"\\s][\\w.-]+\\.(?:ts|tsx|js|jsx|py|rs|go|java|rb|php|md|json|yaml|yml|toml|sql|sh|html|css)(?::\\d+)?")

	repoColonRe  = regexp.MustCompile(`(?i)(?:repository|repo|project|codebase)\s*[:=]\s*([\w.-]+/[\w.-]+)`)
	repoURLRe    = regexp.MustCompile(`github\.com/([\w.-]+/[\w.-]+)`)
	repoPrepRe   = regexp.MustCompile(`(?i)\b(?:in|from|on|at|of)\s+([\w.-]+/[\w.-]+)\b`)

	mediaExtRe = regexp.MustCompile(`(?i)\.(?:png|jpe?g|gif|pdf|zip|woff2?|ico|svg|mp4|mp3)$`)
	versionRe  = regexp.MustCompile(`/v\d+\.\d+`)
)

const (
	maxInjectionTotal = 50000
	maxFileChars      = 8000
	binarySampleSize  = 512
)

// Parser adapts the package-level Parse function to task.PlanParser, so a
// Processor can be configured with one without importing this package's
// free functions directly.
type Parser struct{}

// Parse extracts a Plan from the model's raw planning-phase response text.
// It tries, in order: a fenced JSON code block, a loose {"steps": [...]}
// substring, and finally a heuristic file-path extraction fallback
// synthesized into a single step. Returns nil if nothing usable is found.
func Parse(text string) *task.Plan {
	if plan := parseJSONBlock(fencedJSONRe.FindStringSubmatch(text)); plan != nil {
		return normalize(plan)
	}
	if plan := parseJSONBlock(looseStepsRe.FindString(text)); plan != nil {
		return normalize(plan)
	}

	paths := ExtractFilePaths(text)
	if len(paths) == 0 {
		return nil
	}
	return &task.Plan{Steps: []task.PlanStep{{
		Action:      "unknown",
		Files:       paths,
		Description: "",
	}}}
}

// Parse satisfies task.PlanParser by delegating to the package function.
func (Parser) Parse(text string) *task.Plan {
	return Parse(text)
}

func parseJSONBlock(match any) *task.Plan {
	var raw string
	switch v := match.(type) {
	case []string:
		if len(v) < 2 {
			return nil
		}
		raw = v[1]
	case string:
		if v == "" {
			return nil
		}
		raw = v
	default:
		return nil
	}

	var decoded task.Plan
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}
	return &decoded
}

func normalize(plan *task.Plan) *task.Plan {
	steps := make([]task.PlanStep, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		action := strings.TrimSpace(s.Action)
		if action == "" {
			action = "unknown"
		}
		description := strings.TrimSpace(s.Description)

		files := make([]string, 0, len(s.Files))
		for _, f := range s.Files {
			f = strings.TrimSpace(f)
			if f != "" {
				files = append(files, f)
			}
		}

		if description == "" && len(files) == 0 {
			continue
		}
		steps = append(steps, task.PlanStep{Action: action, Files: files, Description: description})
	}
	if len(steps) == 0 {
		return nil
	}
	return &task.Plan{Steps: steps}
}

// ExtractFilePaths heuristically finds file-path-like tokens in free-form
// text, used both as the planner's last-resort fallback and by callers
// that want file references from arbitrary model output.
func ExtractFilePaths(text string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(raw string) {
		p := strings.Trim(raw, "`'\"")
		p = strings.TrimSpace(p)
		p = strings.TrimPrefix(p, "./")
		if idx := strings.LastIndex(p, ":"); idx > 0 && isDigits(p[idx+1:]) {
			p = p[:idx]
		}
		if p == "" || seen[p] {
			return
		}
		if mediaExtRe.MatchString(p) || versionRe.MatchString(p) || strings.HasPrefix(p, "@") {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	for _, m := range pathWithSlashRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range bareFileRe.FindAllString(text, -1) {
		add(strings.TrimSpace(m))
	}

	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ExtractRepoContext scans text for an explicit repository reference,
// trying an explicit "repo: owner/name" form, then a github.com URL, then
// a prepositional "in owner/name" form, in that priority order.
func ExtractRepoContext(text string) (string, bool) {
	if m := repoColonRe.FindStringSubmatch(text); len(m) > 1 {
		return m[1], true
	}
	if m := repoURLRe.FindStringSubmatch(text); len(m) > 1 {
		return m[1], true
	}
	if m := repoPrepRe.FindStringSubmatch(text); len(m) > 1 {
		return m[1], true
	}
	return "", false
}

// FileReader fetches the content of one repo-relative file, returning
// ("", false) if it could not be read. Concrete implementations (a git
// host client, a local filesystem walker) are external collaborators.
type FileReader func(ctx context.Context, repo, path string) (string, bool)

// PreFetch starts a parallel read of every unique file referenced across a
// plan's steps and returns once all reads have settled. Failures resolve
// to absence, not error — a partially-resolved plan still proceeds.
func PreFetch(ctx context.Context, plan *task.Plan, repo string, read FileReader) map[string]string {
	if plan == nil {
		return nil
	}

	unique := make(map[string]bool)
	for _, step := range plan.Steps {
		for _, f := range step.Files {
			unique[f] = true
		}
	}

	results := make(map[string]string, len(unique))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for path := range unique {
		path := path
		g.Go(func() error {
			content, ok := read(gctx, repo, path)
			if !ok {
				return nil
			}
			mu.Lock()
			results[path] = content
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // read failures resolve to absence, never abort the batch

	return results
}

// Injection is the composed pre-loaded-files context block plus the
// bookkeeping the progress formatter and tests need.
type Injection struct {
	Block   string
	Loaded  []string
	Skipped []string
}

// BuildInjection formats pre-fetched file contents into a single context
// block, applying binary detection, per-file truncation, and a total
// budget across all files.
func BuildInjection(contents map[string]string) Injection {
	if len(contents) == 0 {
		return Injection{}
	}

	paths := make([]string, 0, len(contents))
	for p := range contents {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("[PRE-LOADED FILES] The following files were fetched ahead of time. Do NOT read these again; use the content below directly.\n\n")

	var loaded, skipped []string
	total := 0

	for _, path := range paths {
		content := contents[path]
		if content == "" || isBinary(content) {
			skipped = append(skipped, path)
			continue
		}

		truncated := content
		if len(truncated) > maxFileChars {
			truncated = truncated[:maxFileChars] + "\n... [truncated, " + strconv.Itoa(len(content)) + " chars total]"
		}

		section := "[FILE: " + path + "]\n" + truncated + "\n\n"
		if total+len(section) > maxInjectionTotal {
			skipped = append(skipped, path)
			continue
		}

		b.WriteString(section)
		total += len(section)
		loaded = append(loaded, path)
	}

	if len(loaded) == 0 {
		return Injection{Skipped: skipped}
	}

	return Injection{Block: b.String(), Loaded: loaded, Skipped: skipped}
}

// Injector adapts PreFetch, BuildInjection, and ExtractRepoContext into a
// task.PlanInjector: the plan-phase collaborator a Processor calls once,
// right before the work phase starts, to resolve the plan's referenced
// files and compose the context block that gets injected into the
// conversation.
type Injector struct {
	Read FileReader
}

// NewInjector builds an Injector backed by the given file reader. A nil
// reader makes Inject a no-op.
func NewInjector(read FileReader) *Injector {
	return &Injector{Read: read}
}

// Inject resolves repo from the most recent user message, pre-fetches the
// plan's referenced files, and returns the composed [PRE-LOADED FILES]
// block. Returns "" if no repo reference is found or nothing resolves.
func (i *Injector) Inject(ctx context.Context, plan *task.Plan, conversation []task.Message) string {
	if i == nil || i.Read == nil || plan == nil {
		return ""
	}
	repo, ok := repoFromConversation(conversation)
	if !ok {
		return ""
	}
	contents := PreFetch(ctx, plan, repo, i.Read)
	return BuildInjection(contents).Block
}

func repoFromConversation(conversation []task.Message) (string, bool) {
	for i := len(conversation) - 1; i >= 0; i-- {
		m := conversation[i]
		if m.Role != task.RoleUser {
			continue
		}
		if repo, ok := ExtractRepoContext(m.Text); ok {
			return repo, true
		}
	}
	return "", false
}

func isBinary(content string) bool {
	sample := content
	if len(sample) > binarySampleSize {
		sample = sample[:binarySampleSize]
	}
	if len(sample) == 0 {
		return false
	}
	control := 0
	for _, b := range []byte(sample) {
		if b == '\t' || b == '\n' || b == '\r' {
			continue
		}
		if b < 0x20 || b == 0x7f {
			control++
		}
	}
	return float64(control)/float64(len(sample)) > 0.10
}

