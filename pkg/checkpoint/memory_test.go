package checkpoint

import (
	"context"
	"testing"

	"github.com/corestack/taskorch/pkg/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGatewayGetMissingReturnsErrNotFound(t *testing.T) {
	g := NewMemoryGateway()
	_, err := g.Get(context.Background(), "u1", LatestSlot)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGatewayPutThenGetRoundTrips(t *testing.T) {
	g := NewMemoryGateway()
	state := task.New("t1", "u1", "c1", "gpt-4o", nil, false)
	state.Iterations = 3

	require.NoError(t, g.Put(context.Background(), "u1", LatestSlot, state))

	got, err := g.Get(context.Background(), "u1", LatestSlot)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Iterations)
	assert.Equal(t, "t1", got.TaskID)
}

func TestMemoryGatewayPutClonesToAvoidAliasing(t *testing.T) {
	g := NewMemoryGateway()
	state := task.New("t1", "u1", "c1", "gpt-4o", nil, false)
	require.NoError(t, g.Put(context.Background(), "u1", LatestSlot, state))

	state.Iterations = 99

	got, err := g.Get(context.Background(), "u1", LatestSlot)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Iterations)
}

func TestMemoryGatewayGetClonesToAvoidAliasing(t *testing.T) {
	g := NewMemoryGateway()
	state := task.New("t1", "u1", "c1", "gpt-4o", nil, false)
	require.NoError(t, g.Put(context.Background(), "u1", LatestSlot, state))

	got, err := g.Get(context.Background(), "u1", LatestSlot)
	require.NoError(t, err)
	got.Iterations = 42

	got2, err := g.Get(context.Background(), "u1", LatestSlot)
	require.NoError(t, err)
	assert.Equal(t, 0, got2.Iterations)
}

func TestMemoryGatewayListScopesByUser(t *testing.T) {
	g := NewMemoryGateway()
	s1 := task.New("t1", "u1", "c1", "gpt-4o", nil, false)
	s2 := task.New("t2", "u2", "c2", "gpt-4o", nil, false)
	require.NoError(t, g.Put(context.Background(), "u1", LatestSlot, s1))
	require.NoError(t, g.Put(context.Background(), "u1", "manual-1", s1))
	require.NoError(t, g.Put(context.Background(), "u2", LatestSlot, s2))

	summaries, err := g.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	summaries, err = g.List(context.Background(), "u2")
	require.NoError(t, err)
	assert.Len(t, summaries, 1)
}

func TestMemoryGatewayListUnknownUserReturnsEmpty(t *testing.T) {
	g := NewMemoryGateway()
	summaries, err := g.List(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, summaries)
}
