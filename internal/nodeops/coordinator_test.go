package nodeops

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralvault/graphcore/internal/db"
	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/resolver"
	"neuralvault/graphcore/internal/store"
	"neuralvault/graphcore/internal/wire"
)

// countingTransport records how often each command reached the authority.
type countingTransport struct {
	inner graphapi.Transport

	mu    sync.Mutex
	calls map[string]int
}

func (c *countingTransport) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	c.mu.Lock()
	c.calls[command]++
	c.mu.Unlock()
	return c.inner.Invoke(ctx, command, args)
}

func (c *countingTransport) count(command string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[command]
}

type harness struct {
	api       *graphapi.Client
	store     *store.Store
	coord     *Coordinator
	transport *countingTransport
	successes []Success
}

func setup(t *testing.T, confirm Confirmer) *harness {
	t.Helper()
	d, err := db.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	tr := &countingTransport{inner: wire.Loopback{Handler: db.NewHandler(d, nil)}, calls: map[string]int{}}
	api := graphapi.NewClient(tr, nil, nil)
	s := store.New(api, nil, nil)
	h := &harness{api: api, store: s, coord: New(api, s, confirm, nil), transport: tr}
	h.coord.OnSuccess(func(ev Success) { h.successes = append(h.successes, ev) })
	return h
}

func (h *harness) create(t *testing.T, typ model.NodeType, title string) model.Node {
	t.Helper()
	n, err := h.api.CreateNode(context.Background(), graphapi.NewNode{Type: typ, Title: title})
	require.NoError(t, err)
	return n
}

func TestReviewWorkflow(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	res := h.create(t, model.NodeResource, "clipping")

	unreviewed, err := h.store.Load(ctx, graphapi.Filter{UnreviewedOnly: true})
	require.NoError(t, err)
	require.Len(t, unreviewed, 1)

	got, err := h.coord.Approve(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewReviewed, got.ReviewStatus)

	unreviewed, err = h.store.Load(ctx, graphapi.Filter{UnreviewedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unreviewed, "filtered list was refetched")

	got, err = h.coord.Reject(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewRejected, got.ReviewStatus)
	cached, ok := h.store.Node(res.NodeID)
	require.True(t, ok)
	assert.Equal(t, model.ReviewRejected, cached.ReviewStatus)

	assert.Equal(t, []Success{{OpApprove, res.NodeID}, {OpReject, res.NodeID}}, h.successes)
}

func TestTogglePinned_PublishesPinnedTopic(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	topic := h.create(t, model.NodeTopic, "reading")

	var events []store.Event
	cancel := h.store.Subscribe(store.TopicPinned, func(ev store.Event) { events = append(events, ev) })
	defer cancel()

	pinned, err := h.coord.TogglePinned(ctx, topic)
	require.NoError(t, err)
	assert.True(t, pinned.IsPinned)
	assert.NotNil(t, pinned.PinnedAt)
	require.Len(t, events, 1)

	list, err := h.store.Load(ctx, graphapi.Filter{PinnedOnly: true})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	unpinned, err := h.coord.TogglePinned(ctx, pinned)
	require.NoError(t, err)
	assert.False(t, unpinned.IsPinned)
	list, err = h.store.Load(ctx, graphapi.Filter{PinnedOnly: true})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Len(t, h.successes, 2)
}

func TestSetTaskStatus(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	task := h.create(t, model.NodeTask, "file taxes")

	done, err := h.coord.SetTaskStatus(ctx, task, model.TaskDone)
	require.NoError(t, err)
	assert.Equal(t, model.TaskDone, done.Task.Status)
	assert.NotNil(t, done.Task.DoneDate)

	todo, err := h.coord.SetTaskStatus(ctx, done, model.TaskTodo)
	require.NoError(t, err)
	assert.Nil(t, todo.Task.DoneDate)

	_, err = h.coord.SetTaskStatus(ctx, h.create(t, model.NodeTopic, "x"), model.TaskDone)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDelete_Confirmation(t *testing.T) {
	answer := false
	h := setup(t, ConfirmFunc(func(context.Context, model.Node) (bool, error) { return answer, nil }))
	ctx := context.Background()
	res := h.create(t, model.NodeResource, "old note")
	_, err := h.store.Load(ctx, graphapi.Filter{})
	require.NoError(t, err)

	err = h.coord.Delete(ctx, res, false)
	assert.ErrorIs(t, err, ErrDeleteDeclined)
	assert.Zero(t, h.transport.count(wire.CmdSoftDelete), "declined before any remote call")

	answer = true
	require.NoError(t, h.coord.Delete(ctx, res, false))
	assert.Equal(t, 1, h.transport.count(wire.CmdSoftDelete))
	_, ok := h.store.Node(res.NodeID)
	assert.False(t, ok, "evicted")

	_, err = h.api.GetNode(ctx, res.NodeID)
	assert.ErrorIs(t, err, graphapi.ErrNotFound)
	assert.Equal(t, []Success{{OpDelete, res.NodeID}}, h.successes)
}

func TestDelete_SkipConfirmAndNilConfirmer(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	task := h.create(t, model.NodeTask, "t")

	assert.ErrorIs(t, h.coord.Delete(ctx, task, false), ErrDeleteDeclined)
	require.NoError(t, h.coord.Delete(ctx, task, true))
}

func TestConvert_ResourceToTaskRefreshesViews(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	for _, title := range []string{"a", "b", "c"} {
		h.create(t, model.NodeTopic, title)
	}
	container := h.create(t, model.NodeTask, "plan")
	res := h.create(t, model.NodeResource, "scan")
	require.Equal(t, int64(5), res.NodeID)

	_, err := h.api.Link(ctx, container.NodeID, res.NodeID, model.RelContains, graphapi.LinkOptions{})
	require.NoError(t, err)
	res, err = h.coord.TogglePinned(ctx, res)
	require.NoError(t, err)

	r := resolver.New(h.api, h.store, nil, nil)
	defer r.Close()
	require.NoError(t, r.Select(ctx, container))
	require.Len(t, r.View().ContextNodes, 1)
	_, err = h.store.Load(ctx, graphapi.Filter{PinnedOnly: true})
	require.NoError(t, err)
	fetches := h.transport.count(wire.CmdFetchByFilter)

	got, err := h.coord.Convert(ctx, res, model.NodeTask)
	require.NoError(t, err)
	assert.Equal(t, res.NodeID, got.NodeID)
	assert.Equal(t, res.UUID, got.UUID)
	assert.Equal(t, model.NodeTask, got.Type)
	assert.Nil(t, got.Resource)
	require.NotNil(t, got.Task)
	assert.Equal(t, model.TaskTodo, got.Task.Status)

	pinned, err := h.store.Load(ctx, graphapi.Filter{PinnedOnly: true})
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, model.NodeTask, pinned[0].Type)
	assert.Equal(t, fetches+1, h.transport.count(wire.CmdFetchByFilter), "pinned list refetched")

	require.Eventually(t, func() bool {
		v := r.View()
		return len(v.ContextNodes) == 1 && v.ContextNodes[0].Type == model.NodeTask
	}, time.Second, 5*time.Millisecond)
}

func TestConvert_Refusals(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	task := h.create(t, model.NodeTask, "t")

	_, err := h.coord.Convert(ctx, task, model.NodeResource)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Zero(t, h.transport.count(wire.CmdConvertType))
}

// lyingGraph returns a converted node with a new identity.
type lyingGraph struct{ Graph }

func (lyingGraph) ConvertType(_ context.Context, id int64, target model.NodeType) (model.Node, error) {
	return model.Node{NodeID: id, UUID: "fresh", Type: target, Task: &model.TaskFields{Status: model.TaskTodo, Priority: model.PriorityMedium}}, nil
}

func TestConvert_IdentityChangeIsSchemaViolation(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	res := h.create(t, model.NodeResource, "r")
	h.store.Put(res)

	c := New(lyingGraph{h.api}, h.store, nil, nil)
	_, err := c.Convert(ctx, res, model.NodeTopic)
	var sv *model.SchemaViolation
	require.True(t, errors.As(err, &sv))
	assert.Equal(t, "node.uuid", sv.Field)

	cached, _ := h.store.Node(res.NodeID)
	assert.Equal(t, model.NodeResource, cached.Type, "cache untouched")
}

func TestConfirmEdgeRelation_PatchesInPlace(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	topic := h.create(t, model.NodeTopic, "ml")
	res := h.create(t, model.NodeResource, "paper")
	conf := 0.42
	_, err := h.api.Link(ctx, topic.NodeID, res.NodeID, model.RelContains, graphapi.LinkOptions{Confidence: &conf, Suggested: true})
	require.NoError(t, err)

	edges, err := h.coord.EdgesTo(ctx, res.NodeID, model.RelContains)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.False(t, edges[0].IsManual)

	confirmed, err := h.coord.ConfirmEdgeRelation(ctx, edges[0])
	require.NoError(t, err)
	assert.True(t, confirmed.IsManual)

	after, err := h.coord.EdgesTo(ctx, res.NodeID, model.RelContains)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, edges[0].EdgeID, after[0].EdgeID)
	assert.True(t, after[0].IsManual)
	assert.Equal(t, 1, h.transport.count(wire.CmdListEdgesTo), "no refetch")
	assert.Equal(t, []Success{{OpConfirmEdge, res.NodeID}}, h.successes)
}

func TestFailedMutationLeavesCache(t *testing.T) {
	h := setup(t, nil)
	ctx := context.Background()
	res := h.create(t, model.NodeResource, "r")
	h.store.Put(res)

	ghost := res
	ghost.NodeID = 999
	_, err := h.coord.Approve(ctx, ghost)
	assert.ErrorIs(t, err, graphapi.ErrNotFound)
	var re *graphapi.RemoteError
	assert.ErrorAs(t, err, &re)

	cached, _ := h.store.Node(res.NodeID)
	assert.Equal(t, model.ReviewUnreviewed, cached.ReviewStatus)
	assert.Empty(t, h.successes)
}
