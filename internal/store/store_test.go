package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/model"
)

type fakeFetcher struct {
	mu      sync.Mutex
	nodes   []model.Node
	edges   []model.Edge
	fetches atomic.Int32
	during  func() // runs after the first fetch has read its data
	block   chan struct{}

	edgeFetches atomic.Int32
	edgeDuring  func() // runs after the first edge fetch has read its data
}

func (f *fakeFetcher) FetchByFilter(_ context.Context, flt graphapi.Filter) ([]model.Node, error) {
	n := f.fetches.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	var out []model.Node
	for _, node := range f.nodes {
		if flt.PinnedOnly && !node.IsPinned {
			continue
		}
		out = append(out, node.Clone())
	}
	f.mu.Unlock()
	if n == 1 && f.during != nil {
		f.during()
	}
	return out, nil
}

func (f *fakeFetcher) ListEdgesTo(_ context.Context, dst int64, rel model.RelationType) ([]model.Edge, error) {
	n := f.edgeFetches.Add(1)
	f.mu.Lock()
	var out []model.Edge
	for _, e := range f.edges {
		if e.TargetID == dst && e.Relation == rel {
			out = append(out, e)
		}
	}
	f.mu.Unlock()
	if n == 1 && f.edgeDuring != nil {
		f.edgeDuring()
	}
	return out, nil
}

func topic(id int64, title string) model.Node {
	return model.Node{NodeID: id, UUID: title, Type: model.NodeTopic, Title: title}
}

func TestLoad_CachesAndPatches(t *testing.T) {
	ff := &fakeFetcher{nodes: []model.Node{topic(1, "a"), topic(2, "b")}}
	s := New(ff, nil, nil)
	ctx := context.Background()

	got, err := s.Load(ctx, graphapi.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	n := got[0]
	n.Title = "renamed"
	s.Put(n)

	again, err := s.Load(ctx, graphapi.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "renamed", again[0].Title)
	assert.Equal(t, int32(1), ff.fetches.Load())

	// callers can't mutate the cache through returned values
	again[1].Title = "mutated"
	cached, ok := s.Node(2)
	require.True(t, ok)
	assert.Equal(t, "b", cached.Title)
}

func TestLoad_Singleflight(t *testing.T) {
	ff := &fakeFetcher{nodes: []model.Node{topic(1, "a")}, block: make(chan struct{})}
	s := New(ff, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nodes, err := s.Load(context.Background(), graphapi.Filter{})
			assert.NoError(t, err)
			assert.Len(t, nodes, 1)
		}()
	}
	// let the callers pile onto the same flight before releasing it
	time.Sleep(50 * time.Millisecond)
	close(ff.block)
	wg.Wait()
	assert.Equal(t, int32(1), ff.fetches.Load())
}

func TestLoad_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	ff := &fakeFetcher{nodes: []model.Node{topic(1, "a")}, block: make(chan struct{})}
	s := New(ff, nil, nil)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.Load(first, graphapi.Filter{})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return ff.fetches.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		nodes []model.Node
		err   error
	}
	second := make(chan result, 1)
	go func() {
		nodes, err := s.Load(context.Background(), graphapi.Filter{})
		second <- result{nodes, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(ff.block)
	got := <-second
	require.NoError(t, got.err)
	assert.Len(t, got.nodes, 1)
	assert.Equal(t, int32(1), ff.fetches.Load())
}

func TestPutFetched_KeepsNewerLocalWrite(t *testing.T) {
	s := New(&fakeFetcher{}, nil, nil)
	start := s.Generation()

	local := topic(1, "converted")
	local.Type = model.NodeTask
	s.Replace(local)

	stale := s.PutFetched(start, topic(1, "old"), topic(2, "b"))
	assert.Equal(t, []int64{1}, stale)

	cached, ok := s.Node(1)
	require.True(t, ok)
	assert.Equal(t, model.NodeTask, cached.Type)
	_, ok = s.Node(2)
	assert.True(t, ok, "untouched nodes are cached")

	assert.Empty(t, s.PutFetched(s.Generation(), topic(1, "fresh")))
	cached, _ = s.Node(1)
	assert.Equal(t, "fresh", cached.Title)
}

func TestLoad_DiscardsFetchThatRacedMutation(t *testing.T) {
	ff := &fakeFetcher{nodes: []model.Node{topic(1, "a")}}
	s := New(ff, nil, nil)
	ff.during = func() {
		// a mutation lands while the first read is in flight
		s.Invalidate(TopicList)
		ff.mu.Lock()
		ff.nodes = append(ff.nodes, topic(2, "b"))
		ff.mu.Unlock()
	}

	got, err := s.Load(context.Background(), graphapi.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 2, "the stale first read must not win")
	assert.Equal(t, int32(2), ff.fetches.Load())
}

func TestInvalidate_TopicsAndSubscribers(t *testing.T) {
	pinned := topic(1, "a")
	pinned.IsPinned = true
	ff := &fakeFetcher{nodes: []model.Node{pinned, topic(2, "b")}}
	s := New(ff, nil, nil)
	ctx := context.Background()

	var events []Event
	cancel := s.Subscribe(TopicPinned, func(ev Event) { events = append(events, ev) })

	_, err := s.Load(ctx, graphapi.Filter{PinnedOnly: true})
	require.NoError(t, err)
	_, err = s.Load(ctx, graphapi.Filter{})
	require.NoError(t, err)
	require.Equal(t, int32(2), ff.fetches.Load())

	s.Invalidate(TopicPinned)
	require.Len(t, events, 1)
	assert.Equal(t, TopicPinned, events[0].Topic)

	_, err = s.Load(ctx, graphapi.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), ff.fetches.Load(), "general list survives a pinned invalidation")
	_, err = s.Load(ctx, graphapi.Filter{PinnedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int32(3), ff.fetches.Load())

	cancel()
	s.Invalidate(TopicPinned)
	assert.Len(t, events, 1)
}

func TestEvict_RemovesEverywhere(t *testing.T) {
	ff := &fakeFetcher{
		nodes: []model.Node{topic(1, "a"), topic(2, "b")},
		edges: []model.Edge{{EdgeID: 1, SourceID: 2, TargetID: 1, Relation: model.RelRelatedTo}},
	}
	s := New(ff, nil, nil)
	ctx := context.Background()
	_, err := s.Load(ctx, graphapi.Filter{})
	require.NoError(t, err)
	edges, err := s.EdgesTo(ctx, 1, model.RelRelatedTo)
	require.NoError(t, err)
	require.Len(t, edges, 1)

	var got []Topic
	for _, tp := range AllTopics {
		s.Subscribe(tp, func(ev Event) { got = append(got, ev.Topic) })
	}
	s.Evict(2)

	_, ok := s.Node(2)
	assert.False(t, ok)
	list, err := s.Load(ctx, graphapi.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	edges, err = s.EdgesTo(ctx, 1, model.RelRelatedTo)
	require.NoError(t, err)
	assert.Empty(t, edges)
	assert.ElementsMatch(t, AllTopics, got)
}

func TestReplace_InvalidatesAll(t *testing.T) {
	ff := &fakeFetcher{nodes: []model.Node{topic(5, "x")}}
	s := New(ff, nil, nil)
	ctx := context.Background()
	_, err := s.Load(ctx, graphapi.Filter{})
	require.NoError(t, err)

	var ctxEvents int
	s.Subscribe(TopicContext, func(ev Event) {
		ctxEvents++
		assert.Equal(t, int64(5), ev.NodeID)
	})

	task := model.Node{NodeID: 5, UUID: "x", Type: model.NodeTask, Title: "x",
		Task: &model.TaskFields{Status: model.TaskTodo, Priority: model.PriorityMedium}}
	s.Replace(task)

	cached, ok := s.Node(5)
	require.True(t, ok)
	assert.Equal(t, model.NodeTask, cached.Type)
	assert.Equal(t, 1, ctxEvents)

	_, err = s.Load(ctx, graphapi.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), ff.fetches.Load(), "list refetched, not patched")
}

func TestPatchEdges_InPlace(t *testing.T) {
	ff := &fakeFetcher{
		nodes: []model.Node{topic(1, "a"), topic(2, "b")},
		edges: []model.Edge{{EdgeID: 9, SourceID: 1, TargetID: 2, Relation: model.RelContains}},
	}
	s := New(ff, nil, nil)
	ctx := context.Background()
	_, err := s.EdgesTo(ctx, 2, model.RelContains)
	require.NoError(t, err)

	n := s.PatchEdges(model.NewEdgeKey(1, 2, model.RelContains), func(e *model.Edge) { e.IsManual = true })
	assert.Equal(t, 1, n)

	edges, err := s.EdgesTo(ctx, 2, model.RelContains)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.True(t, edges[0].IsManual)
}

func TestEdgesTo_DiscardsFetchThatRacedPatch(t *testing.T) {
	ff := &fakeFetcher{
		edges: []model.Edge{{EdgeID: 9, SourceID: 1, TargetID: 2, Relation: model.RelContains}},
	}
	s := New(ff, nil, nil)
	key := model.NewEdgeKey(1, 2, model.RelContains)
	ff.edgeDuring = func() {
		// the edge is confirmed while the first read is in flight
		ff.mu.Lock()
		ff.edges[0].IsManual = true
		ff.mu.Unlock()
		assert.Zero(t, s.PatchEdges(key, func(e *model.Edge) { e.IsManual = true }))
	}

	edges, err := s.EdgesTo(context.Background(), 2, model.RelContains)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.True(t, edges[0].IsManual)
	assert.Equal(t, int32(2), ff.edgeFetches.Load())

	cached, err := s.EdgesTo(context.Background(), 2, model.RelContains)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.True(t, cached[0].IsManual, "the pre-confirm read was not cached")
	assert.Equal(t, int32(2), ff.edgeFetches.Load())
}

func TestEdgesTo_ForgetDuringFetchIsReissued(t *testing.T) {
	ff := &fakeFetcher{
		edges: []model.Edge{{EdgeID: 9, SourceID: 1, TargetID: 2, Relation: model.RelContains}},
	}
	s := New(ff, nil, nil)
	ff.edgeDuring = func() {
		ff.mu.Lock()
		ff.edges = nil
		ff.mu.Unlock()
		s.ForgetEdges(2)
	}

	edges, err := s.EdgesTo(context.Background(), 2, model.RelContains)
	require.NoError(t, err)
	assert.Empty(t, edges)
	assert.Equal(t, int32(2), ff.edgeFetches.Load())
}
