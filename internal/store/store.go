// Package store is the shared node cache. Every view reads nodes through
// it, and every successful mutation patches or invalidates it, so no
// component keeps a private copy that could drift.
package store

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/metrics"
	"neuralvault/graphcore/internal/model"
)

// Topic names a family of dependent views.
type Topic string

const (
	TopicPinned  Topic = "pinned"
	TopicContext Topic = "context"
	TopicList    Topic = "list"
)

// AllTopics is every topic, in notification order.
var AllTopics = []Topic{TopicList, TopicPinned, TopicContext}

// Event tells a subscriber its topic changed. NodeID is the node that
// triggered it, or 0 for a bulk change.
type Event struct {
	Topic  Topic
	NodeID int64
}

// Fetcher is the slice of the graph API the store reads through.
type Fetcher interface {
	FetchByFilter(ctx context.Context, f graphapi.Filter) ([]model.Node, error)
	ListEdgesTo(ctx context.Context, dst int64, rel model.RelationType) ([]model.Edge, error)
}

// maxFetchAttempts bounds re-issues of a list read that raced with a
// mutation.
const maxFetchAttempts = 3

type listEntry struct {
	filter graphapi.Filter
	ids    []int64
}

type edgeListKey struct {
	target   int64
	relation model.RelationType
}

type Store struct {
	fetch   Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics
	group   singleflight.Group

	mu        sync.Mutex
	gen       uint64
	nodes     map[int64]model.Node
	written   map[int64]uint64 // generation of the last local write per node
	edgeEpoch uint64           // bumped by every local edge mutation
	lists   map[string]*listEntry
	edges   map[edgeListKey][]*model.Edge
	subs    map[Topic]map[int]func(Event)
	nextSub int
}

// New creates an empty store reading through f.
func New(f Fetcher, logger *slog.Logger, m *metrics.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		fetch:   f,
		logger:  logger,
		metrics: m,
		nodes:   make(map[int64]model.Node),
		written: make(map[int64]uint64),
		lists:   make(map[string]*listEntry),
		edges:   make(map[edgeListKey][]*model.Edge),
		subs:    make(map[Topic]map[int]func(Event)),
	}
}

func listTopic(f graphapi.Filter) Topic {
	if f.PinnedOnly {
		return TopicPinned
	}
	return TopicList
}

// Subscribe registers fn for changes on topic. The returned func cancels
// the subscription.
func (s *Store) Subscribe(topic Topic, fn func(Event)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[int]func(Event))
	}
	s.subs[topic][id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[topic], id)
	}
}

func (s *Store) publish(nodeID int64, topics ...Topic) {
	s.mu.Lock()
	var calls []func()
	for _, t := range topics {
		ev := Event{Topic: t, NodeID: nodeID}
		for _, fn := range s.subs[t] {
			fn := fn
			calls = append(calls, func() { fn(ev) })
		}
	}
	s.mu.Unlock()
	for _, c := range calls {
		c()
	}
}

// Generation increases on every mutation of cached state.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Node returns a cached node.
func (s *Store) Node(id int64) (model.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return model.Node{}, false
	}
	return n.Clone(), true
}

// Load returns the nodes matching f, fetching them once if the list is not
// cached. Concurrent loads of the same filter share one fetch, which runs
// detached from any single caller's cancellation. A fetch that overlapped a
// mutation is discarded and re-issued.
func (s *Store) Load(ctx context.Context, f graphapi.Filter) ([]model.Node, error) {
	key := f.Key()
	if nodes, ok := s.cachedList(key); ok {
		return nodes, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		var nodes []model.Node
		for attempt := 1; ; attempt++ {
			start := s.Generation()
			fetched, err := s.fetch.FetchByFilter(shared, f)
			if err != nil {
				return nil, err
			}
			nodes = fetched
			if s.storeList(key, f, fetched, start) {
				break
			}
			s.metrics.StaleDropped("store")
			s.logger.Debug("list fetch raced a mutation", "filter", key, "attempt", attempt)
			if attempt == maxFetchAttempts {
				break
			}
		}
		return nodes, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneAll(res.Val.([]model.Node)), nil
	}
}

func (s *Store) cachedList(key string) ([]model.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.lists[key]
	if !ok {
		return nil, false
	}
	out := make([]model.Node, 0, len(entry.ids))
	for _, id := range entry.ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n.Clone())
		}
	}
	return out, true
}

// storeList caches a fetched list unless the generation moved since start.
func (s *Store) storeList(key string, f graphapi.Filter, nodes []model.Node, start uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != start {
		return false
	}
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		s.nodes[n.NodeID] = n.Clone()
		s.written[n.NodeID] = s.gen
		ids[i] = n.NodeID
	}
	s.lists[key] = &listEntry{filter: f, ids: ids}
	return true
}

// Put patches one node in place. Cached lists that include it see the new
// value; subscribers of topics are notified.
func (s *Store) Put(n model.Node, topics ...Topic) {
	s.mu.Lock()
	s.gen++
	s.nodes[n.NodeID] = n.Clone()
	s.written[n.NodeID] = s.gen
	s.mu.Unlock()
	s.publish(n.NodeID, topics...)
}

// PutFetched caches nodes read from the authority at generation start.
// A node written locally since then keeps its newer copy; its id is
// returned so the caller can re-read.
func (s *Store) PutFetched(start uint64, nodes ...model.Node) (stale []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if s.written[n.NodeID] > start {
			stale = append(stale, n.NodeID)
			continue
		}
		s.nodes[n.NodeID] = n.Clone()
	}
	return stale
}

// Replace installs n as the only cached copy and invalidates every topic,
// so dependent views refetch rather than patch.
func (s *Store) Replace(n model.Node) {
	s.mu.Lock()
	s.gen++
	s.nodes[n.NodeID] = n.Clone()
	s.written[n.NodeID] = s.gen
	s.mu.Unlock()
	s.invalidate(n.NodeID, AllTopics...)
}

// Evict removes the node from every cache, including lists and edge lists
// that reference it.
func (s *Store) Evict(id int64) {
	s.mu.Lock()
	s.gen++
	s.edgeEpoch++
	delete(s.nodes, id)
	s.written[id] = s.gen
	for _, entry := range s.lists {
		entry.ids = removeID(entry.ids, id)
	}
	for key, list := range s.edges {
		if key.target == id {
			delete(s.edges, key)
			continue
		}
		kept := list[:0]
		for _, e := range list {
			if e.SourceID != id {
				kept = append(kept, e)
			}
		}
		s.edges[key] = kept
	}
	s.mu.Unlock()
	for _, t := range AllTopics {
		s.metrics.Invalidated(string(t))
	}
	s.publish(id, AllTopics...)
}

// Invalidate drops the lists owned by topics and notifies their
// subscribers. TopicContext owns no lists; its subscribers refresh
// themselves.
func (s *Store) Invalidate(topics ...Topic) {
	s.invalidate(0, topics...)
}

func (s *Store) invalidate(nodeID int64, topics ...Topic) {
	drop := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		drop[t] = true
		s.metrics.Invalidated(string(t))
	}
	s.mu.Lock()
	for key, entry := range s.lists {
		if drop[listTopic(entry.filter)] {
			delete(s.lists, key)
			s.group.Forget(key)
		}
	}
	s.gen++
	s.mu.Unlock()
	s.publish(nodeID, topics...)
}

// EdgesTo returns the cached rel edges pointing at dst, fetching on miss.
// A fetch that overlapped a local edge mutation is not cached and is
// re-issued. The returned edges are copies.
func (s *Store) EdgesTo(ctx context.Context, dst int64, rel model.RelationType) ([]model.Edge, error) {
	key := edgeListKey{target: dst, relation: rel}
	s.mu.Lock()
	list, ok := s.edges[key]
	if ok {
		out := copyEdges(list)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	var ptrs []*model.Edge
	for attempt := 1; ; attempt++ {
		s.mu.Lock()
		start := s.edgeEpoch
		s.mu.Unlock()

		fetched, err := s.fetch.ListEdgesTo(ctx, dst, rel)
		if err != nil {
			return nil, err
		}
		ptrs = make([]*model.Edge, len(fetched))
		for i := range fetched {
			e := fetched[i]
			ptrs[i] = &e
		}

		s.mu.Lock()
		if s.edgeEpoch == start {
			s.edges[key] = ptrs
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
		s.metrics.StaleDropped("store")
		s.logger.Debug("edge fetch raced a mutation", "target", dst, "relation", rel, "attempt", attempt)
		if attempt == maxFetchAttempts {
			break
		}
	}
	return copyEdges(ptrs), nil
}

// PatchEdges applies fn in place to every cached edge with the given key
// and returns how many were patched. Edge fetches still in flight are
// re-issued.
func (s *Store) PatchEdges(key model.EdgeKey, fn func(*model.Edge)) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edgeEpoch++
	patched := 0
	for _, list := range s.edges {
		for _, e := range list {
			if e.Key() == key {
				fn(e)
				patched++
			}
		}
	}
	if patched > 0 {
		s.gen++
	}
	return patched
}

// ForgetEdges drops cached edge lists pointing at dst.
func (s *Store) ForgetEdges(dst int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edgeEpoch++
	for key := range s.edges {
		if key.target == dst {
			delete(s.edges, key)
		}
	}
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func cloneAll(nodes []model.Node) []model.Node {
	out := make([]model.Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

func copyEdges(list []*model.Edge) []model.Edge {
	out := make([]model.Edge, len(list))
	for i, e := range list {
		out[i] = *e
	}
	return out
}
