// Package resolver keeps the context set of the selected container: the
// nodes one contains-hop below it. Results are tagged with the selection
// and issuance they belong to so that a late response for an abandoned
// container or a pre-mutation read never reaches the view.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/errgroup"

	"neuralvault/graphcore/internal/graph"
	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/metrics"
	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/store"
)

// State of the active selection.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNotReady  = errors.New("context set not ready")
	ErrNotMember = errors.New("node is not in the context set")
	ErrClosed    = errors.New("resolver closed")
)

// Graph is the part of the graph API the resolver calls.
type Graph interface {
	ListTargets(ctx context.Context, src int64, rel model.RelationType) ([]model.Node, error)
	ListEdges(ctx context.Context, rel model.RelationType) ([]model.Edge, error)
	Link(ctx context.Context, src, dst int64, rel model.RelationType, opts graphapi.LinkOptions) (model.Edge, error)
	Unlink(ctx context.Context, src, dst int64, rel model.RelationType) error
}

// Cache is the part of the shared store the resolver uses.
type Cache interface {
	Load(ctx context.Context, f graphapi.Filter) ([]model.Node, error)
	Node(id int64) (model.Node, bool)
	Put(n model.Node, topics ...store.Topic)
	PutFetched(start uint64, nodes ...model.Node) (stale []int64)
	Generation() uint64
	ForgetEdges(dst int64)
	Subscribe(topic store.Topic, fn func(store.Event)) (cancel func())
}

// maxResolveAttempts bounds re-issues of a resolution that raced a mutation.
const maxResolveAttempts = 3

// View is a consistent snapshot of the resolver for display.
type View struct {
	Container        *model.Node
	Standalone       bool
	ContextNodes     []model.Node
	Loading          bool
	SelectedResource *model.Node
	State            State
	Err              error
}

type Resolver struct {
	graph   Graph
	cache   Cache
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()

	mu         sync.Mutex
	closed     bool
	selection  uint64 // bumped by every Select
	issue      uint64 // bumped by every resolution
	revision   uint64 // bumped by every successful mutation
	container  *model.Node
	standalone bool
	state      State
	err        error
	members    *orderedmap.OrderedMap[int64, model.Node]
	focus      int64
	onChange   []func(View)
}

// New creates an idle resolver. It refreshes itself when the cache
// signals a change to a node in, or equal to, the active container.
func New(g Graph, c Cache, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		graph:   g,
		cache:   c,
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		members: orderedmap.New[int64, model.Node](),
	}
	r.unsub = c.Subscribe(store.TopicContext, r.onContextEvent)
	return r
}

// OnChange registers fn to receive the view after every state change.
func (r *Resolver) OnChange(fn func(View)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// View returns the current view.
func (r *Resolver) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Resolver) viewLocked() View {
	v := View{
		Standalone: r.standalone,
		State:      r.state,
		Loading:    r.state == StateLoading,
		Err:        r.err,
	}
	if r.container != nil {
		c := r.container.Clone()
		v.Container = &c
	}
	v.ContextNodes = make([]model.Node, 0, r.members.Len())
	for p := r.members.Oldest(); p != nil; p = p.Next() {
		// the shared cache holds the freshest patched copy
		n, ok := r.cache.Node(p.Key)
		if !ok {
			n = p.Value.Clone()
		}
		v.ContextNodes = append(v.ContextNodes, n)
		if p.Key == r.focus {
			sel := n.Clone()
			v.SelectedResource = &sel
		}
	}
	return v
}

// commit releases the lock and notifies listeners with the new view.
func (r *Resolver) commit() {
	v := r.viewLocked()
	listeners := append([]func(View){}, r.onChange...)
	r.mu.Unlock()
	for _, fn := range listeners {
		fn(v)
	}
}

// Select makes container the active selection and resolves its children.
// An in-flight resolution for the previous selection is abandoned.
func (r *Resolver) Select(ctx context.Context, container model.Node) error {
	if !container.IsContainer() {
		return &model.ValidationError{NodeType: container.Type, Reason: "only tasks and topics can be selected as a container"}
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.selection++
	c := container.Clone()
	r.container = &c
	r.standalone = false
	r.members = orderedmap.New[int64, model.Node]()
	r.focus = 0
	r.commit()

	r.cache.Put(container)
	return r.resolve(ctx)
}

// SelectStandalone opens a bare resource with no parent. The context set
// is the resource itself plus peers added locally.
func (r *Resolver) SelectStandalone(resource model.Node) error {
	if resource.Type != model.NodeResource {
		return &model.ValidationError{NodeType: resource.Type, Reason: "standalone selection takes a resource"}
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.selection++
	r.issue++
	r.container = nil
	r.standalone = true
	r.members = orderedmap.New[int64, model.Node]()
	r.members.Set(resource.NodeID, resource.Clone())
	r.focus = resource.NodeID
	r.state = StateReady
	r.err = nil
	r.commit()
	return nil
}

// Refresh re-resolves the active container, replacing the context set.
// Standalone and idle selections have nothing to refresh.
func (r *Resolver) Refresh(ctx context.Context) error {
	return r.resolve(ctx)
}

// resolve fetches the children of the current container. Only the latest
// issuance may apply its result, and a result fetched across a mutation is
// re-issued.
func (r *Resolver) resolve(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.container == nil {
		r.mu.Unlock()
		return nil
	}
	r.issue++
	selection, issue := r.selection, r.issue
	container := r.container.NodeID
	r.state = StateLoading
	r.err = nil
	r.commit()

	for attempt := 1; ; attempt++ {
		r.mu.Lock()
		startRev := r.revision
		r.mu.Unlock()
		startGen := r.cache.Generation()

		nodes, err := r.graph.ListTargets(ctx, container, model.RelContains)

		r.mu.Lock()
		if r.closed || r.selection != selection || r.issue != issue {
			r.mu.Unlock()
			r.metrics.StaleDropped("resolver")
			r.logger.Debug("dropping superseded resolution", "container", container)
			return nil
		}
		if err != nil {
			r.state = StateError
			r.err = err
			r.commit()
			return err
		}
		if r.revision != startRev && attempt < maxResolveAttempts {
			r.mu.Unlock()
			r.metrics.StaleDropped("resolver")
			r.logger.Debug("resolution raced a mutation, re-issuing", "container", container, "attempt", attempt)
			continue
		}
		stale := r.cache.PutFetched(startGen, nodes...)
		if len(stale) > 0 && attempt < maxResolveAttempts {
			r.mu.Unlock()
			r.metrics.StaleDropped("resolver")
			r.logger.Debug("resolution read nodes older than the cache, re-issuing",
				"container", container, "stale", stale, "attempt", attempt)
			continue
		}
		members := orderedmap.New[int64, model.Node]()
		for _, n := range nodes {
			if slices.Contains(stale, n.NodeID) {
				if cached, ok := r.cache.Node(n.NodeID); ok {
					n = cached
				}
			}
			members.Set(n.NodeID, n)
		}
		r.members = members
		if _, ok := members.Get(r.focus); !ok {
			r.focus = firstKey(members)
		}
		r.state = StateReady
		r.commit()
		return nil
	}
}

// AddToContext links n under the active container and adds it to the set
// once the link succeeded. Adding a member again is a no-op; an existing
// edge counts as success.
func (r *Resolver) AddToContext(ctx context.Context, n model.Node) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.state != StateReady {
		r.mu.Unlock()
		return ErrNotReady
	}
	if _, ok := r.members.Get(n.NodeID); ok {
		r.mu.Unlock()
		return nil
	}
	selection := r.selection
	if r.standalone {
		r.members.Set(n.NodeID, n.Clone())
		r.commit()
		return nil
	}
	container := r.container.NodeID
	r.mu.Unlock()

	if err := r.checkCycle(ctx, container, n.NodeID); err != nil {
		return err
	}
	if _, err := r.graph.Link(ctx, container, n.NodeID, model.RelContains, graphapi.LinkOptions{}); err != nil {
		if !errors.Is(err, graphapi.ErrDuplicateEdge) {
			return err
		}
		r.logger.Debug("contains edge already present", "container", container, "node", n.NodeID)
	}
	r.cache.ForgetEdges(n.NodeID)

	r.mu.Lock()
	r.revision++
	if r.closed || r.selection != selection {
		r.mu.Unlock()
		return nil
	}
	r.members.Set(n.NodeID, n.Clone())
	r.cache.Put(n)
	if r.focus == 0 {
		r.focus = n.NodeID
	}
	r.commit()
	return nil
}

// checkCycle refuses a contains edge container→child that would close a
// cycle, including a self link.
func (r *Resolver) checkCycle(ctx context.Context, container, child int64) error {
	if container == child {
		return fmt.Errorf("node %d cannot contain itself: %w", child, graphapi.ErrCycle)
	}
	edges, err := r.graph.ListEdges(ctx, model.RelContains)
	if err != nil {
		return err
	}
	if graph.NewContainment(edges).CreatesCycle(container, child) {
		return fmt.Errorf("node %d already contains %d: %w", child, container, graphapi.ErrCycle)
	}
	return nil
}

// RemoveFromContext unlinks id from the active container, then drops it
// from the set. Focus falls back to the first remaining member.
func (r *Resolver) RemoveFromContext(ctx context.Context, id int64) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.state != StateReady {
		r.mu.Unlock()
		return ErrNotReady
	}
	if _, ok := r.members.Get(id); !ok {
		r.mu.Unlock()
		return nil
	}
	selection := r.selection
	if r.standalone {
		r.removeLocked(id)
		r.commit()
		return nil
	}
	container := r.container.NodeID
	r.mu.Unlock()

	if err := r.graph.Unlink(ctx, container, id, model.RelContains); err != nil {
		return err
	}
	r.cache.ForgetEdges(id)

	r.mu.Lock()
	r.revision++
	if r.closed || r.selection != selection {
		r.mu.Unlock()
		return nil
	}
	r.removeLocked(id)
	r.commit()
	return nil
}

func (r *Resolver) removeLocked(id int64) {
	r.members.Delete(id)
	if r.focus == id {
		r.focus = firstKey(r.members)
	}
}

// Focus selects a member as the displayed resource.
func (r *Resolver) Focus(id int64) error {
	r.mu.Lock()
	if _, ok := r.members.Get(id); !ok {
		r.mu.Unlock()
		return fmt.Errorf("focus %d: %w", id, ErrNotMember)
	}
	r.focus = id
	r.commit()
	return nil
}

// Available lists every live node that is neither the container nor in
// the context set, topics first, then tasks, then resources.
func (r *Resolver) Available(ctx context.Context) ([]model.Node, error) {
	types := []model.NodeType{model.NodeTopic, model.NodeTask, model.NodeResource}
	lists := make([][]model.Node, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() error {
			nodes, err := r.cache.Load(gctx, graphapi.Filter{Type: t})
			if err != nil {
				return err
			}
			lists[i] = nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	exclude := make(map[int64]bool, r.members.Len()+1)
	for p := r.members.Oldest(); p != nil; p = p.Next() {
		exclude[p.Key] = true
	}
	if r.container != nil {
		exclude[r.container.NodeID] = true
	}
	r.mu.Unlock()

	var out []model.Node
	for _, list := range lists {
		for _, n := range list {
			if !exclude[n.NodeID] {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// Children resolves one level below id, for lazily expanded tree rows.
// It does not touch the active selection.
func (r *Resolver) Children(ctx context.Context, id int64) ([]model.Node, error) {
	start := r.cache.Generation()
	nodes, err := r.graph.ListTargets(ctx, id, model.RelContains)
	if err != nil {
		return nil, err
	}
	for _, stale := range r.cache.PutFetched(start, nodes...) {
		i := slices.IndexFunc(nodes, func(n model.Node) bool { return n.NodeID == stale })
		if cached, ok := r.cache.Node(stale); ok {
			nodes[i] = cached
		}
	}
	return nodes, nil
}

// Close tears the resolver down. Work still in flight is ignored.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.selection++
	r.container = nil
	r.standalone = false
	r.members = orderedmap.New[int64, model.Node]()
	r.focus = 0
	r.state = StateIdle
	r.err = nil
	r.mu.Unlock()
	r.unsub()
	r.cancel()
}

func (r *Resolver) onContextEvent(ev store.Event) {
	r.mu.Lock()
	if r.closed || r.container == nil {
		r.mu.Unlock()
		return
	}
	id := r.container.NodeID
	if ev.NodeID != id && r.state == StateLoading {
		// the member set is unknown until the read lands; have it re-read
		r.revision++
		r.mu.Unlock()
		return
	}
	_, member := r.members.Get(ev.NodeID)
	if ev.NodeID != 0 && ev.NodeID != id && !member {
		r.mu.Unlock()
		return
	}
	if ev.NodeID == id {
		n, ok := r.cache.Node(id)
		if !ok {
			r.logger.Info("active container removed", "container", id)
			r.selection++
			r.container = nil
			r.members = orderedmap.New[int64, model.Node]()
			r.focus = 0
			r.state = StateIdle
			r.commit()
			return
		}
		r.container = &n
	}
	r.mu.Unlock()

	go func() {
		if err := r.Refresh(r.ctx); err != nil && !errors.Is(err, ErrClosed) {
			r.logger.Warn("context refresh failed", "container", id, "error", err)
		}
	}()
}

func firstKey(m *orderedmap.OrderedMap[int64, model.Node]) int64 {
	if p := m.Oldest(); p != nil {
		return p.Key
	}
	return 0
}
