// Package graph analyses a point-in-time copy of the node graph:
// containment reachability, connected components, unfiled resources and
// review backlog.
package graph

import (
	"sort"

	"neuralvault/graphcore/internal/model"
)

// Containment is the contains relation as parent -> children adjacency.
type Containment map[int64][]int64

// NewContainment builds the adjacency from edges, ignoring other relations.
func NewContainment(edges []model.Edge) Containment {
	c := make(Containment)
	for _, e := range edges {
		if e.Relation != model.RelContains {
			continue
		}
		c[e.SourceID] = append(c[e.SourceID], e.TargetID)
	}
	return c
}

// Reachable reports whether to can be reached from from by following
// contains edges. A node reaches itself.
func (c Containment) Reachable(from, to int64) bool {
	if from == to {
		return true
	}
	visited := map[int64]bool{from: true}
	queue := []int64{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range c[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// CreatesCycle reports whether adding parent contains child would make the
// relation cyclic, including a self-containment.
func (c Containment) CreatesCycle(parent, child int64) bool {
	return c.Reachable(child, parent)
}

// Snapshot holds nodes and edges with precomputed adjacency.
type Snapshot struct {
	Nodes    map[int64]model.Node
	Edges    []model.Edge
	Adj      map[int64][]int64 // undirected, every relation
	Children Containment
	Parents  map[int64][]int64 // child -> containers
	Regions  map[int64]int64   // node -> root container
}

// NewSnapshot builds a Snapshot. Edges touching a node not in nodes are
// dropped.
func NewSnapshot(nodes []model.Node, edges []model.Edge) *Snapshot {
	nodeMap := make(map[int64]model.Node, len(nodes))
	adj := make(map[int64][]int64)
	parents := make(map[int64][]int64)
	for _, n := range nodes {
		nodeMap[n.NodeID] = n
		adj[n.NodeID] = nil
	}

	var kept []model.Edge
	for _, e := range edges {
		if _, ok := nodeMap[e.SourceID]; !ok {
			continue
		}
		if _, ok := nodeMap[e.TargetID]; !ok {
			continue
		}
		kept = append(kept, e)
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
		if e.Relation == model.RelContains {
			parents[e.TargetID] = append(parents[e.TargetID], e.SourceID)
		}
	}

	s := &Snapshot{
		Nodes:    nodeMap,
		Edges:    kept,
		Adj:      adj,
		Children: NewContainment(kept),
		Parents:  parents,
	}
	s.Regions = s.computeRegions()
	return s
}

// NodeIDs returns every node id in ascending order.
func (s *Snapshot) NodeIDs() []int64 {
	ids := make([]int64, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FilterToContainer returns a snapshot of root and everything it contains,
// transitively.
func (s *Snapshot) FilterToContainer(root int64) *Snapshot {
	var nodes []model.Node
	for _, id := range s.NodeIDs() {
		if s.Children.Reachable(root, id) {
			nodes = append(nodes, s.Nodes[id])
		}
	}
	return NewSnapshot(nodes, s.Edges)
}

// computeRegions assigns each node the root reached by following its
// smallest-id container upward. Nodes without a container are their own
// region.
func (s *Snapshot) computeRegions() map[int64]int64 {
	regions := make(map[int64]int64, len(s.Nodes))
	for id := range s.Nodes {
		regions[id] = s.rootOf(id)
	}
	return regions
}

func (s *Snapshot) rootOf(id int64) int64 {
	current := id
	visited := make(map[int64]bool)
	for {
		if visited[current] {
			return current
		}
		visited[current] = true
		ps := s.Parents[current]
		if len(ps) == 0 {
			return current
		}
		next := ps[0]
		for _, p := range ps[1:] {
			if p < next {
				next = p
			}
		}
		current = next
	}
}
