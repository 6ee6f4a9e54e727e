package graph

import (
	"sort"

	"neuralvault/graphcore/internal/model"
)

// thinRegionLinks is the most related_to edges two containment trees may
// share and still count as thinly connected.
const thinRegionLinks = 2

// CutNode is a node whose removal splits its component.
type CutNode struct {
	ID    int64          `json:"id"`
	Title string         `json:"title"`
	Type  model.NodeType `json:"type"`
	// Stranded counts the nodes no longer reachable from the largest
	// remaining piece.
	Stranded int `json:"stranded"`
}

// SoleLink is an edge that is the only path between two parts of a
// component. Detached counts the nodes on the target side.
type SoleLink struct {
	SourceID    int64              `json:"source_id"`
	TargetID    int64              `json:"target_id"`
	Relation    model.RelationType `json:"relation"`
	SourceTitle string             `json:"source_title"`
	TargetTitle string             `json:"target_title"`
	Detached    int                `json:"detached"`
}

// RegionLink counts the related_to edges between two containment trees.
type RegionLink struct {
	RegionA int64 `json:"region_a"`
	RegionB int64 `json:"region_b"`
	Links   int   `json:"links"`
}

// FragilityReport lists where the graph hangs by a single thread.
// HangingTrees are contains edges whose child subtree has no other
// attachment; WeakLinks are related_to edges that alone join two parts.
type FragilityReport struct {
	CutNodes     []CutNode    `json:"cut_nodes"`
	HangingTrees []SoleLink   `json:"hanging_trees"`
	WeakLinks    []SoleLink   `json:"weak_links"`
	ThinRegions  []RegionLink `json:"thin_regions"`
	CutCount     int          `json:"cut_count"`
}

type link struct {
	src, dst int // indices into ids
	rel      model.RelationType
}

func (l link) other(v int) int {
	if l.src == v {
		return l.dst
	}
	return l.src
}

// lowlink walks the undirected multigraph of a snapshot. Links are
// tracked by index, so a contains and a related_to edge between the same
// pair are two paths and neither is a sole link.
type lowlink struct {
	ids   []int64
	links []link
	inc   [][]int // node -> incident link indices
	order []int   // discovery time, 0 while unvisited
	low   []int
	size  []int // DFS subtree size
	root  []int // DFS root of the node's component
	split [][]int
	sole  [][2]int // link index, DFS child endpoint
	clock int
}

func newLowlink(snap *Snapshot) *lowlink {
	ids := snap.NodeIDs()
	index := make(map[int64]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	n := len(ids)
	w := &lowlink{
		ids:   ids,
		inc:   make([][]int, n),
		order: make([]int, n),
		low:   make([]int, n),
		size:  make([]int, n),
		root:  make([]int, n),
		split: make([][]int, n),
	}
	seen := make(map[model.EdgeKey]bool, len(snap.Edges))
	for _, e := range snap.Edges {
		src, ok := index[e.SourceID]
		if !ok {
			continue
		}
		dst, ok := index[e.TargetID]
		if !ok || src == dst {
			continue
		}
		key := model.NewEdgeKey(e.SourceID, e.TargetID, e.Relation)
		if seen[key] {
			continue
		}
		seen[key] = true
		w.inc[src] = append(w.inc[src], len(w.links))
		w.inc[dst] = append(w.inc[dst], len(w.links))
		w.links = append(w.links, link{src: src, dst: dst, rel: e.Relation})
	}
	for v := range ids {
		if w.order[v] == 0 {
			w.visit(v, -1, v)
		}
	}
	return w
}

func (w *lowlink) visit(v, via, root int) {
	w.clock++
	w.order[v], w.low[v] = w.clock, w.clock
	w.size[v] = 1
	w.root[v] = root
	for _, li := range w.inc[v] {
		if li == via {
			continue
		}
		u := w.links[li].other(v)
		if w.order[u] != 0 {
			w.low[v] = min(w.low[v], w.order[u])
			continue
		}
		w.visit(u, li, root)
		w.size[v] += w.size[u]
		w.low[v] = min(w.low[v], w.low[u])
		if w.low[u] > w.order[v] {
			w.sole = append(w.sole, [2]int{li, u})
		}
		if w.low[u] >= w.order[v] {
			w.split[v] = append(w.split[v], w.size[u])
		}
	}
}

func (w *lowlink) componentSize(v int) int { return w.size[w.root[v]] }

// stranded returns how many nodes removing v cuts off from the largest
// remaining piece, or 0 if v is not a cut node.
func (w *lowlink) stranded(v int) int {
	pieces := w.split[v]
	rest := w.componentSize(v) - 1
	largest := 0
	for _, p := range pieces {
		rest -= p
		largest = max(largest, p)
	}
	count := len(pieces)
	if rest > 0 {
		count++
		largest = max(largest, rest)
	}
	if count < 2 {
		return 0
	}
	return w.componentSize(v) - 1 - largest
}

// ComputeFragility finds cut nodes, sole links and thinly connected
// containment trees.
func ComputeFragility(snap *Snapshot) *FragilityReport {
	report := &FragilityReport{}
	if len(snap.Nodes) == 0 {
		return report
	}
	w := newLowlink(snap)

	for v, id := range w.ids {
		if s := w.stranded(v); s > 0 {
			n := snap.Nodes[id]
			report.CutNodes = append(report.CutNodes, CutNode{ID: id, Title: n.Title, Type: n.Type, Stranded: s})
		}
	}
	sort.Slice(report.CutNodes, func(i, j int) bool {
		a, b := report.CutNodes[i], report.CutNodes[j]
		if a.Stranded != b.Stranded {
			return a.Stranded > b.Stranded
		}
		return a.ID < b.ID
	})
	report.CutCount = len(report.CutNodes)

	for _, s := range w.sole {
		l, child := w.links[s[0]], s[1]
		detached := w.size[child]
		if child != l.dst {
			detached = w.componentSize(child) - detached
		}
		src, dst := w.ids[l.src], w.ids[l.dst]
		sl := SoleLink{
			SourceID:    src,
			TargetID:    dst,
			Relation:    l.rel,
			SourceTitle: snap.Nodes[src].Title,
			TargetTitle: snap.Nodes[dst].Title,
			Detached:    detached,
		}
		if l.rel == model.RelContains {
			report.HangingTrees = append(report.HangingTrees, sl)
		} else {
			report.WeakLinks = append(report.WeakLinks, sl)
		}
	}
	sortSoleLinks(report.HangingTrees)
	sortSoleLinks(report.WeakLinks)

	report.ThinRegions = thinRegions(snap)
	return report
}

func sortSoleLinks(links []SoleLink) {
	sort.Slice(links, func(i, j int) bool {
		a, b := links[i], links[j]
		if a.Detached != b.Detached {
			return a.Detached > b.Detached
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.TargetID < b.TargetID
	})
}

// thinRegions counts related_to edges between distinct containment trees.
// Containment across trees is a second parent, not a link.
func thinRegions(snap *Snapshot) []RegionLink {
	type pair struct{ a, b int64 }
	counts := make(map[pair]int)
	for _, e := range snap.Edges {
		if e.Relation != model.RelRelatedTo {
			continue
		}
		ra, rb := snap.Regions[e.SourceID], snap.Regions[e.TargetID]
		if ra == rb {
			continue
		}
		if ra > rb {
			ra, rb = rb, ra
		}
		counts[pair{ra, rb}]++
	}

	var out []RegionLink
	for p, c := range counts {
		if c <= thinRegionLinks {
			out = append(out, RegionLink{RegionA: p.a, RegionB: p.b, Links: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Links != out[j].Links {
			return out[i].Links < out[j].Links
		}
		if out[i].RegionA != out[j].RegionA {
			return out[i].RegionA < out[j].RegionA
		}
		return out[i].RegionB < out[j].RegionB
	})
	return out
}
