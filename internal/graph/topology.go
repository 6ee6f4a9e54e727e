package graph

import (
	"sort"

	"neuralvault/graphcore/internal/model"
)

// HubContainer is a topic or task holding many direct children
type HubContainer struct {
	ID       int64          `json:"id"`
	Title    string         `json:"title"`
	Type     model.NodeType `json:"node_type"`
	Children int            `json:"children"`
	Degree   int            `json:"degree"`
}

// DegreeBucket is one bucket in the degree histogram
type DegreeBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// TopologyReport contains topology analysis results
type TopologyReport struct {
	TotalNodes        int            `json:"total_nodes"`
	TotalEdges        int            `json:"total_edges"`
	ContainsEdges     int            `json:"contains_edges"`
	RelatedEdges      int            `json:"related_edges"`
	NumComponents     int            `json:"num_components"`
	LargestComponent  int            `json:"largest_component"`
	SmallestComponent int            `json:"smallest_component"`
	OrphanCount       int            `json:"orphan_count"`
	OrphanIDs         []int64        `json:"orphan_ids"`
	UnfiledCount      int            `json:"unfiled_count"`
	UnfiledIDs        []int64        `json:"unfiled_ids"`
	DegreeHistogram   []DegreeBucket `json:"degree_histogram"`
	Hubs              []HubContainer `json:"hubs"`
}

// ComputeTopology analyzes components, orphans, unfiled resources, degree
// distribution and hub containers. Orphans have no edges at all; unfiled
// resources have no container.
func ComputeTopology(snap *Snapshot, hubThreshold, topN int) *TopologyReport {
	totalNodes := len(snap.Nodes)
	if totalNodes == 0 {
		return &TopologyReport{DegreeHistogram: defaultHistogram()}
	}

	report := &TopologyReport{TotalNodes: totalNodes, TotalEdges: len(snap.Edges)}
	nodeIDs := snap.NodeIDs()
	uf := NewUnionFind(nodeIDs)
	for _, e := range snap.Edges {
		uf.Union(e.SourceID, e.TargetID)
		if e.Relation == model.RelContains {
			report.ContainsEdges++
		} else {
			report.RelatedEdges++
		}
	}

	components := uf.Components()
	report.NumComponents = len(components)
	report.SmallestComponent = totalNodes
	for _, c := range components {
		if len(c) > report.LargestComponent {
			report.LargestComponent = len(c)
		}
		if len(c) < report.SmallestComponent {
			report.SmallestComponent = len(c)
		}
	}

	buckets := [7]int{}
	var hubs []HubContainer
	for _, id := range nodeIDs {
		n := snap.Nodes[id]
		degree := len(snap.Adj[id])
		buckets[degreeBucket(degree)]++

		if degree == 0 {
			report.OrphanIDs = append(report.OrphanIDs, id)
		}
		if n.Type == model.NodeResource && len(snap.Parents[id]) == 0 {
			report.UnfiledIDs = append(report.UnfiledIDs, id)
		}
		if children := len(snap.Children[id]); n.IsContainer() && children > hubThreshold {
			hubs = append(hubs, HubContainer{
				ID:       id,
				Title:    n.Title,
				Type:     n.Type,
				Children: children,
				Degree:   degree,
			})
		}
	}

	report.OrphanCount = len(report.OrphanIDs)
	report.UnfiledCount = len(report.UnfiledIDs)
	report.OrphanIDs = truncate(report.OrphanIDs, topN)
	report.UnfiledIDs = truncate(report.UnfiledIDs, topN)

	report.DegreeHistogram = defaultHistogram()
	for i := range report.DegreeHistogram {
		report.DegreeHistogram[i].Count = buckets[i]
	}

	sort.SliceStable(hubs, func(i, j int) bool { return hubs[i].Children > hubs[j].Children })
	if len(hubs) > topN {
		hubs = hubs[:topN]
	}
	report.Hubs = hubs
	return report
}

func truncate(ids []int64, n int) []int64 {
	if len(ids) > n {
		return ids[:n]
	}
	return ids
}

func defaultHistogram() []DegreeBucket {
	return []DegreeBucket{
		{Label: "0"}, {Label: "1"}, {Label: "2-3"},
		{Label: "4-7"}, {Label: "8-15"}, {Label: "16-31"}, {Label: "32+"},
	}
}

func degreeBucket(degree int) int {
	switch {
	case degree == 0:
		return 0
	case degree == 1:
		return 1
	case degree <= 3:
		return 2
	case degree <= 7:
		return 3
	case degree <= 15:
		return 4
	case degree <= 31:
		return 5
	default:
		return 6
	}
}
