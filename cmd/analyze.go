package cmd

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"neuralvault/graphcore/internal/graph"
)

var (
	analyzeJSON         bool
	analyzeContainer    string
	analyzeTopN         int
	analyzeStaleDays    int64
	analyzeHubThreshold int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze graph structure: containment, backlog, fragility, health score",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var snap *graph.Snapshot
		err = withRetry(ctx, func() error {
			snap, err = graph.Load(ctx, s.api)
			return err
		})
		if err != nil {
			return fmt.Errorf("loading graph: %w", err)
		}

		if analyzeContainer != "" {
			root, err := ResolveNode(ctx, s.api, analyzeContainer)
			if err != nil {
				return err
			}
			snap = snap.FilterToContainer(root.NodeID)
		}

		config := &graph.AnalyzerConfig{
			HubThreshold: analyzeHubThreshold,
			TopN:         analyzeTopN,
			StaleDays:    analyzeStaleDays,
		}

		report := graph.Analyze(snap, config)

		if analyzeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		printHumanReadable(report, snap)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Output as JSON")
	analyzeCmd.Flags().StringVar(&analyzeContainer, "container", "", "Scope analysis to the subtree of this container")
	analyzeCmd.Flags().IntVar(&analyzeTopN, "top-n", 10, "Number of top items to show per section")
	analyzeCmd.Flags().Int64Var(&analyzeStaleDays, "stale-days", 14, "Days an unreviewed node may wait before it counts as stale")
	analyzeCmd.Flags().IntVar(&analyzeHubThreshold, "hub-threshold", 10, "Minimum direct children to consider a container a hub")
	rootCmd.AddCommand(analyzeCmd)
}

func printHumanReadable(report *graph.AnalysisReport, snap *graph.Snapshot) {
	// Health bar
	barLen := int(report.HealthScore * 20)
	if barLen > 20 {
		barLen = 20
	}
	bar := strings.Repeat("█", barLen) + strings.Repeat("░", 20-barLen)
	fmt.Printf("\n  Graph Health: %.0f%%  [%s]\n", report.HealthScore*100, bar)
	fmt.Printf("  breakdown: connectivity=%.2f filing=%.2f review=%.2f fragility=%.2f\n\n",
		report.HealthBreakdown.Connectivity,
		report.HealthBreakdown.Filing,
		report.HealthBreakdown.Review,
		report.HealthBreakdown.Fragility)

	title := func(id int64) string {
		if n, ok := snap.Nodes[id]; ok {
			return n.Title
		}
		return strconv.FormatInt(id, 10)
	}

	// Topology
	t := report.Topology
	fmt.Println("  TOPOLOGY")
	fmt.Println("  ────────────────────────────────────────")
	fmt.Printf("  Nodes: %d  Edges: %d (contains=%d related=%d)  Components: %d\n",
		t.TotalNodes, t.TotalEdges, t.ContainsEdges, t.RelatedEdges, t.NumComponents)
	fmt.Printf("  Largest component: %d  Smallest: %d\n", t.LargestComponent, t.SmallestComponent)

	printIDs := func(label string, count int, ids []int64) {
		if count == 0 {
			return
		}
		fmt.Printf("  %s: %d\n", label, count)
		limit := min(5, len(ids))
		for _, id := range ids[:limit] {
			fmt.Printf("    - %d (%s)\n", id, truncTitle(title(id), 50))
		}
		if count > limit {
			fmt.Printf("    ... and %d more\n", count-limit)
		}
	}
	printIDs("Orphans (no edges)", t.OrphanCount, t.OrphanIDs)
	printIDs("Unfiled resources (no container)", t.UnfiledCount, t.UnfiledIDs)

	// Degree distribution
	fmt.Println("\n  Degree distribution:")
	for _, b := range t.DegreeHistogram {
		if b.Count > 0 {
			barWidth := int(math.Log2(float64(b.Count))) + 2
			if barWidth < 1 {
				barWidth = 1
			}
			fmt.Printf("    %5s: %4d  %s\n", b.Label, b.Count, strings.Repeat("=", barWidth))
		}
	}

	// Hubs
	if len(t.Hubs) > 0 {
		fmt.Println("\n  Hub containers (children >= threshold):")
		for _, hub := range t.Hubs {
			fmt.Printf("    %d %s children=%d degree=%d  %s\n",
				hub.ID, hub.Type, hub.Children, hub.Degree, truncTitle(hub.Title, 40))
		}
	}

	// Backlog
	b := report.Backlog
	if b.Unreviewed > 0 || b.OverdueTaskCount > 0 || b.PendingProcessing > 0 || b.EmbeddingErrors > 0 {
		fmt.Println("\n  BACKLOG")
		fmt.Println("  ────────────────────────────────────────")
		fmt.Printf("  Unreviewed: %d (%d waiting too long)\n", b.Unreviewed, b.StaleReviewCount)
		for _, sr := range b.StaleReviews[:min(10, len(b.StaleReviews))] {
			fmt.Printf("    %d waiting %dd  %s\n", sr.ID, sr.DaysWaiting, truncTitle(sr.Title, 40))
		}
		if b.OverdueTaskCount > 0 {
			fmt.Printf("  Overdue tasks: %d\n", b.OverdueTaskCount)
			for _, ot := range b.OverdueTasks[:min(10, len(b.OverdueTasks))] {
				fmt.Printf("    %d overdue %dd  %s\n", ot.ID, ot.DaysOverdue, truncTitle(ot.Title, 40))
			}
		}
		fmt.Printf("  Processing pending: %d  embedding errors: %d  dirty embeddings: %d\n",
			b.PendingProcessing, b.EmbeddingErrors, b.DirtyEmbeddings)
	}

	// Fragility
	fr := report.Fragility
	if fr.CutCount > 0 || len(fr.HangingTrees) > 0 || len(fr.WeakLinks) > 0 || len(fr.ThinRegions) > 0 {
		fmt.Println("\n  STRUCTURAL FRAGILITY")
		fmt.Println("  ────────────────────────────────────────")
		if fr.CutCount > 0 {
			fmt.Printf("  %d cut nodes (removal strands part of the graph):\n", fr.CutCount)
			for _, cn := range fr.CutNodes[:min(10, len(fr.CutNodes))] {
				fmt.Printf("    %d %s strands %d  %s\n", cn.ID, cn.Type, cn.Stranded, truncTitle(cn.Title, 40))
			}
		}
		if len(fr.HangingTrees) > 0 {
			fmt.Printf("  %d subtrees hang on a single contains edge:\n", len(fr.HangingTrees))
			for _, sl := range fr.HangingTrees[:min(10, len(fr.HangingTrees))] {
				fmt.Printf("    %s -> %s (%d nodes)\n", truncTitle(sl.SourceTitle, 30), truncTitle(sl.TargetTitle, 30), sl.Detached)
			}
		}
		if len(fr.WeakLinks) > 0 {
			fmt.Printf("  %d related_to edges are the only link between two parts:\n", len(fr.WeakLinks))
			for _, sl := range fr.WeakLinks[:min(10, len(fr.WeakLinks))] {
				fmt.Printf("    %s <-> %s\n", truncTitle(sl.SourceTitle, 30), truncTitle(sl.TargetTitle, 30))
			}
		}
		if len(fr.ThinRegions) > 0 {
			fmt.Printf("  %d containment trees joined by <=2 related_to edges:\n", len(fr.ThinRegions))
			for _, tr := range fr.ThinRegions[:min(10, len(fr.ThinRegions))] {
				s := ""
				if tr.Links != 1 {
					s = "s"
				}
				fmt.Printf("    %s <-> %s (%d edge%s)\n",
					truncTitle(title(tr.RegionA), 25), truncTitle(title(tr.RegionB), 25), tr.Links, s)
			}
		}
	}

	fmt.Println()
}

func truncTitle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Find a safe UTF-8 boundary
	truncated := s[:max]
	for len(truncated) > 0 && truncated[len(truncated)-1]>>6 == 2 {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "..."
}
