package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/resolver"
)

var (
	ctxAdd       []string
	ctxRemove    []string
	ctxFocus     string
	ctxAvailable bool
	ctxTree      int
	ctxJSON      bool
)

var contextCmd = &cobra.Command{
	Use:   "context <container|resource>",
	Short: "Show, and edit, the context set of a container",
	Long: `Selects a topic or task and lists the nodes it contains. A resource is
opened on its own as a standalone context. --add files nodes under the
container, --remove unfiles them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		selected, err := ResolveNode(ctx, s.api, args[0])
		if err != nil {
			return err
		}

		r := resolver.New(s.api, s.store, logger, met)
		defer r.Close()
		r.OnChange(func(v resolver.View) {
			logger.Debug("context changed", "state", v.State, "members", len(v.ContextNodes))
		})

		if selected.Type == model.NodeResource {
			err = r.SelectStandalone(selected)
		} else {
			err = withRetry(ctx, func() error { return r.Select(ctx, selected) })
		}
		if err != nil {
			return err
		}

		for _, ref := range ctxAdd {
			n, err := ResolveNode(ctx, s.api, ref)
			if err != nil {
				return err
			}
			if err := r.AddToContext(ctx, n); err != nil {
				return fmt.Errorf("adding %d: %w", n.NodeID, err)
			}
		}
		for _, ref := range ctxRemove {
			n, err := ResolveNode(ctx, s.api, ref)
			if err != nil {
				return err
			}
			if err := r.RemoveFromContext(ctx, n.NodeID); err != nil {
				return fmt.Errorf("removing %d: %w", n.NodeID, err)
			}
		}
		if ctxFocus != "" {
			n, err := ResolveNode(ctx, s.api, ctxFocus)
			if err != nil {
				return err
			}
			if err := r.Focus(n.NodeID); err != nil {
				return err
			}
		}

		view := r.View()
		var available []model.Node
		if ctxAvailable {
			if available, err = r.Available(ctx); err != nil {
				return err
			}
		}

		if ctxJSON {
			return encodeContext(view, available)
		}

		printView(view)
		if ctxTree > 0 {
			fmt.Println("\n  Tree:")
			for _, n := range view.ContextNodes {
				if err := printTree(ctx, r, n, 1, ctxTree); err != nil {
					return err
				}
			}
		}
		if ctxAvailable {
			fmt.Printf("\n  Available (%d):\n", len(available))
			for _, n := range available {
				fmt.Printf("    %d %-8s %s\n", n.NodeID, n.Type, truncTitle(n.Title, 60))
			}
		}
		return nil
	},
}

func printView(v resolver.View) {
	switch {
	case v.Standalone:
		fmt.Println("Standalone resource")
	case v.Container != nil:
		fmt.Printf("Context of %s %d: %s  [%s]\n", v.Container.Type, v.Container.NodeID, v.Container.Title, v.State)
	default:
		fmt.Printf("No selection [%s]\n", v.State)
	}
	if v.Err != nil {
		fmt.Printf("  error: %v\n", v.Err)
	}
	if len(v.ContextNodes) == 0 {
		fmt.Println("  (empty)")
		return
	}
	var focus int64
	if v.SelectedResource != nil {
		focus = v.SelectedResource.NodeID
	}
	for _, n := range v.ContextNodes {
		marker := " "
		if n.NodeID == focus {
			marker = "*"
		}
		fmt.Printf("  %s %d %-8s %s\n", marker, n.NodeID, n.Type, truncTitle(n.Title, 60))
	}
}

// printTree expands containers lazily, one level per call.
func printTree(ctx context.Context, r *resolver.Resolver, n model.Node, depth, maxDepth int) error {
	fmt.Printf("  %s%d %s\n", strings.Repeat("  ", depth), n.NodeID, truncTitle(n.Title, 50))
	if depth >= maxDepth || !n.IsContainer() {
		return nil
	}
	children, err := r.Children(ctx, n.NodeID)
	if err != nil {
		return fmt.Errorf("expanding %d: %w", n.NodeID, err)
	}
	for _, c := range children {
		if err := printTree(ctx, r, c, depth+1, maxDepth); err != nil {
			return err
		}
	}
	return nil
}

func encodeContext(v resolver.View, available []model.Node) error {
	records := func(nodes []model.Node) []model.NodeRecord {
		out := make([]model.NodeRecord, len(nodes))
		for i, n := range nodes {
			out[i] = n.Record()
		}
		return out
	}
	output := struct {
		State      string             `json:"state"`
		Standalone bool               `json:"standalone"`
		Container  *model.NodeRecord  `json:"container,omitempty"`
		Focus      *int64             `json:"focus,omitempty"`
		Members    []model.NodeRecord `json:"members"`
		Available  []model.NodeRecord `json:"available,omitempty"`
	}{
		State:      v.State.String(),
		Standalone: v.Standalone,
		Members:    records(v.ContextNodes),
		Available:  records(available),
	}
	if v.Container != nil {
		rec := v.Container.Record()
		output.Container = &rec
	}
	if v.SelectedResource != nil {
		id := v.SelectedResource.NodeID
		output.Focus = &id
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func init() {
	contextCmd.Flags().StringSliceVar(&ctxAdd, "add", nil, "Nodes to file under the container")
	contextCmd.Flags().StringSliceVar(&ctxRemove, "remove", nil, "Nodes to unfile from the container")
	contextCmd.Flags().StringVar(&ctxFocus, "focus", "", "Member to mark as the selected resource")
	contextCmd.Flags().BoolVar(&ctxAvailable, "available", false, "Also list nodes that could be added")
	contextCmd.Flags().IntVar(&ctxTree, "tree", 0, "Expand contained containers to this depth")
	contextCmd.Flags().BoolVar(&ctxJSON, "json", false, "JSON output")
	rootCmd.AddCommand(contextCmd)
}
