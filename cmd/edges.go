package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/model"
)

var (
	edgeRel        string
	edgeConfidence float64
	edgeSuggested  bool
)

func relationFlag() (model.RelationType, error) {
	return model.ParseRelationType(edgeRel)
}

// resolvePair resolves the source and target references of an edge command.
func resolvePair(ctx context.Context, api *graphapi.Client, src, dst string) (model.Node, model.Node, error) {
	a, err := ResolveNode(ctx, api, src)
	if err != nil {
		return model.Node{}, model.Node{}, fmt.Errorf("source: %w", err)
	}
	b, err := ResolveNode(ctx, api, dst)
	if err != nil {
		return model.Node{}, model.Node{}, fmt.Errorf("target: %w", err)
	}
	return a, b, nil
}

var linkCmd = &cobra.Command{
	Use:   "link <source> <target>",
	Short: "Create an edge between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rel, err := relationFlag()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		src, dst, err := resolvePair(ctx, s.api, args[0], args[1])
		if err != nil {
			return err
		}
		opts := graphapi.LinkOptions{Suggested: edgeSuggested}
		if cmd.Flags().Changed("confidence") {
			c := edgeConfidence
			opts.Confidence = &c
		}
		e, err := s.api.Link(ctx, src.NodeID, dst.NodeID, rel, opts)
		switch {
		case graphapi.IsBenign(err):
			fmt.Printf("Edge %d -[%s]-> %d already exists.\n", src.NodeID, rel, dst.NodeID)
			return nil
		case err != nil:
			return err
		}
		printEdge(e)
		return nil
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <source> <target>",
	Short: "Remove an edge between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rel, err := relationFlag()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		src, dst, err := resolvePair(ctx, s.api, args[0], args[1])
		if err != nil {
			return err
		}
		if err := withRetry(ctx, func() error {
			return s.api.Unlink(ctx, src.NodeID, dst.NodeID, rel)
		}); err != nil {
			return err
		}
		fmt.Printf("Unlinked %d -[%s]-> %d.\n", src.NodeID, rel, dst.NodeID)
		return nil
	},
}

var confirmEdgeCmd = &cobra.Command{
	Use:   "confirm-edge <source> <target>",
	Short: "Confirm a suggested edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rel, err := relationFlag()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		src, dst, err := resolvePair(ctx, s.api, args[0], args[1])
		if err != nil {
			return err
		}
		c := s.coordinator(cmd.InOrStdin(), cmd.ErrOrStderr())
		// Warm the incoming-edge list so the confirmation patches it.
		if _, err := c.EdgesTo(ctx, dst.NodeID, rel); err != nil {
			return err
		}
		e, err := c.ConfirmEdgeRelation(ctx, model.Edge{SourceID: src.NodeID, TargetID: dst.NodeID, Relation: rel})
		if err != nil {
			return err
		}
		printEdge(e)
		return nil
	},
}

var edgesToCmd = &cobra.Command{
	Use:   "edges-to <node>",
	Short: "List edges pointing at a node, suggestions first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rel, err := relationFlag()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := ResolveNode(ctx, s.api, args[0])
		if err != nil {
			return err
		}
		var edges []model.Edge
		err = withRetry(ctx, func() error {
			edges, err = s.store.EdgesTo(ctx, n.NodeID, rel)
			return err
		})
		if err != nil {
			return err
		}
		for _, e := range edges {
			if !e.IsManual {
				printEdge(e)
			}
		}
		for _, e := range edges {
			if e.IsManual {
				printEdge(e)
			}
		}
		if len(edges) == 0 {
			fmt.Printf("No %s edges point at %d.\n", rel, n.NodeID)
		}
		return nil
	},
}

var parentsCmd = &cobra.Command{
	Use:   "parents <node>",
	Short: "List the nodes with an edge pointing at a node",
	Long:  "List the nodes with an edge of --rel pointing at a node. For contains these are its containers.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rel, err := relationFlag()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := ResolveNode(ctx, s.api, args[0])
		if err != nil {
			return err
		}
		var sources []model.Node
		err = withRetry(ctx, func() error {
			sources, err = s.api.ListSources(ctx, n.NodeID, rel)
			return err
		})
		if err != nil {
			return err
		}
		for _, p := range sources {
			printNode(p)
		}
		if len(sources) == 0 {
			fmt.Printf("No %s edges point at %d.\n", rel, n.NodeID)
		}
		return nil
	},
}

func printEdge(e model.Edge) {
	kind := "manual"
	if !e.IsManual {
		kind = "suggested"
	}
	conf := ""
	if e.Confidence != nil {
		conf = fmt.Sprintf(" confidence=%.2f", *e.Confidence)
	}
	fmt.Printf("%d -[%s]-> %d  %s%s\n", e.SourceID, e.Relation, e.TargetID, kind, conf)
}

func init() {
	for _, c := range []*cobra.Command{linkCmd, unlinkCmd, confirmEdgeCmd, edgesToCmd, parentsCmd} {
		c.Flags().StringVar(&edgeRel, "rel", string(model.RelContains), "Relation: contains, related_to")
		rootCmd.AddCommand(c)
	}
	linkCmd.Flags().Float64Var(&edgeConfidence, "confidence", 0, "Confidence score of a suggested edge")
	linkCmd.Flags().BoolVar(&edgeSuggested, "suggested", false, "Store as an unconfirmed suggestion")
}
