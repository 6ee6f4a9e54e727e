package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/nodeops"
)

var (
	createSummary  string
	createPriority string
	createDue      string
	createSubtype  string
	createFile     string
	createContent  string
	createNote     string
	createParent   string

	listType       string
	listStatus     string
	listPinned     bool
	listUnreviewed bool
	listQuery      string
	listDeleted    bool
	listLimit      int
	listDue        string
	listDated      bool
	listJSON       bool

	deleteYes bool
)

// coordinator builds the node workflows over a session. Deletes prompt on
// in unless the caller skips confirmation.
func (s *session) coordinator(in io.Reader, out io.Writer) *nodeops.Coordinator {
	c := nodeops.New(s.api, s.store, promptConfirmer(in, out), logger)
	c.OnSuccess(func(ev nodeops.Success) {
		logger.Debug("operation applied", "op", ev.Op, "node", ev.NodeID)
	})
	return c
}

func promptConfirmer(in io.Reader, out io.Writer) nodeops.ConfirmFunc {
	return func(ctx context.Context, n model.Node) (bool, error) {
		fmt.Fprintf(out, "Delete %s %d %q? [y/N] ", n.Type, n.NodeID, n.Title)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}
}

var createCmd = &cobra.Command{
	Use:   "create <topic|task|resource> <title>",
	Short: "Create a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeType, err := model.ParseNodeType(args[0])
		if err != nil {
			return err
		}
		nn := graphapi.NewNode{Type: nodeType, Title: args[1]}
		optString(cmd, "summary", createSummary, &nn.Summary)
		switch nodeType {
		case model.NodeTask:
			nn.Status = model.TaskTodo
			nn.Priority = model.PriorityMedium
			if createPriority != "" {
				if nn.Priority, err = model.ParsePriority(createPriority); err != nil {
					return err
				}
			}
			optString(cmd, "due", createDue, &nn.DueDate)
		case model.NodeResource:
			nn.Subtype = model.SubtypeOther
			if createSubtype != "" {
				if nn.Subtype, err = model.ParseResourceSubtype(createSubtype); err != nil {
					return err
				}
			}
			optString(cmd, "file", createFile, &nn.FilePath)
			optString(cmd, "content", createContent, &nn.Content)
			optString(cmd, "note", createNote, &nn.UserNote)
		}

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := s.api.CreateNode(ctx, nn)
		if err != nil {
			return err
		}
		if createParent != "" {
			parent, err := ResolveNode(ctx, s.api, createParent)
			if err != nil {
				return err
			}
			if _, err := s.api.Link(ctx, parent.NodeID, n.NodeID, model.RelContains, graphapi.LinkOptions{}); err != nil && !graphapi.IsBenign(err) {
				return fmt.Errorf("created %d but filing it under %d failed: %w", n.NodeID, parent.NodeID, err)
			}
		}
		printNode(n)
		return nil
	},
}

// optString sets *dst only for flags given on the command line.
func optString(cmd *cobra.Command, flag, value string, dst **string) {
	if cmd.Flags().Changed(flag) {
		v := value
		*dst = &v
	}
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes matching a filter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := graphapi.Filter{
			PinnedOnly:     listPinned,
			UnreviewedOnly: listUnreviewed,
			Query:          listQuery,
			IncludeDeleted: listDeleted,
			Limit:          listLimit,
			HasDueDate:     listDated,
		}
		var err error
		if listDue != "" {
			if f.DueOn, err = time.Parse(time.DateOnly, listDue); err != nil {
				return &model.ValidationError{NodeType: model.NodeTask, Field: "due_date", Reason: fmt.Sprintf("--due wants YYYY-MM-DD, got %q", listDue)}
			}
		}
		if listType != "" {
			if f.Type, err = model.ParseNodeType(listType); err != nil {
				return err
			}
		}
		if listStatus != "" {
			if f.TaskStatus, err = model.ParseTaskStatus(listStatus); err != nil {
				return err
			}
		}

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var nodes []model.Node
		err = withRetry(ctx, func() error {
			nodes, err = s.store.Load(ctx, f)
			return err
		})
		if err != nil {
			return err
		}

		if listJSON {
			recs := make([]model.NodeRecord, len(nodes))
			for i, n := range nodes {
				recs[i] = n.Record()
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		for _, n := range nodes {
			printNode(n)
		}
		if len(nodes) == 0 {
			fmt.Fprintln(os.Stderr, "No matching nodes.")
		}
		return nil
	},
}

func printNode(n model.Node) {
	var flags []string
	if n.IsPinned {
		flags = append(flags, "pinned")
	}
	if n.ReviewStatus != model.ReviewReviewed {
		flags = append(flags, string(n.ReviewStatus))
	}
	if n.IsDeleted {
		flags = append(flags, "deleted")
	}
	detail := ""
	switch {
	case n.Task != nil:
		detail = fmt.Sprintf(" [%s/%s]", n.Task.Status, n.Task.Priority)
	case n.Resource != nil:
		detail = fmt.Sprintf(" [%s]", n.Resource.Subtype)
	}
	suffix := ""
	if len(flags) > 0 {
		suffix = "  (" + strings.Join(flags, ", ") + ")"
	}
	fmt.Printf("%d\t%-8s %s%s%s\n", n.NodeID, n.Type, truncTitle(n.Title, 60), detail, suffix)
}

// nodeCommand builds a command that resolves its first argument to a node
// and runs fn with a coordinator.
func nodeCommand(use, short string, nargs int, fn func(cmd *cobra.Command, c *nodeops.Coordinator, n model.Node, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var n model.Node
			err = withRetry(ctx, func() error {
				n, err = ResolveNode(ctx, s.api, args[0])
				return err
			})
			if err != nil {
				return err
			}
			return fn(cmd, s.coordinator(cmd.InOrStdin(), cmd.ErrOrStderr()), n, args[1:])
		},
	}
}

var convertCmd = nodeCommand("convert <node> <topic|task|resource>", "Change a node's type, keeping its identity", 2,
	func(cmd *cobra.Command, c *nodeops.Coordinator, n model.Node, args []string) error {
		target, err := model.ParseNodeType(args[0])
		if err != nil {
			return err
		}
		converted, err := c.Convert(cmd.Context(), n, target)
		if err != nil {
			return err
		}
		printNode(converted)
		return nil
	})

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Approve or reject an automatically created node",
}

var approveCmd = nodeCommand("approve <node>", "Mark a node reviewed", 1,
	func(cmd *cobra.Command, c *nodeops.Coordinator, n model.Node, _ []string) error {
		updated, err := c.Approve(cmd.Context(), n)
		if err != nil {
			return err
		}
		printNode(updated)
		return nil
	})

var rejectCmd = nodeCommand("reject <node>", "Mark a node rejected", 1,
	func(cmd *cobra.Command, c *nodeops.Coordinator, n model.Node, _ []string) error {
		updated, err := c.Reject(cmd.Context(), n)
		if err != nil {
			return err
		}
		printNode(updated)
		return nil
	})

var pinCmd = nodeCommand("pin <node>", "Toggle a node's pinned flag", 1,
	func(cmd *cobra.Command, c *nodeops.Coordinator, n model.Node, _ []string) error {
		updated, err := c.TogglePinned(cmd.Context(), n)
		if err != nil {
			return err
		}
		printNode(updated)
		return nil
	})

var statusCmd = nodeCommand("status <task> <todo|done|cancelled>", "Set a task's status", 2,
	func(cmd *cobra.Command, c *nodeops.Coordinator, n model.Node, args []string) error {
		status, err := model.ParseTaskStatus(args[0])
		if err != nil {
			return err
		}
		updated, err := c.SetTaskStatus(cmd.Context(), n, status)
		if err != nil {
			return err
		}
		printNode(updated)
		return nil
	})

var deleteCmd = nodeCommand("delete <node>", "Soft-delete a node after confirmation", 1,
	func(cmd *cobra.Command, c *nodeops.Coordinator, n model.Node, _ []string) error {
		if err := c.Delete(cmd.Context(), n, deleteYes); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Deleted %s %d.\n", n.Type, n.NodeID)
		return nil
	})

func init() {
	cf := createCmd.Flags()
	cf.StringVar(&createSummary, "summary", "", "Summary text")
	cf.StringVar(&createPriority, "priority", "", "Task priority: high, medium, low")
	cf.StringVar(&createDue, "due", "", "Task due date (RFC 3339)")
	cf.StringVar(&createSubtype, "subtype", "", "Resource subtype: text, image, pdf, url, epub, other")
	cf.StringVar(&createFile, "file", "", "Resource file path")
	cf.StringVar(&createContent, "content", "", "Resource content")
	cf.StringVar(&createNote, "note", "", "Resource user note")
	cf.StringVar(&createParent, "parent", "", "Container to file the node under")

	lf := listCmd.Flags()
	lf.StringVar(&listType, "type", "", "Only this node type")
	lf.StringVar(&listStatus, "status", "", "Only tasks with this status")
	lf.BoolVar(&listPinned, "pinned", false, "Only pinned nodes")
	lf.BoolVar(&listUnreviewed, "unreviewed", false, "Only unreviewed nodes")
	lf.StringVar(&listQuery, "query", "", "Title substring")
	lf.BoolVar(&listDeleted, "deleted", false, "Include soft-deleted nodes")
	lf.IntVar(&listLimit, "limit", 0, "Maximum results (0 = no limit)")
	lf.StringVar(&listDue, "due", "", "Only tasks due on this day (YYYY-MM-DD), soonest and most urgent first")
	lf.BoolVar(&listDated, "dated", false, "Only tasks with a due date, soonest first")
	lf.BoolVar(&listJSON, "json", false, "Output as JSON")

	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip the confirmation prompt")

	reviewCmd.AddCommand(approveCmd, rejectCmd)
	rootCmd.AddCommand(createCmd, listCmd, convertCmd, reviewCmd, pinCmd, statusCmd, deleteCmd)
}
