package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/model"
)

var (
	importType   string
	importParent string
	importDryRun bool
)

var importCmd = &cobra.Command{
	Use:   "import <file|->",
	Short: "Create one node per entry of a text file",
	Long: `Reads entries from a file or stdin ("-"). Entries separated by "---" lines
may span several lines; otherwise every non-blank line is an entry. Lines
starting with # are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeType, err := model.ParseNodeType(importType)
		if err != nil {
			return err
		}
		entries, err := ReadEntries(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		if importDryRun {
			for i, e := range entries {
				fmt.Printf("  %d. [%s] %s\n", i+1, nodeType, truncateMiddle(e, 70))
			}
			fmt.Fprintf(os.Stderr, "[import] Would create %d node(s).\n", len(entries))
			return nil
		}

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		var parent model.Node
		if importParent != "" {
			if parent, err = ResolveNode(ctx, s.api, importParent); err != nil {
				return err
			}
			if !parent.IsContainer() {
				return fmt.Errorf("%d is a %s and cannot contain nodes", parent.NodeID, parent.Type)
			}
		}

		created := 0
		for _, entry := range entries {
			n, err := s.api.CreateNode(ctx, newNodeFromEntry(nodeType, entry))
			if err != nil {
				return fmt.Errorf("creating %q (after %d created): %w", truncateMiddle(entry, 40), created, err)
			}
			created++
			if parent.NodeID != 0 {
				if _, err := s.api.Link(ctx, parent.NodeID, n.NodeID, model.RelContains, graphapi.LinkOptions{}); err != nil && !graphapi.IsBenign(err) {
					return fmt.Errorf("filing %d under %d: %w", n.NodeID, parent.NodeID, err)
				}
			}
			fmt.Printf("%d\t%s\t%s\n", n.NodeID, n.Type, n.Title)
		}
		fmt.Fprintf(os.Stderr, "[import] Created %d node(s).\n", created)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importType, "type", string(model.NodeResource), "Node type to create: topic, task, resource")
	importCmd.Flags().StringVar(&importParent, "parent", "", "Container to file every created node under")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "List parsed entries without creating nodes")
	rootCmd.AddCommand(importCmd)
}

// newNodeFromEntry uses the first line of a multi-line entry as the
// title and the full entry as content.
func newNodeFromEntry(t model.NodeType, entry string) graphapi.NewNode {
	nn := graphapi.NewNode{Type: t, Title: entry}
	if t == model.NodeResource {
		nn.Subtype = model.SubtypeText
	}
	if t == model.NodeTask {
		nn.Status = model.TaskTodo
	}
	if len(entry) > 120 {
		nn.Title = truncateMiddle(entry, 120)
		if t == model.NodeResource {
			content := entry
			nn.Content = &content
		} else {
			nn.Summary = &entry
		}
	}
	return nn
}

// ReadEntries reads import entries from a file, or from stdin when source
// is "-".
func ReadEntries(source string, stdin io.Reader) ([]string, error) {
	reader := stdin
	if source != "-" {
		f, err := os.Open(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read import source '%s': %w", source, err)
		}
		defer f.Close()
		reader = f
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}

	entries := parseEntries(string(content))
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries found in '%s' (blank lines and # comments ignored)", source)
	}
	return entries, nil
}

// parseEntries splits on "---" lines when any are present, otherwise
// takes one entry per line.
func parseEntries(content string) []string {
	lines := strings.Split(content, "\n")

	hasDelimiter := false
	for _, line := range lines {
		if strings.TrimSpace(line) == "---" {
			hasDelimiter = true
			break
		}
	}

	if hasDelimiter {
		var entries []string
		var current []string
		for _, line := range lines {
			if strings.TrimSpace(line) == "---" {
				if e := flushSection(current); e != "" {
					entries = append(entries, e)
				}
				current = nil
			} else {
				current = append(current, line)
			}
		}
		if e := flushSection(current); e != "" {
			entries = append(entries, e)
		}
		return entries
	}

	var entries []string
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	return entries
}

// flushSection joins the non-blank, non-comment lines of a section.
func flushSection(lines []string) string {
	var parts []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}

// truncateMiddle shortens s to maxLen, keeping both ends.
func truncateMiddle(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	available := maxLen - 3
	firstHalf := (available + 1) / 2
	lastHalf := available / 2
	return s[:firstHalf] + "..." + s[len(s)-lastHalf:]
}
