package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralvault/graphcore/internal/db"
	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/nodeops"
	"neuralvault/graphcore/internal/wire"
)

// localVault returns a fresh database path and moves into its directory
// so no stray config file is discovered.
func localVault(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return filepath.Join(dir, "vault.db")
}

func id(n model.Node) string { return strconv.FormatInt(n.NodeID, 10) }

// execute runs the CLI in --local mode against vault. Flag state from
// earlier runs is reset first.
func execute(t *testing.T, vault string, args ...string) error {
	t.Helper()
	return executeWithInput(t, vault, "", args...)
}

func executeWithInput(t *testing.T, vault, input string, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	rootCmd.SetIn(strings.NewReader(input))
	rootCmd.SetArgs(append([]string{"--local", "--db", vault, "--log-level", "error"}, args...))
	return rootCmd.ExecuteContext(context.Background())
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// captureStdout returns what fn printed to standard output.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	prev := os.Stdout
	os.Stdout = w
	done := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(r)
		done <- string(b)
	}()
	defer func() { os.Stdout = prev }()
	fn()
	w.Close()
	return <-done
}

func vaultAPI(t *testing.T, path string) *graphapi.Client {
	t.Helper()
	d, err := db.OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return graphapi.NewClient(wire.Loopback{Handler: db.NewHandler(d, nil)}, nil, nil)
}

func TestIsHexDash(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0a1b2c", true},
		{"DEADBEEF-12", true},
		{"garden", false},
		{"12 34", false},
		{"", true},
	}
	for _, tt := range tests {
		if got := isHexDash(tt.in); got != tt.want {
			t.Errorf("isHexDash(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveNode(t *testing.T) {
	ctx := context.Background()
	api := vaultAPI(t, ":memory:")

	garden, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTopic, Title: "Garden"})
	require.NoError(t, err)
	tools, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTopic, Title: "Garden tools"})
	require.NoError(t, err)

	t.Run("numeric id", func(t *testing.T) {
		n, err := ResolveNode(ctx, api, id(tools))
		require.NoError(t, err)
		assert.Equal(t, tools.NodeID, n.NodeID)
	})
	t.Run("uuid prefix", func(t *testing.T) {
		n, err := ResolveNode(ctx, api, garden.UUID[:8])
		require.NoError(t, err)
		assert.Equal(t, garden.NodeID, n.NodeID)
	})
	t.Run("exact title wins over partial matches", func(t *testing.T) {
		n, err := ResolveNode(ctx, api, "garden")
		require.NoError(t, err)
		assert.Equal(t, garden.NodeID, n.NodeID)
	})
	t.Run("single partial match", func(t *testing.T) {
		n, err := ResolveNode(ctx, api, "tools")
		require.NoError(t, err)
		assert.Equal(t, tools.NodeID, n.NodeID)
	})
	t.Run("ambiguous", func(t *testing.T) {
		_, err := ResolveNode(ctx, api, "gard")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ambiguous reference")
	})
	t.Run("not found", func(t *testing.T) {
		_, err := ResolveNode(ctx, api, "kitchen")
		assert.ErrorIs(t, err, graphapi.ErrNotFound)
	})
}

func TestContextCommand_AddAndRemove(t *testing.T) {
	ctx := context.Background()
	vault := localVault(t)
	api := vaultAPI(t, vault)

	trip, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTopic, Title: "Trip"})
	require.NoError(t, err)
	tickets, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeResource, Title: "Tickets", Subtype: model.SubtypePDF})
	require.NoError(t, err)

	require.NoError(t, execute(t, vault, "context", id(trip), "--add", id(tickets)))
	members, err := api.ListTargets(ctx, trip.NodeID, model.RelContains)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, tickets.NodeID, members[0].NodeID)

	// adding again is a no-op
	require.NoError(t, execute(t, vault, "context", id(trip), "--add", id(tickets)))

	require.NoError(t, execute(t, vault, "context", id(trip), "--remove", id(tickets)))
	members, err = api.ListTargets(ctx, trip.NodeID, model.RelContains)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestContextCommand_RefusesCycle(t *testing.T) {
	ctx := context.Background()
	vault := localVault(t)
	api := vaultAPI(t, vault)

	outer, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTopic, Title: "Outer"})
	require.NoError(t, err)
	inner, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTopic, Title: "Inner"})
	require.NoError(t, err)
	_, err = api.Link(ctx, outer.NodeID, inner.NodeID, model.RelContains, graphapi.LinkOptions{})
	require.NoError(t, err)

	err = execute(t, vault, "context", id(inner), "--add", id(outer))
	assert.ErrorIs(t, err, graphapi.ErrCycle)
}

func TestDeleteCommand_Confirmation(t *testing.T) {
	ctx := context.Background()
	vault := localVault(t)
	api := vaultAPI(t, vault)

	n, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTopic, Title: "Scratch"})
	require.NoError(t, err)

	err = executeWithInput(t, vault, "n\n", "delete", id(n))
	assert.True(t, errors.Is(err, nodeops.ErrDeleteDeclined), "err = %v", err)
	live, err := api.FetchByFilter(ctx, graphapi.Filter{})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	require.NoError(t, executeWithInput(t, vault, "yes\n", "delete", id(n)))
	live, err = api.FetchByFilter(ctx, graphapi.Filter{})
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestDeleteCommand_SkipConfirm(t *testing.T) {
	ctx := context.Background()
	vault := localVault(t)
	api := vaultAPI(t, vault)

	n, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTask, Title: "Throwaway", Status: model.TaskTodo})
	require.NoError(t, err)

	require.NoError(t, execute(t, vault, "delete", "--yes", id(n)))
	live, err := api.FetchByFilter(ctx, graphapi.Filter{})
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestNodeCommands_Workflow(t *testing.T) {
	ctx := context.Background()
	vault := localVault(t)

	require.NoError(t, execute(t, vault, "create", "task", "Plan the move", "--priority", "high"))
	api := vaultAPI(t, vault)
	tasks, err := api.FetchByFilter(ctx, graphapi.Filter{Type: model.NodeTask})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, model.PriorityHigh, task.Task.Priority)

	require.NoError(t, execute(t, vault, "status", id(task), "done"))
	got, err := api.GetNode(ctx, task.NodeID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskDone, got.Task.Status)
	assert.NotNil(t, got.Task.DoneDate)

	require.NoError(t, execute(t, vault, "pin", id(task)))
	require.NoError(t, execute(t, vault, "review", "approve", id(task)))
	got, err = api.GetNode(ctx, task.NodeID)
	require.NoError(t, err)
	assert.True(t, got.IsPinned)
	assert.Equal(t, model.ReviewReviewed, got.ReviewStatus)

	require.NoError(t, execute(t, vault, "convert", id(task), "topic"))
	got, err = api.GetNode(ctx, task.NodeID)
	require.NoError(t, err)
	assert.Equal(t, model.NodeTopic, got.Type)
	assert.Equal(t, task.UUID, got.UUID)
	assert.Nil(t, got.Task)

	// topics have no status
	err = execute(t, vault, "status", id(task), "todo")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestEdgeCommands_SuggestAndConfirm(t *testing.T) {
	ctx := context.Background()
	vault := localVault(t)
	api := vaultAPI(t, vault)

	a, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTopic, Title: "Birds"})
	require.NoError(t, err)
	b, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeResource, Title: "Field guide", Subtype: model.SubtypeEpub})
	require.NoError(t, err)

	require.NoError(t, execute(t, vault, "link", id(a), id(b), "--suggested", "--confidence", "0.7"))
	edges, err := api.ListEdgesTo(ctx, b.NodeID, model.RelContains)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.False(t, edges[0].IsManual)

	// linking again is reported, not failed
	require.NoError(t, execute(t, vault, "link", id(a), id(b)))

	require.NoError(t, execute(t, vault, "confirm-edge", id(a), id(b)))
	edges, err = api.ListEdgesTo(ctx, b.NodeID, model.RelContains)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.True(t, edges[0].IsManual)

	require.NoError(t, execute(t, vault, "unlink", id(a), id(b)))
	edges, err = api.ListEdgesTo(ctx, b.NodeID, model.RelContains)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestParentsCommand(t *testing.T) {
	ctx := context.Background()
	vault := localVault(t)
	api := vaultAPI(t, vault)

	topic, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTopic, Title: "Gardening"})
	require.NoError(t, err)
	task, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTask, Title: "Order seeds"})
	require.NoError(t, err)
	res, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeResource, Title: "Seed catalogue", Subtype: model.SubtypePDF})
	require.NoError(t, err)
	for _, c := range []model.Node{topic, task} {
		_, err = api.Link(ctx, c.NodeID, res.NodeID, model.RelContains, graphapi.LinkOptions{})
		require.NoError(t, err)
	}

	var runErr error
	out := captureStdout(t, func() { runErr = execute(t, vault, "parents", id(res)) })
	require.NoError(t, runErr)
	assert.Contains(t, out, "Gardening")
	assert.Contains(t, out, "Order seeds")

	out = captureStdout(t, func() { runErr = execute(t, vault, "parents", id(topic)) })
	require.NoError(t, runErr)
	assert.Contains(t, out, "No contains edges point at")

	err = execute(t, vault, "parents", "9999")
	assert.ErrorIs(t, err, graphapi.ErrNotFound)
}

func TestListCommand_DueDates(t *testing.T) {
	ctx := context.Background()
	vault := localVault(t)
	api := vaultAPI(t, vault)

	day, other := "2026-04-01", "2026-04-02"
	soon, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTask, Title: "Call plumber", Priority: model.PriorityHigh, DueDate: &day})
	require.NoError(t, err)
	_, err = api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTask, Title: "Book flights", DueDate: &other})
	require.NoError(t, err)
	_, err = api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTask, Title: "Someday"})
	require.NoError(t, err)

	listed := func(args ...string) []model.NodeRecord {
		t.Helper()
		var runErr error
		out := captureStdout(t, func() { runErr = execute(t, vault, append([]string{"list", "--json"}, args...)...) })
		require.NoError(t, runErr)
		var recs []model.NodeRecord
		require.NoError(t, json.Unmarshal([]byte(out), &recs))
		return recs
	}

	recs := listed("--due", day)
	require.Len(t, recs, 1)
	assert.Equal(t, soon.NodeID, recs[0].NodeID)
	assert.Len(t, listed("--dated"), 2)

	err = execute(t, vault, "list", "--due", "April 1")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAnalyzeCommand_Local(t *testing.T) {
	ctx := context.Background()
	vault := localVault(t)
	api := vaultAPI(t, vault)

	root, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeTopic, Title: "Root"})
	require.NoError(t, err)
	leaf, err := api.CreateNode(ctx, graphapi.NewNode{Type: model.NodeResource, Title: "Leaf", Subtype: model.SubtypeText})
	require.NoError(t, err)
	_, err = api.Link(ctx, root.NodeID, leaf.NodeID, model.RelContains, graphapi.LinkOptions{})
	require.NoError(t, err)

	require.NoError(t, execute(t, vault, "analyze"))
	require.NoError(t, execute(t, vault, "analyze", "--json", "--container", id(root)))
}
