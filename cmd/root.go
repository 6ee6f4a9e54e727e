package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"neuralvault/graphcore/internal/config"
	"neuralvault/graphcore/internal/db"
	"neuralvault/graphcore/internal/graphapi"
	"neuralvault/graphcore/internal/logging"
	"neuralvault/graphcore/internal/metrics"
	"neuralvault/graphcore/internal/model"
	"neuralvault/graphcore/internal/store"
	"neuralvault/graphcore/internal/wire"
)

var (
	cfgPath     string
	dbPath      string
	socketAddr  string
	logLevel    string
	metricsAddr string
	localMode   bool

	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	met      *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:           "graphcore",
	Short:         "Client-side graph state for a personal knowledge vault",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}
		applyFlags(cmd)

		logger = logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		slog.SetDefault(logger)

		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		met = metrics.New(registry)
		if cfg.MetricsAddr != "" {
			go serveMetrics(cmd.Context(), cfg.MetricsAddr, registry)
		}

		cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
		return nil
	},
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "Path to "+config.FileName+" (default: discovered from the working directory)")
	pf.StringVar(&dbPath, "db", "", "Path to the vault database")
	pf.StringVar(&socketAddr, "socket", "", "Authority socket address")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	pf.BoolVar(&localMode, "local", false, "Open the database in process instead of connecting to graphcore serve")
}

// applyFlags lets explicitly set flags override the loaded configuration.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DBPath = dbPath
	}
	if flags.Changed("socket") {
		cfg.SocketAddress = socketAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
}

// OpenDatabase opens the configured database, creating its directory.
func OpenDatabase() (*db.DB, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	return db.OpenDB(cfg.DBPath)
}

// session bundles the graph API and the shared store one command works on.
type session struct {
	api   *graphapi.Client
	store *store.Store
	close func() error
}

func (s *session) Close() error { return s.close() }

// openSession connects to the authority daemon, or with --local serves
// the database in process.
func openSession(ctx context.Context) (*session, error) {
	var (
		transport graphapi.Transport
		closeFn   func() error
	)
	if localMode {
		d, err := OpenDatabase()
		if err != nil {
			return nil, err
		}
		transport = wire.Loopback{Handler: db.NewHandler(d, logger)}
		closeFn = d.Close
	} else {
		c, err := wire.Dial(ctx, cfg.SocketNetwork, cfg.SocketAddress)
		if err != nil {
			return nil, fmt.Errorf("%w (is graphcore serve running? use --local to open the database directly)", err)
		}
		transport = c
		closeFn = c.Close
	}
	api := graphapi.NewClient(transport, logger, met)
	return &session{api: api, store: store.New(api, logger, met), close: closeFn}, nil
}

// ResolveNode finds a node by numeric id, uuid prefix, or title search.
func ResolveNode(ctx context.Context, api *graphapi.Client, reference string) (model.Node, error) {
	// 1. Numeric id
	if id, err := strconv.ParseInt(reference, 10, 64); err == nil {
		return api.GetNode(ctx, id)
	}

	// 2. UUID prefix (≥6 hex/dash chars)
	if len(reference) >= 6 && isHexDash(reference) {
		all, err := api.FetchByFilter(ctx, graphapi.Filter{})
		if err != nil {
			return model.Node{}, err
		}
		var matches []model.Node
		for _, n := range all {
			if strings.HasPrefix(n.UUID, strings.ToLower(reference)) {
				matches = append(matches, n)
			}
		}
		switch len(matches) {
		case 1:
			return matches[0], nil
		case 0:
			// fall through to title search
		default:
			return model.Node{}, ambiguous(reference, matches)
		}
	}

	// 3. Title search
	found, err := api.FetchByFilter(ctx, graphapi.Filter{Query: reference, Limit: 10})
	if err != nil {
		return model.Node{}, err
	}
	for _, n := range found {
		if strings.EqualFold(n.Title, reference) {
			return n, nil
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return model.Node{}, fmt.Errorf("node not found: %s: %w", reference, graphapi.ErrNotFound)
	default:
		return model.Node{}, ambiguous(reference, found)
	}
}

func ambiguous(reference string, matches []model.Node) error {
	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = fmt.Sprintf("  %d %s %s", m.NodeID, m.Type, m.Title)
	}
	return fmt.Errorf("ambiguous reference '%s'. %d matches:\n%s\nUse a node ID instead.",
		reference, len(matches), strings.Join(lines, "\n"))
}

func isHexDash(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') || c == '-') {
			return false
		}
	}
	return true
}
