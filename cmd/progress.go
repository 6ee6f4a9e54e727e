package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"neuralvault/graphcore/internal/progress"
)

var (
	progressURL  string
	progressJSON bool
)

var watchProgressCmd = &cobra.Command{
	Use:   "watch-progress",
	Short: "Follow processing progress pushed by the pipeline",
	Long: `Subscribes to the pipeline's progress channel and prints one line per
accepted update. Reconnects after a drop until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		src := progress.SocketIOSource{
			URL:       cfg.ProgressURL,
			Namespace: cfg.ProgressNamespace,
			Event:     cfg.ProgressEvent,
			Logger:    logger,
		}
		if cmd.Flags().Changed("url") {
			src.URL = progressURL
		}

		rec := progress.NewReconciler(met)
		var outMu sync.Mutex
		enc := json.NewEncoder(os.Stdout)
		rec.OnApply(func(nodeID int64, r progress.Record) {
			outMu.Lock()
			defer outMu.Unlock()
			if progressJSON {
				_ = enc.Encode(struct {
					NodeID int64 `json:"node_id"`
					progress.Record
				}{nodeID, r})
				return
			}
			line := fmt.Sprintf("[progress] node %d %s", nodeID, r.Status)
			if r.Percentage != nil {
				line += fmt.Sprintf(" %.0f%%", *r.Percentage)
			}
			if r.Error != nil {
				line += ": " + *r.Error
			}
			fmt.Println(line)
		})

		sub := progress.NewSubscriber(src, rec, cfg.ReconnectBackoff, logger, met)
		sub.OnState(func(st progress.State) {
			_, err := sub.State()
			if err != nil {
				fmt.Fprintf(os.Stderr, "[progress] %s: %v\n", st, err)
				return
			}
			fmt.Fprintf(os.Stderr, "[progress] %s\n", st)
		})

		fmt.Fprintf(os.Stderr, "[progress] watching %s%s (event %q)\n", src.URL, src.Namespace, src.Event)
		err := sub.Run(cmd.Context())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	watchProgressCmd.Flags().StringVar(&progressURL, "url", "", "Progress server URL (default from config)")
	watchProgressCmd.Flags().BoolVar(&progressJSON, "json", false, "Print updates as JSON lines")
	rootCmd.AddCommand(watchProgressCmd)
}
