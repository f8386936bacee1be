package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chatstream"
	"github.com/hupe1980/chatstream/metrics"
	"github.com/hupe1980/chatstream/source/jsonl"
)

var (
	replayPace          time.Duration
	replaySkipMalformed bool
	replayMetricsAddr   string
)

var replayCmd = &cobra.Command{
	Use:   "replay <trace.jsonl>",
	Short: "Replay a JSONL event trace and print the resulting history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if replayMetricsAddr != "" {
			cfg.Metrics.Enabled = true
		}

		cs, err := chatstream.NewFromConfig(ctx, cfg)
		if err != nil {
			return err
		}
		defer cs.Close()

		if replayMetricsAddr != "" {
			srv := &http.Server{
				Addr:              replayMetricsAddr,
				Handler:           metrics.Handler(cs.Gatherer()),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		src := jsonl.NewFileSource(args[0], func(o *jsonl.Options) {
			o.Pace = replayPace
			o.SkipMalformed = replaySkipMalformed
		})
		if err := cs.Stream(ctx, src); err != nil {
			return fmt.Errorf("replay %s: %w", args[0], err)
		}

		if err := printConversations(cmd.OutOrStdout(), outputFormat, cs.Conversations()); err != nil {
			return err
		}

		if replayMetricsAddr != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "serving metrics on %s, press Ctrl+C to exit\n", replayMetricsAddr)
			<-ctx.Done()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().DurationVar(&replayPace, "pace", 0, "Delay between events, e.g. 20ms (0 replays at full speed)")
	replayCmd.Flags().BoolVar(&replaySkipMalformed, "skip-malformed", false, "Skip undecodable lines instead of failing")
	replayCmd.Flags().StringVar(&replayMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
}
