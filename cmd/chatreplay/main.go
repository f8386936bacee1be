// Command chatreplay replays recorded multi-agent event traces through the
// aggregator and inspects persisted conversation history.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chatstream/config"
)

var (
	configPath   string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "chatreplay",
	Short: "Replay and inspect multi-agent chat streams",
	Long: `chatreplay feeds JSONL event traces through the streaming aggregator,
printing the resulting conversation history, and reads conversations back
from a sqlite message store.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "chatstream.yaml", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "text", "Output format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
