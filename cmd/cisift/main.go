package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cisift/cisift/internal/config"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cisift",
	Short: "CI failure deduplication and lifecycle engine",
	Long: `cisift turns CI failure events into tracked failure records.

Each invocation is one short-lived pipeline run: extract metadata from
the failure event, compare against open candidate records, then either
reference the existing record or create a new one. Closed records are
checked for failed fix attempts, and changed failure signatures flag
the prior record as possibly fixed.

Decisions are journaled locally; inspect them with "cisift tail" and
"cisift status".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
