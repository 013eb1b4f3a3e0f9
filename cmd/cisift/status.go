package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cisift/cisift/internal/events"
	"github.com/cisift/cisift/internal/journal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the local pipeline journal",
	Long:  `Display event counts and dispatch totals from the local journal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()

		counts, err := j.GetCounts(ctx)
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== cisift journal ==="))
		fmt.Printf("%s %s\n\n", yellow("Journal:"), cfg.JournalPath)

		if counts.TotalEvents == 0 {
			fmt.Printf("  %s\n\n", gray("No events recorded"))
			return nil
		}

		types := make([]string, 0, len(counts.ByType))
		for t := range counts.ByType {
			types = append(types, string(t))
		}
		sort.Strings(types)

		fmt.Printf("%s\n", yellow("Events:"))
		for _, t := range types {
			fmt.Printf("  %-22s %d\n", t, counts.ByType[events.EventType(t)])
		}
		fmt.Printf("  %-22s %d\n\n", "total", counts.TotalEvents)

		fmt.Printf("%s %d record(s) dispatched for fixes\n\n", yellow("Dispatches:"), counts.DispatchCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
