package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cisift/cisift/internal/events"
	"github.com/cisift/cisift/internal/journal"
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent pipeline decisions from the local journal",
	Long: `Display recent events from the local pipeline journal.

Shows what each pipeline run decided and why: duplicate decisions,
record creations, retry detections, lifecycle transitions, dispatches,
and degraded side effects.

Examples:
  # Last 20 events
  cisift tail

  # Last 50 events
  cisift tail -n 50

  # Every event concerning one record
  cisift tail --record PROJ-812`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		recordID, _ := cmd.Flags().GetString("record")

		ctx := context.Background()

		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()

		var evs []*events.PipelineEvent
		if recordID != "" {
			evs, err = j.EventsByRecord(ctx, recordID)
		} else {
			evs, err = j.RecentEvents(ctx, limit)
		}
		if err != nil {
			return err
		}

		if len(evs) == 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			if recordID != "" {
				fmt.Printf("%s no events for record %s\n", yellow("∅"), recordID)
			} else {
				fmt.Printf("%s no events in journal\n", yellow("∅"))
			}
			return nil
		}

		// RecentEvents comes back newest first; print oldest first so
		// the terminal reads chronologically.
		if recordID == "" {
			for i := len(evs) - 1; i >= 0; i-- {
				displayEvent(evs[i])
			}
		} else {
			for _, ev := range evs {
				displayEvent(ev)
			}
		}
		return nil
	},
}

func init() {
	tailCmd.Flags().IntP("limit", "n", 20, "Number of recent events to show")
	tailCmd.Flags().StringP("record", "r", "", "Show every event for one record id")
	rootCmd.AddCommand(tailCmd)
}

func displayEvent(ev *events.PipelineEvent) {
	gray := color.New(color.FgHiBlack).SprintFunc()

	icon, paint := severityStyle(ev.Severity)
	ts := ev.Timestamp.Local().Format("15:04:05")

	ref := ""
	if ev.RecordID != "" {
		ref = fmt.Sprintf(" [%s]", ev.RecordID)
	}

	fmt.Printf("%s %s %s%s %s\n", gray(ts), paint(icon), paint(string(ev.Type)), gray(ref), ev.Message)
}

func severityStyle(severity events.EventSeverity) (string, func(a ...interface{}) string) {
	switch severity {
	case events.SeverityError:
		return "✗", color.New(color.FgRed).SprintFunc()
	case events.SeverityWarning:
		return "⚠", color.New(color.FgYellow).SprintFunc()
	default:
		return "●", color.New(color.FgCyan).SprintFunc()
	}
}
