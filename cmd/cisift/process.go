package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cisift/cisift/internal/dedup"
	"github.com/cisift/cisift/internal/engine"
	"github.com/cisift/cisift/internal/journal"
	"github.com/cisift/cisift/internal/lifecycle"
	"github.com/cisift/cisift/internal/metadata"
	"github.com/cisift/cisift/internal/tracker"
	"github.com/cisift/cisift/internal/types"
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the failure pipeline on CI failure events",
	Long: `Read one failure event (or an array of them) as JSON and run the
deduplication pipeline against the in-memory tracker backend.

The in-memory backend exists for dry runs and for batch-processing a
set of related CI completion events in one invocation; production
deployments embed the engine packages against a real tracker client.

Examples:
  # Single event from a file
  cisift process --event failure.json

  # Batch of events from stdin
  ci-export-failures | cisift process --event -

  # Show the resulting tracker records
  cisift process --event failure.json --show-records`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eventPath, _ := cmd.Flags().GetString("event")
		showRecords, _ := cmd.Flags().GetBool("show-records")
		noJournal, _ := cmd.Flags().GetBool("no-journal")

		evs, err := readEvents(eventPath)
		if err != nil {
			return err
		}

		ctx := context.Background()

		var j *journal.SQLite
		if !noJournal {
			j, err = journal.Open(cfg.JournalPath)
			if err != nil {
				return err
			}
			defer j.Close()
		}

		mem := tracker.NewMemory()
		eng, err := buildEngine(mem, j)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		failed := 0
		for _, ev := range evs {
			applyBranchPattern(&ev)
			fmt.Printf("%s %s (%s)\n", cyan("▶"), ev.Key(), ev.RunURL)

			out, err := eng.Process(ctx, ev)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  %s %v\n", red("✗"), err)
				failed++
				continue
			}

			switch out.Action {
			case engine.ActionCreated:
				fmt.Printf("  %s created %s (%s, attempt %d)\n",
					green("✓"), out.RecordID, out.Dedup.Reason, out.Retry.AttemptCount)
				if out.Retry.IsRetry {
					fmt.Printf("  %s fix for %s did not hold\n", yellow("↻"), out.Retry.RetryOfID)
				}
				for _, id := range out.FixPendingFlagged {
					fmt.Printf("  %s flagged %s as possibly fixed\n", yellow("⚑"), id)
				}
			case engine.ActionReferenced:
				fmt.Printf("  %s duplicate of %s (%s", yellow("="), out.RecordID, out.Dedup.Reason)
				if out.Dedup.Reason == dedup.ReasonSimilarityMatch {
					fmt.Printf(", %d%%", out.Dedup.SimilarityPercent)
				}
				fmt.Printf(")\n")
			}
		}

		if showRecords {
			fmt.Printf("\n%s\n%s", cyan("Tracker records:"), mem.Dump())
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d events failed", failed, len(evs))
		}
		return nil
	},
}

func init() {
	processCmd.Flags().StringP("event", "e", "-", "Failure event JSON file (\"-\" for stdin)")
	processCmd.Flags().Bool("show-records", false, "Print the tracker records after processing")
	processCmd.Flags().Bool("no-journal", false, "Skip writing the local pipeline journal")
	rootCmd.AddCommand(processCmd)
}

// buildEngine wires the pipeline against the given backend.
func buildEngine(backend tracker.Tracker, j *journal.SQLite) (*engine.Engine, error) {
	retrying, err := tracker.NewRetrying(backend, cfg.RetryConfig())
	if err != nil {
		return nil, err
	}
	detector, err := dedup.New(cfg.DedupConfig())
	if err != nil {
		return nil, err
	}

	var lj lifecycle.Journal
	if j != nil {
		lj = j
	}
	manager := lifecycle.NewManager(retrying, lj)
	return engine.New(retrying, detector, manager, lj, cfg.JobResolver()), nil
}

// applyBranchPattern derives the feature id with the configured pattern
// when the event does not carry one.
func applyBranchPattern(ev *types.FailureEvent) {
	if ev.FeatureID != "" || cfg.BranchPattern == "" {
		return
	}
	if id, ok, err := metadata.FeatureIDFromBranchPattern(cfg.BranchPattern, ev.BranchName); err == nil && ok {
		ev.FeatureID = id
	}
}

// readEvents parses a single event object or an array of them.
func readEvents(path string) ([]types.FailureEvent, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}

	var many []types.FailureEvent
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}

	var one types.FailureEvent
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("parse events: %w", err)
	}
	return []types.FailureEvent{one}, nil
}
