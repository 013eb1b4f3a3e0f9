package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cisift/cisift/internal/dispatch"
	"github.com/cisift/cisift/internal/journal"
	"github.com/cisift/cisift/internal/lifecycle"
	"github.com/cisift/cisift/internal/metadata"
	"github.com/cisift/cisift/internal/normalize"
	"github.com/cisift/cisift/internal/tracker"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Validate a failure and emit a fix trigger",
	Long: `Validate a tracked failure's metadata, mark it fix-queued, and emit
one fix-trigger event as JSON on stdout for downstream tooling to pick
up.

The record is seeded into the in-memory backend from the failure event,
the same dry-run backend "process" uses. The local journal carries the
idempotency marker, so dispatching the same record id twice emits
nothing the second time.

Examples:
  cisift dispatch --event failure.json
  cisift dispatch --event failure.json --record PROJ-812 | enqueue-fix`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eventPath, _ := cmd.Flags().GetString("event")
		recordID, _ := cmd.Flags().GetString("record")

		evs, err := readEvents(eventPath)
		if err != nil {
			return err
		}
		if len(evs) != 1 {
			return fmt.Errorf("dispatch takes exactly one event (got %d)", len(evs))
		}
		ev := evs[0]
		applyBranchPattern(&ev)

		ctx := context.Background()

		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()

		// A stable default id makes the journal's idempotency marker
		// meaningful across invocations for the same failure.
		digest := normalize.Digest(normalize.Normalize(ev.RawLogExcerpt))
		if recordID == "" {
			recordID = "local-" + digest[:12]
		}

		mem := tracker.NewMemory()
		if err := mem.Seed(recordID,
			fmt.Sprintf("CI failure: %s / %s (feature %s)", ev.JobName, ev.StepName, ev.FeatureID),
			metadata.RenderBody(ev, digest, "", 1)); err != nil {
			return err
		}

		manager := lifecycle.NewManager(mem, j)
		d := dispatch.New(manager, &stdoutSink{}, j)

		payload := dispatch.FixPayload{
			FeatureID:  ev.FeatureID,
			BranchName: ev.BranchName,
			JobName:    ev.JobName,
			StepName:   ev.StepName,
		}

		// The idempotency marker is per record id; the seeded memory id
		// only stands in when no real one was given.
		result, err := d.Dispatch(ctx, recordID, payload)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		if result.AlreadyQueued {
			fmt.Fprintf(os.Stderr, "%s %s already queued, nothing emitted\n", yellow("="), recordID)
		} else {
			fmt.Fprintf(os.Stderr, "%s fix trigger emitted for %s\n", green("✓"), recordID)
		}
		return nil
	},
}

func init() {
	dispatchCmd.Flags().StringP("event", "e", "-", "Failure event JSON file (\"-\" for stdin)")
	dispatchCmd.Flags().StringP("record", "r", "", "Tracked record id (defaults to the seeded record)")
	rootCmd.AddCommand(dispatchCmd)
}

// stdoutSink writes emitted triggers as JSON lines on stdout, keeping
// status output on stderr so the trigger stream stays pipeable.
type stdoutSink struct{}

func (s *stdoutSink) Emit(eventType string, payload dispatch.FixPayload) error {
	wire := struct {
		Type    string              `json:"type"`
		Payload dispatch.FixPayload `json:"payload"`
	}{Type: eventType, Payload: payload}

	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(wire)
}
