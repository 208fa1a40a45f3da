package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracelock/tracelock/internal/app"
	"github.com/tracelock/tracelock/pkg/types"
)

func newDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Detect drift between two snapshots",
		Long: `Diff runs the drift detector over an ordered pair of snapshots and
prints the classified change events.

Detection is deterministic: the same snapshot pair always yields the
same events with the same ids. Exit codes: 0 = no drift, 1 = drift
detected.`,
		Example: `  # Detect and persist drift between two snapshots
  tracelock diff --from snap-1a2b3c4d --to snap-5e6f7a8b

  # Inspect without persisting
  tracelock diff --from snap-1a2b3c4d --to snap-5e6f7a8b --dry-run`,
		RunE: runDiff,
	}

	cmd.Flags().String("from", "", "baseline snapshot id (required)")
	cmd.Flags().String("to", "", "target snapshot id (required)")
	cmd.Flags().Bool("dry-run", false, "detect without persisting events")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")

	return cmd
}

func runDiff(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	from, to, err := loadPair(ctx, a, mustString(cmd, "from"), mustString(cmd, "to"))
	if err != nil {
		return err
	}

	previous, err := a.Ledger.ListPriorDriftEvents(ctx, from.ID, to.ID)
	if err != nil {
		return err
	}

	events, summary, err := a.Differ.Detect(from, to, previous)
	if err != nil {
		return err
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); !dryRun {
		if err := a.Ledger.SaveDriftEvents(ctx, events); err != nil {
			return err
		}
	}

	out := struct {
		Summary types.DriftSummary `json:"summary"`
		Events  []types.DriftEvent `json:"events"`
	}{Summary: summary, Events: events}

	if err := render(cmd, out, func() { printDriftTable(from.ID, to.ID, events, summary) }); err != nil {
		return err
	}
	if summary.Status == types.DriftDetected {
		return fmt.Errorf("drift detected: %d change(s)", summary.EventCount())
	}
	return nil
}

func loadPair(ctx context.Context, a *app.App, fromID, toID string) (*types.Snapshot, *types.Snapshot, error) {
	from, err := a.Ledger.GetSnapshotByID(ctx, fromID)
	if err != nil {
		return nil, nil, err
	}
	if from == nil {
		return nil, nil, fmt.Errorf("snapshot %s does not exist", fromID)
	}
	to, err := a.Ledger.GetSnapshotByID(ctx, toID)
	if err != nil {
		return nil, nil, err
	}
	if to == nil {
		return nil, nil, fmt.Errorf("snapshot %s does not exist", toID)
	}
	return from, to, nil
}

func printDriftTable(fromID, toID string, events []types.DriftEvent, summary types.DriftSummary) {
	if summary.EventCount() == 0 {
		okColor.Printf("no drift between %s and %s\n", fromID, toID)
		return
	}
	headerColor.Printf("Drift: %s -> %s\n", fromID, toID)
	fmt.Printf("  %d added, %d removed, %d modified\n\n", summary.Added, summary.Removed, summary.Modified)
	for _, e := range events {
		marker := warnColor
		if e.Classification == types.ClassDataVisibility {
			marker = failColor
		}
		marker.Printf("  [%s] ", e.Classification)
		fmt.Printf("%s %s/%s", e.Kind, e.ObjectType, e.ObjectID)
		if e.RepeatCount > 1 {
			fmt.Printf(" (seen %d times)", e.RepeatCount)
		}
		fmt.Println()
	}
}
