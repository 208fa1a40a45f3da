package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracelock/tracelock/internal/collectors"
	"github.com/tracelock/tracelock/internal/lock"
	"github.com/tracelock/tracelock/pkg/types"
)

func newCaptureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a point-in-time snapshot of the configuration inventory",
		Long: `Capture reads the upstream inventory, canonicalizes and hashes it, and
writes an immutable snapshot for the current capture window.

Capture is idempotent per window: running it twice in the same window
produces exactly one snapshot, even across concurrent invocations. Every
attempt writes a run record, including skipped ones.`,
		Example: `  # Capture the current window from an exported inventory
  tracelock capture --inventory inventory.json

  # Comprehensive capture for an explicit window start
  tracelock capture --inventory inventory.json --kind comprehensive \
    --window 2026-03-01T00:00:00Z`,
		RunE: runCapture,
	}

	cmd.Flags().String("inventory", "", "path to the exported inventory document (required)")
	cmd.Flags().String("kind", string(types.KindLightweight), "snapshot kind (lightweight, comprehensive)")
	cmd.Flags().String("window", "", "capture window start, RFC 3339 (default: current window by cadence)")
	cmd.MarkFlagRequired("inventory")

	return cmd
}

func runCapture(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}

	kind := types.SnapshotKind(mustString(cmd, "kind"))
	if !kind.Valid() {
		return fmt.Errorf("unknown snapshot kind %q", kind)
	}

	window := lock.WindowStart(time.Now(), cfg.Capture.Cadence)
	if raw := mustString(cmd, "window"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid --window value: %w", err)
		}
		window = lock.WindowStart(t, cfg.Capture.Cadence)
	}

	collector := collectors.NewFile(mustString(cmd, "inventory"))
	result, err := a.Capturer(collector).CaptureWindow(cmd.Context(), kind, window)
	if err != nil {
		return err
	}

	return render(cmd, result, func() {
		if !result.Ran {
			warnColor.Println("capture skipped: another invocation holds this window")
			return
		}
		snap := result.Snapshot
		headerColor.Println("Snapshot captured")
		fmt.Printf("  id:       %s\n", snap.ID)
		fmt.Printf("  kind:     %s\n", snap.Kind)
		fmt.Printf("  window:   %s\n", window.Format(time.RFC3339))
		fmt.Printf("  hash:     %s\n", snap.CanonicalHash)
		if snap.IsComplete() {
			okColor.Println("  coverage: full")
		} else {
			warnColor.Printf("  coverage: %d dataset(s) degraded\n", len(snap.MissingData))
		}
	})
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
