package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tracelock/tracelock/internal/store"
	"github.com/tracelock/tracelock/pkg/types"
)

func newSnapshotsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List and inspect stored snapshots",
		RunE:  runSnapshotsList,
	}

	cmd.Flags().String("kind", "", "filter by snapshot kind")
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("page-size", 50, "page size")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "Show one snapshot in full",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotsShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "integrity <snapshot-id>",
		Short: "Recompute a stored snapshot's hash and compare",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotsIntegrity,
	})

	return cmd
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}

	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")
	filter := store.SnapshotFilter{Kind: types.SnapshotKind(mustString(cmd, "kind"))}

	infos, total, err := a.Ledger.ListSnapshots(cmd.Context(), filter, page, pageSize)
	if err != nil {
		return err
	}

	out := struct {
		Snapshots []store.SnapshotInfo `json:"snapshots"`
		Total     int                  `json:"total"`
	}{Snapshots: infos, Total: total}

	return render(cmd, out, func() {
		if total == 0 {
			fmt.Println("no snapshots stored")
			return
		}
		headerColor.Printf("%-22s %-14s %-21s %s\n", "ID", "KIND", "CAPTURED", "COVERAGE")
		for _, info := range infos {
			coverage := "full"
			if !info.Complete {
				coverage = "degraded"
			}
			fmt.Printf("%-22s %-14s %-21s %s\n",
				info.ID, info.Kind, info.CapturedAt.Format(time.RFC3339), coverage)
		}
		fmt.Printf("\n%d total\n", total)
	})
}

func runSnapshotsShow(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}

	snap, err := a.Ledger.GetSnapshotByID(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("snapshot %s does not exist", args[0])
	}

	return render(cmd, snap, func() {
		headerColor.Printf("Snapshot %s\n", snap.ID)
		fmt.Printf("  tenant:   %s\n", snap.TenantID)
		fmt.Printf("  kind:     %s\n", snap.Kind)
		fmt.Printf("  captured: %s\n", snap.CapturedAt.Format(time.RFC3339))
		fmt.Printf("  hash:     %s (%s)\n", snap.CanonicalHash, snap.HashAlgorithm)
		fmt.Printf("  datasets: %d\n", len(snap.Payload))
		for _, m := range snap.MissingData {
			warnColor.Printf("  %s: %s (%s)\n", m.Dataset, m.Coverage, m.Reason)
		}
	})
}

func runSnapshotsIntegrity(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}

	result, err := a.Ledger.VerifySnapshotIntegrity(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("snapshot %s does not exist", args[0])
	}

	if err := render(cmd, result, func() {
		if result.Intact {
			okColor.Printf("intact %s\n", result.RecordID)
			return
		}
		failColor.Printf("corrupt %s\n", result.RecordID)
		fmt.Printf("  stored:   %s\n", result.StoredHash)
		fmt.Printf("  computed: %s\n", result.ComputedHash)
	}); err != nil {
		return err
	}
	if !result.Intact {
		return fmt.Errorf("snapshot %s failed its integrity check", args[0])
	}
	return nil
}
