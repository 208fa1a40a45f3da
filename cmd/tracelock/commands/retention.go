package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracelock/tracelock/pkg/types"
)

func newRetentionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Inspect and enforce the tenant's retention policy",
	}

	enforce := &cobra.Command{
		Use:   "enforce",
		Short: "Apply age and count ceilings, oldest first",
		Long: `Enforce deletes snapshots past the configured age ceiling, then trims
strict FIFO by capture time until the per-kind count fits. This is the
ledger's only deletion path.`,
		RunE: runRetentionEnforce,
	}
	enforce.Flags().String("kind", "", "enforce one kind only (lightweight, comprehensive)")

	policy := &cobra.Command{
		Use:   "policy",
		Short: "Show the effective retention policy",
		RunE:  runRetentionPolicy,
	}

	apply := &cobra.Command{
		Use:   "apply-config",
		Short: "Store the configured retention defaults as the tenant policy",
		RunE:  runRetentionApply,
	}

	cmd.AddCommand(enforce, policy, apply)
	return cmd
}

func runRetentionEnforce(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	kinds := []types.SnapshotKind{types.KindLightweight, types.KindComprehensive}
	if raw := mustString(cmd, "kind"); raw != "" {
		kind := types.SnapshotKind(raw)
		if !kind.Valid() {
			return fmt.Errorf("unknown snapshot kind %q", raw)
		}
		kinds = []types.SnapshotKind{kind}
	}

	var reports []any
	total := 0
	for _, kind := range kinds {
		report, err := a.Enforcer.Enforce(ctx, kind)
		if err != nil {
			return err
		}
		reports = append(reports, report)
		total += report.Deleted
	}

	return render(cmd, reports, func() {
		if total == 0 {
			okColor.Println("retention: nothing to delete")
			return
		}
		warnColor.Printf("retention: deleted %d snapshot(s)\n", total)
	})
}

func runRetentionPolicy(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}

	policy, err := a.Ledger.GetRetentionPolicy(cmd.Context())
	if err != nil {
		return err
	}

	return render(cmd, policy, func() {
		headerColor.Printf("Retention policy for %s (%s)\n", policy.TenantID, policy.Strategy)
		for _, kind := range []types.SnapshotKind{types.KindLightweight, types.KindComprehensive} {
			fmt.Printf("  %-14s max age %d day(s), max count %d\n",
				kind, policy.AgeCeiling(kind), policy.CountCeiling(kind))
		}
	})
}

func runRetentionApply(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}

	policy := cfg.RetentionPolicy()
	if err := a.Ledger.SetRetentionPolicy(cmd.Context(), policy); err != nil {
		return err
	}
	okColor.Printf("stored retention policy for %s\n", policy.TenantID)
	return nil
}
