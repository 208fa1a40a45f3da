package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracelock/tracelock/pkg/types"
)

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [bundle-id]",
		Short: "Replay stored evidence and verify it regenerates identically",
		Long: `Verify reloads a stored bundle, recomputes its truth metadata through
the ruleset version recorded in the bundle, recomputes its canonical
hash, and compares everything field by field.

Any difference is a hard violation, never a warning. Exit codes:
0 = verified, 1 = violation.`,
		Example: `  # Verify one bundle
  tracelock verify ev-1a2b3c4d

  # Sweep every stored bundle
  tracelock verify --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: runVerify,
	}

	cmd.Flags().Bool("all", false, "verify every stored bundle")

	return cmd
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if all, _ := cmd.Flags().GetBool("all"); all {
		results, err := a.Verifier.VerifyAll(ctx)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if !r.Verified {
				failed++
			}
		}
		if err := render(cmd, results, func() { printVerifyTable(results) }); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d bundle(s) failed verification", failed, len(results))
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("a bundle id is required unless --all is set")
	}

	result, verr := a.Verifier.Verify(ctx, args[0])
	if result == nil {
		return verr
	}
	if err := render(cmd, result, func() { printVerifyTable([]types.RegenerationResult{*result}) }); err != nil {
		return err
	}
	return verr
}

func printVerifyTable(results []types.RegenerationResult) {
	for _, r := range results {
		if r.Verified {
			okColor.Printf("verified  %s\n", r.BundleID)
			continue
		}
		failColor.Printf("violation %s [%s]\n", r.BundleID, r.Violation)
		for _, d := range r.Diffs {
			fmt.Printf("  %s: stored %v, computed %v\n", d.Field, d.Stored, d.Computed)
		}
		if r.StoredHash != r.ComputedHash && r.StoredHash != "" {
			fmt.Printf("  hash: stored %s, computed %s\n", r.StoredHash, r.ComputedHash)
		}
	}
}
