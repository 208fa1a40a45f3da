package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack <bundle-id>",
		Short: "Assemble the external evidence package for a bundle",
		Long: `Pack loads a bundle, runs regeneration verification, and assembles the
package external consumers receive.

Assembly never fails open: when verification does not pass, the package
still ships, watermarked and flagged as requiring acknowledgment, with
the reason stated. Missing-data disclosures are carried verbatim, and
snapshots removed by retention are disclosed as truncation.`,
		Example: `  tracelock pack ev-1a2b3c4d
  tracelock pack ev-1a2b3c4d -o json > package.json`,
		Args: cobra.ExactArgs(1),
		RunE: runPack,
	}
	return cmd
}

func runPack(cmd *cobra.Command, args []string) error {
	a, err := getApp(cmd)
	if err != nil {
		return err
	}

	p, err := a.Assembler.Assemble(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return render(cmd, p, func() {
		headerColor.Printf("Evidence package %s\n", p.PackageID)
		fmt.Printf("  bundle:   %s\n", p.BundleID)
		if p.BundleHash != "" {
			fmt.Printf("  hash:     %s\n", p.BundleHash)
		}
		if p.RequiresAcknowledgment {
			failColor.Printf("  %s\n", p.Watermark)
			fmt.Printf("  reason:   %s\n", p.Reason)
		} else {
			okColor.Println("  verified")
		}
		if len(p.MissingData) > 0 {
			warnColor.Printf("  %d dataset(s) disclosed as degraded\n", len(p.MissingData))
		}
		if p.Truncation != nil {
			warnColor.Printf("  truncated: %d referenced snapshot(s) removed by retention\n", len(p.Truncation.MissingSnapshotIDs))
		}
	})
}
