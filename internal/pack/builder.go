package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tracelock/tracelock/internal/rules"
	"github.com/tracelock/tracelock/pkg/types"
)

// BuildInput is everything needed to generate one evidence bundle.
type BuildInput struct {
	// BundleID ties the bundle to the published output it explains.
	// Left empty, a deterministic id is derived from the inputs.
	BundleID     string
	TenantID     string
	Snapshots    []*types.Snapshot
	DriftSummary types.DriftSummary
	Inputs       map[string]any
	FeatureFlags []string
	GeneratedAt  time.Time
}

// BuildBundle generates an evidence bundle from captured state. The
// truth metadata is derived through the current ruleset, so the bundle
// is regenerable from its own recorded inputs from the moment it is
// created. Missing-data disclosures are carried over from the
// snapshots verbatim.
func BuildBundle(in BuildInput) (*types.EvidenceBundle, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if len(in.Snapshots) == 0 {
		return nil, fmt.Errorf("at least one snapshot is required")
	}

	refs := make([]types.SnapshotRef, 0, len(in.Snapshots))
	var missing []types.MissingData
	for _, snap := range in.Snapshots {
		if snap.TenantID != in.TenantID {
			return nil, fmt.Errorf("snapshot %s belongs to tenant %q, not %q", snap.ID, snap.TenantID, in.TenantID)
		}
		refs = append(refs, types.SnapshotRef{
			SnapshotID:    snap.ID,
			CanonicalHash: snap.CanonicalHash,
			CapturedAt:    snap.CapturedAt,
		})
		missing = append(missing, snap.MissingData...)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].SnapshotID < refs[j].SnapshotID })
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Dataset != missing[j].Dataset {
			return missing[i].Dataset < missing[j].Dataset
		}
		return missing[i].Reason < missing[j].Reason
	})

	flags := append([]string(nil), in.FeatureFlags...)
	sort.Strings(flags)
	if flags == nil {
		flags = []string{}
	}

	ruleset := rules.Current()
	bundle := &types.EvidenceBundle{
		ID:             in.BundleID,
		TenantID:       in.TenantID,
		GeneratedAt:    in.GeneratedAt.UTC(),
		SchemaVersion:  types.EvidenceSchemaVersion,
		RulesetVersion: ruleset.Version(),
		SnapshotRefs:   refs,
		DriftSummary:   in.DriftSummary,
		Inputs:         in.Inputs,
		Environment: types.Environment{
			SchemaVersions: map[string]int{
				"snapshot": types.SnapshotSchemaVersion,
				"evidence": types.EvidenceSchemaVersion,
				"drift":    types.DriftEventSchemaVersion,
			},
			FeatureFlags: flags,
		},
		MissingData: missing,
	}
	if bundle.ID == "" {
		bundle.ID = bundleID(bundle)
	}
	bundle.Truth = ruleset.Derive(rules.Inputs{
		SnapshotRefs: bundle.SnapshotRefs,
		DriftSummary: bundle.DriftSummary,
		Inputs:       bundle.Inputs,
		MissingData:  bundle.MissingData,
	})

	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("built bundle is invalid: %w", err)
	}
	return bundle, nil
}

// bundleID derives a stable id so regenerating the same bundle from the
// same inputs never creates a second record.
func bundleID(b *types.EvidenceBundle) string {
	parts := []string{b.TenantID, b.GeneratedAt.Format(time.RFC3339)}
	for _, ref := range b.SnapshotRefs {
		parts = append(parts, ref.SnapshotID)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "ev-" + hex.EncodeToString(sum[:8])
}
