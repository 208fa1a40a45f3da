// Package verifier replays stored evidence bundles. Verification loads
// a bundle, recomputes its truth metadata through the ruleset version
// recorded in the bundle, recomputes its canonical hash, and compares
// everything against what was stored. A clean match proves the bundle
// still explains its published output; any difference is tampering or a
// broken determinism guarantee, and is never downgraded to a warning.
package verifier

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tracelock/tracelock/internal/canonical"
	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/internal/rules"
	"github.com/tracelock/tracelock/internal/store"
	"github.com/tracelock/tracelock/pkg/types"
)

// Verifier regenerates and checks stored evidence bundles.
type Verifier struct {
	ledger *store.Ledger
	log    logger.Logger
	now    func() time.Time
}

// New creates a regeneration verifier over the given ledger.
func New(ledger *store.Ledger, log logger.Logger) *Verifier {
	return &Verifier{
		ledger: ledger,
		log:    log,
		now:    time.Now,
	}
}

// Verify replays one bundle. The result is always populated when the
// bundle could be loaded; a non-nil error accompanies any violation so
// callers cannot mistake a failed verification for a clean one.
func (v *Verifier) Verify(ctx context.Context, bundleID string) (*types.RegenerationResult, error) {
	result := &types.RegenerationResult{
		BundleID:   bundleID,
		Violation:  types.ViolationNone,
		VerifiedAt: v.now().UTC(),
	}

	stored, err := v.ledger.LoadEvidence(ctx, bundleID)
	if err != nil {
		if ledgererr.CodeOf(err) == ledgererr.CodeSchemaUnsupported {
			result.Violation = types.ViolationSchemaUnsupported
			return result, err
		}
		return nil, err
	}
	if stored == nil {
		result.Violation = types.ViolationMissingEvidence
		return result, ledgererr.NotFound(ledgererr.CodeMissingEvidence,
			"no evidence bundle exists under id %s", bundleID)
	}

	result.StoredHash = stored.BundleHash

	computedHash, err := canonical.Hash(&stored.Bundle)
	if err != nil {
		return nil, fmt.Errorf("rehashing bundle %s: %w", bundleID, err)
	}
	result.ComputedHash = computedHash

	ruleset, err := rules.For(stored.Bundle.RulesetVersion)
	if err != nil {
		result.Violation = types.ViolationSchemaUnsupported
		return result, err
	}
	computed := ruleset.Derive(rules.Inputs{
		SnapshotRefs: stored.Bundle.SnapshotRefs,
		DriftSummary: stored.Bundle.DriftSummary,
		Inputs:       stored.Bundle.Inputs,
		MissingData:  stored.Bundle.MissingData,
	})

	result.Diffs = compareTruth(stored.Bundle.Truth, computed)
	if computedHash != stored.BundleHash || len(result.Diffs) > 0 {
		result.Violation = types.ViolationHashMismatch
		verr := ledgererr.Invariant(ledgererr.CodeHashMismatch,
			"bundle %s does not regenerate to its stored state", bundleID)
		v.log.WithFields(map[string]any{
			"bundle_id":     bundleID,
			"stored_hash":   stored.BundleHash,
			"computed_hash": computedHash,
			"field_diffs":   len(result.Diffs),
			"code":          ledgererr.CodeOf(verr),
		}).Error("invariant violation", verr)
		return result, verr
	}

	result.Verified = true
	return result, nil
}

// VerifyAll replays every stored bundle. One bundle's violation never
// stops the sweep; each failure is isolated into its result. The error
// return is reserved for storage failures.
func (v *Verifier) VerifyAll(ctx context.Context) ([]types.RegenerationResult, error) {
	ids, err := v.ledger.ListEvidenceIDs(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]types.RegenerationResult, 0, len(ids))
	for _, id := range ids {
		result, err := v.Verify(ctx, id)
		if result == nil {
			return nil, fmt.Errorf("verifying bundle %s: %w", id, err)
		}
		if err != nil && result.Violation == types.ViolationNone {
			return nil, fmt.Errorf("verifying bundle %s: %w", id, err)
		}
		results = append(results, *result)
	}
	return results, nil
}

// compareTruth diffs stored against recomputed truth metadata field by
// field. List fields compare as sets: ordering differences inside
// warnings or reasons are not semantic.
func compareTruth(stored, computed types.TruthMetadata) []types.FieldDiff {
	var diffs []types.FieldDiff
	if stored.ValidityStatus != computed.ValidityStatus {
		diffs = append(diffs, types.FieldDiff{Field: "validity_status", Stored: stored.ValidityStatus, Computed: computed.ValidityStatus})
	}
	if stored.Confidence != computed.Confidence {
		diffs = append(diffs, types.FieldDiff{Field: "confidence", Stored: stored.Confidence, Computed: computed.Confidence})
	}
	if stored.CompletenessPct != computed.CompletenessPct {
		diffs = append(diffs, types.FieldDiff{Field: "completeness_pct", Stored: stored.CompletenessPct, Computed: computed.CompletenessPct})
	}
	if !sameSet(stored.Warnings, computed.Warnings) {
		diffs = append(diffs, types.FieldDiff{Field: "warnings", Stored: stored.Warnings, Computed: computed.Warnings})
	}
	if !sameSet(stored.Reasons, computed.Reasons) {
		diffs = append(diffs, types.FieldDiff{Field: "reasons", Stored: stored.Reasons, Computed: computed.Reasons})
	}
	if stored.DriftStatus != computed.DriftStatus {
		diffs = append(diffs, types.FieldDiff{Field: "drift_status", Stored: stored.DriftStatus, Computed: computed.DriftStatus})
	}
	return diffs
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
