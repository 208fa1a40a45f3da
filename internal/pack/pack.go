// Package pack assembles evidence packages for external consumers. An
// assembled package carries the stored bundle, its verification result,
// and the missing-data disclosures exactly as recorded. Assembly never
// fails open: when verification does not pass, the package still ships,
// watermarked and requiring explicit acknowledgment.
package pack

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/internal/store"
	"github.com/tracelock/tracelock/internal/verifier"
	"github.com/tracelock/tracelock/pkg/types"
)

// Watermark is the fixed marker stamped on every package whose
// verification did not pass cleanly.
const Watermark = "UNVERIFIED EVIDENCE - REQUIRES ACKNOWLEDGMENT"

// Truncation records that retention removed part of the history the
// bundle was computed from.
type Truncation struct {
	MissingSnapshotIDs []string `json:"missing_snapshot_ids"`
	Note               string   `json:"note"`
}

// EvidencePack is the externally consumable package for one bundle.
type EvidencePack struct {
	PackageID              string                    `json:"package_id"`
	BundleID               string                    `json:"bundle_id"`
	AssembledAt            time.Time                 `json:"assembled_at"`
	Bundle                 *types.EvidenceBundle     `json:"bundle,omitempty"`
	BundleHash             string                    `json:"bundle_hash,omitempty"`
	Verification           *types.RegenerationResult `json:"verification"`
	MissingData            []types.MissingData       `json:"missing_data,omitempty"`
	Truncation             *Truncation               `json:"truncation,omitempty"`
	RequiresAcknowledgment bool                      `json:"requires_acknowledgment"`
	Watermark              string                    `json:"watermark,omitempty"`
	Reason                 string                    `json:"reason,omitempty"`
}

// Assembler builds evidence packages.
type Assembler struct {
	ledger   *store.Ledger
	verifier *verifier.Verifier
	log      logger.Logger
	now      func() time.Time
	newID    func() string
}

// New creates a package assembler.
func New(ledger *store.Ledger, v *verifier.Verifier, log logger.Logger) *Assembler {
	return &Assembler{
		ledger:   ledger,
		verifier: v,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Assemble builds the package for one bundle. It returns an error only
// when storage itself fails; verification failures come back inside the
// package, watermarked.
func (a *Assembler) Assemble(ctx context.Context, bundleID string) (*EvidencePack, error) {
	p := &EvidencePack{
		PackageID:   "pack-" + a.newID(),
		BundleID:    bundleID,
		AssembledAt: a.now().UTC(),
	}

	stored, err := a.ledger.LoadEvidence(ctx, bundleID)
	if err != nil && ledgererr.CodeOf(err) != ledgererr.CodeSchemaUnsupported {
		return nil, err
	}

	verification, verr := a.verifier.Verify(ctx, bundleID)
	if verification == nil {
		return nil, verr
	}
	p.Verification = verification

	if stored != nil {
		p.Bundle = &stored.Bundle
		p.BundleHash = stored.BundleHash
		p.MissingData = stored.Bundle.MissingData
		trunc, err := a.truncation(ctx, stored)
		if err != nil {
			return nil, err
		}
		p.Truncation = trunc
	}

	if verification.Verified {
		return p, nil
	}

	p.RequiresAcknowledgment = true
	p.Watermark = Watermark
	p.Reason = acknowledgmentReason(verification.Violation)
	a.log.WithFields(map[string]any{
		"package_id": p.PackageID,
		"bundle_id":  bundleID,
		"violation":  verification.Violation,
	}).Warn("assembled package requires acknowledgment")
	return p, nil
}

// truncation checks whether every snapshot the bundle references is
// still present. Retention may legitimately have removed some of them;
// the package discloses that instead of pretending the history is whole.
func (a *Assembler) truncation(ctx context.Context, stored *types.StoredEvidence) (*Truncation, error) {
	var missing []string
	for _, ref := range stored.Bundle.SnapshotRefs {
		snap, err := a.ledger.GetSnapshotByID(ctx, ref.SnapshotID)
		if err != nil {
			if ledgererr.CodeOf(err) == ledgererr.CodeSchemaUnsupported {
				continue
			}
			return nil, fmt.Errorf("resolving snapshot ref %s: %w", ref.SnapshotID, err)
		}
		if snap == nil {
			missing = append(missing, ref.SnapshotID)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	return &Truncation{
		MissingSnapshotIDs: missing,
		Note:               "referenced snapshots were removed by retention; the bundle hash still pins their exact content",
	}, nil
}

func acknowledgmentReason(tag types.ViolationTag) string {
	switch tag {
	case types.ViolationHashMismatch:
		return "stored evidence does not regenerate to its recorded state"
	case types.ViolationMissingEvidence:
		return "no evidence bundle exists under this id"
	case types.ViolationSchemaUnsupported:
		return "evidence was written with a schema version this build cannot read"
	default:
		return "verification did not complete"
	}
}
