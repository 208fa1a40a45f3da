// Package retention enforces per-tenant age and count ceilings on
// stored snapshots. It is the only legitimate mutation path against the
// otherwise append-only ledger and is deliberately unreachable from the
// capture, drift, and verification code paths.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/internal/store"
	"github.com/tracelock/tracelock/pkg/types"
)

// Report describes one enforcement invocation.
type Report struct {
	TenantID   string             `json:"tenant_id"`
	Kind       types.SnapshotKind `json:"kind"`
	Deleted    int                `json:"deleted"`
	Reasons    []string           `json:"reasons"`
	EnforcedAt time.Time          `json:"enforced_at"`
}

// Enforcer applies a tenant's retention policy.
type Enforcer struct {
	ledger *store.Ledger
	log    logger.Logger
	now    func() time.Time
}

// New creates an Enforcer over the tenant's ledger.
func New(ledger *store.Ledger, log logger.Logger) *Enforcer {
	return &Enforcer{ledger: ledger, log: log, now: time.Now}
}

// Enforce applies the policy to one snapshot kind: first the age sweep,
// then, if the remaining count still exceeds the cap, strict FIFO
// deletion by capture timestamp until the count fits. "Oldest" is always
// decided by capture time, never by hash or storage order.
func (e *Enforcer) Enforce(ctx context.Context, kind types.SnapshotKind) (*Report, error) {
	policy, err := e.ledger.GetRetentionPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading retention policy: %w", err)
	}

	snaps, err := e.ledger.ListSnapshotsByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("listing %s snapshots: %w", kind, err)
	}

	report := &Report{
		TenantID:   e.ledger.TenantID(),
		Kind:       kind,
		EnforcedAt: e.now().UTC(),
	}

	remaining := snaps
	if maxAge := policy.AgeCeiling(kind); maxAge > 0 {
		cutoff := e.now().UTC().AddDate(0, 0, -maxAge)
		kept := remaining[:0]
		for _, snap := range remaining {
			if snap.CapturedAt.Before(cutoff) {
				if err := e.ledger.SweepSnapshot(ctx, snap.ID); err != nil {
					return report, fmt.Errorf("deleting over-age snapshot %s: %w", snap.ID, err)
				}
				report.Deleted++
				report.Reasons = append(report.Reasons, fmt.Sprintf(
					"snapshot %s captured %s exceeded the %d-day ceiling",
					snap.ID, snap.CapturedAt.Format(time.RFC3339), maxAge))
				continue
			}
			kept = append(kept, snap)
		}
		remaining = kept
	}

	if maxCount := policy.CountCeiling(kind); maxCount > 0 {
		// remaining is ordered oldest first, so trimming from the front
		// is FIFO.
		for len(remaining) > maxCount {
			oldest := remaining[0]
			if err := e.ledger.SweepSnapshot(ctx, oldest.ID); err != nil {
				return report, fmt.Errorf("deleting over-count snapshot %s: %w", oldest.ID, err)
			}
			report.Deleted++
			report.Reasons = append(report.Reasons, fmt.Sprintf(
				"snapshot %s deleted oldest-first to meet the %d-record cap",
				oldest.ID, maxCount))
			remaining = remaining[1:]
		}
	}

	e.log.WithFields(map[string]any{
		"tenant":  report.TenantID,
		"kind":    kind,
		"deleted": report.Deleted,
	}).Info("retention enforced")
	return report, nil
}

// EnforceAll runs enforcement for every snapshot kind.
func (e *Enforcer) EnforceAll(ctx context.Context) ([]*Report, error) {
	var reports []*Report
	for _, kind := range []types.SnapshotKind{types.KindLightweight, types.KindComprehensive} {
		report, err := e.Enforce(ctx, kind)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
