// Package capture produces point-in-time snapshots of a tenant's
// external configuration inventory. Capture runs under the storage lock
// so at most one snapshot is produced per (tenant, kind, window) even
// when the host scheduler re-invokes the job more often than the
// capture cadence.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/internal/lock"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/internal/store"
	"github.com/tracelock/tracelock/pkg/types"

	"github.com/tracelock/tracelock/internal/canonical"
)

// CollectionResult is what the upstream inventory client returns:
// structured data per dataset plus explicit disclosures for everything
// it could not deliver. Upstream sources never return silent empty
// results; a dataset that failed must appear in Missing with a
// machine-readable reason code.
type CollectionResult struct {
	Datasets      map[string]any
	Missing       []types.MissingData
	Provenance    types.Provenance
	UpstreamCalls int
	RateLimitHits int
}

// Collector is the upstream data-collection client, an external
// collaborator behind this seam. Implementations return an error only
// for total failure; partial failure is expressed through
// CollectionResult.Missing.
type Collector interface {
	Name() string
	Collect(ctx context.Context, kind types.SnapshotKind, scope types.Scope) (*CollectionResult, error)
}

// Result reports one capture attempt.
type Result struct {
	// Ran is false when another invocation held the window's lock; no
	// collection was attempted.
	Ran      bool
	Snapshot *types.Snapshot
	Run      *types.SnapshotRun
}

// Capturer orchestrates lock-protected snapshot capture for one tenant.
type Capturer struct {
	ledger    *store.Ledger
	lock      *lock.Lock
	collector Collector
	scope     types.Scope
	log       logger.Logger
	now       func() time.Time
	newRunID  func() string
}

// New creates a Capturer.
func New(ledger *store.Ledger, lk *lock.Lock, collector Collector, scope types.Scope, log logger.Logger) *Capturer {
	return &Capturer{
		ledger:    ledger,
		lock:      lk,
		collector: collector,
		scope:     scope,
		log:       log,
		now:       time.Now,
		newRunID:  func() string { return "run-" + uuid.NewString() },
	}
}

// SnapshotID derives the deterministic idempotency key for a capture
// window. Racing writers that slip past the advisory lock collide on
// this id at the store's write-once check instead of producing silent
// duplicates.
func SnapshotID(tenantID string, kind types.SnapshotKind, windowStart time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", tenantID, kind, windowStart.UTC().Format(time.RFC3339))))
	return "snap-" + hex.EncodeToString(sum[:8])
}

// CaptureWindow attempts one capture for the window. Every attempt,
// including lock-skipped ones, writes a SnapshotRun audit record.
func (c *Capturer) CaptureWindow(ctx context.Context, kind types.SnapshotKind, windowStart time.Time) (*Result, error) {
	tenantID := c.ledger.TenantID()
	startedAt := c.now().UTC()

	var snap *types.Snapshot
	var collected *CollectionResult
	ran, captureErr := c.lock.Execute(ctx, tenantID, kind, windowStart, func(ctx context.Context) error {
		var err error
		collected, snap, err = c.capture(ctx, kind, windowStart)
		return err
	})

	run := &types.SnapshotRun{
		ID:            c.newRunID(),
		TenantID:      tenantID,
		Kind:          kind,
		WindowStart:   windowStart.UTC(),
		StartedAt:     startedAt,
		FinishedAt:    c.now().UTC(),
		SchemaVersion: types.SnapshotSchemaVersion,
	}
	switch {
	case !ran && captureErr == nil:
		run.Outcome = types.RunSkipped
	case captureErr != nil:
		run.Outcome = types.RunFailed
		run.ErrorCode = errorCode(captureErr)
	default:
		run.Outcome = types.RunSucceeded
		run.SnapshotID = snap.ID
	}
	if collected != nil {
		run.UpstreamCalls = collected.UpstreamCalls
		run.RateLimitHits = collected.RateLimitHits
	}

	if err := c.ledger.CreateRun(ctx, run); err != nil {
		c.log.WithField("run", run.ID).Error("failed to write capture run record", err)
		if captureErr == nil {
			captureErr = err
		}
	}

	return &Result{Ran: ran, Snapshot: snap, Run: run}, captureErr
}

// capture does the work inside the lock: collect, assemble, hash, write
// exactly once. Partial upstream failure still writes the snapshot,
// disclosing what is missing.
func (c *Capturer) capture(ctx context.Context, kind types.SnapshotKind, windowStart time.Time) (*CollectionResult, *types.Snapshot, error) {
	collected, err := c.collector.Collect(ctx, kind, c.scope)
	if err != nil {
		// Collectors returning plain errors still classify as upstream
		// failures at this seam.
		if !ledgererr.IsUpstream(err) {
			err = ledgererr.Upstream(types.ReasonUpstreamError, "upstream collection failed").WithCause(err)
		}
		return nil, nil, err
	}

	payload := make(map[string]any, len(collected.Datasets))
	for name, doc := range collected.Datasets {
		payload[name] = doc
	}

	hash, err := canonical.Hash(payload)
	if err != nil {
		return collected, nil, fmt.Errorf("hashing capture payload: %w", err)
	}

	snap := &types.Snapshot{
		ID:            SnapshotID(c.ledger.TenantID(), kind, windowStart),
		TenantID:      c.ledger.TenantID(),
		Kind:          kind,
		CapturedAt:    c.now().UTC(),
		SchemaVersion: types.SnapshotSchemaVersion,
		CanonicalHash: hash,
		HashAlgorithm: types.HashAlgorithmSHA256,
		Scope:         c.scope,
		Provenance:    collected.Provenance,
		MissingData:   collected.Missing,
		Payload:       payload,
	}
	if snap.MissingData == nil {
		snap.MissingData = []types.MissingData{}
	}

	if err := c.ledger.CreateSnapshot(ctx, snap); err != nil {
		// The window was already captured by an earlier invocation. The
		// stored snapshot wins; this attempt becomes an idempotent no-op.
		if ledgererr.CodeOf(err) == ledgererr.CodeDuplicateEvidence {
			existing, getErr := c.ledger.GetSnapshotByID(ctx, snap.ID)
			if getErr == nil && existing != nil {
				c.log.WithField("snapshot", existing.ID).Info("window already captured")
				return collected, existing, nil
			}
		}
		return collected, nil, err
	}

	c.log.WithFields(map[string]any{
		"snapshot": snap.ID,
		"kind":     kind,
		"missing":  len(snap.MissingData),
	}).Info("snapshot captured")
	return collected, snap, nil
}

func errorCode(err error) string {
	if code := ledgererr.CodeOf(err); code != "" {
		return code
	}
	return types.ReasonUpstreamError
}
