package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tracelock/tracelock/internal/canonical"
	"github.com/tracelock/tracelock/internal/kv"
	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/pkg/types"
)

// SnapshotInfo is the listing projection of a stored snapshot.
type SnapshotInfo struct {
	ID            string             `json:"id"`
	Kind          types.SnapshotKind `json:"kind"`
	CapturedAt    time.Time          `json:"captured_at"`
	CanonicalHash string             `json:"canonical_hash"`
	Complete      bool               `json:"complete"`
}

// SnapshotFilter narrows snapshot listings. The zero value matches
// everything.
type SnapshotFilter struct {
	Kind types.SnapshotKind
}

func (f SnapshotFilter) matches(s *types.Snapshot) bool {
	return f.Kind == "" || f.Kind == s.Kind
}

// CreateSnapshot writes a snapshot exactly once and appends it to the
// pagination index. The snapshot's tenant must match the bound tenant,
// its canonical hash must match its payload, and its id must be unused;
// each violation is a hard invariant error.
func (l *Ledger) CreateSnapshot(ctx context.Context, snap *types.Snapshot) error {
	if err := l.checkTenant(kindSnapshot, snap.ID, snap.TenantID); err != nil {
		return err
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	match, err := canonical.Verify(snap.Payload, snap.CanonicalHash)
	if err != nil {
		return err
	}
	if !match {
		err := ledgererr.Invariant(ledgererr.CodeHashMismatch,
			"snapshot %s canonical hash does not match its payload", snap.ID)
		l.audit(kindSnapshot, snap.ID, err)
		return err
	}

	key := l.recordKey(kindSnapshot, snap.ID)
	if err := l.createRecord(ctx, key, snap, nil); err != nil {
		if errors.Is(err, kv.ErrAlreadyExists) {
			err := ledgererr.Invariant(ledgererr.CodeDuplicateEvidence,
				"snapshot %s already exists and is immutable", snap.ID)
			l.audit(kindSnapshot, snap.ID, err)
			return err
		}
		return err
	}
	return l.appendIndex(ctx, kindSnapshot, snap.ID)
}

// GetSnapshotByID returns the snapshot, or nil when none exists.
func (l *Ledger) GetSnapshotByID(ctx context.Context, id string) (*types.Snapshot, error) {
	var snap types.Snapshot
	found, err := l.getRecord(ctx, l.recordKey(kindSnapshot, id), &snap)
	if err != nil || !found {
		return nil, err
	}
	if snap.SchemaVersion != types.SnapshotSchemaVersion {
		return nil, ledgererr.Format(ledgererr.CodeSchemaUnsupported,
			"snapshot %s has schema version %d, this reader implements %d",
			id, snap.SchemaVersion, types.SnapshotSchemaVersion)
	}
	return &snap, nil
}

// ListSnapshots returns one page of snapshot infos plus the total count
// of indexed snapshots. Listing is read-only.
func (l *Ledger) ListSnapshots(ctx context.Context, filter SnapshotFilter, page, pageSize int) ([]SnapshotInfo, int, error) {
	ids, err := l.indexIDs(ctx, kindSnapshot)
	if err != nil {
		return nil, 0, err
	}

	var infos []SnapshotInfo
	for _, id := range ids {
		snap, err := l.GetSnapshotByID(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if snap == nil || !filter.matches(snap) {
			continue
		}
		infos = append(infos, SnapshotInfo{
			ID:            snap.ID,
			Kind:          snap.Kind,
			CapturedAt:    snap.CapturedAt,
			CanonicalHash: snap.CanonicalHash,
			Complete:      snap.IsComplete(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CapturedAt.After(infos[j].CapturedAt)
	})

	total := len(infos)
	start := (maxInt(page, 1) - 1) * defaultPageSize(pageSize)
	if start >= len(infos) {
		return nil, total, nil
	}
	end := start + defaultPageSize(pageSize)
	if end > len(infos) {
		end = len(infos)
	}
	return infos[start:end], total, nil
}

// ListSnapshotsByKind loads the full snapshots of one kind ordered by
// capture time, oldest first. The retention sweep relies on this order.
func (l *Ledger) ListSnapshotsByKind(ctx context.Context, kind types.SnapshotKind) ([]*types.Snapshot, error) {
	ids, err := l.indexIDs(ctx, kindSnapshot)
	if err != nil {
		return nil, err
	}
	var snaps []*types.Snapshot
	for _, id := range ids {
		snap, err := l.GetSnapshotByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap == nil || snap.Kind != kind {
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CapturedAt.Before(snaps[j].CapturedAt)
	})
	return snaps, nil
}

// SweepSnapshot removes one snapshot record and its index entry. This is
// the retention enforcer's deletion path; nothing else may call it, and
// no other deletion path exists.
func (l *Ledger) SweepSnapshot(ctx context.Context, id string) error {
	if err := l.kv.Delete(ctx, l.recordKey(kindSnapshot, id)); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", id, err)
	}
	return l.removeFromIndex(ctx, kindSnapshot, id)
}

// CreateRun writes one capture-attempt audit record. Runs are never
// mutated and share the snapshots' retention TTL.
func (l *Ledger) CreateRun(ctx context.Context, run *types.SnapshotRun) error {
	if err := l.checkTenant(kindRun, run.ID, run.TenantID); err != nil {
		return err
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot run: %w", err)
	}
	if err := l.createRecord(ctx, l.recordKey(kindRun, run.ID), run, nil); err != nil {
		if errors.Is(err, kv.ErrAlreadyExists) {
			err := ledgererr.Invariant(ledgererr.CodeDuplicateEvidence,
				"run %s already exists and is immutable", run.ID)
			l.audit(kindRun, run.ID, err)
			return err
		}
		return err
	}
	return l.appendIndex(ctx, kindRun, run.ID)
}

// GetRunByID returns one capture-attempt record, or nil.
func (l *Ledger) GetRunByID(ctx context.Context, id string) (*types.SnapshotRun, error) {
	var run types.SnapshotRun
	found, err := l.getRecord(ctx, l.recordKey(kindRun, id), &run)
	if err != nil || !found {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns one page of capture-attempt records, newest first.
func (l *Ledger) ListRuns(ctx context.Context, page, pageSize int) ([]*types.SnapshotRun, int, error) {
	ids, err := l.indexIDs(ctx, kindRun)
	if err != nil {
		return nil, 0, err
	}
	var runs []*types.SnapshotRun
	for _, id := range ids {
		run, err := l.GetRunByID(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if run != nil {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	total := len(runs)
	start := (maxInt(page, 1) - 1) * defaultPageSize(pageSize)
	if start >= len(runs) {
		return nil, total, nil
	}
	end := start + defaultPageSize(pageSize)
	if end > len(runs) {
		end = len(runs)
	}
	return runs[start:end], total, nil
}

func defaultPageSize(pageSize int) int {
	if pageSize <= 0 {
		return 50
	}
	return pageSize
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
