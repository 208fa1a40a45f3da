// Package store is the append-only persistence layer for snapshots,
// capture runs, drift events, and evidence bundles. Records, once
// written, are never updated; deletion exists only on the retention
// sweep path. All keys are namespaced by the tenant the Ledger is bound
// to, and a constructor-checked tenant mismatch is a hard error, never a
// silent rescope.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tracelock/tracelock/internal/canonical"
	"github.com/tracelock/tracelock/internal/kv"
	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/internal/logger"
)

const domainPrefix = "tracelock"

// Record kinds, used in storage keys.
const (
	kindSnapshot = "snapshot"
	kindRun      = "run"
	kindEvidence = "evidence"
	kindDrift    = "drift"
	kindPolicy   = "policy"
)

// Ledger is a tenant-bound handle on the evidence ledger.
type Ledger struct {
	kv       kv.Store
	tenantID string
	log      logger.Logger
	now      func() time.Time
}

// New creates a Ledger bound to one tenant.
func New(store kv.Store, tenantID string, log logger.Logger) (*Ledger, error) {
	if tenantID == "" {
		return nil, errors.New("store: tenant ID is required")
	}
	return &Ledger{
		kv:       store,
		tenantID: tenantID,
		log:      log,
		now:      time.Now,
	}, nil
}

// TenantID returns the tenant this ledger is bound to.
func (l *Ledger) TenantID() string {
	return l.tenantID
}

func (l *Ledger) recordKey(recordKind, id string) kv.Key {
	return kv.Key{
		Bucket: fmt.Sprintf("%s:%s:%s", domainPrefix, l.tenantID, recordKind),
		ID:     id,
	}
}

// checkTenant enforces the shared-resource policy: a record whose tenant
// does not match the bound tenant is an invariant violation, logged
// before it propagates.
func (l *Ledger) checkTenant(recordKind, id, tenantID string) error {
	if tenantID == l.tenantID {
		return nil
	}
	err := ledgererr.Invariant(ledgererr.CodeTenantMismatch,
		"%s %s belongs to tenant %q, store is bound to %q", recordKind, id, tenantID, l.tenantID)
	l.audit(recordKind, id, err)
	return err
}

// audit writes the audit-trail entry that must precede every invariant
// violation's propagation.
func (l *Ledger) audit(recordKind, id string, err error) {
	l.log.WithFields(map[string]any{
		"tenant":      l.tenantID,
		"record_kind": recordKind,
		"record_id":   id,
		"code":        ledgererr.CodeOf(err),
	}).Error("invariant violation", err)
}

// putRecord writes a JSON-encoded record. ttlSeconds may be nil.
func (l *Ledger) putRecord(ctx context.Context, key kv.Key, record any, ttlSeconds *int64) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", key.Bucket, key.ID, err)
	}
	if err := l.kv.Set(ctx, key, raw, ttlSeconds); err != nil {
		return fmt.Errorf("writing %s/%s: %w", key.Bucket, key.ID, err)
	}
	return nil
}

// createRecord writes a JSON-encoded record only when the key is
// unused. A losing concurrent writer surfaces kv.ErrAlreadyExists to
// the caller unchanged so write-once paths can raise their own
// duplicate invariant.
func (l *Ledger) createRecord(ctx context.Context, key kv.Key, record any, ttlSeconds *int64) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", key.Bucket, key.ID, err)
	}
	if err := l.kv.Create(ctx, key, raw, ttlSeconds); err != nil {
		if errors.Is(err, kv.ErrAlreadyExists) {
			return err
		}
		return fmt.Errorf("writing %s/%s: %w", key.Bucket, key.ID, err)
	}
	return nil
}

// getRecord loads and decodes a record. Absence returns (false, nil);
// an unparseable record is a format error, never a falsified empty
// value.
func (l *Ledger) getRecord(ctx context.Context, key kv.Key, target any) (bool, error) {
	raw, err := l.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s/%s: %w", key.Bucket, key.ID, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, ledgererr.Format(ledgererr.CodeParseFailure,
			"record %s/%s is corrupted", key.Bucket, key.ID).WithCause(err)
	}
	return true, nil
}

// IntegrityResult is the diagnostic outcome of a stored-record hash
// audit. A mismatch here is reported, not raised: the periodic integrity
// audit is read-only.
type IntegrityResult struct {
	RecordID     string `json:"record_id"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
	Intact       bool   `json:"intact"`
}

// VerifySnapshotIntegrity reloads a snapshot, recomputes its payload
// hash, and reports whether they still agree.
func (l *Ledger) VerifySnapshotIntegrity(ctx context.Context, id string) (*IntegrityResult, error) {
	snap, err := l.GetSnapshotByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}
	computed, err := canonical.Hash(snap.Payload)
	if err != nil {
		return nil, fmt.Errorf("recomputing hash for snapshot %s: %w", id, err)
	}
	return &IntegrityResult{
		RecordID:     id,
		StoredHash:   snap.CanonicalHash,
		ComputedHash: computed,
		Intact:       computed == snap.CanonicalHash,
	}, nil
}

// VerifyEvidenceIntegrity reloads stored evidence and recomputes the
// bundle hash.
func (l *Ledger) VerifyEvidenceIntegrity(ctx context.Context, id string) (*IntegrityResult, error) {
	stored, err := l.LoadEvidence(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	computed, err := canonical.Hash(&stored.Bundle)
	if err != nil {
		return nil, fmt.Errorf("recomputing hash for evidence %s: %w", id, err)
	}
	return &IntegrityResult{
		RecordID:     id,
		StoredHash:   stored.BundleHash,
		ComputedHash: computed,
		Intact:       computed == stored.BundleHash,
	}, nil
}
