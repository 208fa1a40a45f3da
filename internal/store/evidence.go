package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/tracelock/tracelock/internal/canonical"
	"github.com/tracelock/tracelock/internal/kv"
	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/pkg/types"
)

// PersistEvidence writes an evidence bundle exactly once, together with
// its computed hash. Evidence is write-once: a second persist attempt
// under the same identifier is an invariant violation and leaves the
// first record untouched. The write either fully succeeds or raises
// before any storage mutation.
func (l *Ledger) PersistEvidence(ctx context.Context, bundle *types.EvidenceBundle) (*types.StoredEvidence, error) {
	if err := l.checkTenant(kindEvidence, bundle.ID, bundle.TenantID); err != nil {
		return nil, err
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("invalid evidence bundle: %w", err)
	}

	hash, err := canonical.Hash(bundle)
	if err != nil {
		return nil, fmt.Errorf("hashing evidence bundle %s: %w", bundle.ID, err)
	}

	stored := &types.StoredEvidence{
		Bundle:        *bundle,
		BundleHash:    hash,
		HashAlgorithm: types.HashAlgorithmSHA256,
		StoredAt:      l.now().UTC(),
		SchemaVersion: types.EvidenceSchemaVersion,
	}
	key := l.recordKey(kindEvidence, bundle.ID)
	if err := l.createRecord(ctx, key, stored, nil); err != nil {
		if errors.Is(err, kv.ErrAlreadyExists) {
			err := ledgererr.Invariant(ledgererr.CodeDuplicateEvidence,
				"evidence %s already exists and is write-once", bundle.ID)
			l.audit(kindEvidence, bundle.ID, err)
			return nil, err
		}
		return nil, err
	}
	if err := l.appendIndex(ctx, kindEvidence, bundle.ID); err != nil {
		return nil, err
	}
	return stored, nil
}

// LoadEvidence returns the stored evidence record, or nil when none
// exists under the id.
func (l *Ledger) LoadEvidence(ctx context.Context, id string) (*types.StoredEvidence, error) {
	var stored types.StoredEvidence
	found, err := l.getRecord(ctx, l.recordKey(kindEvidence, id), &stored)
	if err != nil || !found {
		return nil, err
	}
	if stored.SchemaVersion != types.EvidenceSchemaVersion {
		return nil, ledgererr.Format(ledgererr.CodeSchemaUnsupported,
			"evidence %s has schema version %d, this reader implements %d",
			id, stored.SchemaVersion, types.EvidenceSchemaVersion)
	}
	return &stored, nil
}

// ListEvidenceIDs returns every persisted evidence id in append order.
func (l *Ledger) ListEvidenceIDs(ctx context.Context) ([]string, error) {
	return l.indexIDs(ctx, kindEvidence)
}
