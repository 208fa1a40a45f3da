// Package lock implements the ledger's storage-based mutual-exclusion
// lease. Acquisition is a conditional create in the backing store, so
// of two concurrent acquirers exactly one wins. It is still a lease,
// not a consensus protocol: a holder that outlives its TTL loses the
// window to the next acquirer.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tracelock/tracelock/internal/kv"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/pkg/types"
)

// ErrNotOwner is returned when a release is attempted with a token that
// does not match the stored lock record. The lock is left in place: a
// releaser never removes a lock it does not own.
var ErrNotOwner = errors.New("lock: owner token mismatch")

type record struct {
	OwnerToken    string    `json:"owner_token"`
	AcquiredAt    time.Time `json:"acquired_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	SchemaVersion int       `json:"schema_version"`
}

// Lock coordinates capture attempts across invocations. The key space is
// (tenant, snapshot kind, window start).
type Lock struct {
	store    kv.Store
	ttl      time.Duration
	log      logger.Logger
	now      func() time.Time
	newToken func() string
}

// New creates a lock over the given store. The TTL bounds how long a
// crashed holder can block the window.
func New(store kv.Store, ttl time.Duration, log logger.Logger) *Lock {
	return &Lock{
		store:    store,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
		newToken: func() string { return uuid.NewString() },
	}
}

// WindowStart truncates t to the start of its capture window in UTC.
func WindowStart(t time.Time, cadence time.Duration) time.Time {
	return t.UTC().Truncate(cadence)
}

func lockKey(tenantID string, kind types.SnapshotKind, windowStart time.Time) kv.Key {
	return kv.Key{
		Bucket: fmt.Sprintf("tracelock:%s:lock", tenantID),
		ID:     fmt.Sprintf("%s:%s", kind, windowStart.UTC().Format(time.RFC3339)),
	}
}

// Acquire succeeds only when no unexpired lock record exists for the
// key. On success it writes a record with a fresh owner token and
// returns it; when another holder has the window it returns ok=false
// without side effects. The write is a conditional create, so two
// racing acquirers cannot both succeed.
func (l *Lock) Acquire(ctx context.Context, tenantID string, kind types.SnapshotKind, windowStart time.Time) (token string, ok bool, err error) {
	key := lockKey(tenantID, kind, windowStart)

	now := l.now()
	rec := record{
		OwnerToken:    l.newToken(),
		AcquiredAt:    now,
		ExpiresAt:     now.Add(l.ttl),
		SchemaVersion: 1,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", false, fmt.Errorf("encoding lock record: %w", err)
	}
	ttlSeconds := int64(l.ttl / time.Second)
	if err := l.store.Create(ctx, key, raw, &ttlSeconds); err != nil {
		if errors.Is(err, kv.ErrAlreadyExists) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("writing lock record: %w", err)
	}
	return rec.OwnerToken, true, nil
}

// Release deletes the lock record only when token matches the stored
// owner token. Releasing an already-gone lock is not an error.
func (l *Lock) Release(ctx context.Context, tenantID string, kind types.SnapshotKind, windowStart time.Time, token string) error {
	key := lockKey(tenantID, kind, windowStart)

	raw, err := l.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading lock record for release: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decoding lock record for release: %w", err)
	}
	if rec.OwnerToken != token {
		return ErrNotOwner
	}
	if err := l.store.Delete(ctx, key); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("deleting lock record: %w", err)
	}
	return nil
}

// Execute runs fn under the lock for (tenant, kind, windowStart). When
// acquisition fails it returns ran=false without invoking fn. When fn
// runs, release happens on every exit path, including panics.
func (l *Lock) Execute(ctx context.Context, tenantID string, kind types.SnapshotKind, windowStart time.Time, fn func(ctx context.Context) error) (ran bool, err error) {
	token, ok, err := l.Acquire(ctx, tenantID, kind, windowStart)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	defer func() {
		if relErr := l.Release(ctx, tenantID, kind, windowStart, token); relErr != nil {
			l.log.WithFields(map[string]any{
				"tenant": tenantID,
				"kind":   kind,
				"window": windowStart.UTC().Format(time.RFC3339),
			}).Error("failed to release capture lock", relErr)
			if err == nil {
				err = relErr
			}
		}
	}()

	return true, fn(ctx)
}
