package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelock/tracelock/internal/kv"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/pkg/types"
)

func testLock(now *time.Time) *Lock {
	clock := func() time.Time { return *now }
	l := New(kv.NewInMemWithClock(clock), 5*time.Minute, logger.NewNop())
	l.now = clock
	return l
}

func TestWindowStart(t *testing.T) {
	loc := time.FixedZone("plus2", 2*60*60)
	at := time.Date(2026, 3, 1, 14, 37, 12, 0, loc)

	window := WindowStart(at, time.Hour)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), window)
	assert.Equal(t, time.UTC, window.Location())
}

func TestAcquireBlocksSecondHolder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := testLock(&now)
	window := WindowStart(now, time.Hour)

	token, ok, err := l.Acquire(ctx, "acme", types.KindLightweight, window)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = l.Acquire(ctx, "acme", types.KindLightweight, window)
	require.NoError(t, err)
	assert.False(t, ok, "held window must not be acquirable")

	// Other windows and kinds are independent.
	_, ok, err = l.Acquire(ctx, "acme", types.KindComprehensive, window)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = l.Acquire(ctx, "acme", types.KindLightweight, window.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredLockDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := testLock(&now)
	window := WindowStart(now, time.Hour)

	_, ok, err := l.Acquire(ctx, "acme", types.KindLightweight, window)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(6 * time.Minute)
	_, ok, err = l.Acquire(ctx, "acme", types.KindLightweight, window)
	require.NoError(t, err)
	assert.True(t, ok, "a crashed holder's expired lock must be reclaimable")
}

func TestReleaseRequiresOwnerToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := testLock(&now)
	window := WindowStart(now, time.Hour)

	token, ok, err := l.Acquire(ctx, "acme", types.KindLightweight, window)
	require.NoError(t, err)
	require.True(t, ok)

	err = l.Release(ctx, "acme", types.KindLightweight, window, "someone-else")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, ok, err = l.Acquire(ctx, "acme", types.KindLightweight, window)
	require.NoError(t, err)
	assert.False(t, ok, "a failed release must leave the lock in place")

	require.NoError(t, l.Release(ctx, "acme", types.KindLightweight, window, token))
	_, ok, err = l.Acquire(ctx, "acme", types.KindLightweight, window)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseAbsentLockIsNil(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := testLock(&now)

	err := l.Release(ctx, "acme", types.KindLightweight, WindowStart(now, time.Hour), "any")
	assert.NoError(t, err)
}

func TestExecuteReleasesOnEveryPath(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := testLock(&now)
	window := WindowStart(now, time.Hour)

	ran, err := l.Execute(ctx, "acme", types.KindLightweight, window, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	boom := errors.New("collection failed")
	ran, err = l.Execute(ctx, "acme", types.KindLightweight, window, func(ctx context.Context) error {
		return boom
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	// Both executions released; the window is free again.
	_, ok, err := l.Acquire(ctx, "acme", types.KindLightweight, window)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecuteSkipsWhenHeld(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := testLock(&now)
	window := WindowStart(now, time.Hour)

	_, ok, err := l.Acquire(ctx, "acme", types.KindLightweight, window)
	require.NoError(t, err)
	require.True(t, ok)

	called := false
	ran, err := l.Execute(ctx, "acme", types.KindLightweight, window, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
	assert.False(t, called)
}
