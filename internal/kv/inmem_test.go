package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMem()
	key := Key{Bucket: "b", ID: "one"}

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, key, []byte(`{"v":1}`), nil))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)

	require.NoError(t, s.Set(ctx, key, []byte(`{"v":2}`), nil))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), got, "set is a full overwrite")

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemCreateIsFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewInMemWithClock(func() time.Time { return current })
	key := Key{Bucket: "b", ID: "one"}

	ttl := int64(60)
	require.NoError(t, s.Create(ctx, key, []byte("first"), &ttl))

	err := s.Create(ctx, key, []byte("second"), &ttl)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got, "a losing create must not overwrite")

	// Once the ttl passes, the key is free again.
	current = current.Add(61 * time.Second)
	require.NoError(t, s.Create(ctx, key, []byte("third"), nil))
}

func TestInMemValueIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewInMem()
	key := Key{Bucket: "b", ID: "one"}

	value := []byte("abc")
	require.NoError(t, s.Set(ctx, key, value, nil))
	value[0] = 'x'

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[0] = 'y'
	again, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestInMemTTLExpiry(t *testing.T) {
	ctx := context.Background()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewInMemWithClock(func() time.Time { return current })
	key := Key{Bucket: "b", ID: "lock"}

	ttl := int64(60)
	require.NoError(t, s.Set(ctx, key, []byte("held"), &ttl))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("held"), got)

	current = current.Add(59 * time.Second)
	_, err = s.Get(ctx, key)
	assert.NoError(t, err, "item is live until the ttl passes")

	current = current.Add(2 * time.Second)
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err := s.ListIDs(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, ids, "expired items do not list")
}

func TestInMemListIDsSorted(t *testing.T) {
	ctx := context.Background()
	s := NewInMem()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Set(ctx, Key{Bucket: "index", ID: id}, []byte("x"), nil))
	}
	require.NoError(t, s.Set(ctx, Key{Bucket: "other", ID: "z"}, []byte("x"), nil))

	ids, err := s.ListIDs(ctx, "index")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	ids, err = s.ListIDs(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
