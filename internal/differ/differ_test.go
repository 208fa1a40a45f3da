package differ

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelock/tracelock/internal/canonical"
	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/pkg/types"
)

func snapshotWith(t *testing.T, id string, capturedAt time.Time, payload map[string]any) *types.Snapshot {
	t.Helper()
	hash, err := canonical.Hash(payload)
	require.NoError(t, err)
	return &types.Snapshot{
		ID:            id,
		TenantID:      "acme",
		Kind:          types.KindLightweight,
		CapturedAt:    capturedAt,
		SchemaVersion: types.SnapshotSchemaVersion,
		CanonicalHash: hash,
		HashAlgorithm: types.HashAlgorithmSHA256,
		Payload:       payload,
	}
}

func TestDetectSelfDiffIsEmpty(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := snapshotWith(t, "snap-1", at, map[string]any{
		"projects": []any{map[string]any{"id": "P1", "name": "alpha"}},
		"settings": map[string]any{"visibility": "private"},
	})

	events, summary, err := e.Detect(snap, snap, nil)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, types.DriftNone, summary.Status)
	assert.Zero(t, summary.EventCount())
}

func TestDetectAddedObject(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := snapshotWith(t, "snap-1", at, map[string]any{"projects": []any{"P1"}})
	to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{"projects": []any{"P1", "P2"}})

	events, summary, err := e.Detect(from, to, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, types.ChangeAdded, event.Kind)
	assert.Equal(t, types.ClassStructural, event.Classification)
	assert.Equal(t, "projects", event.ObjectType)
	assert.Equal(t, "P2", event.ObjectID)
	assert.Equal(t, types.ActorUnknown, event.Actor)
	assert.Equal(t, to.CapturedAt, event.DetectedAt)
	assert.Equal(t, 1, event.RepeatCount)

	assert.Equal(t, 1, summary.Added)
	assert.Equal(t, types.DriftDetected, summary.Status)
}

func TestDetectRemovedObject(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := snapshotWith(t, "snap-1", at, map[string]any{
		"projects": []any{
			map[string]any{"id": "P1"},
			map[string]any{"id": "P2"},
		},
	})
	to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{
		"projects": []any{map[string]any{"id": "P1"}},
	})

	events, summary, err := e.Detect(from, to, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.ChangeRemoved, events[0].Kind)
	assert.Equal(t, "P2", events[0].ObjectID)
	assert.Equal(t, 1, summary.Removed)
}

func TestDetectModifiedObjectClassification(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		before    map[string]any
		after     map[string]any
		wantClass types.Classification
	}{
		{
			name:      "value change is config",
			before:    map[string]any{"id": "P1", "name": "alpha"},
			after:     map[string]any{"id": "P1", "name": "beta"},
			wantClass: types.ClassConfigChange,
		},
		{
			name:      "field added is structural",
			before:    map[string]any{"id": "P1"},
			after:     map[string]any{"id": "P1", "owner": "u1"},
			wantClass: types.ClassStructural,
		},
		{
			name:      "permissions change is data visibility",
			before:    map[string]any{"id": "P1", "permissions": []any{"read"}},
			after:     map[string]any{"id": "P1", "permissions": []any{"read", "write"}},
			wantClass: types.ClassDataVisibility,
		},
		{
			name:      "visibility outranks structural",
			before:    map[string]any{"id": "P1", "name": "alpha"},
			after:     map[string]any{"id": "P1", "name": "beta", "acl": "open"},
			wantClass: types.ClassDataVisibility,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from := snapshotWith(t, "snap-1", at, map[string]any{"projects": []any{tt.before}})
			to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{"projects": []any{tt.after}})

			events, _, err := e.Detect(from, to, nil)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, types.ChangeModified, events[0].Kind)
			assert.Equal(t, tt.wantClass, events[0].Classification)
			assert.NotEmpty(t, events[0].Patch)
		})
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := snapshotWith(t, "snap-1", at, map[string]any{
		"projects": []any{map[string]any{"id": "P1", "name": "alpha"}},
		"users":    []any{"u1", "u2"},
	})
	to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{
		"projects": []any{map[string]any{"id": "P1", "name": "beta"}, map[string]any{"id": "P2"}},
		"users":    []any{"u1"},
	})

	first, firstSummary, err := e.Detect(from, to, nil)
	require.NoError(t, err)
	second, secondSummary, err := e.Detect(from, to, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second, "the same pair must always yield identical events")
	assert.Equal(t, firstSummary, secondSummary)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

func TestDetectReorderIsStructuralDrift(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := snapshotWith(t, "snap-1", at, map[string]any{"steps": []any{"build", "test", "deploy"}})
	to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{"steps": []any{"test", "build", "deploy"}})

	require.NotEqual(t, from.CanonicalHash, to.CanonicalHash, "order is hash-significant")

	events, summary, err := e.Detect(from, to, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.ChangeModified, events[0].Kind)
	assert.Equal(t, types.ClassStructural, events[0].Classification)
	assert.Equal(t, "steps", events[0].ObjectType)
	assert.Equal(t, "steps", events[0].ObjectID)
	assert.Equal(t, 1, summary.Modified)
}

func TestDetectReorderSurvivesConcurrentModification(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := snapshotWith(t, "snap-1", at, map[string]any{
		"projects": []any{
			map[string]any{"id": "P1", "name": "alpha"},
			map[string]any{"id": "P2", "name": "beta"},
		},
	})
	to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{
		"projects": []any{
			map[string]any{"id": "P2", "name": "beta-2"},
			map[string]any{"id": "P1", "name": "alpha"},
		},
	})

	events, summary, err := e.Detect(from, to, nil)
	require.NoError(t, err)
	require.Len(t, events, 2, "a reorder is not masked by a modification in the same category")

	var sawModified, sawReorder bool
	for _, event := range events {
		switch event.ObjectID {
		case "P2":
			sawModified = true
			assert.Equal(t, types.ChangeModified, event.Kind)
		case "projects":
			sawReorder = true
			assert.Equal(t, types.ChangeModified, event.Kind)
			assert.Equal(t, types.ClassStructural, event.Classification)
		}
	}
	assert.True(t, sawModified)
	assert.True(t, sawReorder)
	assert.Equal(t, 2, summary.Modified)
}

func TestDetectRepeatCountCarriesForward(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := snapshotWith(t, "snap-1", at, map[string]any{
		"projects": []any{map[string]any{"id": "P1", "name": "alpha"}},
	})
	to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{
		"projects": []any{map[string]any{"id": "P1", "name": "beta"}},
	})

	first, _, err := e.Detect(from, to, nil)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, first[0].RepeatCount)

	previous := []*types.DriftEvent{&first[0]}
	next := snapshotWith(t, "snap-3", at.Add(2*time.Hour), map[string]any{
		"projects": []any{map[string]any{"id": "P1", "name": "beta"}},
	})

	second, _, err := e.Detect(from, next, previous)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 2, second[0].RepeatCount, "the same unresolved change increments the count")
}

func TestDetectCompletenessReflectsCoverage(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := snapshotWith(t, "snap-1", at, map[string]any{"projects": []any{"P1"}})
	to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{"projects": []any{"P1", "P2"}})
	to.MissingData = []types.MissingData{{
		Dataset:  "projects",
		Coverage: types.CoveragePartial,
		Reason:   types.ReasonRateLimited,
	}}

	events, _, err := e.Detect(from, to, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 50.0, events[0].CompletenessPct)
}

func TestDetectTenantMismatch(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := snapshotWith(t, "snap-1", at, map[string]any{"v": 1})
	to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{"v": 2})
	to.TenantID = "other"

	_, _, err := e.Detect(from, to, nil)
	require.Error(t, err)
	assert.Equal(t, ledgererr.CodeTenantMismatch, ledgererr.CodeOf(err))
	assert.True(t, ledgererr.IsInvariant(err))
}

func TestDetectCategoryAppearsAndVanishes(t *testing.T) {
	e := New(logger.NewNop())
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	from := snapshotWith(t, "snap-1", at, map[string]any{"projects": []any{"P1"}})
	to := snapshotWith(t, "snap-2", at.Add(time.Hour), map[string]any{
		"projects": []any{"P1"},
		"webhooks": []any{"wh1"},
	})

	events, summary, err := e.Detect(from, to, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.ChangeAdded, events[0].Kind)
	assert.Equal(t, "webhooks", events[0].ObjectType)
	assert.Equal(t, "wh1", events[0].ObjectID)
	assert.Equal(t, 1, summary.Added)

	back, summary, err := e.Detect(to, from, nil)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, types.ChangeRemoved, back[0].Kind)
	assert.Equal(t, 1, summary.Removed)
}
