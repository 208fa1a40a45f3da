package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelock/tracelock/internal/canonical"
	"github.com/tracelock/tracelock/internal/differ"
	"github.com/tracelock/tracelock/internal/kv"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/internal/pack"
	"github.com/tracelock/tracelock/internal/store"
	"github.com/tracelock/tracelock/internal/verifier"
	"github.com/tracelock/tracelock/pkg/types"
)

type fixture struct {
	handler  http.Handler
	snapID   string
	driftID  string
	bundleID string
}

func makeSnap(t *testing.T, id string, capturedAt time.Time, payload map[string]any) *types.Snapshot {
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

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()

	ledger, err := store.New(kv.NewInMem(), "acme", log)
	require.NoError(t, err)

	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	from := makeSnap(t, "snap-a", at, map[string]any{"projects": []any{"P1"}})
	to := makeSnap(t, "snap-b", at.Add(time.Hour), map[string]any{"projects": []any{"P1", "P2"}})
	require.NoError(t, ledger.CreateSnapshot(ctx, from))
	require.NoError(t, ledger.CreateSnapshot(ctx, to))

	events, summary, err := differ.New(log).Detect(from, to, nil)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	require.NoError(t, ledger.SaveDriftEvents(ctx, events))

	require.NoError(t, ledger.CreateRun(ctx, &types.SnapshotRun{
		ID:            "run-1",
		TenantID:      "acme",
		Kind:          types.KindLightweight,
		WindowStart:   at,
		StartedAt:     at,
		FinishedAt:    at.Add(time.Minute),
		Outcome:       types.RunSucceeded,
		SnapshotID:    from.ID,
		SchemaVersion: types.SnapshotSchemaVersion,
	}))

	bundle, err := pack.BuildBundle(pack.BuildInput{
		TenantID:     "acme",
		Snapshots:    []*types.Snapshot{from, to},
		DriftSummary: summary,
		GeneratedAt:  to.CapturedAt,
	})
	require.NoError(t, err)
	_, err = ledger.PersistEvidence(ctx, bundle)
	require.NoError(t, err)

	v := verifier.New(ledger, log)
	return fixture{
		handler:  New(ledger, v, pack.New(ledger, v, log), log),
		snapID:   from.ID,
		driftID:  events[0].ID,
		bundleID: bundle.ID,
	}
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestListSnapshots(t *testing.T) {
	f := newFixture(t)
	rec, body := get(t, f.handler, "/v1/snapshots")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, 2.0, body["total"])
}

func TestGetSnapshot(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/snapshots/"+f.snapID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.snapID, body["id"])

	rec, body = get(t, f.handler, "/v1/snapshots/snap-nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["message"], "not found")
}

func TestSnapshotIntegrity(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/snapshots/"+f.snapID+"/integrity")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["intact"])
	assert.Equal(t, body["stored_hash"], body["computed_hash"])

	rec, _ = get(t, f.handler, "/v1/snapshots/snap-nope/integrity")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/runs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["total"])
	runs, ok := body["runs"].([]any)
	require.True(t, ok)
	require.Len(t, runs, 1)
	run, ok := runs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", run["id"])
	assert.Equal(t, string(types.RunSucceeded), run["outcome"])
}

func TestListDriftFilters(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/drift?from=snap-a&to=snap-b")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["total"])

	rec, body = get(t, f.handler, "/v1/drift?from=snap-nope")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["total"])
}

func TestGetDriftEvent(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/drift/"+f.driftID)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, f.driftID, body["id"])

	rec, _ = get(t, f.handler, "/v1/drift/drift-nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetEvidence(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/evidence/"+f.bundleID)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, body, "bundle")
	assert.NotEmpty(t, body["bundle_hash"])

	rec, _ = get(t, f.handler, "/v1/evidence/ev-nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvidenceIntegrity(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/evidence/"+f.bundleID+"/integrity")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["intact"])
	assert.Equal(t, body["stored_hash"], body["computed_hash"])

	rec, _ = get(t, f.handler, "/v1/evidence/ev-nope/integrity")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyEvidence(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/evidence/"+f.bundleID+"/verify")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, string(types.ViolationNone), body["violation"])

	rec, _ = get(t, f.handler, "/v1/evidence/ev-nope/verify")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPackEvidence(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/evidence/"+f.bundleID+"/pack")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["requires_acknowledgment"])
	require.Contains(t, body, "verification")

	rec, body = get(t, f.handler, "/v1/evidence/ev-nope/pack")
	assert.Equal(t, http.StatusOK, rec.Code, "a missing bundle ships a watermarked package, not an error")
	assert.Equal(t, true, body["requires_acknowledgment"])
	assert.Equal(t, pack.Watermark, body["watermark"])
}

func TestRetentionPolicy(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/retention")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body)
}

func TestStats(t *testing.T) {
	f := newFixture(t)

	rec, body := get(t, f.handler, "/v1/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", body["tenant"])
	records, ok := body["records"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2.0, records["snapshot"])
	assert.Equal(t, 1.0, records["run"])
	assert.Equal(t, 1.0, records["evidence"])
}

func TestWritesAreRejected(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/snapshots", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
