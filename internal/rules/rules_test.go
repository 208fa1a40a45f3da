package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/pkg/types"
)

func TestForKnownAndUnknownVersions(t *testing.T) {
	rs, err := For(VersionV1)
	require.NoError(t, err)
	assert.Equal(t, VersionV1, rs.Version())

	_, err = For("v99")
	require.Error(t, err)
	assert.Equal(t, ledgererr.CodeSchemaUnsupported, ledgererr.CodeOf(err))

	assert.Equal(t, VersionV1, Current().Version())
}

func TestDeriveFullyCollectedNoDrift(t *testing.T) {
	truth := Current().Derive(Inputs{
		DriftSummary: types.DriftSummary{Status: types.DriftNone},
	})

	assert.Equal(t, types.ValidityValid, truth.ValidityStatus)
	assert.Equal(t, types.ConfidenceHigh, truth.Confidence)
	assert.Equal(t, 100.0, truth.CompletenessPct)
	assert.Equal(t, types.DriftNone, truth.DriftStatus)
	assert.Empty(t, truth.Warnings)
	require.NotNil(t, truth.Warnings, "serialized bundles carry empty arrays, never null")
	assert.Equal(t, []string{"all referenced inputs were fully collected"}, truth.Reasons)
}

func TestDerivePartialCoverageDegrades(t *testing.T) {
	truth := Current().Derive(Inputs{
		DriftSummary: types.DriftSummary{Status: types.DriftNone},
		MissingData: []types.MissingData{{
			Dataset:  "projects",
			Coverage: types.CoveragePartial,
			Reason:   types.ReasonRateLimited,
		}},
	})

	assert.Equal(t, types.ValidityDegraded, truth.ValidityStatus)
	assert.Equal(t, 50.0, truth.CompletenessPct)
	assert.Equal(t, types.ConfidenceMedium, truth.Confidence)
	assert.Contains(t, truth.Reasons, "input data was only partially collected")
	require.Len(t, truth.Warnings, 1)
	assert.Contains(t, truth.Warnings[0], "projects")
}

func TestDeriveMissingDatasetInvalidates(t *testing.T) {
	truth := Current().Derive(Inputs{
		DriftSummary: types.DriftSummary{Status: types.DriftNone},
		MissingData: []types.MissingData{
			{Dataset: "projects", Coverage: types.CoverageFull},
			{Dataset: "webhooks", Coverage: types.CoverageMissing, Reason: types.ReasonUpstreamError},
		},
	})

	assert.Equal(t, types.ValidityInvalid, truth.ValidityStatus)
	assert.Equal(t, 50.0, truth.CompletenessPct)
	assert.Equal(t, []string{"required input data is missing"}, truth.Reasons)
}

func TestDeriveCompletenessBoundaryAtFifty(t *testing.T) {
	truth := Current().Derive(Inputs{
		DriftSummary: types.DriftSummary{Status: types.DriftNone},
		MissingData: []types.MissingData{
			{Dataset: "a", Coverage: types.CoveragePartial, Reason: types.ReasonRateLimited},
			{Dataset: "b", Coverage: types.CoveragePartial, Reason: types.ReasonRateLimited},
			{Dataset: "c", Coverage: types.CoveragePartial, Reason: types.ReasonRateLimited},
			{Dataset: "d", Coverage: types.CoveragePartial, Reason: types.ReasonRateLimited},
		},
	})

	// Mean coverage is 50 exactly, which still rates as degraded.
	assert.Equal(t, 50.0, truth.CompletenessPct)
	assert.Equal(t, types.ValidityDegraded, truth.ValidityStatus)
}

func TestDeriveDriftDegradesValidity(t *testing.T) {
	truth := Current().Derive(Inputs{
		DriftSummary: types.DriftSummary{Status: types.DriftDetected, Added: 2, Modified: 1},
	})

	assert.Equal(t, types.ValidityDegraded, truth.ValidityStatus)
	assert.Equal(t, 100.0, truth.CompletenessPct)
	assert.NotEqual(t, types.ConfidenceHigh, truth.Confidence)
	assert.Equal(t, []string{"inputs drifted since the prior comparison"}, truth.Reasons)
	require.Len(t, truth.Warnings, 1)
	assert.Contains(t, truth.Warnings[0], "3 change(s)")
}

func TestDeriveUnknownDriftLowersConfidence(t *testing.T) {
	truth := Current().Derive(Inputs{})

	assert.Equal(t, types.DriftUnknown, truth.DriftStatus)
	assert.Equal(t, types.ConfidenceLow, truth.Confidence)
	assert.Equal(t, types.ValidityValid, truth.ValidityStatus)
}

func TestDeriveIsPure(t *testing.T) {
	in := Inputs{
		SnapshotRefs: []types.SnapshotRef{{SnapshotID: "snap-a"}, {SnapshotID: "snap-b"}},
		DriftSummary: types.DriftSummary{Status: types.DriftDetected, Modified: 4},
		MissingData: []types.MissingData{
			{Dataset: "users", Coverage: types.CoveragePartial, Reason: types.ReasonRateLimited},
			{Dataset: "projects", Coverage: types.CoverageFull},
		},
	}

	first := Current().Derive(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Current().Derive(in))
	}
	assert.True(t, sortedStrings(first.Warnings))
	assert.True(t, sortedStrings(first.Reasons))
}

func sortedStrings(in []string) bool {
	for i := 1; i < len(in); i++ {
		if in[i-1] > in[i] {
			return false
		}
	}
	return true
}
