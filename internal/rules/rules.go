// Package rules derives truth metadata from recorded evidence inputs.
// Every ruleset is a pure function: the same inputs always produce the
// same TruthMetadata, byte for byte, which is what makes regeneration
// verification possible. Rulesets are versioned and frozen; behavior
// changes ship as a new version, never as an edit to an existing one.
package rules

import (
	"fmt"
	"sort"

	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/pkg/types"
)

// VersionV1 is the current ruleset version.
const VersionV1 = "v1"

// Inputs carries everything a ruleset may consult. All fields come from
// the evidence bundle itself, never from live state.
type Inputs struct {
	SnapshotRefs []types.SnapshotRef
	DriftSummary types.DriftSummary
	Inputs       map[string]any
	MissingData  []types.MissingData
}

// Ruleset derives truth metadata from evidence inputs.
type Ruleset interface {
	Version() string
	Derive(in Inputs) types.TruthMetadata
}

// For returns the ruleset implementing the given version.
func For(version string) (Ruleset, error) {
	switch version {
	case VersionV1:
		return rulesetV1{}, nil
	default:
		return nil, ledgererr.Format(ledgererr.CodeSchemaUnsupported,
			"ruleset version %q is not implemented", version)
	}
}

// Current returns the ruleset new bundles are generated with.
func Current() Ruleset {
	return rulesetV1{}
}

type rulesetV1 struct{}

func (rulesetV1) Version() string { return VersionV1 }

// Derive computes v1 truth metadata.
//
// Completeness is the mean coverage of the disclosed datasets (full
// 100, partial 50, missing 0), or 100 when nothing was disclosed as
// degraded. Validity degrades with coverage and with detected drift,
// and every downgrade is explained by a reason string.
func (rulesetV1) Derive(in Inputs) types.TruthMetadata {
	completeness := 100.0
	warnings := []string{}
	reasons := []string{}

	anyMissing := false
	anyPartial := false
	if len(in.MissingData) > 0 {
		total := 0.0
		for _, m := range in.MissingData {
			switch m.Coverage {
			case types.CoverageMissing:
				anyMissing = true
				warnings = append(warnings, fmt.Sprintf("dataset %s is missing: %s", m.Dataset, m.Reason))
			case types.CoveragePartial:
				anyPartial = true
				total += 50
				warnings = append(warnings, fmt.Sprintf("dataset %s is partially collected: %s", m.Dataset, m.Reason))
			default:
				total += 100
			}
		}
		completeness = total / float64(len(in.MissingData))
	}

	drift := in.DriftSummary.Status
	if drift == "" {
		drift = types.DriftUnknown
	}
	if drift == types.DriftDetected {
		warnings = append(warnings, fmt.Sprintf("drift detected against prior state: %d change(s)", in.DriftSummary.EventCount()))
	}

	validity := types.ValidityValid
	switch {
	case anyMissing || completeness < 50:
		validity = types.ValidityInvalid
		reasons = append(reasons, "required input data is missing")
	case anyPartial || drift == types.DriftDetected:
		validity = types.ValidityDegraded
		if anyPartial {
			reasons = append(reasons, "input data was only partially collected")
		}
		if drift == types.DriftDetected {
			reasons = append(reasons, "inputs drifted since the prior comparison")
		}
	default:
		reasons = append(reasons, "all referenced inputs were fully collected")
	}

	confidence := types.ConfidenceMedium
	switch {
	case completeness == 100 && drift == types.DriftNone:
		confidence = types.ConfidenceHigh
	case completeness < 50 || drift == types.DriftUnknown:
		confidence = types.ConfidenceLow
	}

	sort.Strings(warnings)
	sort.Strings(reasons)

	return types.TruthMetadata{
		ValidityStatus:  validity,
		Confidence:      confidence,
		CompletenessPct: completeness,
		Warnings:        warnings,
		Reasons:         reasons,
		DriftStatus:     drift,
	}
}
