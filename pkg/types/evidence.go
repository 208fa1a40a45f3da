package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EvidenceSchemaVersion is the bundle schema implemented by this build.
const EvidenceSchemaVersion = 1

// ValidityStatus is the published conclusion about an output's truth.
type ValidityStatus string

const (
	ValidityValid    ValidityStatus = "VALID"
	ValidityDegraded ValidityStatus = "DEGRADED"
	ValidityInvalid  ValidityStatus = "INVALID"
)

// ConfidenceLevel grades how much the inputs support the conclusion.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "HIGH"
	ConfidenceMedium ConfidenceLevel = "MEDIUM"
	ConfidenceLow    ConfidenceLevel = "LOW"
)

// DriftStatus summarizes drift state at generation time.
type DriftStatus string

const (
	DriftNone     DriftStatus = "NONE"
	DriftDetected DriftStatus = "DETECTED"
	DriftUnknown  DriftStatus = "UNKNOWN"
)

// SnapshotRef binds a snapshot identifier to its hash and capture time
// so a bundle pins the exact inputs it was computed from.
type SnapshotRef struct {
	SnapshotID    string    `json:"snapshot_id"`
	CanonicalHash string    `json:"canonical_hash"`
	CapturedAt    time.Time `json:"captured_at"`
}

// TruthMetadata is the derived conclusion a bundle explains. It must be
// recomputable byte-for-byte from the bundle's recorded inputs.
type TruthMetadata struct {
	ValidityStatus  ValidityStatus  `json:"validity_status"`
	Confidence      ConfidenceLevel `json:"confidence"`
	CompletenessPct float64         `json:"completeness_pct"`
	Warnings        []string        `json:"warnings"`
	Reasons         []string        `json:"reasons"`
	DriftStatus     DriftStatus     `json:"drift_status"`
}

// DriftSummary is the drift-state snapshot carried inside a bundle.
type DriftSummary struct {
	Status   DriftStatus `json:"status"`
	Added    int         `json:"added"`
	Removed  int         `json:"removed"`
	Modified int         `json:"modified"`
}

// EventCount returns the total number of drift events in the summary.
func (d DriftSummary) EventCount() int {
	return d.Added + d.Removed + d.Modified
}

// Environment records the schema versions and feature flags active when
// a bundle was generated.
type Environment struct {
	SchemaVersions map[string]int `json:"schema_versions"`
	FeatureFlags   []string       `json:"feature_flags"`
}

// EvidenceBundle is the minimal canonical record of everything needed to
// explain and regenerate one published output's truth metadata.
// Canonicalizing the same logical bundle twice always yields the same
// hash. Created once, persisted exactly once, never mutated.
type EvidenceBundle struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	GeneratedAt    time.Time      `json:"generated_at"`
	SchemaVersion  int            `json:"schema_version"`
	RulesetVersion string         `json:"ruleset_version"`
	SnapshotRefs   []SnapshotRef  `json:"snapshot_refs"`
	DriftSummary   DriftSummary   `json:"drift_summary"`
	Inputs         map[string]any `json:"inputs"`
	Truth          TruthMetadata  `json:"truth"`
	Environment    Environment    `json:"environment"`
	MissingData    []MissingData  `json:"missing_data"`
}

// Validate checks the bundle has all required fields.
func (b *EvidenceBundle) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.New("evidence bundle ID is required")
	}
	if strings.TrimSpace(b.TenantID) == "" {
		return errors.New("evidence bundle tenant ID is required")
	}
	if b.GeneratedAt.IsZero() {
		return errors.New("evidence bundle generation timestamp is required")
	}
	if b.SchemaVersion != EvidenceSchemaVersion {
		return fmt.Errorf("evidence schema version %d is not supported", b.SchemaVersion)
	}
	if strings.TrimSpace(b.RulesetVersion) == "" {
		return errors.New("evidence bundle ruleset version is required")
	}
	if len(b.SnapshotRefs) == 0 {
		return errors.New("evidence bundle must reference at least one snapshot")
	}
	for i, ref := range b.SnapshotRefs {
		if ref.SnapshotID == "" || len(ref.CanonicalHash) != 64 {
			return fmt.Errorf("snapshot ref %d is incomplete", i)
		}
	}
	for i := range b.MissingData {
		if err := b.MissingData[i].Validate(); err != nil {
			return fmt.Errorf("missing-data entry %d is invalid: %w", i, err)
		}
	}
	return nil
}

// StoredEvidence is a persisted bundle plus its computed hash, storage
// timestamp, and retention metadata.
type StoredEvidence struct {
	Bundle        EvidenceBundle `json:"bundle"`
	BundleHash    string         `json:"bundle_hash"`
	HashAlgorithm string         `json:"hash_algorithm"`
	StoredAt      time.Time      `json:"stored_at"`
	MaxAgeDays    int            `json:"max_age_days,omitempty"`
	DeleteAfter   *time.Time     `json:"delete_after,omitempty"`
	SchemaVersion int            `json:"schema_version"`
}

// ViolationTag labels the outcome class of a regeneration verification.
type ViolationTag string

const (
	ViolationNone              ViolationTag = "NONE"
	ViolationHashMismatch      ViolationTag = "HASH_MISMATCH"
	ViolationMissingEvidence   ViolationTag = "MISSING_EVIDENCE"
	ViolationSchemaUnsupported ViolationTag = "SCHEMA_VERSION_UNSUPPORTED"
)

// FieldDiff is one field-level difference between stored and recomputed
// truth metadata.
type FieldDiff struct {
	Field    string `json:"field"`
	Stored   any    `json:"stored"`
	Computed any    `json:"computed"`
}

// RegenerationResult reports one bundle's verification outcome. Produced
// transiently by the verifier; may be persisted as an audit record but is
// not part of the evidence bundle itself.
type RegenerationResult struct {
	BundleID     string       `json:"bundle_id"`
	Verified     bool         `json:"verified"`
	StoredHash   string       `json:"stored_hash"`
	ComputedHash string       `json:"computed_hash"`
	Diffs        []FieldDiff  `json:"diffs,omitempty"`
	Violation    ViolationTag `json:"violation"`
	VerifiedAt   time.Time    `json:"verified_at"`
}
