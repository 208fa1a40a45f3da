package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SnapshotSchemaVersion is the record schema implemented by this build.
// Readers must reject snapshots carrying any other version.
const SnapshotSchemaVersion = 1

// HashAlgorithmSHA256 is the only hash algorithm tag currently written.
// The tag travels with every hash so a future algorithm can coexist with
// old records.
const HashAlgorithmSHA256 = "sha256"

// SnapshotKind distinguishes capture depth.
type SnapshotKind string

const (
	KindLightweight   SnapshotKind = "lightweight"
	KindComprehensive SnapshotKind = "comprehensive"
)

// Valid reports whether the kind is one this build understands.
func (k SnapshotKind) Valid() bool {
	return k == KindLightweight || k == KindComprehensive
}

// CoverageStatus describes how much of a dataset made it into a capture.
type CoverageStatus string

const (
	CoverageFull    CoverageStatus = "FULL"
	CoveragePartial CoverageStatus = "PARTIAL"
	CoverageMissing CoverageStatus = "MISSING"
)

// Machine-readable reason codes for MissingData entries. Upstream
// collection failures are disclosed with these codes instead of aborting
// the capture.
const (
	ReasonRateLimited      = "RATE_LIMITED"
	ReasonPermissionDenied = "PERMISSION_DENIED"
	ReasonTimeout          = "TIMEOUT"
	ReasonUpstreamError    = "UPSTREAM_ERROR"
)

// MissingData discloses a dataset that was not fully captured.
type MissingData struct {
	Dataset  string         `json:"dataset"`
	Coverage CoverageStatus `json:"coverage"`
	Reason   string         `json:"reason"`
	Detail   string         `json:"detail,omitempty"`
}

// Validate checks the disclosure has the required fields.
func (m *MissingData) Validate() error {
	if strings.TrimSpace(m.Dataset) == "" {
		return errors.New("missing-data dataset is required")
	}
	if m.Coverage != CoverageFull && m.Coverage != CoveragePartial && m.Coverage != CoverageMissing {
		return fmt.Errorf("missing-data coverage %q is not a known status", m.Coverage)
	}
	if strings.TrimSpace(m.Reason) == "" {
		return errors.New("missing-data reason code is required")
	}
	return nil
}

// Scope records what a capture included and excluded.
type Scope struct {
	Included    []string `json:"included"`
	Excluded    []string `json:"excluded,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Provenance records where a snapshot's inputs came from.
type Provenance struct {
	Endpoints        []string          `json:"endpoints"`
	PermissionScopes []string          `json:"permission_scopes"`
	Filters          map[string]string `json:"filters,omitempty"`
}

// Snapshot is a point-in-time, immutable capture of a tenant's external
// configuration inventory. The canonical hash always equals the hash of
// the canonicalized payload; every other field is accompanying metadata
// outside the payload hash.
type Snapshot struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Kind          SnapshotKind   `json:"kind"`
	CapturedAt    time.Time      `json:"captured_at"`
	SchemaVersion int            `json:"schema_version"`
	CanonicalHash string         `json:"canonical_hash"`
	HashAlgorithm string         `json:"hash_algorithm"`
	Scope         Scope          `json:"scope"`
	Provenance    Provenance     `json:"provenance"`
	MissingData   []MissingData  `json:"missing_data"`
	Payload       map[string]any `json:"payload"`
}

// Validate checks the snapshot has all required fields and valid values.
func (s *Snapshot) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("snapshot ID is required")
	}
	if strings.TrimSpace(s.TenantID) == "" {
		return errors.New("snapshot tenant ID is required")
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("snapshot kind %q is not a known kind", s.Kind)
	}
	if s.CapturedAt.IsZero() {
		return errors.New("snapshot capture timestamp is required")
	}
	if s.SchemaVersion != SnapshotSchemaVersion {
		return fmt.Errorf("snapshot schema version %d is not supported", s.SchemaVersion)
	}
	if len(s.CanonicalHash) != 64 {
		return errors.New("snapshot canonical hash must be 64 hex characters")
	}
	if s.HashAlgorithm != HashAlgorithmSHA256 {
		return fmt.Errorf("snapshot hash algorithm %q is not supported", s.HashAlgorithm)
	}
	if s.Payload == nil {
		return errors.New("snapshot payload cannot be nil")
	}
	for i := range s.MissingData {
		if err := s.MissingData[i].Validate(); err != nil {
			return fmt.Errorf("missing-data entry %d is invalid: %w", i, err)
		}
	}
	return nil
}

// IsComplete reports whether the capture had no missing data.
func (s *Snapshot) IsComplete() bool {
	return len(s.MissingData) == 0
}

// String returns a short identity line for logs.
func (s *Snapshot) String() string {
	return fmt.Sprintf("%s/%s snapshot %s (%s)", s.TenantID, s.Kind, s.ID, s.CapturedAt.Format(time.RFC3339))
}

// RunOutcome is the terminal state of one capture attempt.
type RunOutcome string

const (
	RunSucceeded RunOutcome = "succeeded"
	RunFailed    RunOutcome = "failed"
	// RunSkipped records an attempt that did not run because another
	// invocation held the capture lock for the same window.
	RunSkipped RunOutcome = "skipped"
)

// SnapshotRun is the audit record of one capture attempt. Written once,
// never mutated, retained on the same TTL as snapshots.
type SnapshotRun struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	Kind          SnapshotKind `json:"kind"`
	WindowStart   time.Time    `json:"window_start"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
	Outcome       RunOutcome   `json:"outcome"`
	ErrorCode     string       `json:"error_code,omitempty"`
	UpstreamCalls int          `json:"upstream_calls"`
	RateLimitHits int          `json:"rate_limit_hits"`
	SnapshotID    string       `json:"snapshot_id,omitempty"`
	SchemaVersion int          `json:"schema_version"`
}

// Validate checks the run record has the required fields.
func (r *SnapshotRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run ID is required")
	}
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("run tenant ID is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("run start timestamp is required")
	}
	switch r.Outcome {
	case RunSucceeded, RunFailed, RunSkipped:
	default:
		return fmt.Errorf("run outcome %q is not a known outcome", r.Outcome)
	}
	if r.Outcome == RunSucceeded && r.SnapshotID == "" {
		return errors.New("successful run must reference the resulting snapshot")
	}
	return nil
}
