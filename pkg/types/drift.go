package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DriftEventSchemaVersion is the drift record schema this build writes.
const DriftEventSchemaVersion = 1

// ActorUnknown is the permanent actor/source value for drift events. The
// detector has no mechanism to attribute a change to a person and must
// not guess; only an upstream source may supply a real value.
const ActorUnknown = "unknown"

// ChangeKind is the kind of difference detected for one tracked object.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// Classification assigns a modification to a fixed category. Assignment
// comes from a documented rule table, never per-run heuristics.
type Classification string

const (
	ClassStructural     Classification = "STRUCTURAL"
	ClassConfigChange   Classification = "CONFIG_CHANGE"
	ClassDataVisibility Classification = "DATA_VISIBILITY_CHANGE"
)

// PatchOp is one step of a structural patch between two object states.
type PatchOp struct {
	Op   string `json:"op"` // add, remove, replace
	Path string `json:"path"`
	From any    `json:"from,omitempty"`
	To   any    `json:"to,omitempty"`
}

// DriftEvent is a single detected change between two snapshots for one
// tracked object. Produced once per (from, to) pair, immutable after.
type DriftEvent struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	FromSnapshotID  string         `json:"from_snapshot_id"`
	ToSnapshotID    string         `json:"to_snapshot_id"`
	ObjectType      string         `json:"object_type"`
	ObjectID        string         `json:"object_id"`
	Kind            ChangeKind     `json:"kind"`
	Classification  Classification `json:"classification"`
	Before          any            `json:"before,omitempty"`
	After           any            `json:"after,omitempty"`
	Patch           []PatchOp      `json:"patch,omitempty"`
	CompletenessPct float64        `json:"completeness_pct"`
	RepeatCount     int            `json:"repeat_count"`
	Actor           string         `json:"actor"`
	Source          string         `json:"source"`
	DetectedAt      time.Time      `json:"detected_at"`
	SchemaVersion   int            `json:"schema_version"`
}

// Validate checks the event has all required fields.
func (e *DriftEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("drift event ID is required")
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return errors.New("drift event tenant ID is required")
	}
	if e.FromSnapshotID == "" || e.ToSnapshotID == "" {
		return errors.New("drift event must reference both snapshots")
	}
	if strings.TrimSpace(e.ObjectID) == "" {
		return errors.New("drift event object ID is required")
	}
	switch e.Kind {
	case ChangeAdded, ChangeRemoved, ChangeModified:
	default:
		return fmt.Errorf("drift event kind %q is not a known kind", e.Kind)
	}
	switch e.Classification {
	case ClassStructural, ClassConfigChange, ClassDataVisibility:
	default:
		return fmt.Errorf("drift event classification %q is not known", e.Classification)
	}
	if e.CompletenessPct < 0 || e.CompletenessPct > 100 {
		return errors.New("drift event completeness must be within 0-100")
	}
	if e.Actor == "" || e.Source == "" {
		return errors.New("drift event actor and source are required (use unknown)")
	}
	return nil
}

// RetentionPolicy holds per-tenant ceilings for snapshot age and count,
// per snapshot kind. The deletion strategy is fixed to oldest-first.
// Mutated only through the administrative path, never by capture or
// drift code.
type RetentionPolicy struct {
	TenantID      string               `json:"tenant_id"`
	MaxAgeDays    map[SnapshotKind]int `json:"max_age_days"`
	MaxCount      map[SnapshotKind]int `json:"max_count"`
	Strategy      string               `json:"strategy"`
	SchemaVersion int                  `json:"schema_version"`
}

// StrategyOldestFirst is the only supported deletion strategy.
const StrategyOldestFirst = "oldest-first"

// Validate checks the policy is well formed.
func (p *RetentionPolicy) Validate() error {
	if strings.TrimSpace(p.TenantID) == "" {
		return errors.New("retention policy tenant ID is required")
	}
	if p.Strategy != StrategyOldestFirst {
		return fmt.Errorf("retention strategy %q is not supported", p.Strategy)
	}
	for kind, days := range p.MaxAgeDays {
		if !kind.Valid() {
			return fmt.Errorf("retention policy references unknown kind %q", kind)
		}
		if days < 0 {
			return errors.New("retention max age cannot be negative")
		}
	}
	for kind, count := range p.MaxCount {
		if !kind.Valid() {
			return fmt.Errorf("retention policy references unknown kind %q", kind)
		}
		if count < 0 {
			return errors.New("retention max count cannot be negative")
		}
	}
	return nil
}

// AgeCeiling returns the max age for a kind, or 0 when unbounded.
func (p *RetentionPolicy) AgeCeiling(kind SnapshotKind) int {
	if p.MaxAgeDays == nil {
		return 0
	}
	return p.MaxAgeDays[kind]
}

// CountCeiling returns the max record count for a kind, or 0 when
// unbounded.
func (p *RetentionPolicy) CountCeiling(kind SnapshotKind) int {
	if p.MaxCount == nil {
		return 0
	}
	return p.MaxCount[kind]
}
