// Package differ computes the classified difference between two
// snapshots' payloads. The detector is referentially transparent:
// re-running it on the same ordered pair of payloads always yields an
// identical ordered DriftEvent list, down to the event ids.
package differ

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/tracelock/tracelock/internal/canonical"
	"github.com/tracelock/tracelock/internal/ledgererr"
	"github.com/tracelock/tracelock/internal/logger"
	"github.com/tracelock/tracelock/pkg/types"
)

// Engine is the drift detector.
type Engine struct {
	matcher    matcher
	comparer   comparer
	classifier classifier
	log        logger.Logger
}

// New creates a drift detection engine.
func New(log logger.Logger) *Engine {
	return &Engine{log: log}
}

// Detect diffs the payloads of from and to. previous carries the events
// of the preceding comparison for the same tenant so repeat counts can
// track how many consecutive comparisons have shown the same unresolved
// change; nil is fine for a first comparison.
func (e *Engine) Detect(from, to *types.Snapshot, previous []*types.DriftEvent) ([]types.DriftEvent, types.DriftSummary, error) {
	summary := types.DriftSummary{Status: types.DriftNone}
	if from == nil || to == nil {
		return nil, summary, fmt.Errorf("both snapshots are required")
	}
	if from.TenantID != to.TenantID {
		err := ledgererr.Invariant(ledgererr.CodeTenantMismatch,
			"cannot diff snapshots of tenants %q and %q", from.TenantID, to.TenantID)
		e.log.WithFields(map[string]any{
			"from": from.ID,
			"to":   to.ID,
			"code": ledgererr.CodeOf(err),
		}).Error("invariant violation", err)
		return nil, summary, err
	}

	repeats := indexPrevious(previous)

	var events []types.DriftEvent
	for _, category := range unionKeys(from.Payload, to.Payload) {
		fromVal, inFrom := from.Payload[category]
		toVal, inTo := to.Payload[category]
		completeness := categoryCompleteness(category, from, to)

		switch {
		case !inFrom:
			events = append(events, e.objectEvents(from, to, category, nil, e.matcher.objects(category, toVal), completeness, repeats)...)
		case !inTo:
			events = append(events, e.objectEvents(from, to, category, e.matcher.objects(category, fromVal), nil, completeness, repeats)...)
		default:
			events = append(events, e.categoryEvents(from, to, category, fromVal, toVal, completeness, repeats)...)
		}
	}

	for _, event := range events {
		switch event.Kind {
		case types.ChangeAdded:
			summary.Added++
		case types.ChangeRemoved:
			summary.Removed++
		case types.ChangeModified:
			summary.Modified++
		}
	}
	if summary.EventCount() > 0 {
		summary.Status = types.DriftDetected
	}
	return events, summary, nil
}

// categoryEvents diffs one payload category present in both snapshots.
func (e *Engine) categoryEvents(from, to *types.Snapshot, category string, fromVal, toVal any, completeness float64, repeats map[string]int) []types.DriftEvent {
	fromObjs := e.matcher.objects(category, fromVal)
	toObjs := e.matcher.objects(category, toVal)

	events := e.objectEvents(from, to, category, fromObjs, toObjs, completeness, repeats)

	// An array that holds the same tracked objects in a different order
	// carries no existence changes, but order is semantically
	// significant: surface the reorder as a structural modification of
	// the category itself, alongside any per-object modifications.
	_, fromIsArr := asArray(fromVal)
	_, toIsArr := asArray(toVal)
	if fromIsArr && toIsArr {
		fromOrder := orderOf(fromObjs)
		toOrder := orderOf(toObjs)
		if sameMembers(fromOrder, toOrder) && !slicesEqual(fromOrder, toOrder) {
			patch := []types.PatchOp{{
				Op:   "replace",
				Path: "order",
				From: toAnySlice(fromOrder),
				To:   toAnySlice(toOrder),
			}}
			events = append(events, e.newEvent(from, to, category, category,
				types.ChangeModified, types.ClassStructural,
				fromVal, toVal, patch, completeness, repeats))
		}
	}
	return events
}

// objectEvents produces added/removed/modified events for the tracked
// objects of one category. Either side may be nil (whole category
// appeared or vanished).
func (e *Engine) objectEvents(from, to *types.Snapshot, category string, fromObjs, toObjs []trackedObject, completeness float64, repeats map[string]int) []types.DriftEvent {
	both, removed, added := e.matcher.match(fromObjs, toObjs)
	fromByID := byID(fromObjs)
	toByID := byID(toObjs)

	var events []types.DriftEvent
	for _, id := range added {
		events = append(events, e.newEvent(from, to, category, id,
			types.ChangeAdded, e.classifier.classifyExistence(),
			nil, toByID[id], nil, completeness, repeats))
	}
	for _, id := range removed {
		events = append(events, e.newEvent(from, to, category, id,
			types.ChangeRemoved, e.classifier.classifyExistence(),
			fromByID[id], nil, nil, completeness, repeats))
	}
	for _, id := range both {
		before := fromByID[id]
		after := toByID[id]
		if e.comparer.equal(before, after) {
			continue
		}
		patch := e.comparer.patch(before, after)
		events = append(events, e.newEvent(from, to, category, id,
			types.ChangeModified, e.classifier.classifyPatch(patch),
			before, after, patch, completeness, repeats))
	}
	return events
}

func (e *Engine) newEvent(from, to *types.Snapshot, objectType, objectID string, kind types.ChangeKind, class types.Classification, before, after any, patch []types.PatchOp, completeness float64, repeats map[string]int) types.DriftEvent {
	event := types.DriftEvent{
		ID:              eventID(from.TenantID, from.ID, to.ID, objectType, objectID, kind),
		TenantID:        from.TenantID,
		FromSnapshotID:  from.ID,
		ToSnapshotID:    to.ID,
		ObjectType:      objectType,
		ObjectID:        objectID,
		Kind:            kind,
		Classification:  class,
		Before:          before,
		After:           after,
		Patch:           patch,
		CompletenessPct: completeness,
		RepeatCount:     1,
		Actor:           types.ActorUnknown,
		Source:          types.ActorUnknown,
		DetectedAt:      to.CapturedAt,
		SchemaVersion:   types.DriftEventSchemaVersion,
	}
	if prior, ok := repeats[repeatKey(event.ObjectType, event.ObjectID, event.Kind, event.Patch)]; ok {
		event.RepeatCount = prior + 1
	}
	return event
}

// eventID derives the deterministic event identifier so identical
// detector runs yield identical events.
func eventID(tenantID, fromID, toID, objectType, objectID string, kind types.ChangeKind) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s", tenantID, fromID, toID, objectType, objectID, kind)))
	return "drift-" + hex.EncodeToString(sum[:8])
}

// repeatKey identifies "the same unresolved change" across comparisons:
// same object, same change kind, same patch content.
func repeatKey(objectType, objectID string, kind types.ChangeKind, patch []types.PatchOp) string {
	patchHash := ""
	if len(patch) > 0 {
		if h, err := canonical.Hash(patch); err == nil {
			patchHash = h
		}
	}
	return fmt.Sprintf("%s|%s|%s|%s", objectType, objectID, kind, patchHash)
}

func indexPrevious(previous []*types.DriftEvent) map[string]int {
	out := make(map[string]int, len(previous))
	for _, event := range previous {
		if event == nil {
			continue
		}
		out[repeatKey(event.ObjectType, event.ObjectID, event.Kind, event.Patch)] = event.RepeatCount
	}
	return out
}

// categoryCompleteness reflects how much of the category's data was
// available in both snapshots: the lower of the two sides' coverage.
// Full coverage (or no disclosure) scores 100, partial 50, missing 0.
func categoryCompleteness(category string, from, to *types.Snapshot) float64 {
	fromCov := coverageScore(category, from.MissingData)
	toCov := coverageScore(category, to.MissingData)
	if toCov < fromCov {
		return toCov
	}
	return fromCov
}

func coverageScore(category string, missing []types.MissingData) float64 {
	for _, m := range missing {
		if m.Dataset != category {
			continue
		}
		switch m.Coverage {
		case types.CoverageMissing:
			return 0
		case types.CoveragePartial:
			return 50
		}
	}
	return 100
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	seen := map[string]bool{}
	for k := range a {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range b {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// sameMembers reports whether a and b hold the same ids, in any order.
func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	return slicesEqual(as, bs)
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
