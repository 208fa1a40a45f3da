package differ

import (
	"sort"

	"github.com/tracelock/tracelock/internal/canonical"
)

// trackedObject is one diffable unit inside a payload category.
type trackedObject struct {
	ID    string
	Value any
}

// matcher extracts tracked objects from a category value and pairs them
// between two snapshots by stable object identifier.
type matcher struct{}

// objects flattens a category value into its tracked objects:
//
//   - a map is a collection keyed by object id;
//   - an array is a collection whose elements identify themselves, by
//     their "id" field when they carry one, otherwise by their whole
//     canonical form;
//   - anything else is a single object identified by the category name.
func (m matcher) objects(category string, value any) []trackedObject {
	switch tv := value.(type) {
	case map[string]any:
		ids := make([]string, 0, len(tv))
		for id := range tv {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		objs := make([]trackedObject, 0, len(ids))
		for _, id := range ids {
			objs = append(objs, trackedObject{ID: id, Value: tv[id]})
		}
		return objs
	case []any:
		objs := make([]trackedObject, 0, len(tv))
		for _, el := range tv {
			objs = append(objs, trackedObject{ID: elementID(el), Value: el})
		}
		return objs
	default:
		return []trackedObject{{ID: category, Value: value}}
	}
}

// match pairs objects by id. It returns ids present in both sides, ids
// only in from (removed), and ids only in to (added), each in
// deterministic order.
func (m matcher) match(from, to []trackedObject) (both, removed, added []string) {
	fromIDs := map[string]bool{}
	for _, obj := range from {
		fromIDs[obj.ID] = true
	}
	toIDs := map[string]bool{}
	for _, obj := range to {
		toIDs[obj.ID] = true
	}

	for _, obj := range from {
		if toIDs[obj.ID] {
			both = append(both, obj.ID)
		} else {
			removed = append(removed, obj.ID)
		}
	}
	for _, obj := range to {
		if !fromIDs[obj.ID] {
			added = append(added, obj.ID)
		}
	}
	sort.Strings(both)
	sort.Strings(removed)
	sort.Strings(added)
	return both, removed, added
}

// elementID derives the stable identifier of an array element.
func elementID(el any) string {
	if s, ok := el.(string); ok {
		return s
	}
	if m, ok := el.(map[string]any); ok {
		if id, ok := m["id"].(string); ok && id != "" {
			return id
		}
	}
	text, err := canonical.Canonicalize(el)
	if err != nil {
		return ""
	}
	return text
}

// byID indexes tracked objects for lookup after matching.
func byID(objs []trackedObject) map[string]any {
	out := make(map[string]any, len(objs))
	for _, obj := range objs {
		out[obj.ID] = obj.Value
	}
	return out
}

// orderOf returns the id sequence of a collection in input order, used
// to detect pure reorders that an id-set match would miss.
func orderOf(objs []trackedObject) []string {
	out := make([]string, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.ID)
	}
	return out
}
