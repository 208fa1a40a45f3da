package differ

import (
	"fmt"
	"sort"

	"github.com/tracelock/tracelock/internal/canonical"
	"github.com/tracelock/tracelock/pkg/types"
)

// comparer builds structural patches between two canonicalized values.
// All comparisons go through canonical text so the notion of "equal"
// here is exactly the notion the hash engine uses.
type comparer struct{}

// equal reports whether two values have identical canonical forms.
func (c comparer) equal(before, after any) bool {
	bt, err1 := canonical.Canonicalize(before)
	at, err2 := canonical.Canonicalize(after)
	if err1 != nil || err2 != nil {
		return false
	}
	return bt == at
}

// patch computes the ordered patch transforming before into after.
func (c comparer) patch(before, after any) []types.PatchOp {
	return c.diffValue("", before, after)
}

func (c comparer) diffValue(path string, before, after any) []types.PatchOp {
	if c.equal(before, after) {
		return nil
	}

	beforeMap, beforeIsMap := asMap(before)
	afterMap, afterIsMap := asMap(after)
	if beforeIsMap && afterIsMap {
		return c.diffMap(path, beforeMap, afterMap)
	}

	beforeArr, beforeIsArr := asArray(before)
	afterArr, afterIsArr := asArray(after)
	if beforeIsArr && afterIsArr {
		return c.diffArray(path, beforeArr, afterArr)
	}

	// Scalar-level or type-level difference: a single replace.
	return []types.PatchOp{{Op: "replace", Path: path, From: before, To: after}}
}

func (c comparer) diffMap(path string, before, after map[string]any) []types.PatchOp {
	var ops []types.PatchOp

	keys := make([]string, 0, len(before)+len(after))
	seen := map[string]bool{}
	for k := range before {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range after {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		childPath := joinPath(path, k)
		beforeVal, inBefore := before[k]
		afterVal, inAfter := after[k]
		switch {
		case inBefore && !inAfter:
			ops = append(ops, types.PatchOp{Op: "remove", Path: childPath, From: beforeVal})
		case !inBefore && inAfter:
			ops = append(ops, types.PatchOp{Op: "add", Path: childPath, To: afterVal})
		default:
			ops = append(ops, c.diffValue(childPath, beforeVal, afterVal)...)
		}
	}
	return ops
}

// diffArray compares arrays positionally. Array order is semantically
// significant and never normalized: an element moved to a new position
// is a difference, by design.
func (c comparer) diffArray(path string, before, after []any) []types.PatchOp {
	var ops []types.PatchOp
	shared := len(before)
	if len(after) < shared {
		shared = len(after)
	}
	for i := 0; i < shared; i++ {
		ops = append(ops, c.diffValue(fmt.Sprintf("%s[%d]", path, i), before[i], after[i])...)
	}
	for i := shared; i < len(before); i++ {
		ops = append(ops, types.PatchOp{Op: "remove", Path: fmt.Sprintf("%s[%d]", path, i), From: before[i]})
	}
	for i := shared; i < len(after); i++ {
		ops = append(ops, types.PatchOp{Op: "add", Path: fmt.Sprintf("%s[%d]", path, i), To: after[i]})
	}
	return ops
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asArray(v any) ([]any, bool) {
	a, ok := v.([]any)
	return a, ok
}
