package differ

import (
	"strings"

	"github.com/tracelock/tracelock/pkg/types"
)

// classifier assigns each modification to one of the three fixed
// categories using the rule table below. The table is the whole rule
// set: classification is never inferred heuristically per run, so the
// same patch always classifies identically.
type classifier struct{}

// visibilityFields is the fixed set of field names whose modification is
// a data-visibility change.
var visibilityFields = map[string]bool{
	"permissions": true,
	"permission":  true,
	"visibility":  true,
	"access":      true,
	"acl":         true,
	"shared_with": true,
	"sharing":     true,
	"scopes":      true,
	"public":      true,
}

// classifyPatch reduces a patch to one classification:
//
//   - any op on a field in visibilityFields -> DATA_VISIBILITY_CHANGE;
//   - otherwise any add/remove op (shape changed) -> STRUCTURAL;
//   - otherwise -> CONFIG_CHANGE.
//
// When ops fall in more than one category the precedence is
// DATA_VISIBILITY_CHANGE, then STRUCTURAL, then CONFIG_CHANGE.
func (classifier) classifyPatch(patch []types.PatchOp) types.Classification {
	structural := false
	for _, op := range patch {
		if visibilityFields[lastSegment(op.Path)] {
			return types.ClassDataVisibility
		}
		if op.Op == "add" || op.Op == "remove" {
			structural = true
		}
	}
	if structural {
		return types.ClassStructural
	}
	return types.ClassConfigChange
}

// classifyExistence classifies added and removed tracked objects, which
// are always structural.
func (classifier) classifyExistence() types.Classification {
	return types.ClassStructural
}

// lastSegment returns the final field name of a dot path, with any
// array index stripped.
func lastSegment(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.Index(path, "["); i >= 0 {
		path = path[:i]
	}
	return path
}
