package canonical

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Canonicalize produces the single deterministic textual form of a
// structured value. The form is the sole input to hashing, so its rules
// are the contract:
//
//   - scalars use a fixed, locale-independent spelling: null, true,
//     false, shortest-round-trip decimal numbers (equal numeric values
//     always render identically), JSON-escaped strings;
//   - arrays preserve input order. Order is semantically significant and
//     deliberately not normalized: a reordered array is a different
//     value, and downstream drift semantics depend on that;
//   - object keys are sorted lexicographically regardless of insertion
//     order;
//   - no whitespace is emitted anywhere.
//
// The function is total over the payload and bundle shapes used in this
// core: nil, nested structures, and arbitrary Unicode all canonicalize
// without error. Structs are first normalized through their JSON field
// mapping.
func Canonicalize(v any) (string, error) {
	node, err := normalize(v)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := writeValue(&sb, node); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// normalize reduces an arbitrary Go value to the small tree of types the
// writer understands (nil, bool, json.Number, string, []any,
// map[string]any). Values that are not already in that set are passed
// through encoding/json so struct tags and custom marshalers apply.
func normalize(v any) (any, error) {
	switch tv := v.(type) {
	case nil, bool, string, json.Number:
		return tv, nil
	case int:
		return json.Number(strconv.FormatInt(int64(tv), 10)), nil
	case int32:
		return json.Number(strconv.FormatInt(int64(tv), 10)), nil
	case int64:
		return json.Number(strconv.FormatInt(tv, 10)), nil
	case float32:
		return json.Number(formatFloat(float64(tv))), nil
	case float64:
		return json.Number(formatFloat(tv)), nil
	case []any:
		out := make([]any, len(tv))
		for i, el := range tv {
			n, err := normalize(el)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, el := range tv {
			n, err := normalize(el)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("value of type %T cannot be canonicalized: %w", v, err)
		}
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		var decoded any
		if err := dec.Decode(&decoded); err != nil {
			return nil, fmt.Errorf("re-decoding %T for canonicalization: %w", v, err)
		}
		return normalize(decoded)
	}
}

func writeValue(sb *strings.Builder, v any) error {
	switch tv := v.(type) {
	case nil:
		sb.WriteString("null")
	case bool:
		if tv {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case json.Number:
		sb.WriteString(canonicalNumber(tv))
	case string:
		writeString(sb, tv)
	case []any:
		sb.WriteByte('[')
		for i, el := range tv {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeValue(sb, el); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeString(sb, k)
			sb.WriteByte(':')
			if err := writeValue(sb, tv[k]); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	default:
		return fmt.Errorf("unexpected normalized type %T", v)
	}
	return nil
}

// canonicalNumber renders a number so that numerically equal values
// produce identical text: integral values print as plain base-10
// integers (1.0 and 1 both render "1"), everything else prints in the
// shortest form that round-trips a float64.
func canonicalNumber(n json.Number) string {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		// Already an integer literal; strip a redundant plus sign and
		// leading zeros by round-tripping through int64 when possible.
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return formatFloat(f)
}

// maxExactInt is 2^53, the bound of the exact-integer range of float64.
// Integral values inside it render as plain integers so the float and
// integer spellings of the same number canonicalize identically.
const maxExactInt = 1 << 53

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < maxExactInt {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// writeString emits a JSON string with a fixed escaping policy: the two
// mandatory escapes, short forms for common controls, \u00XX for other
// controls, and raw UTF-8 for everything else. Invalid UTF-8 bytes are
// replaced with U+FFFD so the function stays total.
func writeString(sb *strings.Builder, s string) {
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else if r == utf8.RuneError {
				sb.WriteRune(utf8.RuneError)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
}
