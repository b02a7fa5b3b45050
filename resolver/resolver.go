// Package resolver implements the `{{path}}` variable-reference grammar:
// lookups into params, an allowlisted slice of environment variables,
// engine builtins (timestamp, workflow.id, workflow.name), and prior step
// outputs, plus whole-string typed substitution vs. in-string interpolation.
//
// The grammar is deliberately narrow — a path expression, not a general
// expression language. Arithmetic, function calls beyond `default(...)`,
// and conditionals belong to package condition (CEL), not here.
package resolver

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// exprPattern matches non-nested {{...}} occurrences. Paths and literals in
// this grammar never contain "}}", so a non-greedy match is sufficient.
var exprPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)

// Namespaces is the read-only view resolver is given to look up references
// against. It deliberately has no fields for private/secrets layers: a path
// that resolves into either behaves as missing, enforcing the
// forbidden-access semantics structurally rather than with a runtime check.
type Namespaces struct {
	Params   map[string]interface{}
	Env      map[string]string
	Builtins map[string]interface{} // "timestamp", "workflow" -> {"id":..,"name":..}
	Steps    map[string]interface{} // node id / output alias -> step output data

	// Strict makes an unresolved {{path}} a resolution error instead of the
	// default null-on-missing behavior (§4.2: "unless strict mode is
	// requested"). A `| default(...)` clause still takes precedence over
	// strict mode, the same as it does over the default null.
	Strict bool
}

// IsExprOnly reports whether s is, in its entirety, a single {{...}} with no
// surrounding text — the case where resolution must preserve the value's
// native type instead of stringifying it.
func IsExprOnly(s string) bool {
	m := exprPattern.FindStringSubmatchIndex(s)
	return m != nil && m[0] == 0 && m[1] == len(s)
}

// ResolveValue recursively walks a params/config value, resolving every
// string it finds and leaving maps/slices/scalars otherwise structurally
// intact.
func ResolveValue(v interface{}, ns Namespaces) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return ResolveString(val, ns)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, sub := range val {
			rv, err := ResolveValue(sub, ns)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			rv, err := ResolveValue(sub, ns)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString resolves every {{...}} occurrence in s. When s is exactly
// one expression, the resolved value's native type is returned (as
// interface{} but callers typically know to treat the result as typed);
// when s contains surrounding text, every match is stringified and spliced
// in.
func ResolveString(s string, ns Namespaces) (interface{}, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	if IsExprOnly(s) {
		inner := s[2 : len(s)-2]
		return resolveExprBody(inner, ns)
	}

	var resolveErr error
	result := exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		if resolveErr != nil {
			return match
		}
		inner := match[2 : len(match)-2]
		v, err := resolveExprBody(inner, ns)
		if err != nil {
			resolveErr = err
			return match
		}
		return stringify(v)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return result, nil
}

func resolveExprBody(body string, ns Namespaces) (interface{}, error) {
	pe, err := parseExprBody(body)
	if err != nil {
		return nil, err
	}
	v, found := resolvePath(pe.path, ns)
	if !found || v == nil {
		if pe.hasDefault {
			return pe.defaultValue, nil
		}
		if ns.Strict {
			return nil, fmt.Errorf("strict mode: unresolved variable reference %q", body)
		}
		return nil, nil
	}
	return v, nil
}

// resolvePath interprets the first segment as a namespace selector and
// drills into the rest. Any path that does not land in a known namespace —
// including references to private/secrets layers, which Namespaces never
// carries — resolves to null rather than an error.
func resolvePath(segs []segment, ns Namespaces) (interface{}, bool) {
	if len(segs) == 0 {
		return nil, false
	}
	head := segs[0]

	switch head.name {
	case "params":
		return lookupChain(ns.Params, segs[1:])
	case "env":
		if len(segs) < 2 || segs[1].hasIndex {
			return nil, false
		}
		v, ok := ns.Env[segs[1].name]
		if !ok {
			return nil, false
		}
		return lookupChain(v, segs[2:])
	case "timestamp":
		if len(segs) > 1 {
			return nil, false
		}
		v, ok := ns.Builtins["timestamp"]
		return v, ok
	case "workflow":
		wf, ok := ns.Builtins["workflow"].(map[string]interface{})
		if !ok {
			return nil, false
		}
		return lookupChain(wf, segs[1:])
	default:
		step, ok := ns.Steps[head.name]
		if !ok {
			return nil, false
		}
		rest := segs[1:]
		if head.hasIndex {
			rest = append([]segment{{hasIndex: head.hasIndex, intIndex: head.intIndex, strIndex: head.strIndex, isStrIdx: head.isStrIdx}}, rest...)
		}
		return lookupChain(step, rest)
	}
}

// lookupChain drills `segs` into root. Each segment first selects a map key
// (if seg.name is non-empty) then, if the segment carries a bracket index,
// further selects an array element or a quoted map key.
func lookupChain(root interface{}, segs []segment) (interface{}, bool) {
	cur := root
	for _, seg := range segs {
		if seg.name != "" {
			next, ok := stepInto(cur, seg.name)
			if !ok {
				return nil, false
			}
			cur = next
		}
		if seg.hasIndex {
			if seg.isStrIdx {
				next, ok := stepInto(cur, seg.strIndex)
				if !ok {
					return nil, false
				}
				cur = next
			} else {
				arr, ok := asArray(cur)
				if !ok || seg.intIndex < 0 || seg.intIndex >= len(arr) {
					return nil, false
				}
				cur = arr[seg.intIndex]
			}
		}
	}
	return cur, true
}

// stepInto resolves one map-key access, transparently decoding raw JSON
// (json.RawMessage or a string/[]byte holding a JSON document) via gjson so
// step outputs passed through from a plugin without a full unmarshal can
// still be drilled into lazily.
func stepInto(cur interface{}, key string) (interface{}, bool) {
	switch c := cur.(type) {
	case map[string]interface{}:
		v, ok := c[key]
		return v, ok
	case json.RawMessage:
		return gjsonStep(string(c), key)
	case []byte:
		return gjsonStep(string(c), key)
	default:
		return nil, false
	}
}

func gjsonStep(raw string, key string) (interface{}, bool) {
	res := gjson.Get(raw, gjson.Escape(key))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

func asArray(cur interface{}) ([]interface{}, bool) {
	switch c := cur.(type) {
	case []interface{}:
		return c, true
	case json.RawMessage:
		var arr []interface{}
		if err := json.Unmarshal(c, &arr); err != nil {
			return nil, false
		}
		return arr, true
	default:
		return nil, false
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
