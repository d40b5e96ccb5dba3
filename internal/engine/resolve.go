package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/picklr-io/eksstack/internal/ir"
)

// resolveValue replaces every ir.Ref in v with the value lookup returns for it.
func resolveValue(v any, lookup func(ir.Ref) (any, error)) (any, error) {
	switch val := v.(type) {
	case ir.Ref:
		return lookup(val)
	case *ir.Ref:
		if val == nil {
			return nil, nil
		}
		return lookup(*val)
	case []ir.Ref:
		out := make([]any, len(val))
		for i, ref := range val {
			r, err := lookup(ref)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := resolveValue(item, lookup)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := resolveValue(item, lookup)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return val, nil
	}
}

func resolveProperties(props map[string]any, lookup func(ir.Ref) (any, error)) (map[string]any, error) {
	if props == nil {
		return map[string]any{}, nil
	}
	out, err := resolveValue(props, lookup)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// containsUnknown reports whether v holds ir.Unknown anywhere.
func containsUnknown(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		for _, item := range val {
			if containsUnknown(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if containsUnknown(item) {
				return true
			}
		}
	default:
		return ir.IsUnknown(v)
	}
	return false
}

// normalize round-trips props through JSON so values compare the same way
// whether they came from a declaration or from persisted state.
func normalize(props map[string]any) (map[string]any, error) {
	b, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// canonical renders v as JSON with sorted map keys.
func canonical(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%v", v))
	}
	return b
}

func equalValues(a, b any) bool {
	return bytes.Equal(canonical(a), canonical(b))
}

// valueAt looks up a dotted path through nested maps.
func valueAt(props map[string]any, path string) (any, bool) {
	var cur any = props
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// diffProperties compares prior inputs with resolved desired inputs. It
// returns the differing keys and whether any of them forces replacement.
func diffProperties(res *ir.Resource, pol Policy, prior, desired map[string]any) (map[string]*ir.PropertyDiff, bool) {
	keys := make(map[string]bool)
	for k := range prior {
		keys[k] = true
	}
	for k := range desired {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	diff := make(map[string]*ir.PropertyDiff)
	replace := false
	for _, k := range sorted {
		if ignored(res, k) {
			continue
		}
		before, inPrior := prior[k]
		after, inDesired := desired[k]
		if inPrior && inDesired && !containsUnknown(after) && equalValues(before, after) {
			continue
		}

		d := &ir.PropertyDiff{Before: before, After: after, Action: "update"}
		switch {
		case !inPrior:
			d.Action = "create"
		case !inDesired:
			d.Action = "delete"
		}
		for _, path := range pol.forceNewUnder(k) {
			b, _ := valueAt(prior, path)
			a, _ := valueAt(desired, path)
			if containsUnknown(a) || !equalValues(b, a) {
				d.ForcesReplacement = true
			}
		}
		if d.ForcesReplacement {
			replace = true
		}
		diff[k] = d
	}
	return diff, replace
}

func createDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			After:  v,
			Action: "create",
		}
	}
	return diff
}

func deleteDiff(props map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)
	for k, v := range props {
		diff[k] = &ir.PropertyDiff{
			Before: v,
			Action: "delete",
		}
	}
	return diff
}
