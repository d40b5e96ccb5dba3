package engine

import (
	"errors"
	"sort"

	"github.com/picklr-io/eksstack/internal/ir"
)

// ResolveOutputs resolves each declared output against the final observed
// state. A reference resolves only when its source node ended created, updated
// or unchanged; nodes outside this run count as unchanged if they are
// observed. The returned map holds every output that did resolve.
func ResolveOutputs(specs map[string]ir.OutputSpec, report *ir.Report, store Store) (map[string]any, error) {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(specs))
	var errs []error
	for _, key := range keys {
		spec := specs[key]
		if spec.Ref == nil {
			out[key] = spec.Value
			continue
		}

		node := spec.Ref.Node
		observed, ok := store.Get(node)
		status := "absent"
		if r := resultFor(report, node); r != nil {
			status = string(r.Status)
		} else if ok {
			status = string(ir.StatusUnchanged)
		}

		switch ir.Status(status) {
		case ir.StatusCreated, ir.StatusUpdated, ir.StatusUnchanged:
		default:
			errs = append(errs, &UnresolvedOutputError{Key: key, Node: node, Status: status})
			continue
		}

		if !ok {
			errs = append(errs, &UnresolvedOutputError{Key: key, Node: node, Status: "absent"})
			continue
		}
		v, ok := observed.Outputs[spec.Ref.Attr]
		if !ok {
			errs = append(errs, &UnresolvedOutputError{Key: key, Node: node, Status: "missing attribute " + spec.Ref.Attr})
			continue
		}
		out[key] = v
	}

	return out, errors.Join(errs...)
}

func resultFor(report *ir.Report, addr string) *ir.NodeResult {
	if report == nil {
		return nil
	}
	return report.Result(addr)
}
