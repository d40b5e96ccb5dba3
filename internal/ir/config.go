package ir

// Config is one declaration set: the resources of a reconciliation pass and the
// outputs exported from them.
type Config struct {
	Resources []*Resource           `json:"resources"`
	Outputs   map[string]OutputSpec `json:"outputs"`
}

// OutputSpec is either a reference to a node attribute or a literal value.
type OutputSpec struct {
	Ref   *Ref `json:"ref,omitempty"`
	Value any  `json:"value,omitempty"`
}

// OutputRef exports an attribute of a declared resource.
func OutputRef(res *Resource, attr string) OutputSpec {
	r := RefTo(res, attr)
	return OutputSpec{Ref: &r}
}

// OutputValue exports a literal value.
func OutputValue(v any) OutputSpec {
	return OutputSpec{Value: v}
}
