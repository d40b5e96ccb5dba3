package ir

import "fmt"

// Ref is a typed reference to an output attribute of another declared resource.
// A Ref inside a resource's properties is both the value and the dependency edge.
type Ref struct {
	Node string `json:"node"`
	Attr string `json:"attr"`
}

// RefTo builds a reference to attr of res. Taking the resource value rather than
// a name ties every reference to a node that was actually declared.
func RefTo(res *Resource, attr string) Ref {
	return Ref{Node: res.Name, Attr: attr}
}

func (r Ref) String() string {
	return fmt.Sprintf("%s.%s", r.Node, r.Attr)
}

// unknown marks a value that only becomes known once apply reaches its source node.
type unknown struct{}

func (unknown) String() string { return "(known after apply)" }

// MarshalJSON keeps unknown values stable when plans are rendered as JSON.
func (unknown) MarshalJSON() ([]byte, error) {
	return []byte(`"(known after apply)"`), nil
}

// Unknown is the placeholder substituted for refs whose source is not yet applied.
var Unknown any = unknown{}

// IsUnknown reports whether v is the Unknown placeholder.
func IsUnknown(v any) bool {
	_, ok := v.(unknown)
	return ok
}

// Refs returns every Ref contained in v, walking maps and slices.
func Refs(v any) []Ref {
	var refs []Ref
	switch val := v.(type) {
	case Ref:
		refs = append(refs, val)
	case *Ref:
		if val != nil {
			refs = append(refs, *val)
		}
	case map[string]any:
		for _, item := range val {
			refs = append(refs, Refs(item)...)
		}
	case []any:
		for _, item := range val {
			refs = append(refs, Refs(item)...)
		}
	case []Ref:
		refs = append(refs, val...)
	}
	return refs
}
