package ir

// Resource represents a single declared infrastructure resource.
type Resource struct {
	Name       string         `json:"name"` // stable logical name, unique within a Config
	Kind       string         `json:"kind"` // e.g., "aws:EC2.Subnet"
	Lifecycle  *Lifecycle     `json:"lifecycle,omitempty"`
	DependsOn  []string       `json:"dependsOn,omitempty"`
	Properties map[string]any `json:"properties"` // literals, Refs, nested maps and slices
}

type Lifecycle struct {
	PreventDestroy bool     `json:"preventDestroy"`
	IgnoreChanges  []string `json:"ignoreChanges"`
}

// Provider returns the provider prefix of the resource kind ("aws" for "aws:EC2.Vpc").
func (r *Resource) Provider() string {
	return KindProvider(r.Kind)
}

// KindProvider returns the provider prefix of a kind.
func KindProvider(kind string) string {
	for i := 0; i < len(kind); i++ {
		if kind[i] == ':' {
			return kind[:i]
		}
	}
	return kind
}
