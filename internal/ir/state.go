package ir

// State represents the persistent observed state.
type State struct {
	Version   int              `json:"version"`
	Serial    int              `json:"serial"`
	Lineage   string           `json:"lineage"`
	Resources []*ResourceState `json:"resources"`
	Outputs   map[string]any   `json:"outputs"`
}

// ResourceState is the last-known physical state of one node.
type ResourceState struct {
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	Inputs       map[string]any `json:"inputs"`  // resolved inputs last applied
	Outputs      map[string]any `json:"outputs"` // provider returned, includes "id"
	Dependencies []string       `json:"dependencies"`
	UpdatedAt    string         `json:"updatedAt"`

	// Tainted marks an object created by a Create that did not finish.
	// The next plan replaces it.
	Tainted bool `json:"tainted,omitempty"`
}

// Find returns the state of the named resource, or nil.
func (s *State) Find(name string) *ResourceState {
	for _, res := range s.Resources {
		if res.Name == name {
			return res
		}
	}
	return nil
}
