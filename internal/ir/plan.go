package ir

// Action is the change computed for one node.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDelete  Action = "delete"
	ActionNoop    Action = "noop"
)

// Plan represents a calculated execution plan.
type Plan struct {
	Metadata *PlanMetadata         `json:"metadata"`
	Changes  []*ResourceChange     `json:"changes"` // creation order, then deletes
	Summary  *PlanSummary          `json:"summary"`
	Outputs  map[string]OutputSpec `json:"outputs"`
}

type PlanMetadata struct {
	Timestamp string `json:"timestamp"`
	Lineage   string `json:"lineage"`
	Serial    int    `json:"serial"`
}

type ResourceChange struct {
	Address      string                   `json:"address"`
	Action       Action                   `json:"action"`
	Desired      *Resource                `json:"resource,omitempty"`
	Prior        *ResourceState           `json:"prior,omitempty"`
	Dependencies []string                 `json:"dependencies"`
	Diff         map[string]*PropertyDiff `json:"diff,omitempty"`
}

type PropertyDiff struct {
	Before            any    `json:"before"`
	After             any    `json:"after"`
	ForcesReplacement bool   `json:"forcesReplacement"`
	Action            string `json:"action"` // "create", "update", "delete"
}

type PlanSummary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Replace int `json:"replace"`
	NoOp    int `json:"noop"`
}

// HasChanges reports whether any change other than noop is planned.
func (p *Plan) HasChanges() bool {
	for _, c := range p.Changes {
		if c.Action != ActionNoop {
			return true
		}
	}
	return false
}
