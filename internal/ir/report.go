package ir

import (
	"fmt"
	"time"
)

// Status is the terminal status of a node after one reconciliation run.
type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusDeleted   Status = "deleted"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Succeeded reports whether the node reached a successful terminal state.
func (s Status) Succeeded() bool {
	switch s {
	case StatusCreated, StatusUpdated, StatusUnchanged, StatusDeleted:
		return true
	}
	return false
}

// NodeResult is the outcome of one node.
type NodeResult struct {
	Address  string        `json:"address"`
	Kind     string        `json:"kind"`
	Action   Action        `json:"action"`
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`    // failure reason
	Blocker  string        `json:"blockedBy,omitempty"` // first failed ancestor for skipped nodes
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

func (r *NodeResult) String() string {
	switch r.Status {
	case StatusFailed:
		return fmt.Sprintf("%s: failed: %s", r.Address, r.Reason)
	case StatusSkipped:
		return fmt.Sprintf("%s: skipped: %s", r.Address, r.Blocker)
	default:
		return fmt.Sprintf("%s: %s", r.Address, r.Status)
	}
}

// Report collects the terminal status of every node in a run.
type Report struct {
	Results []*NodeResult  `json:"results"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// Result returns the result for addr, or nil.
func (r *Report) Result(addr string) *NodeResult {
	for _, res := range r.Results {
		if res.Address == addr {
			return res
		}
	}
	return nil
}

// Failed returns the failed node results.
func (r *Report) Failed() []*NodeResult {
	var out []*NodeResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Count returns how many nodes finished with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}
