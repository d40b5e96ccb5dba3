package engine

import (
	"context"

	"github.com/picklr-io/eksstack/internal/ir"
)

// skippedCancelled is the blocker recorded for nodes never dispatched because
// the run was cancelled.
const skippedCancelled = "cancelled"

// schedule runs changes on a bounded worker pool. A change is dispatched once
// every change it waits for has succeeded. If one fails, everything waiting on
// it, directly or transitively, is skipped with the failed node as blocker.
// Changes in blocked never run; their dependents are skipped with the mapped
// blocker and the caller supplies their results.
//
// Readiness counters are owned by the calling goroutine alone; workers only
// run changes and report back.
func (e *Engine) schedule(
	ctx context.Context,
	changes []*ir.ResourceChange,
	waitFor func(*ir.ResourceChange) []string,
	run func(context.Context, *ir.ResourceChange) *ir.NodeResult,
	emit func(ApplyEvent),
	blocked map[string]string,
) map[string]*ir.NodeResult {
	results := make(map[string]*ir.NodeResult, len(changes))
	if len(changes) == 0 {
		return results
	}

	index := make(map[string]int, len(changes))
	for i, c := range changes {
		index[c.Address] = i
	}

	remaining := make(map[string]int, len(changes))
	unblocks := make(map[string][]string)
	for _, c := range changes {
		for _, w := range waitFor(c) {
			if _, ok := index[w]; !ok || w == c.Address {
				continue
			}
			remaining[c.Address]++
			unblocks[w] = append(unblocks[w], c.Address)
		}
	}

	skip := func(from, blocker string) {
		queue := []string{from}
		for len(queue) > 0 {
			addr := queue[0]
			queue = queue[1:]
			for _, dep := range unblocks[addr] {
				if _, finished := results[dep]; finished {
					continue
				}
				c := changes[index[dep]]
				r := &ir.NodeResult{
					Address: dep,
					Kind:    changeKind(c),
					Action:  c.Action,
					Status:  ir.StatusSkipped,
					Blocker: blocker,
				}
				results[dep] = r
				emit(ApplyEvent{Address: dep, Action: string(c.Action), Status: "skipped", Blocker: blocker})
				queue = append(queue, dep)
			}
		}
	}

	for _, c := range changes {
		if blocker, ok := blocked[c.Address]; ok {
			results[c.Address] = &ir.NodeResult{
				Address: c.Address,
				Kind:    changeKind(c),
				Action:  c.Action,
				Status:  ir.StatusSkipped,
				Blocker: blocker,
			}
		}
	}
	for _, c := range changes {
		if blocker, ok := blocked[c.Address]; ok {
			skip(c.Address, blocker)
		}
	}

	var ready []int
	for i, c := range changes {
		if _, finished := results[c.Address]; !finished && remaining[c.Address] == 0 {
			ready = append(ready, i)
		}
	}

	workers := e.Parallelism
	if workers <= 0 {
		workers = defaultParallelism
	}
	if workers > len(changes) {
		workers = len(changes)
	}

	jobs := make(chan *ir.ResourceChange)
	done := make(chan *ir.NodeResult, workers)
	for i := 0; i < workers; i++ {
		go func() {
			for c := range jobs {
				done <- run(ctx, c)
			}
		}()
	}
	defer close(jobs)

	inflight := 0
	for {
		for ctx.Err() == nil && len(ready) > 0 && inflight < workers {
			c := changes[ready[0]]
			ready = ready[1:]
			emit(ApplyEvent{Address: c.Address, Action: string(c.Action), Status: "started"})
			jobs <- c
			inflight++
		}
		if inflight == 0 {
			break
		}

		r := <-done
		inflight--
		results[r.Address] = r

		if !r.Status.Succeeded() {
			skip(r.Address, r.Address)
			continue
		}
		for _, dep := range unblocks[r.Address] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = insertSorted(ready, index[dep])
			}
		}
	}

	for _, c := range changes {
		if _, finished := results[c.Address]; finished {
			continue
		}
		results[c.Address] = &ir.NodeResult{
			Address: c.Address,
			Kind:    changeKind(c),
			Action:  c.Action,
			Status:  ir.StatusSkipped,
			Blocker: skippedCancelled,
		}
		emit(ApplyEvent{Address: c.Address, Action: string(c.Action), Status: "skipped", Blocker: skippedCancelled})
	}
	return results
}

// insertSorted keeps the ready queue in plan order.
func insertSorted(queue []int, i int) []int {
	pos := len(queue)
	for j, v := range queue {
		if v > i {
			pos = j
			break
		}
	}
	queue = append(queue, 0)
	copy(queue[pos+1:], queue[pos:])
	queue[pos] = i
	return queue
}

func changeKind(c *ir.ResourceChange) string {
	if c.Desired != nil {
		return c.Desired.Kind
	}
	if c.Prior != nil {
		return c.Prior.Kind
	}
	return ""
}
