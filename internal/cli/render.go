package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/picklr-io/eksstack/internal/engine"
	"github.com/picklr-io/eksstack/internal/ir"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

// colorize returns code unless colors are disabled.
func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

func actionStyle(a ir.Action) (symbol, color string) {
	switch a {
	case ir.ActionCreate:
		return "+", colorGreen
	case ir.ActionDelete:
		return "-", colorRed
	case ir.ActionReplace:
		return "-/+", colorYellow
	case ir.ActionUpdate:
		return "~", colorYellow
	default:
		return " ", colorReset
	}
}

func kindOf(c *ir.ResourceChange) string {
	if c.Desired != nil {
		return c.Desired.Kind
	}
	if c.Prior != nil {
		return c.Prior.Kind
	}
	return ""
}

// renderPlanChanges prints every change other than noop with its property diff.
func renderPlanChanges(w io.Writer, plan *ir.Plan) {
	for _, change := range plan.Changes {
		if change.Action == ir.ActionNoop {
			continue
		}
		symbol, color := actionStyle(change.Action)
		c, reset := colorize(color), colorize(colorReset)

		note := ""
		if change.Action == ir.ActionReplace && change.Prior != nil && change.Prior.Tainted {
			note = " (tainted: its last create did not finish)"
		}
		fmt.Fprintf(w, "\n%s  # %s will be %s%s%s\n", c, change.Address, verb(change.Action), note, reset)
		fmt.Fprintf(w, "%s  %s %s %q {%s\n", c, symbol, kindOf(change), change.Address, reset)

		keys := make([]string, 0, len(change.Diff))
		for k := range change.Diff {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "      %s\n", renderDiff(k, change.Diff[k]))
		}
		fmt.Fprintf(w, "%s    }%s\n", c, reset)
	}
}

func verb(a ir.Action) string {
	switch a {
	case ir.ActionCreate:
		return "created"
	case ir.ActionUpdate:
		return "updated in-place"
	case ir.ActionReplace:
		return "replaced"
	case ir.ActionDelete:
		return "destroyed"
	}
	return string(a)
}

func renderDiff(key string, d *ir.PropertyDiff) string {
	var line string
	switch d.Action {
	case "create":
		line = fmt.Sprintf("+ %s = %s", key, formatValue(d.After))
	case "delete":
		line = fmt.Sprintf("- %s = %s", key, formatValue(d.Before))
	default:
		line = fmt.Sprintf("~ %s = %s -> %s", key, formatValue(d.Before), formatValue(d.After))
	}
	if d.ForcesReplacement {
		line += " # forces replacement"
	}
	return line
}

// formatValue renders a property value on one line. Values not yet known at
// plan time print as "(known after apply)".
func formatValue(v any) string {
	if ir.IsUnknown(v) {
		return "(known after apply)"
	}
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", val)
	case ir.Ref:
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func renderPlanSummary(w io.Writer, plan *ir.Plan) {
	s := plan.Summary
	fmt.Fprintf(w, "\n%sPlan:%s %d to add, %d to change, %d to replace, %d to destroy.\n",
		colorize(colorBold), colorize(colorReset), s.Create, s.Update, s.Replace, s.Delete)
}

// progress prints apply events as they arrive from concurrent workers.
type progress struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *progress) event(ev engine.ApplyEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Status {
	case "started":
		fmt.Fprintf(p.w, "%s: %s...\n", ev.Address, ev.Action)
	case "completed":
		fmt.Fprintf(p.w, "%s%s: %s complete after %s%s\n",
			colorize(colorGreen), ev.Address, ev.Action, ev.Duration.Round(time.Second), colorize(colorReset))
	case "failed":
		fmt.Fprintf(p.w, "%s%s: %s failed: %v%s\n",
			colorize(colorRed), ev.Address, ev.Action, ev.Error, colorize(colorReset))
	case "skipped":
		fmt.Fprintf(p.w, "%s%s: skipped, blocked by %s%s\n",
			colorize(colorYellow), ev.Address, ev.Blocker, colorize(colorReset))
	}
}

// renderReport prints the counts per terminal status and lists failed and
// skipped nodes.
func renderReport(w io.Writer, report *ir.Report) {
	fmt.Fprintf(w, "\nResources: %d created, %d updated, %d deleted, %d unchanged, %d failed, %d skipped.\n",
		report.Count(ir.StatusCreated),
		report.Count(ir.StatusUpdated),
		report.Count(ir.StatusDeleted),
		report.Count(ir.StatusUnchanged),
		report.Count(ir.StatusFailed),
		report.Count(ir.StatusSkipped),
	)
	for _, res := range report.Results {
		if res.Status == ir.StatusFailed || res.Status == ir.StatusSkipped {
			fmt.Fprintf(w, "%s  %s%s\n", colorize(colorRed), res, colorize(colorReset))
		}
	}
}

func renderOutputs(w io.Writer, outputs map[string]any) {
	if len(outputs) == 0 {
		return
	}
	keys := make([]string, 0, len(outputs))
	width := 0
	for k := range outputs {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "\nOutputs:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s%s = %s\n", k, strings.Repeat(" ", width-len(k)), formatValue(outputs[k]))
	}
}
