// Package eval renders Pkl settings modules into JSON text.
package eval

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"
)

// Evaluator renders Pkl modules relative to a base directory.
type Evaluator struct {
	baseDir    string
	properties map[string]string
}

func NewEvaluator(baseDir string) *Evaluator {
	return &Evaluator{
		baseDir: baseDir,
	}
}

// WithProperties sets external properties readable from Pkl via read("prop:name").
func (e *Evaluator) WithProperties(props map[string]string) *Evaluator {
	e.properties = maps.Clone(props)
	return e
}

// RenderJSON evaluates the module and returns its JSON rendering.
func (e *Evaluator) RenderJSON(ctx context.Context, module string) (string, error) {
	path := module
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.baseDir, module)
	}

	opts := []func(*pkl.EvaluatorOptions){
		pkl.PreconfiguredOptions,
		func(o *pkl.EvaluatorOptions) {
			o.OutputFormat = "json"
			if len(e.properties) > 0 {
				if o.Properties == nil {
					o.Properties = make(map[string]string)
				}
				maps.Copy(o.Properties, e.properties)
			}
		},
	}

	evaluator, err := pkl.NewEvaluator(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	out, err := evaluator.EvaluateOutputText(ctx, pkl.FileSource(path))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate %s: %w", module, err)
	}
	return out, nil
}
