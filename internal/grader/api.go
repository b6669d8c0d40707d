// Package grader is the boundary to the external judge engine that runs a
// candidate source against test suites.
package grader

import (
	"context"

	"weldon/internal/problem"
)

// Engine executes source against tests. It must report one result per test
// it managed to run; missing tests are treated as failures by Runner.
type Engine interface {
	Run(ctx context.Context, req Request) (Outcome, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req Request) (Outcome, error)

// Run implements Engine.
func (f EngineFunc) Run(ctx context.Context, req Request) (Outcome, error) {
	return f(ctx, req)
}

// Request is one judge invocation.
type Request struct {
	// SourceName is the module name the tests import from.
	SourceName string
	Source     string
	Tests      []problem.Test
}

// Result is the verdict of one test.
type Result struct {
	Name      string           `json:"name"`
	Type      problem.TestType `json:"type"`
	Succeeded bool             `json:"succeeded"`
}

// Outcome is the full result of a run.
type Outcome struct {
	Results []Result `json:"results"`
	Trace   string   `json:"trace"`
}

// Passed counts succeeded results.
func (o Outcome) Passed() int {
	n := 0
	for _, r := range o.Results {
		if r.Succeeded {
			n++
		}
	}
	return n
}

// AllPassed reports whether every result succeeded.
func (o Outcome) AllPassed() bool {
	return o.Passed() == len(o.Results)
}
