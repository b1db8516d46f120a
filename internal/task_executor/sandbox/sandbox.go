// Package sandbox runs transformation programs away from the worker's own
// state. Every executor sees the same narrow contract: a list of input
// tables plus an optional stream payload in, one table and captured stdout
// out.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"dataflow/internal/common"
	"dataflow/pkg/table"
)

type Program struct {
	Slug     string
	Language string
	// Source is the script body for python, the registered name for go.
	Source string
}

type Inputs struct {
	Tables []*table.Table
	// Stream is nil unless the execution was triggered by an inbound event.
	Stream json.RawMessage
}

func (in Inputs) HasStream() bool {
	return len(in.Stream) > 0 && string(in.Stream) != "null"
}

// Result of a program that ran. A non-empty Failure means the program
// itself failed and Output is nil.
type Result struct {
	Output  *table.Table
	Stdout  string
	Failure string
}

func (r *Result) Failed() bool {
	return r.Failure != ""
}

func failed(stdout, format string, args ...any) *Result {
	return &Result{Stdout: stdout, Failure: fmt.Sprintf(format, args...)}
}

// Executor runs one program. A returned error means the sandbox itself
// could not do its job (daemon down, workspace I/O) and the run may be
// retried.
type Executor interface {
	Execute(ctx context.Context, p Program, in Inputs) (*Result, error)
}

// Mux dispatches on Program.Language.
type Mux map[string]Executor

func (m Mux) Execute(ctx context.Context, p Program, in Inputs) (*Result, error) {
	e, ok := m[p.Language]
	if !ok {
		return nil, fmt.Errorf("%w: no executor for language %q", common.ErrConfiguration, p.Language)
	}
	return e.Execute(ctx, p, in)
}
