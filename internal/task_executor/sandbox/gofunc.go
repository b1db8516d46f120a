package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"dataflow/pkg/table"
)

// Func is a transformation compiled into the worker. Arity is the number
// of leading input tables it takes; zero means all of them.
type Func struct {
	Arity  int
	Stream bool
	Run    func(ctx context.Context, out io.Writer, tables []*table.Table, stream any) (*table.Table, error)
}

var (
	funcsMu sync.RWMutex
	funcs   = map[string]Func{}
)

// Register makes f available to transformations whose go script names it.
// It panics on a duplicate name.
func Register(name string, f Func) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	if f.Run == nil {
		panic("sandbox: Register func is nil for " + name)
	}
	if _, dup := funcs[name]; dup {
		panic("sandbox: Register called twice for " + name)
	}
	funcs[name] = f
}

func Lookup(name string) (Func, bool) {
	funcsMu.RLock()
	defer funcsMu.RUnlock()
	f, ok := funcs[name]
	return f, ok
}

func Registered() []string {
	funcsMu.RLock()
	defer funcsMu.RUnlock()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GoFuncs executes registered Funcs in-process.
type GoFuncs struct{}

func (GoFuncs) Execute(ctx context.Context, p Program, in Inputs) (res *Result, err error) {
	name := strings.TrimSpace(p.Source)
	f, ok := Lookup(name)
	if !ok {
		return failed("", "no go transformation registered as %q", name), nil
	}

	var stream any
	if in.HasStream() {
		if !f.Stream {
			return failed("", "script needs a stream parameter"), nil
		}
		if err := json.Unmarshal(in.Stream, &stream); err != nil {
			return failed("", "decode stream payload: %v", err), nil
		}
	}

	arity := f.Arity
	if arity == 0 {
		arity = len(in.Tables)
	}
	if arity < 1 {
		return failed("", "run must accept at least one table"), nil
	}
	if arity > len(in.Tables) {
		return failed("", "run expects %d tables, only %d available", arity, len(in.Tables)), nil
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "Starting %s: with %d tables -> (%d rows)\n", p.Slug, len(in.Tables), in.Tables[0].Len())
	defer func() {
		if r := recover(); r != nil {
			res = failed(out.String(), "panic: %v\n\n%s", r, debug.Stack())
			err = nil
		}
	}()

	output, runErr := f.Run(ctx, &out, in.Tables[:arity], stream)
	if runErr != nil {
		return failed(out.String(), "%+v", runErr), nil
	}
	if output == nil {
		return failed(out.String(), "run returned no table"), nil
	}
	fmt.Fprintf(&out, "Ended transformation %s: output -> (%d rows)\n", p.Slug, output.Len())
	return &Result{Output: output, Stdout: out.String()}, nil
}
