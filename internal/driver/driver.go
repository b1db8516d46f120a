// Package driver reads tables from data sources and writes them to sinks.
//
// Concrete drivers register themselves from init; import
// dataflow/internal/driver/all to enable every built-in type.
package driver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"dataflow/internal/common"
	"dataflow/internal/objectstore"
	"dataflow/pkg/table"
)

// Source types as stored on a data source row.
const (
	TypeRelational = "relational"
	TypeWarehouse  = "warehouse"
	TypeCSV        = "csv"
)

// MaxWarehouseRows caps reads against the warehouse.
const MaxWarehouseRows = 50000

type WriteOptions struct {
	// Replace drops and recreates the destination before writing.
	Replace bool
	// QuotedNewlines marks CSV payloads whose quoted fields contain newlines.
	QuotedNewlines bool
}

// Driver is an open handle on one data source. Close must be called on
// every exit path.
type Driver interface {
	// Read returns every row of entity. A statement starting with SELECT is
	// executed verbatim, anything else is treated as a table identifier.
	Read(ctx context.Context, entity string) (*table.Table, error)
	Write(ctx context.Context, t *table.Table, destination string, opts WriteOptions) error
	Close() error
}

type Config struct {
	Type             string
	ConnectionString string
	Database         string
}

// Deps carries shared services drivers may need.
type Deps struct {
	Store objectstore.Storage
}

type Factory func(ctx context.Context, cfg Config, deps Deps) (Driver, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a driver type available to Open. Registering a type twice panics.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("driver: Register called twice for " + kind)
	}
	factories[kind] = f
}

func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Open constructs the driver for cfg.Type.
func Open(ctx context.Context, cfg Config, deps Deps) (Driver, error) {
	mu.RLock()
	f, ok := factories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported source type %q", common.ErrConfiguration, cfg.Type)
	}
	return f(ctx, cfg, deps)
}

var selectRe = regexp.MustCompile(`(?i)^\s*SELECT\b`)

// IsSelect reports whether s is a query rather than an identifier.
func IsSelect(s string) bool {
	return selectRe.MatchString(s)
}

// TableNotFound wraps common.ErrTableNotFound with the offending entity.
func TableNotFound(entity string, cause error) error {
	return fmt.Errorf("%w: %s: %v", common.ErrTableNotFound, entity, cause)
}
