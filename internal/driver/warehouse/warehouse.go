// Package warehouse is the analytical store driver backed by DuckDB.
//
// Writes go through object storage: the table is staged as CSV and then
// loaded with a blocking load job, mirroring how cloud warehouses ingest.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dataflow/internal/common"
	"dataflow/internal/driver"
	"dataflow/internal/objectstore"
	"dataflow/pkg/table"

	"github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"
)

func init() {
	driver.Register(driver.TypeWarehouse, func(ctx context.Context, cfg driver.Config, deps driver.Deps) (driver.Driver, error) {
		return Open(ctx, cfg.ConnectionString, cfg.Database, deps.Store)
	})
}

var columnTypes = map[table.Kind]string{
	table.KindInt:    "BIGINT",
	table.KindFloat:  "DOUBLE",
	table.KindBool:   "BOOLEAN",
	table.KindTime:   "TIMESTAMPTZ",
	table.KindString: "VARCHAR",
}

type Driver struct {
	db     *sql.DB
	schema string
	store  objectstore.Storage
}

var _ driver.Driver = (*Driver)(nil)

// Open attaches the DuckDB file at path (":memory:" or "" for in-memory).
// schema qualifies bare identifiers, like a dataset does.
func Open(ctx context.Context, path, schema string, store objectstore.Storage) (*Driver, error) {
	path = strings.TrimPrefix(path, "duckdb://")
	if path == ":memory:" {
		path = ""
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("%w: duckdb: %v", common.ErrSourceUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: duckdb: %v", common.ErrSourceUnavailable, err)
	}
	// a single connection keeps in-memory databases consistent across calls
	db.SetMaxOpenConns(1)
	return &Driver{db: db, schema: schema, store: store}, nil
}

func (w *Driver) Close() error {
	return w.db.Close()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (w *Driver) ident(name string) string {
	if strings.Contains(name, ".") || w.schema == "" {
		parts := strings.Split(name, ".")
		for i, p := range parts {
			parts[i] = quote(p)
		}
		return strings.Join(parts, ".")
	}
	return quote(w.schema) + "." + quote(name)
}

func isMissing(err error) bool {
	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) && duckErr.Type == duckdb.ErrorTypeCatalog {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "does not exist")
}

// Read returns the most recent MaxWarehouseRows rows of an identifier in
// insertion order, or runs a query capped at the same limit.
func (w *Driver) Read(ctx context.Context, entity string) (*table.Table, error) {
	var query string
	if driver.IsSelect(entity) {
		query = fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(entity), ";"), driver.MaxWarehouseRows)
	} else {
		ident := w.ident(entity)
		var total int64
		if err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+ident).Scan(&total); err != nil {
			if isMissing(err) {
				return nil, driver.TableNotFound(entity, err)
			}
			return nil, fmt.Errorf("warehouse: count %s: %w", entity, err)
		}
		offset := max(int64(0), total-driver.MaxWarehouseRows)
		query = fmt.Sprintf("SELECT * FROM %s LIMIT %d OFFSET %d", ident, driver.MaxWarehouseRows, offset)
	}

	rows, err := w.db.QueryContext(ctx, query)
	if err != nil {
		if isMissing(err) {
			return nil, driver.TableNotFound(entity, err)
		}
		return nil, fmt.Errorf("warehouse: read %s: %w", entity, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	t := table.New(columns...)
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if err := t.Append(values...); err != nil {
			return nil, err
		}
	}
	return t, rows.Err()
}

// StagingPath is where Write stages a destination before loading it.
func StagingPath(destination string) string {
	return destination + ".csv"
}

// Write stages t in object storage and loads it into destination,
// creating the table when needed.
func (w *Driver) Write(ctx context.Context, t *table.Table, destination string, opts driver.WriteOptions) error {
	if w.store == nil {
		return fmt.Errorf("%w: warehouse writes need object storage", common.ErrConfiguration)
	}

	staged := StagingPath(destination)
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(t.WriteCSV(pw))
	}()
	if err := w.store.Upload(ctx, staged, pr); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("warehouse: stage %s: %w", staged, err)
	}

	return w.load(ctx, t, staged, destination, opts)
}

// load is the blocking load job: it copies the staged object next to the
// database and ingests it in one transaction.
func (w *Driver) load(ctx context.Context, t *table.Table, staged, destination string, opts driver.WriteOptions) error {
	rc, err := w.store.Download(ctx, staged)
	if err != nil {
		return fmt.Errorf("warehouse: fetch staged %s: %w", staged, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "warehouse-load-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	ident := w.ident(destination)
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if w.schema != "" && !strings.Contains(destination, ".") {
		if _, err := tx.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quote(w.schema)); err != nil {
			return fmt.Errorf("warehouse: create schema: %w", err)
		}
	}
	if opts.Replace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
			return fmt.Errorf("warehouse: drop %s: %w", destination, err)
		}
	}
	kinds := t.ColumnKinds()
	defs := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		defs[i] = quote(col) + " " + columnTypes[kinds[i]]
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ident, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("warehouse: create %s: %w", destination, err)
	}

	if t.Len() > 0 {
		options := "header = true, all_varchar = true"
		if opts.QuotedNewlines {
			options += ", parallel = false"
		}
		literal := "'" + strings.ReplaceAll(tmp.Name(), "'", "''") + "'"
		stmt := fmt.Sprintf("INSERT INTO %s SELECT * FROM read_csv(%s, %s)", ident, literal, options)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("warehouse: load %s: %w", destination, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	common.GetLogger().Info("warehouse load job done",
		zap.String("table", destination),
		zap.String("staged", staged),
		zap.Int("rows", t.Len()))
	return nil
}
