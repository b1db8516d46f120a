// Package relational reads and writes tables over database/sql.
package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dataflow/internal/common"
	"dataflow/internal/driver"
	"dataflow/pkg/table"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

func init() {
	driver.Register(driver.TypeRelational, func(ctx context.Context, cfg driver.Config, _ driver.Deps) (driver.Driver, error) {
		return Open(ctx, cfg.ConnectionString)
	})
}

type Driver struct {
	db      *sql.DB
	dialect dialect
}

var _ driver.Driver = (*Driver)(nil)

// Open connects and pings immediately so bad credentials fail fast.
func Open(ctx context.Context, connectionString string) (*Driver, error) {
	d, dsn, err := resolveDSN(connectionString)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrSourceUnavailable, d.name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", common.ErrSourceUnavailable, d.name, err)
	}
	return &Driver{db: db, dialect: d}, nil
}

func (r *Driver) Close() error {
	return r.db.Close()
}

func (r *Driver) Read(ctx context.Context, entity string) (*table.Table, error) {
	query := entity
	if !driver.IsSelect(entity) {
		query = "SELECT * FROM " + r.dialect.quoteIdent(entity)
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		if r.dialect.missing(err) {
			return nil, driver.TableNotFound(entity, err)
		}
		return nil, fmt.Errorf("relational: read %s: %w", entity, err)
	}
	defer rows.Close()
	return scan(rows)
}

func scan(rows *sql.Rows) (*table.Table, error) {
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

// Write inserts t into destination in one transaction. With Replace the
// table is dropped and recreated from the inferred column types, otherwise
// it must already exist.
func (r *Driver) Write(ctx context.Context, t *table.Table, destination string, opts driver.WriteOptions) error {
	ident := r.dialect.quoteIdent(destination)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if opts.Replace {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
			return fmt.Errorf("relational: drop %s: %w", destination, err)
		}
		if _, err := tx.ExecContext(ctx, r.createStatement(ident, t)); err != nil {
			return fmt.Errorf("relational: create %s: %w", destination, err)
		}
	} else {
		probe, err := tx.QueryContext(ctx, "SELECT * FROM "+ident+" WHERE 1=0")
		if err != nil {
			if r.dialect.missing(err) {
				return driver.TableNotFound(destination, err)
			}
			return fmt.Errorf("relational: probe %s: %w", destination, err)
		}
		probe.Close()
	}

	if t.Len() > 0 {
		stmt, err := tx.PrepareContext(ctx, r.insertStatement(ident, t.Columns))
		if err != nil {
			if r.dialect.missing(err) {
				return driver.TableNotFound(destination, err)
			}
			return fmt.Errorf("relational: prepare insert: %w", err)
		}
		defer stmt.Close()
		for i, row := range t.Rows {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("relational: insert row %d into %s: %w", i, destination, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	common.GetLogger().Info("relational write done",
		zap.String("dialect", r.dialect.name),
		zap.String("table", destination),
		zap.Int("rows", t.Len()),
		zap.Bool("replace", opts.Replace))
	return nil
}

func (r *Driver) createStatement(ident string, t *table.Table) string {
	kinds := t.ColumnKinds()
	defs := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		defs[i] = r.dialect.quote(col) + " " + r.dialect.types[kinds[i]]
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))
}

func (r *Driver) insertStatement(ident string, columns []string) string {
	cols := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, col := range columns {
		cols[i] = r.dialect.quote(col)
		marks[i] = r.dialect.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", ident, strings.Join(cols, ", "), strings.Join(marks, ", "))
}
