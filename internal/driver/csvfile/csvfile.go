// Package csvfile reads and writes whole CSV objects in object storage.
package csvfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"dataflow/internal/common"
	"dataflow/internal/driver"
	"dataflow/internal/objectstore"
	"dataflow/pkg/table"
)

func init() {
	driver.Register(driver.TypeCSV, func(_ context.Context, cfg driver.Config, deps driver.Deps) (driver.Driver, error) {
		return New(deps.Store, cfg.ConnectionString)
	})
}

type Driver struct {
	store  objectstore.Storage
	prefix string
}

var _ driver.Driver = (*Driver)(nil)

// New roots every object under prefix, which may be empty.
func New(store objectstore.Storage, prefix string) (*Driver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: csv sources need object storage", common.ErrConfiguration)
	}
	return &Driver{store: store, prefix: strings.Trim(prefix, "/")}, nil
}

func (c *Driver) key(name string) string {
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

func (c *Driver) Close() error { return nil }

func (c *Driver) Read(ctx context.Context, entity string) (*table.Table, error) {
	if driver.IsSelect(entity) {
		return nil, fmt.Errorf("%w: csv sources cannot run queries", common.ErrConfiguration)
	}
	rc, err := c.store.Download(ctx, c.key(entity))
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil, driver.TableNotFound(entity, err)
	}
	if err != nil {
		return nil, fmt.Errorf("csvfile: read %s: %w", entity, err)
	}
	defer rc.Close()
	return table.ReadCSV(rc)
}

// Write always overwrites; Replace makes no difference for a single file.
func (c *Driver) Write(ctx context.Context, t *table.Table, destination string, _ driver.WriteOptions) error {
	name := path.Base(strings.ReplaceAll(destination, "\\", "/"))
	if name == "." || name == "/" {
		return fmt.Errorf("%w: empty csv destination", common.ErrConfiguration)
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(t.WriteCSV(pw))
	}()
	if err := c.store.Upload(ctx, c.key(name), pr); err != nil {
		pr.CloseWithError(err)
		return fmt.Errorf("csvfile: write %s: %w", name, err)
	}
	return nil
}
