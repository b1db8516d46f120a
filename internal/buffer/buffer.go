// Package buffer keeps the intermediate tables of an execution on local disk
// and mirrors the latest one to object storage.
//
// Slot files are named <execution_id>-<pipeline_slug>-<position>.csv.
// Position 0 always holds the current table; positions 0..N-1 start out as
// the N source loads. A transformation step writes its output to a staged
// file first, and only Promote moves it onto slot 0, so a step that is
// re-run before being committed still sees its original inputs.
package buffer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"dataflow/internal/common"
	"dataflow/internal/objectstore"
	"dataflow/pkg/table"

	"go.uber.org/zap"
)

type Slot struct {
	ExecutionID uint
	Pipeline    string
	Position    int
}

func (s Slot) FileName() string {
	return fmt.Sprintf("%d-%s-%d.csv", s.ExecutionID, s.Pipeline, s.Position)
}

func (s Slot) stagedName(step int) string {
	return fmt.Sprintf("%d-%s-%d.step-%d.csv", s.ExecutionID, s.Pipeline, s.Position, step)
}

// BackupPath is the durable object holding the newest table of a pipeline.
func BackupPath(pipeline string) string {
	return pipeline + ".csv"
}

type Store struct {
	dir     string
	backups objectstore.Storage
}

// New does not create dir; a missing staging directory is reported on use.
func New(dir string, backups objectstore.Storage) *Store {
	return &Store{dir: dir, backups: backups}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) checkDir() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: buffer dir %s: %v", common.ErrStorageUnavailable, s.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: buffer dir %s is not a directory", common.ErrStorageUnavailable, s.dir)
	}
	return nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Save replaces the slot file as a whole.
func (s *Store) Save(slot Slot, t *table.Table) error {
	return s.write(slot.FileName(), t)
}

// Stage writes the output of step without touching the slot itself.
func (s *Store) Stage(slot Slot, step int, t *table.Table) error {
	return s.write(slot.stagedName(step), t)
}

func (s *Store) write(name string, t *table.Table) error {
	if err := s.checkDir(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if err := t.WriteCSV(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("buffer: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("buffer: write %s: %w", name, err)
	}
	return os.Rename(tmp.Name(), s.path(name))
}

func (s *Store) open(name string) (*os.File, error) {
	f, err := os.Open(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", common.ErrBufferNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
	}
	return f, nil
}

func (s *Store) Load(slot Slot) (*table.Table, error) {
	f, err := s.open(slot.FileName())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return table.ReadCSV(f)
}

func (s *Store) Exists(slot Slot) bool {
	_, err := os.Stat(s.path(slot.FileName()))
	return err == nil
}

// Promote moves the staged output of step onto the slot. Promoting twice is
// a no-op.
func (s *Store) Promote(slot Slot, step int) error {
	err := os.Rename(s.path(slot.stagedName(step)), s.path(slot.FileName()))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Backup copies the newest table of the slot, the staged output of step if
// it has not been promoted yet, to BackupPath. It overwrites, so retries
// are safe.
func (s *Store) Backup(ctx context.Context, slot Slot, step int) error {
	if s.backups == nil {
		return fmt.Errorf("%w: no backup storage configured", common.ErrConfiguration)
	}
	f, err := s.open(slot.stagedName(step))
	if errors.Is(err, common.ErrBufferNotFound) {
		f, err = s.open(slot.FileName())
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if err := s.backups.Upload(ctx, BackupPath(slot.Pipeline), f); err != nil {
		return fmt.Errorf("buffer: backup %s: %w", slot.FileName(), err)
	}
	common.GetLogger().Debug("buffer backed up",
		zap.String("slot", slot.FileName()),
		zap.String("object", BackupPath(slot.Pipeline)))
	return nil
}

func (s *Store) OpenBackup(ctx context.Context, pipeline string) (io.ReadCloser, error) {
	if s.backups == nil {
		return nil, fmt.Errorf("%w: no backup storage configured", common.ErrConfiguration)
	}
	rc, err := s.backups.Download(ctx, BackupPath(pipeline))
	if errors.Is(err, objectstore.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: backup of %s", common.ErrBufferNotFound, pipeline)
	}
	return rc, err
}

// Page writes the header plus rows [offset, offset+rows) of the slot as CSV,
// reading one record at a time. rows <= 0 means through the end.
func (s *Store) Page(slot Slot, offset, rows int, w io.Writer) error {
	f, err := s.open(slot.FileName())
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	writer := csv.NewWriter(w)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("buffer: read %s: %w", slot.FileName(), err)
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, written := 0, 0; rows <= 0 || written < rows; i++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("buffer: read %s: %w", slot.FileName(), err)
		}
		if i < offset {
			continue
		}
		if err := writer.Write(record); err != nil {
			return err
		}
		written++
	}
	writer.Flush()
	return writer.Error()
}

// Purge deletes every slot and staged file of an execution.
func (s *Store) Purge(executionID uint, pipeline string) (int, error) {
	pattern := filepath.Join(s.dir, fmt.Sprintf("%d-%s-*.csv", executionID, pipeline))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
