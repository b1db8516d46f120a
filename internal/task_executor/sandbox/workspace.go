package sandbox

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"dataflow/internal/common"
	"dataflow/pkg/table"

	"github.com/google/uuid"
)

//go:embed harness.py
var harness []byte

const (
	HarnessFile  = "harness.py"
	ScriptFile   = "script.py"
	ManifestFile = "manifest.json"
	StreamFile   = "stream.json"
	OutputFile   = "output.csv"
)

type manifest struct {
	Slug      string   `json:"slug"`
	Inputs    []string `json:"inputs"`
	HasStream bool     `json:"has_stream"`
}

// Workspace is the directory a script process sees: the harness, the
// script, one CSV per input and the stream payload. The harness writes
// output.csv next to them.
type Workspace struct {
	Dir string
}

// NewWorkspace lays out a fresh directory under root. root itself is never
// created here; it is provisioned with the deployment. Callers Close it.
func NewWorkspace(root string, p Program, in Inputs) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: workspace root %s is not a directory", common.ErrStorageUnavailable, root)
	}
	dir := filepath.Join(root, "dataflow-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o777); err != nil {
		return nil, fmt.Errorf("%w: create workspace: %v", common.ErrStorageUnavailable, err)
	}
	// containers may run as another uid
	_ = os.Chmod(dir, 0o777)
	w := &Workspace{Dir: dir}

	m := manifest{Slug: p.Slug, HasStream: in.HasStream()}
	for i, t := range in.Tables {
		name := fmt.Sprintf("input_%d.csv", i)
		if err := w.writeTable(name, t); err != nil {
			w.Close()
			return nil, err
		}
		m.Inputs = append(m.Inputs, name)
	}
	files := map[string][]byte{
		HarnessFile: harness,
		ScriptFile:  []byte(p.Source),
	}
	if m.HasStream {
		files[StreamFile] = in.Stream
	}
	b, err := json.Marshal(m)
	if err != nil {
		w.Close()
		return nil, err
	}
	files[ManifestFile] = b
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			w.Close()
			return nil, fmt.Errorf("sandbox: write %s: %w", name, err)
		}
	}
	return w, nil
}

func (w *Workspace) writeTable(name string, t *table.Table) error {
	f, err := os.Create(filepath.Join(w.Dir, name))
	if err != nil {
		return fmt.Errorf("sandbox: write %s: %w", name, err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Output reads the table left by the harness. A missing file means the
// script never produced one, which is reported as ok=false.
func (w *Workspace) Output() (t *table.Table, ok bool, err error) {
	f, err := os.Open(filepath.Join(w.Dir, OutputFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	t, err = table.ReadCSV(f)
	if err != nil {
		return nil, false, fmt.Errorf("sandbox: read output: %w", err)
	}
	return t, true, nil
}

func (w *Workspace) Close() error {
	return os.RemoveAll(w.Dir)
}
