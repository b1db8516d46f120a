package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"dataflow/internal/common"
	"dataflow/internal/server/model"
)

// Checkout is one fetched revision of a project repository.
type Checkout interface {
	Descriptor(ctx context.Context) (string, error)
	// Script returns the body of a transformation file, or ErrNotFound.
	Script(ctx context.Context, pipeline, file string) (string, error)
	URL(pipeline, file string) string
}

type Fetcher interface {
	Fetch(ctx context.Context, project *model.Project) (Checkout, error)
}

var descriptorNames = []string{"project.yml", "project.yaml"}

// DirFetcher reads checkouts from <root>/<project slug>, laid out as
// project.yml plus pipelines/<pipeline>/<script>.
type DirFetcher struct {
	Root string
}

func (f DirFetcher) Fetch(_ context.Context, project *model.Project) (Checkout, error) {
	dir := filepath.Join(f.Root, project.Slug)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: no checkout for project %s at %s", common.ErrNotFound, project.Slug, dir)
	}
	return dirCheckout{dir: dir, base: project.RepositoryURL, branch: project.Branch}, nil
}

type dirCheckout struct {
	dir    string
	base   string
	branch string
}

func (c dirCheckout) Descriptor(_ context.Context) (string, error) {
	for _, name := range descriptorNames {
		b, err := os.ReadFile(filepath.Join(c.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return "", fmt.Errorf("%w: project.yml missing in %s", common.ErrConfiguration, c.dir)
}

func (c dirCheckout) Script(_ context.Context, pipeline, file string) (string, error) {
	b, err := os.ReadFile(filepath.Join(c.dir, "pipelines", pipeline, filepath.Base(file)))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: script %s/%s", common.ErrNotFound, pipeline, file)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c dirCheckout) URL(pipeline, file string) string {
	rel := "pipelines/" + pipeline + "/" + filepath.Base(file)
	if c.base == "" {
		return rel
	}
	branch := c.branch
	if branch == "" {
		branch = "main"
	}
	return c.base + "/blob/" + branch + "/" + rel
}
