// Package syncer reconciles pipeline and transformation rows with the
// descriptor and scripts of a project repository.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dataflow/internal/common"
	"dataflow/internal/server/dao"
	"dataflow/internal/server/model"

	"go.uber.org/zap"
)

type Result struct {
	Pipelines       int
	Transformations int
	Deleted         int
}

type Syncer struct {
	fetcher         Fetcher
	projects        dao.ProjectDao
	sources         dao.DataSourceDao
	pipelines       dao.PipelineDao
	transformations dao.TransformationDao
	now             func() time.Time
}

func New(fetcher Fetcher) *Syncer {
	return &Syncer{
		fetcher:         fetcher,
		projects:        dao.NewProjectDao(),
		sources:         dao.NewDataSourceDao(),
		pipelines:       dao.NewPipelineDao(),
		transformations: dao.NewTransformationDao(),
		now:             time.Now,
	}
}

// plan is everything resolved before the first write.
type plan struct {
	conf        *model.ProjectConfig
	descriptor  string
	pipelines   []pipelinePlan
	checkoutURL func(pipeline, file string) string
}

type pipelinePlan struct {
	conf        model.PipelineConfig
	existing    *model.Pipeline
	sources     []*model.DataSource
	destination *model.DataSource
	scripts     []string
}

// Sync validates the whole descriptor first, then applies it in one
// transaction. Nothing is written when validation fails.
func (s *Syncer) Sync(ctx context.Context, projectID uint) (*Result, error) {
	project, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	checkout, err := s.fetcher.Fetch(ctx, project)
	if err != nil {
		return nil, err
	}
	p, err := s.prepare(ctx, project, checkout)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	now := s.now()
	err = dao.Transaction(ctx, func(ctx context.Context) error {
		// release destinations first so they can move between pipelines
		for _, pp := range p.pipelines {
			if pp.existing == nil || pp.existing.DestinationID == nil {
				continue
			}
			pp.existing.DestinationID = nil
			if err := s.pipelines.Save(ctx, pp.existing); err != nil {
				return err
			}
		}
		for _, pp := range p.pipelines {
			deleted, err := s.apply(ctx, project, pp, p.checkoutURL, now)
			if err != nil {
				return err
			}
			result.Pipelines++
			result.Transformations += len(pp.conf.Transformations)
			result.Deleted += deleted
		}
		project.SetConfig(p.descriptor)
		if project.Title == "" {
			project.Title = p.conf.Name
		}
		project.LastPull = &now
		return s.projects.Save(ctx, project)
	})
	if err != nil {
		return nil, err
	}

	common.GetLogger().Info("project synced",
		zap.String("project", project.Slug),
		zap.Int("pipelines", result.Pipelines),
		zap.Int("transformations", result.Transformations),
		zap.Int("deleted", result.Deleted))
	return result, nil
}

func (s *Syncer) prepare(ctx context.Context, project *model.Project, checkout Checkout) (*plan, error) {
	descriptor, err := checkout.Descriptor(ctx)
	if err != nil {
		return nil, err
	}
	conf, err := model.ParseProjectConfig(descriptor)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(conf.Name) == "" {
		return nil, fmt.Errorf("%w: descriptor has no name", common.ErrConfiguration)
	}

	p := &plan{conf: conf, descriptor: descriptor, checkoutURL: checkout.URL}
	claimed := map[string]string{}
	seen := map[string]bool{}
	for _, pc := range conf.Pipelines {
		if seen[pc.Slug] {
			return nil, fmt.Errorf("%w: pipeline %s declared twice", common.ErrConfiguration, pc.Slug)
		}
		seen[pc.Slug] = true

		pp := pipelinePlan{conf: pc}
		existing, err := s.pipelines.GetBySlug(ctx, pc.Slug)
		switch {
		case err == nil:
			if existing.ProjectID != 0 && existing.ProjectID != project.ID {
				return nil, fmt.Errorf("%w: pipeline %s belongs to another project", common.ErrConfiguration, pc.Slug)
			}
			pp.existing = existing
		case isNotExists(err):
		default:
			return nil, err
		}

		for _, slug := range pc.Sources {
			src, err := s.sources.GetBySlug(ctx, slug)
			if err != nil {
				return nil, configErr(err, "pipeline %s: source %s", pc.Slug, slug)
			}
			pp.sources = append(pp.sources, src)
		}

		if pc.Destination != "" {
			if other, ok := claimed[pc.Destination]; ok {
				return nil, fmt.Errorf("%w: destination %s used by both %s and %s", common.ErrConfiguration, pc.Destination, other, pc.Slug)
			}
			claimed[pc.Destination] = pc.Slug

			dest, err := s.sources.GetBySlug(ctx, pc.Destination)
			if err != nil {
				return nil, configErr(err, "pipeline %s: destination %s", pc.Slug, pc.Destination)
			}
			owner, err := s.pipelines.GetByDestination(ctx, dest.ID)
			if err != nil {
				return nil, err
			}
			if owner != nil && owner.Slug != pc.Slug && !inDescriptor(conf, owner.Slug) {
				return nil, common.WithMsg(common.DestinationInUse,
					fmt.Sprintf("destination %s is already used by pipeline %s", pc.Destination, owner.Slug))
			}
			pp.destination = dest
		}

		slugs := map[string]bool{}
		for i, file := range pc.Files {
			if slugs[pc.Transformations[i]] {
				return nil, fmt.Errorf("%w: pipeline %s: transformation %s listed twice", common.ErrConfiguration, pc.Slug, pc.Transformations[i])
			}
			slugs[pc.Transformations[i]] = true
			body, err := checkout.Script(ctx, pc.Slug, file)
			if err != nil {
				return nil, configErr(err, "pipeline %s: transformation %s", pc.Slug, file)
			}
			pp.scripts = append(pp.scripts, body)
		}
		p.pipelines = append(p.pipelines, pp)
	}
	return p, nil
}

// inDescriptor reports whether slug is declared by conf. Such an owner
// either keeps the destination, which the duplicate check rejects, or
// gives it up in the same sync.
func inDescriptor(conf *model.ProjectConfig, slug string) bool {
	for _, pc := range conf.Pipelines {
		if pc.Slug == slug {
			return true
		}
	}
	return false
}

func (s *Syncer) apply(ctx context.Context, project *model.Project, pp pipelinePlan, url func(string, string) string, now time.Time) (int, error) {
	pipeline := pp.existing
	if pipeline == nil {
		pipeline = &model.Pipeline{Slug: pp.conf.Slug}
	}
	pipeline.ProjectID = project.ID
	pipeline.DestinationID = nil
	if pp.destination != nil {
		pipeline.DestinationID = &pp.destination.ID
	}
	if err := s.pipelines.Save(ctx, pipeline); err != nil {
		return 0, err
	}

	links := make([]model.PipelineSource, len(pp.sources))
	for i, src := range pp.sources {
		links[i] = model.PipelineSource{DataSourceID: src.ID, Position: i}
	}
	if err := s.pipelines.ReplaceSources(ctx, pipeline.ID, links); err != nil {
		return 0, err
	}

	deleted, err := s.transformations.DeleteExcept(ctx, pipeline.ID, pp.conf.Transformations)
	if err != nil {
		return 0, err
	}

	for i, slug := range pp.conf.Transformations {
		file := pp.conf.Files[i]
		t, err := s.transformations.Get(ctx, pipeline.ID, slug)
		if err != nil && !isNotExists(err) {
			return 0, err
		}
		if t == nil {
			t = &model.Transformation{Slug: slug, PipelineID: &pipeline.ID}
		}
		t.Order = i + 1
		t.Language = model.LanguageOf(file)
		t.Code = pp.scripts[i]
		if t.Language == model.LanguageGo {
			t.Code = strings.TrimSpace(t.Code)
			if t.Code == "" {
				t.Code = slug
			}
		}
		t.URL = url(pp.conf.Slug, file)
		t.LastSyncAt = &now
		t.Pipeline = nil
		if err := s.transformations.Save(ctx, t); err != nil {
			return 0, err
		}
	}
	return int(deleted), nil
}

func isNotExists(err error) bool {
	var e common.ErrNo
	if errors.As(err, &e) {
		return e.ErrCode == common.PipelineNotExists || e.ErrCode == common.TransformationNotExists
	}
	return errors.Is(err, common.ErrNotFound)
}

// configErr turns a lookup miss into a configuration error.
func configErr(err error, format string, args ...any) error {
	if isNotExists(err) {
		return fmt.Errorf("%w: %s: %v", common.ErrConfiguration, fmt.Sprintf(format, args...), err)
	}
	return err
}
