package model

import (
	"fmt"
	"path"
	"strings"
	"time"

	"dataflow/internal/common"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type Project struct {
	gorm.Model
	Slug          string     `gorm:"type:varchar(100);not null;uniqueIndex"`
	Title         string     `gorm:"type:varchar(255)"`
	Description   string     `gorm:"type:text"`
	RepositoryURL string     `gorm:"type:varchar(500)"`
	Branch        string     `gorm:"type:varchar(100)"`
	Config        string     `gorm:"type:text"`
	LastPull      *time.Time `gorm:"index"`

	Pipelines []Pipeline `gorm:"foreignKey:ProjectID"`

	parsed *ProjectConfig `gorm:"-"`
}

// ProjectConfig is the project descriptor kept in the repository root.
type ProjectConfig struct {
	Name      string
	Pipelines []PipelineConfig
}

type PipelineConfig struct {
	Slug        string
	Sources     []string
	Destination string
	// Transformations holds slugs (file extension stripped) in run order.
	Transformations []string
	// Files holds the descriptor entries as written, extensions included.
	Files []string
}

type rawProjectConfig struct {
	Name      string        `yaml:"name"`
	Pipelines *[]rawPipeline `yaml:"pipelines"`
}

type rawPipeline struct {
	Slug            string    `yaml:"slug"`
	Sources         *[]string `yaml:"sources"`
	Destination     string    `yaml:"destination"`
	Transformations *[]string `yaml:"transformations"`
}

// ParseProjectConfig validates a descriptor. Every violation is an
// ErrConfiguration.
func ParseProjectConfig(content string) (*ProjectConfig, error) {
	var raw rawProjectConfig
	if err := yaml.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("%w: descriptor: %v", common.ErrConfiguration, err)
	}
	if raw.Pipelines == nil {
		return nil, fmt.Errorf("%w: descriptor has no pipelines list", common.ErrConfiguration)
	}

	conf := &ProjectConfig{Name: raw.Name}
	for i, p := range *raw.Pipelines {
		if strings.TrimSpace(p.Slug) == "" {
			return nil, fmt.Errorf("%w: pipeline #%d has no slug", common.ErrConfiguration, i+1)
		}
		if p.Sources == nil {
			return nil, fmt.Errorf("%w: pipeline %s: sources must be a list", common.ErrConfiguration, p.Slug)
		}
		if p.Transformations == nil {
			return nil, fmt.Errorf("%w: pipeline %s: transformations must be a list", common.ErrConfiguration, p.Slug)
		}
		pc := PipelineConfig{
			Slug:        p.Slug,
			Sources:     *p.Sources,
			Destination: p.Destination,
			Files:       *p.Transformations,
		}
		for _, file := range pc.Files {
			pc.Transformations = append(pc.Transformations, StripExt(file))
		}
		conf.Pipelines = append(conf.Pipelines, pc)
	}
	return conf, nil
}

// StripExt turns "clean_orders.py" into "clean_orders".
func StripExt(file string) string {
	base := path.Base(file)
	return strings.TrimSuffix(base, path.Ext(base))
}

// LanguageOf maps a script file name to its runtime.
func LanguageOf(file string) string {
	if path.Ext(file) == ".go" {
		return LanguageGo
	}
	return LanguagePython
}

// GetConfig parses the stored descriptor once and caches the result.
func (p *Project) GetConfig() (*ProjectConfig, error) {
	if p.parsed != nil {
		return p.parsed, nil
	}
	conf, err := ParseProjectConfig(p.Config)
	if err != nil {
		return nil, err
	}
	p.parsed = conf
	return conf, nil
}

// SetConfig replaces the descriptor and drops the cached parse.
func (p *Project) SetConfig(content string) {
	p.Config = content
	p.parsed = nil
}

func (p *Project) GetPipelineConfig(slug string) (*PipelineConfig, error) {
	conf, err := p.GetConfig()
	if err != nil {
		return nil, err
	}
	for i := range conf.Pipelines {
		if conf.Pipelines[i].Slug == slug {
			return &conf.Pipelines[i], nil
		}
	}
	return nil, fmt.Errorf("%w: pipeline %s in project %s", common.ErrNotFound, slug, p.Slug)
}
