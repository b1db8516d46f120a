package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dataflow/internal/common"
	"dataflow/internal/server/dao"
	"dataflow/internal/server/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const descriptor = `
name: Sales
pipelines:
  - slug: orders
    sources: [shop, rates]
    destination: dw
    transformations: [clean.py, enrich.py, dedupe.go]
`

type fixture struct {
	root    string
	project *model.Project
	syncer  *Syncer
}

func setup(t *testing.T) *fixture {
	database, err := dao.Connect(common.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	dao.UseDB(database)

	ctx := context.Background()
	project := &model.Project{Slug: "sales", RepositoryURL: "https://git.example.com/sales", Branch: "prod"}
	require.NoError(t, dao.NewProjectDao().Create(ctx, project))
	for _, s := range []*model.DataSource{
		{Slug: "shop", SourceType: "relational", EntityName: "orders"},
		{Slug: "rates", SourceType: "csv", EntityName: "rates.csv"},
		{Slug: "dw", SourceType: "warehouse", EntityName: "daily"},
	} {
		require.NoError(t, dao.NewDataSourceDao().Create(ctx, s))
	}

	root := t.TempDir()
	return &fixture{root: root, project: project, syncer: New(DirFetcher{Root: root})}
}

func (f *fixture) write(t *testing.T, rel, body string) {
	p := filepath.Join(f.root, f.project.Slug, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func (f *fixture) writeScripts(t *testing.T) {
	f.write(t, "pipelines/orders/clean.py", "def run(a, b):\n    return a\n")
	f.write(t, "pipelines/orders/enrich.py", "def run(df):\n    return df\n")
	f.write(t, "pipelines/orders/dedupe.go", "dedupe\n")
}

func TestSyncCreatesPipeline(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.write(t, "project.yml", descriptor)
	f.writeScripts(t)

	res, err := f.syncer.Sync(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pipelines)
	assert.Equal(t, 3, res.Transformations)
	assert.Equal(t, 0, res.Deleted)

	p, err := dao.NewPipelineDao().GetBySlug(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, f.project.ID, p.ProjectID)
	require.Len(t, p.Sources, 2)
	assert.Equal(t, "shop", p.Sources[0].DataSource.Slug)
	assert.Equal(t, "rates", p.Sources[1].DataSource.Slug)
	require.NotNil(t, p.Destination)
	assert.Equal(t, "dw", p.Destination.Slug)

	list, err := dao.NewTransformationDao().ListByPipeline(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "clean", list[0].Slug)
	assert.Equal(t, 1, list[0].Order)
	assert.Equal(t, model.LanguagePython, list[0].Language)
	assert.Contains(t, list[0].Code, "def run(a, b)")
	assert.Equal(t, "https://git.example.com/sales/blob/prod/pipelines/orders/clean.py", list[0].URL)
	assert.Equal(t, "dedupe", list[2].Slug)
	assert.Equal(t, 3, list[2].Order)
	assert.Equal(t, model.LanguageGo, list[2].Language)
	assert.Equal(t, "dedupe", list[2].Code)

	project, err := dao.NewProjectDao().GetByID(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sales", project.Title)
	assert.NotNil(t, project.LastPull)
	conf, err := project.GetConfig()
	require.NoError(t, err)
	assert.Len(t, conf.Pipelines, 1)
}

func TestSyncRemovesDroppedTransformations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.write(t, "project.yml", descriptor)
	f.writeScripts(t)
	_, err := f.syncer.Sync(ctx, f.project.ID)
	require.NoError(t, err)

	f.write(t, "project.yml", `
name: Sales
pipelines:
  - slug: orders
    sources: [rates]
    transformations: [enrich.py, clean.py]
`)
	res, err := f.syncer.Sync(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	p, err := dao.NewPipelineDao().GetBySlug(ctx, "orders")
	require.NoError(t, err)
	assert.Nil(t, p.DestinationID)
	require.Len(t, p.Sources, 1)
	assert.Equal(t, "rates", p.Sources[0].DataSource.Slug)

	list, err := dao.NewTransformationDao().ListByPipeline(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "enrich", list[0].Slug)
	assert.Equal(t, 1, list[0].Order)
	assert.Equal(t, "clean", list[1].Slug)
	assert.Equal(t, 2, list[1].Order)
}

func TestSyncRejectsTakenDestination(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	dw, err := dao.NewDataSourceDao().GetBySlug(ctx, "dw")
	require.NoError(t, err)
	require.NoError(t, dao.NewPipelineDao().Create(ctx, &model.Pipeline{Slug: "legacy", DestinationID: &dw.ID}))

	f.write(t, "project.yml", descriptor)
	f.writeScripts(t)

	_, err = f.syncer.Sync(ctx, f.project.ID)
	var e common.ErrNo
	require.True(t, errors.As(err, &e))
	assert.Equal(t, common.DestinationInUse, e.ErrCode)

	_, err = dao.NewPipelineDao().GetBySlug(ctx, "orders")
	assert.Error(t, err)
}

func TestSyncValidatesBeforeWriting(t *testing.T) {
	cases := map[string]string{
		"missing source": `
name: Sales
pipelines:
  - slug: orders
    sources: [shop, nowhere]
    transformations: []
`,
		"missing script": `
name: Sales
pipelines:
  - slug: orders
    sources: [shop]
    transformations: [clean.py, missing.py]
`,
		"shared destination": `
name: Sales
pipelines:
  - slug: orders
    sources: [shop]
    destination: dw
    transformations: []
  - slug: refunds
    sources: [shop]
    destination: dw
    transformations: []
`,
		"no name": `
pipelines:
  - slug: orders
    sources: [shop]
    transformations: []
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := setup(t)
			ctx := context.Background()
			f.write(t, "project.yml", body)
			f.writeScripts(t)

			_, err := f.syncer.Sync(ctx, f.project.ID)
			assert.ErrorIs(t, err, common.ErrConfiguration)

			list, err := dao.NewPipelineDao().List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
			project, err := dao.NewProjectDao().GetByID(ctx, f.project.ID)
			require.NoError(t, err)
			assert.Nil(t, project.LastPull)
		})
	}
}

func TestSyncMissingCheckout(t *testing.T) {
	f := setup(t)
	_, err := f.syncer.Sync(context.Background(), f.project.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
