package handler

import (
	"strconv"

	"dataflow/internal/buffer"
	"dataflow/internal/server/dao"
	"dataflow/internal/server/middleware"
	"dataflow/internal/server/syncer"
	"dataflow/internal/task_executor/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const timeLayout = "2006-01-02 15:04:05"

type Handler struct {
	orch            *orchestrator.Orchestrator
	buffers         *buffer.Store
	syncer          *syncer.Syncer
	pipelines       dao.PipelineDao
	executions      dao.PipelineExecDao
	transformations dao.TransformationDao
	projects        dao.ProjectDao
	webhookSecret   string
}

func New(orch *orchestrator.Orchestrator, buffers *buffer.Store, s *syncer.Syncer) *Handler {
	return &Handler{
		orch:            orch,
		buffers:         buffers,
		syncer:          s,
		pipelines:       dao.NewPipelineDao(),
		executions:      dao.NewPipelineExecDao(),
		transformations: dao.NewTransformationDao(),
		projects:        dao.NewProjectDao(),
	}
}

// Router builds the gin engine with every route of the API.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.RequestLogger())

	r.GET("/pipeline", h.ListPipelines)
	r.POST("/pipeline/:slug/run", h.RunPipeline)
	r.POST("/stream/:pipeline_slug", h.StreamPipeline)

	r.GET("/execution/:id", h.GetExecution)
	r.POST("/execution/:id/run", h.ResumeExecution)
	r.POST("/execution/:id/abort", h.AbortExecution)
	r.GET("/execution/:id/buffer", h.DownloadBuffer)

	r.GET("/transformation/:slug", h.GetTransformationCode)

	r.POST("/project/:id/run", h.RunProject)
	r.POST("/project/:id/sync", h.SyncProject)
	if h.webhookSecret != "" {
		r.POST("/webhook", h.Webhook)
	}

	r.GET("/history", h.ListExecutionHistory)
	r.DELETE("/history/:pipeline_slug", h.CleanExecutionHistory)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
