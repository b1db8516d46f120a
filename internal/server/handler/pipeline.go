package handler

import (
	"encoding/json"
	"errors"

	"dataflow/internal/common"
	"dataflow/internal/server/model"
	"dataflow/internal/task_executor/orchestrator"
	"dataflow/pkg/api"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) ListPipelines(c *gin.Context) {
	pipelines, err := h.pipelines.List(c)
	if err != nil {
		common.Error(c, err)
		return
	}
	briefs := make([]api.PipelineBrief, 0, len(pipelines))
	for _, p := range pipelines {
		brief := api.PipelineBrief{
			ID:          p.ID,
			Slug:        p.Slug,
			Status:      p.Status,
			StatusText:  p.StatusText,
			StartedAt:   p.StartedAt,
			EndedAt:     p.EndedAt,
			Frequency:   p.FrequencyDeltaMinutes,
			PausedUntil: p.PausedUntil,
		}
		if p.Project != nil {
			brief.Project = p.Project.Slug
		}
		briefs = append(briefs, brief)
	}
	common.Success(c, briefs)
}

func (h *Handler) RunPipeline(c *gin.Context) {
	exec, err := h.orch.Trigger(c, c.Param("slug"), orchestrator.TriggerOptions{Type: model.TriggerManual})
	if err != nil {
		common.Error(c, err)
		return
	}
	common.Success(c, api.RunResponse{ExecutionID: exec.ID})
}

// StreamPipeline starts a run with the request body handed to the scripts
// as their stream argument.
func (h *Handler) StreamPipeline(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || !json.Valid(body) {
		common.Error(c, common.WithMsg(common.RequestInvalid, "stream payload must be JSON"))
		return
	}
	exec, err := h.orch.Trigger(c, c.Param("pipeline_slug"), orchestrator.TriggerOptions{
		Type:   model.TriggerStream,
		Stream: json.RawMessage(body),
	})
	if err != nil {
		common.Error(c, err)
		return
	}
	common.Success(c, toExecution(exec))
}

func (h *Handler) RunProject(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	execs, err := h.orch.RunProject(c, id)
	if err != nil && len(execs) == 0 {
		common.Error(c, err)
		return
	}
	if err != nil {
		common.GetLogger().Warn("some pipelines failed to start", zap.Uint("project_id", id), zap.Error(err))
	}
	resp := api.ProjectRunResponse{ExecutionIDs: make(map[string]uint, len(execs))}
	for _, exec := range execs {
		resp.ExecutionIDs[exec.Pipeline.Slug] = exec.ID
	}
	common.Success(c, resp)
}

func (h *Handler) SyncProject(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	result, err := h.syncer.Sync(c, id)
	if err != nil {
		common.Error(c, syncError(err))
		return
	}
	common.Success(c, api.SyncResponse{
		Pipelines:       result.Pipelines,
		Transformations: result.Transformations,
		Deleted:         result.Deleted,
	})
}

func syncError(err error) error {
	var e common.ErrNo
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, common.ErrConfiguration):
		return common.WithMsg(common.YamlInvalid, err.Error())
	case errors.Is(err, common.ErrNotFound):
		return common.WithMsg(common.ProjectNotExists, err.Error())
	default:
		return common.WithMsg(common.SyncFail, err.Error())
	}
}

func (h *Handler) GetTransformationCode(c *gin.Context) {
	t, err := h.transformations.FindBySlug(c, c.Param("slug"), c.Query("pipeline"))
	if err != nil {
		common.Error(c, err)
		return
	}
	code := api.TransformationCode{Slug: t.Slug, Language: t.Language, Code: t.Code}
	if t.Pipeline != nil {
		code.Pipeline = t.Pipeline.Slug
	}
	common.Success(c, code)
}
