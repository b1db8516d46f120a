package handler

import (
	"errors"
	"fmt"
	"net/http"

	"dataflow/internal/buffer"
	"dataflow/internal/common"
	"dataflow/internal/server/model"
	"dataflow/pkg/api"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const historyLimit = 100

func toExecution(exec *model.PipelineExecution) api.Execution {
	out := api.Execution{
		ID:             exec.ID,
		IncomingStream: exec.IncomingStream,
		Status:         exec.Status,
		TriggerType:    exec.TriggerType,
		Stdout:         exec.Stdout,
		CreatedAt:      exec.CreatedAt,
		UpdatedAt:      exec.UpdatedAt,
		StartedAt:      exec.StartedAt,
		EndedAt:        exec.EndedAt,
		Pipeline:       api.PipelineRef{ID: exec.PipelineID},
	}
	if exec.Pipeline != nil {
		out.Pipeline.Slug = exec.Pipeline.Slug
	}
	return out
}

func (h *Handler) GetExecution(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	exec, err := h.executions.GetByID(c, id)
	if err != nil {
		common.Error(c, err)
		return
	}
	common.Success(c, toExecution(exec))
}

func (h *Handler) ResumeExecution(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	exec, err := h.orch.Resume(c, id)
	if err != nil {
		common.Error(c, err)
		return
	}
	common.Success(c, api.RunResponse{ExecutionID: exec.ID})
}

func (h *Handler) AbortExecution(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	exec, err := h.orch.Abort(c, id)
	if err != nil {
		common.Error(c, err)
		return
	}
	common.Success(c, toExecution(exec))
}

// DownloadBuffer streams a page of a buffer slot as a CSV attachment.
func (h *Handler) DownloadBuffer(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	position, ok1 := queryInt(c, "position", 0)
	offset, ok2 := queryInt(c, "offset", 0)
	rows, ok3 := queryInt(c, "rows", 0)
	if !ok1 || !ok2 || !ok3 {
		common.Error(c, common.WithMsg(common.RequestInvalid, "position, offset and rows must be non-negative integers"))
		return
	}

	exec, err := h.executions.GetByID(c, id)
	if err != nil {
		common.Error(c, err)
		return
	}
	slot := buffer.Slot{ExecutionID: exec.ID, Pipeline: exec.Pipeline.Slug, Position: position}
	if !h.buffers.Exists(slot) {
		common.Error(c, common.NewErrNo(common.BufferNotExists))
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, slot.FileName()))
	c.Status(http.StatusOK)
	if err := h.buffers.Page(slot, offset, rows, c.Writer); err != nil {
		// headers are already sent
		common.GetLogger().Error("stream buffer", zap.String("slot", slot.FileName()), zap.Error(err))
		_ = c.Error(err)
	}
}

func (h *Handler) ListExecutionHistory(c *gin.Context) {
	var pipelineID uint
	if slug := c.Query("pipeline"); slug != "" {
		p, err := h.pipelines.GetBySlug(c, slug)
		if err != nil {
			common.Error(c, err)
			return
		}
		pipelineID = p.ID
	}
	limit, ok := queryInt(c, "limit", historyLimit)
	if !ok {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}

	list, err := h.executions.ListHistory(c, pipelineID, limit)
	if err != nil {
		common.Error(c, common.NewErrNo(common.GetHistoryFail))
		return
	}
	// running first, then the rest, newest first within each
	running := make([]api.ExecutionHistoryBrief, 0)
	others := make([]api.ExecutionHistoryBrief, 0)
	for _, exec := range list {
		brief := api.ExecutionHistoryBrief{
			ID:          exec.ID,
			Status:      exec.Status,
			TriggerType: exec.TriggerType,
			StartTime:   exec.CreatedAt.Format(timeLayout),
		}
		if exec.Pipeline != nil {
			brief.Pipeline = exec.Pipeline.Slug
		}
		if exec.EndedAt != nil {
			brief.EndTime = exec.EndedAt.Format(timeLayout)
		}
		if exec.Done {
			others = append(others, brief)
		} else {
			running = append(running, brief)
		}
	}
	common.Success(c, append(running, others...))
}

func (h *Handler) CleanExecutionHistory(c *gin.Context) {
	n, err := h.orch.CleanHistory(c, c.Param("pipeline_slug"))
	if err != nil {
		var e common.ErrNo
		if !errors.As(err, &e) {
			err = common.WithMsg(common.CleanHistoryFail, err.Error())
		}
		common.Error(c, err)
		return
	}
	common.Success(c, api.CleanHistoryResponse{Deleted: n})
}
