package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"dataflow/internal/common"
	"dataflow/pkg/api"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WebhookPayload struct {
	Project string `json:"project"`
}

const timestampMaxAge = 300

// Sign returns the signature a webhook sender puts in X-Webhook-Signature:
// hex(sha256("<timestamp>.<body>.<secret>")).
func Sign(timestamp string, body []byte, secret string) string {
	hash := sha256.Sum256([]byte(timestamp + "." + string(body) + "." + secret))
	return hex.EncodeToString(hash[:])
}

// SetWebhookSecret enables POST /webhook. Without a secret the route is not
// registered.
func (h *Handler) SetWebhookSecret(secret string) {
	h.webhookSecret = secret
}

// Webhook resyncs a project after a push to its repository.
func (h *Handler) Webhook(c *gin.Context) {
	timestampStr := c.GetHeader("X-Webhook-Timestamp")
	signature := c.GetHeader("X-Webhook-Signature")
	if timestampStr == "" || signature == "" {
		common.Error(c, common.WithMsg(common.RequestInvalid, "missing webhook signature"))
		return
	}
	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	now := time.Now().Unix()
	if now-timestamp > timestampMaxAge || timestamp > now {
		common.Error(c, common.WithMsg(common.RequestInvalid, "webhook timestamp expired"))
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		common.Error(c, common.NewErrNo(common.RequestInvalid))
		return
	}
	if !hmac.Equal([]byte(Sign(timestampStr, body, h.webhookSecret)), []byte(signature)) {
		common.GetLogger().Warn("webhook signature mismatch", zap.String("client_ip", c.ClientIP()))
		common.Error(c, common.WithMsg(common.RequestInvalid, "bad webhook signature"))
		return
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Project == "" {
		common.Error(c, common.WithMsg(common.RequestInvalid, "payload needs a project slug"))
		return
	}
	project, err := h.projects.GetBySlug(c, payload.Project)
	if err != nil {
		common.Error(c, err)
		return
	}
	result, err := h.syncer.Sync(c, project.ID)
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
