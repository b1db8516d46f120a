package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dataflow/internal/common"
	"dataflow/pkg/queue"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// completed tasks keep their id this long, so a late duplicate is dropped
const taskRetention = 24 * time.Hour

func RedisOpt(conf common.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: conf.RedisAddr, Password: conf.RedisPassword}
}

// Client puts pipeline tasks on the queue.
type Client struct {
	client   *asynq.Client
	maxRetry int
}

func NewClient(opt asynq.RedisConnOpt, maxRetry int) *Client {
	return &Client{client: asynq.NewClient(opt), maxRetry: maxRetry}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) EnqueueRun(ctx context.Context, p queue.PipelineRunPayload) error {
	opts := []asynq.Option{asynq.MaxRetry(c.maxRetry)}
	if p.ExecutionID != 0 {
		opts = append(opts, asynq.TaskID(queue.RunTaskID(p.ExecutionID, p.Attempt)), asynq.Retention(taskRetention))
	}
	return c.enqueue(ctx, queue.PipelineRun, p, opts...)
}

func (c *Client) EnqueueStep(ctx context.Context, p queue.StepPayload) error {
	return c.enqueue(ctx, queue.TransformationRun, p,
		asynq.MaxRetry(c.maxRetry),
		asynq.TaskID(queue.StepTaskID(p.ExecutionID, p.Step, p.Attempt)),
		asynq.Retention(taskRetention))
}

func (c *Client) EnqueueBackup(ctx context.Context, p queue.BackupPayload) error {
	return c.enqueue(ctx, queue.BufferBackup, p, asynq.MaxRetry(c.maxRetry))
}

func (c *Client) enqueue(ctx context.Context, typename string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(typename, data), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		common.GetLogger().Debug("task already queued", zap.String("type", typename), zap.ByteString("payload", data))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", typename, err)
	}
	common.GetLogger().Debug("task enqueued", zap.String("type", typename), zap.String("id", info.ID))
	return nil
}
