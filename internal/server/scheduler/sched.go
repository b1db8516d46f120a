package scheduler

import (
	"fmt"
	"sync"

	"dataflow/internal/common"
	"dataflow/pkg/queue"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// cronScheduler is the part of *asynq.Scheduler the service drives.
type cronScheduler interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
	Unregister(entryID string) error
	Start() error
	Shutdown()
}

// SchedulerService 周期性投递 pipeline:scan，由 worker 找出到期的 pipeline
type SchedulerService struct {
	scheduler cronScheduler
	mu        sync.Mutex
	entryID   string
}

func NewSchedulerService(conf common.Config) *SchedulerService {
	s := asynq.NewScheduler(asynq.RedisClientOpt{Addr: conf.RedisAddr, Password: conf.RedisPassword}, &asynq.SchedulerOpts{
		Logger: common.GetLogger().Sugar(),
	})
	return newSchedulerService(s)
}

func newSchedulerService(s cronScheduler) *SchedulerService {
	return &SchedulerService{scheduler: s}
}

// ScheduleScan registers the scan task on cronspec, replacing an earlier entry.
func (s *SchedulerService) ScheduleScan(cronspec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entryID != "" {
		if err := s.scheduler.Unregister(s.entryID); err != nil {
			common.GetLogger().Warn("unregister scan entry", zap.String("entry", s.entryID), zap.Error(err))
		}
		s.entryID = ""
	}
	// a missed scan is picked up by the next one
	id, err := s.scheduler.Register(cronspec, asynq.NewTask(queue.PipelineScan, nil), asynq.MaxRetry(0))
	if err != nil {
		return fmt.Errorf("%w: scan schedule %q: %v", common.ErrConfiguration, cronspec, err)
	}
	s.entryID = id
	common.GetLogger().Info("pipeline scan scheduled", zap.String("cron", cronspec), zap.String("entry", id))
	return nil
}

func (s *SchedulerService) Start() error {
	common.GetLogger().Info("starting scheduler")
	return s.scheduler.Start()
}

func (s *SchedulerService) Shutdown() {
	s.scheduler.Shutdown()
}
