package scheduler

import (
	"errors"
	"fmt"
	"testing"

	"dataflow/internal/common"
	"dataflow/pkg/queue"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	entries map[string]string
	next    int
	started bool
}

func (f *fakeScheduler) Register(cronspec string, task *asynq.Task, _ ...asynq.Option) (string, error) {
	if cronspec == "" {
		return "", errors.New("empty cron spec")
	}
	f.next++
	id := fmt.Sprintf("entry-%d", f.next)
	f.entries[id] = cronspec + " " + task.Type()
	return id, nil
}

func (f *fakeScheduler) Unregister(id string) error {
	if _, ok := f.entries[id]; !ok {
		return errors.New("no such entry")
	}
	delete(f.entries, id)
	return nil
}

func (f *fakeScheduler) Start() error {
	f.started = true
	return nil
}

func (f *fakeScheduler) Shutdown() {}

func TestScheduleScanReplacesEntry(t *testing.T) {
	fake := &fakeScheduler{entries: map[string]string{}}
	s := newSchedulerService(fake)

	require.NoError(t, s.ScheduleScan("@every 1m"))
	require.NoError(t, s.ScheduleScan("@every 5m"))

	assert.Equal(t, map[string]string{"entry-2": "@every 5m " + queue.PipelineScan}, fake.entries)
	require.NoError(t, s.Start())
	assert.True(t, fake.started)
}

func TestScheduleScanRejectsBadSpec(t *testing.T) {
	s := newSchedulerService(&fakeScheduler{entries: map[string]string{}})
	err := s.ScheduleScan("")
	assert.ErrorIs(t, err, common.ErrConfiguration)
}
