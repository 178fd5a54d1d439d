package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/jobs"
)

type stubEnqueuer struct {
	tasks []*asynq.Task
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

type stubInspector struct {
	info      *asynq.QueueInfo
	scheduled []*asynq.TaskInfo
	err       error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func (s stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.scheduled, s.err
}

func (s stubInspector) Close() error { return nil }

func TestTriggerKnownTasks(t *testing.T) {
	enq := &stubEnqueuer{}
	c := &JobsCLI{client: enq}

	for _, name := range Triggerable() {
		info, err := c.Trigger(context.Background(), name)
		require.NoError(t, err)
		require.Equal(t, name, info.Type)
	}
	require.Len(t, enq.tasks, 5)

	_, err := c.Trigger(context.Background(), "analytics:warmup")
	require.Error(t, err)
	require.Len(t, enq.tasks, 5)
}

func TestRunStatsAndScheduled(t *testing.T) {
	c := &JobsCLI{
		client: &stubEnqueuer{},
		inspector: stubInspector{
			info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1},
			scheduled: []*asynq.TaskInfo{
				{ID: "a", Type: jobs.TaskLedgerAudit, NextProcessAt: time.Date(2026, 1, 2, 2, 30, 0, 0, time.UTC)},
			},
		},
	}

	var out bytes.Buffer
	require.NoError(t, c.Run(context.Background(), []string{"stats"}, &out))
	require.Contains(t, out.String(), "PENDING")
	require.Contains(t, out.String(), "default")

	out.Reset()
	require.NoError(t, c.Run(context.Background(), []string{"scheduled", "5"}, &out))
	require.Contains(t, out.String(), jobs.TaskLedgerAudit)

	out.Reset()
	require.NoError(t, c.Run(context.Background(), []string{"trigger", jobs.TaskSyncTick}, &out))
	require.Contains(t, out.String(), "enqueued "+jobs.TaskSyncTick)

	require.Error(t, c.Run(context.Background(), nil, &out))
	require.Error(t, c.Run(context.Background(), []string{"scheduled", "many"}, &out))
}

func TestInspectQueuePropagatesErrors(t *testing.T) {
	c := &JobsCLI{inspector: stubInspector{err: errors.New("redis down")}}
	_, err := c.InspectQueue(context.Background())
	require.EqualError(t, err, "redis down")

	var empty *JobsCLI
	_, err = empty.InspectQueue(context.Background())
	require.Error(t, err)
}
