package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stocksync/internal/channelsync"
	"github.com/odyssey-erp/stocksync/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stocksync/internal/jobs"
	"github.com/odyssey-erp/stocksync/internal/scheduler"
)

type stubMaintenance struct {
	overdue int
	audit   []inventory.AuditResult
	err     error
}

func (s stubMaintenance) FlagOverdueReorders(context.Context) (int, error) { return s.overdue, s.err }
func (s stubMaintenance) AuditAll(context.Context) ([]inventory.AuditResult, error) {
	return s.audit, s.err
}

type stubTicker struct{ report scheduler.Report }

func (s stubTicker) Tick(context.Context) (scheduler.Report, error) { return s.report, nil }

type stubWatchdog int

func (s stubWatchdog) Watchdog(context.Context) (int, error) { return int(s), nil }

type stubJanitor struct {
	module string
	cutoff time.Time
}

func (s *stubJanitor) Cleanup(_ context.Context, module string, cutoff time.Time) (int64, error) {
	s.module, s.cutoff = module, cutoff
	return 7, nil
}

type recordingEnqueuer struct{ tasks []*asynq.Task }

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: QueueDefault}, nil
}

func (r *recordingEnqueuer) Close() error { return nil }

func TestInventoryJobsHandlers(t *testing.T) {
	janitor := &stubJanitor{}
	j := &InventoryJobs{
		Service:  stubMaintenance{overdue: 2, audit: []inventory.AuditResult{{Match: true}, {Match: false}}},
		Ticker:   stubTicker{report: scheduler.Report{Due: 3, Synced: 2, Failed: 1}},
		Watchdog: stubWatchdog(1),
		Keys:     janitor,
		Metrics:  jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
	handlers := j.Handlers()
	require.Len(t, handlers, 5)
	for _, h := range handlers {
		require.NoError(t, h.Handler(context.Background(), asynq.NewTask(h.Type, nil)), h.Type)
	}

	require.Equal(t, channelsync.IdempotencyModule, janitor.module)
	require.WithinDuration(t, time.Now().Add(-30*24*time.Hour), janitor.cutoff, time.Minute)

	failing := &InventoryJobs{Service: stubMaintenance{err: errors.New("db down")}}
	require.Error(t, failing.HandleLedgerAudit(context.Background(), asynq.NewTask(TaskLedgerAudit, nil)))
	require.Error(t, (&InventoryJobs{}).HandleSyncTick(context.Background(), asynq.NewTask(TaskSyncTick, nil)))
}

func TestCronScheduleCoversInventoryTasks(t *testing.T) {
	entries := CronSchedule(0)
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Task.Type())
	}
	require.ElementsMatch(t, []string{TaskSyncTick, TaskSyncWatchdog, TaskReorderOverdue, TaskLedgerAudit, TaskKeyCleanup}, types)
	require.Equal(t, "@every 30s", entries[0].Spec)
}

func TestClientEnqueuesSendEmail(t *testing.T) {
	enq := &recordingEnqueuer{}
	c := NewClientWith(enq)
	_, err := c.EnqueueSendEmail(context.Background(), SendEmailPayload{To: "ops@example.com", Subject: "s"})
	require.NoError(t, err)
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskTypeSendEmail, enq.tasks[0].Type())

	handler := NewSendEmailHandler(nil)
	require.NoError(t, handler(context.Background(), enq.tasks[0]))
	require.ErrorIs(t, handler(context.Background(), asynq.NewTask(TaskTypeSendEmail, []byte("{"))), asynq.SkipRetry)
}

type stubInspector struct {
	queues []string
	info   map[string]*asynq.QueueInfo
	err    error
}

func (s stubInspector) Queues() ([]string, error) { return s.queues, s.err }

func (s stubInspector) GetQueueInfo(q string) (*asynq.QueueInfo, error) { return s.info[q], nil }

func TestHandlerHealthReportsQueues(t *testing.T) {
	h := NewHandler(stubInspector{
		queues: []string{QueueDefault},
		info:   map[string]*asynq.QueueInfo{QueueDefault: {Queue: QueueDefault, Pending: 4, Retry: 1}},
	}, nil)
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Queues []QueueStatus `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []QueueStatus{
		{Queue: QueueSync},
		{Queue: QueueDefault, Pending: 4, Retry: 1},
	}, body.Queues)

	h = NewHandler(stubInspector{err: errors.New("redis down")}, nil)
	rec = httptest.NewRecorder()
	h.health(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueueForRoutesSyncTasks(t *testing.T) {
	require.Equal(t, QueueSync, QueueFor(TaskSyncTick))
	require.Equal(t, QueueSync, QueueFor(TaskSyncWatchdog))
	require.Equal(t, QueueDefault, QueueFor(TaskLedgerAudit))
}
