package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type recordingEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (e *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	e.opts = append(e.opts, opts)
	if e.err != nil {
		return nil, e.err
	}
	return &asynq.TaskInfo{Type: task.Type(), Queue: QueuePrint}, nil
}

func (e *recordingEnqueuer) Close() error { return nil }

func optionValues(opts []asynq.Option) map[asynq.OptionType]any {
	out := make(map[asynq.OptionType]any, len(opts))
	for _, opt := range opts {
		out[opt.Type()] = opt.Value()
	}
	return out
}

func newTestPrintClient(enq Enqueuer, ttl time.Duration) *PrintClient {
	return NewPrintClient(enq, ttl, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPrintClientEnqueuesOnPrintQueue(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := newTestPrintClient(enq, 30*time.Second)
	client.newID = func() string { return "req-1" }

	require.NoError(t, client.PrintPalletList(context.Background(), 5))

	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskPrintPalletList, enq.tasks[0].Type())
	require.JSONEq(t, `{"pallet_id":5}`, string(enq.tasks[0].Payload()))

	values := optionValues(enq.opts[0])
	require.Equal(t, QueuePrint, values[asynq.QueueOpt])
	require.Equal(t, "req-1", values[asynq.TaskIDOpt])
	require.Equal(t, 5, values[asynq.MaxRetryOpt])
	require.Equal(t, 30*time.Second, values[asynq.UniqueOpt])
}

func TestPrintClientTreatsDuplicatesAsQueued(t *testing.T) {
	enq := &recordingEnqueuer{err: asynq.ErrDuplicateTask}
	client := newTestPrintClient(enq, time.Minute)

	require.NoError(t, client.PrintItemLabel(context.Background(), 3))
	require.Len(t, enq.tasks, 1)
}

func TestPrintClientPropagatesFailures(t *testing.T) {
	boom := errors.New("redis down")
	client := newTestPrintClient(&recordingEnqueuer{err: boom}, 0)

	require.ErrorIs(t, client.PrintItemLabel(context.Background(), 3), boom)
	require.ErrorIs(t, client.PrintPalletList(context.Background(), 0), ErrInvalidPayload)
}

func TestPrintClientWithoutUniqueWindow(t *testing.T) {
	enq := &recordingEnqueuer{}
	client := newTestPrintClient(enq, 0)

	require.NoError(t, client.PrintItemLabel(context.Background(), 8))
	_, ok := optionValues(enq.opts[0])[asynq.UniqueOpt]
	require.False(t, ok)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func serveHealth(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	NewHandler(inspector, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(router)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	return rr
}

func TestJobsHealth(t *testing.T) {
	rr := serveHealth(t, stubInspector{info: &asynq.QueueInfo{Queue: QueuePrint, Pending: 4, Failed: 1}})
	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, queueHealth{Queue: QueuePrint, Pending: 4, Failed: 1}, body)

	rr = serveHealth(t, stubInspector{err: errors.New("unreachable")})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serveHealth(t, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestNewWorkerRequiresHandlers(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	require.Error(t, err)
}
