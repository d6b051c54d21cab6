package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pallets/internal/platform/httpx"
)

// Worker wraps the Asynq server.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Concurrency int
	Handlers    []TaskHandler
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if len(cfg.Handlers) == 0 {
		return nil, errors.New("worker: no handlers registered")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueuePrint:   3,
			QueueDefault: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			taskID, _ := asynq.GetTaskID(ctx)
			logger.Error("task failed", slog.String("type", task.Type()), slog.String("task_id", taskID), slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.HandleFunc(h.Type, h.Handler)
	}
	return &Worker{server: srv, mux: mux, logger: logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Enqueuer is the subset of *asynq.Client used by PrintClient.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// PrintClient submits print jobs to the queue. It satisfies pallet.Printer.
type PrintClient struct {
	client    Enqueuer
	uniqueTTL time.Duration
	logger    *slog.Logger
	newID     func() string
}

// NewPrintClient constructs an Asynq backed print client. Identical requests
// within uniqueTTL are collapsed into one job.
func NewPrintClient(client Enqueuer, uniqueTTL time.Duration, logger *slog.Logger) *PrintClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrintClient{client: client, uniqueTTL: uniqueTTL, logger: logger, newID: uuid.NewString}
}

// PrintPalletList enqueues a pallet list print.
func (c *PrintClient) PrintPalletList(ctx context.Context, palletID int64) error {
	task, err := NewPrintPalletListTask(PrintPalletListPayload{PalletID: palletID})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

// PrintItemLabel enqueues an item label print.
func (c *PrintClient) PrintItemLabel(ctx context.Context, itemID int64) error {
	task, err := NewPrintItemLabelTask(PrintItemLabelPayload{ItemID: itemID})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task)
}

func (c *PrintClient) enqueue(ctx context.Context, task *asynq.Task) error {
	requestID := c.newID()
	opts := []asynq.Option{asynq.Queue(QueuePrint), asynq.TaskID(requestID), asynq.MaxRetry(5)}
	if c.uniqueTTL > 0 {
		opts = append(opts, asynq.Unique(c.uniqueTTL))
	}
	_, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		c.logger.InfoContext(ctx, "print already queued", slog.String("type", task.Type()))
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "print queued", slog.String("type", task.Type()), slog.String("request_id", requestID))
	return nil
}

// Close releases client resources.
func (c *PrintClient) Close() error {
	return c.client.Close()
}

// QueueInspector is the subset of *asynq.Inspector used by Handler.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Failed  int    `json:"failed"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueuePrint})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueuePrint)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	resp := queueHealth{Queue: QueuePrint}
	if info != nil {
		resp.Queue = info.Queue
		resp.Pending = info.Pending
		resp.Failed = info.Failed
	}
	httpx.JSON(w, http.StatusOK, resp)
}
