package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pallets/internal/pallet"
	"github.com/odyssey-erp/odyssey-pallets/jobs"
)

// Inspector is the subset of *asynq.Inspector used by JobsCLI.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for print jobs.
type JobsCLI struct {
	printer   pallet.Printer
	inspector Inspector
}

// NewJobsCLI builds the helpers. Either dependency may be nil; commands that
// need it then fail.
func NewJobsCLI(printer pallet.Printer, inspector Inspector) *JobsCLI {
	return &JobsCLI{printer: printer, inspector: inspector}
}

// Reprint enqueues a print for a pallet list ("pallet") or item label ("item").
func (c *JobsCLI) Reprint(ctx context.Context, kind string, id int64) error {
	if c == nil || c.printer == nil {
		return errors.New("jobs cli: printer not configured")
	}
	if id <= 0 {
		return fmt.Errorf("jobs cli: id must be positive, got %d", id)
	}
	switch kind {
	case "pallet":
		return c.printer.PrintPalletList(ctx, id)
	case "item":
		return c.printer.PrintItemLabel(ctx, id)
	default:
		return fmt.Errorf("jobs cli: unsupported print kind %q", kind)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the print queue metrics.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueuePrint)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueuePrint}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListRetry returns print tasks waiting for another attempt.
func (c *JobsCLI) ListRetry(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListRetryTasks(jobs.QueuePrint, asynq.PageSize(size), asynq.Page(1))
}

// Run executes "stats", "retries" or "reprint <pallet|item> <id>" and writes
// the result to out.
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: jobs <stats|retries|reprint pallet|item <id>>")
	}
	switch args[0] {
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return err
	case "retries":
		tasks, err := c.ListRetry(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if _, err := fmt.Fprintf(out, "%s %s retried=%d last_err=%q\n", t.ID, t.Type, t.Retried, t.LastErr); err != nil {
				return err
			}
		}
		return nil
	case "reprint":
		if len(args) != 3 {
			return errors.New("usage: jobs reprint <pallet|item> <id>")
		}
		id, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("jobs cli: invalid id %q", args[2])
		}
		if err := c.Reprint(ctx, args[1], id); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "queued %s %d\n", args[1], id)
		return err
	default:
		return fmt.Errorf("jobs cli: unknown command %q", args[0])
	}
}
