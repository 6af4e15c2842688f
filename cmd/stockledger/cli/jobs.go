package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string, redisDB int) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr, DB: redisDB}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name. Revaluation may be narrowed to
// one position.
func (c *JobsCLI) Trigger(ctx context.Context, name string, warehouseID, productID int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskInventoryRevaluation:
		task, err = jobs.NewInventoryRevaluationTask(jobs.InventoryRevaluationPayload{
			ScheduledFor: time.Now().UTC(),
			WarehouseID:  warehouseID,
			ProductID:    productID,
		})
	case jobs.TaskGLIntegrity:
		task, err = jobs.NewGLIntegrityTask()
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for queue.
func (c *JobsCLI) InspectQueue(queue string) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(queue)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: queue}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// RunJobs executes `jobs trigger <name> [-warehouse N -product N]` or `jobs stats`.
func RunJobs(ctx context.Context, redisAddr string, redisDB int, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: jobs trigger <name> [-warehouse N -product N] | jobs stats")
	}
	c := NewJobsCLI(redisAddr, redisDB)
	defer c.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("usage: jobs trigger <name>")
		}
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		fs.SetOutput(out)
		warehouse := fs.Int64("warehouse", 0, "warehouse id")
		product := fs.Int64("product", 0, "product id")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		info, err := c.Trigger(ctx, args[1], *warehouse, *product)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return err
	case "stats":
		for _, queue := range []string{jobs.QueueDefault, jobs.QueueMaintenance} {
			stats, err := c.InspectQueue(queue)
			if err != nil {
				return fmt.Errorf("queue %s: %w", queue, err)
			}
			if _, err := fmt.Fprintf(out, "%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("jobs cli: unknown command %q", args[0])
}
