package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadforge/internal/queue"
	"github.com/sells-group/leadforge/internal/resilience"
)

// WorkerOptions tunes the consume loop.
type WorkerOptions struct {
	Concurrency  int           // parallel task handlers; default 4
	FetchBlock   time.Duration // XREADGROUP block; default 2s
	ReclaimEvery time.Duration // stale-entry sweep interval; default 30s
	Retry        resilience.RetryConfig
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.FetchBlock <= 0 {
		o.FetchBlock = 2 * time.Second
	}
	if o.ReclaimEvery <= 0 {
		o.ReclaimEvery = 30 * time.Second
	}
	return o
}

// Worker consumes tasks from the queue and runs them through the Runner.
// Transient failures retry in process; a still-failing transient task stays
// pending for queue redelivery, while permanent failures dead-letter at once.
type Worker struct {
	queue  *queue.Queue
	runner *Runner
	opts   WorkerOptions
}

func NewWorker(q *queue.Queue, runner *Runner, opts WorkerOptions) *Worker {
	return &Worker{queue: q, runner: runner, opts: opts.withDefaults()}
}

// Run consumes until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("worker started", zap.Int("concurrency", w.opts.Concurrency))

	reclaim := time.NewTicker(w.opts.ReclaimEvery)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker stopping")
			return nil
		case <-reclaim.C:
			msgs, err := w.queue.Reclaim(ctx, int64(w.opts.Concurrency))
			if err != nil {
				zap.L().Warn("reclaim failed", zap.Error(err))
				continue
			}
			w.process(ctx, msgs)
		default:
			msgs, err := w.queue.Fetch(ctx, int64(w.opts.Concurrency), w.opts.FetchBlock)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				zap.L().Warn("fetch failed", zap.Error(err))
				// pace the loop while redis is down
				if !sleepOrDone(ctx, w.opts.FetchBlock) {
					return nil
				}
				continue
			}
			w.process(ctx, msgs)
		}
	}
}

// sleepOrDone waits for d, returning false if the context ends first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// process runs a batch of messages with bounded parallelism.
func (w *Worker) process(ctx context.Context, msgs []queue.Message) {
	if len(msgs) == 0 {
		return
	}
	g := new(errgroup.Group)
	g.SetLimit(w.opts.Concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			w.handleOne(ctx, msg)
			return nil
		})
	}
	g.Wait()
}

func (w *Worker) handleOne(ctx context.Context, msg queue.Message) {
	retry := w.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("pipeline", msg.Task.Kind)
	}

	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		return w.runner.Handle(ctx, msg.Task)
	})
	if err == nil {
		if ackErr := w.queue.Ack(ctx, msg.StreamID); ackErr != nil {
			zap.L().Warn("ack failed", zap.String("stream_id", msg.StreamID), zap.Error(ackErr))
		}
		return
	}
	if ctx.Err() != nil {
		// shutdown mid-task: leave pending for redelivery
		return
	}

	if resilience.IsTransient(err) {
		// exhausted in-process retries; the queue redelivers later
		zap.L().Warn("task failed, leaving for redelivery",
			zap.String("kind", msg.Task.Kind),
			zap.Int64("lead_id", msg.Task.LeadID),
			zap.Error(err))
		return
	}

	if dlErr := w.queue.DeadLetter(ctx, msg, err); dlErr != nil {
		zap.L().Error("dead-letter failed",
			zap.String("stream_id", msg.StreamID), zap.Error(dlErr))
	}
}
