// Package queue provides an at-least-once task queue on Redis Streams.
// Tasks are appended with XADD and consumed through a consumer group, so a
// crashed worker's pending entries can be reclaimed and redelivered. Entries
// that exceed the delivery budget move to a dead stream for inspection.
package queue

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadforge/internal/resilience"
)

// Task kinds, one per pipeline stage.
const (
	KindEnrich = "enrich"
	KindScore  = "score"
	KindAssign = "assign"
	KindNotify = "notify"
)

// Task is the unit of work carried on the stream.
type Task struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	LeadID     int64     `json:"lead_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask builds a task with a fresh ID.
func NewTask(kind string, leadID int64) Task {
	return Task{
		ID:         uuid.New().String(),
		Kind:       kind,
		LeadID:     leadID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Message pairs a task with its stream entry ID for acknowledgment.
type Message struct {
	StreamID string
	Task     Task
}

// Options configures the queue.
type Options struct {
	Stream      string
	Group       string
	Consumer    string // defaults to hostname plus a random suffix
	MaxAttempts int    // deliveries before dead-lettering; default 3
	MinIdle     time.Duration
}

// Queue is a Redis Streams work queue bound to one consumer group.
type Queue struct {
	client      *redis.Client
	stream      string
	dead        string
	group       string
	consumer    string
	maxAttempts int
	minIdle     time.Duration
}

// New binds a queue to the stream, creating the consumer group if missing.
func New(ctx context.Context, client *redis.Client, opts Options) (*Queue, error) {
	if opts.Stream == "" {
		opts.Stream = "leadforge:tasks"
	}
	if opts.Group == "" {
		opts.Group = "workers"
	}
	if opts.Consumer == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "worker"
		}
		opts.Consumer = host + "-" + uuid.New().String()[:8]
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MinIdle <= 0 {
		opts.MinIdle = time.Minute
	}

	err := client.XGroupCreateMkStream(ctx, opts.Stream, opts.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return nil, eris.Wrapf(err, "queue: create group %s on %s", opts.Group, opts.Stream)
	}

	return &Queue{
		client:      client,
		stream:      opts.Stream,
		dead:        opts.Stream + ":dead",
		group:       opts.Group,
		consumer:    opts.Consumer,
		maxAttempts: opts.MaxAttempts,
		minIdle:     opts.MinIdle,
	}, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Enqueue appends the task to the stream and returns its entry ID.
func (q *Queue) Enqueue(ctx context.Context, task Task) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		ID:     "*",
		Values: taskValues(task),
	}).Result()
	if err != nil {
		return "", eris.Wrapf(err, "queue: enqueue %s for lead %d", task.Kind, task.LeadID)
	}
	zap.L().Debug("task enqueued",
		zap.String("kind", task.Kind),
		zap.Int64("lead_id", task.LeadID),
		zap.String("stream_id", id))
	return id, nil
}

// Fetch blocks up to the given duration for new deliveries to this consumer.
// Returns no messages (and no error) on timeout.
func (q *Queue) Fetch(ctx context.Context, count int64, block time.Duration) ([]Message, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "queue: read group")
	}

	var msgs []Message
	for _, stream := range streams {
		for _, raw := range stream.Messages {
			task, err := parseTask(raw.Values)
			if err != nil {
				// malformed entry: ack so it does not loop forever
				zap.L().Warn("dropping malformed task",
					zap.String("stream_id", raw.ID), zap.Error(err))
				q.ackQuiet(ctx, raw.ID)
				continue
			}
			msgs = append(msgs, Message{StreamID: raw.ID, Task: task})
		}
	}
	return msgs, nil
}

// Ack marks the entry as processed.
func (q *Queue) Ack(ctx context.Context, streamID string) error {
	err := q.client.XAck(ctx, q.stream, q.group, streamID).Err()
	return eris.Wrapf(err, "queue: ack %s", streamID)
}

func (q *Queue) ackQuiet(ctx context.Context, streamID string) {
	if err := q.Ack(ctx, streamID); err != nil {
		zap.L().Warn("ack failed", zap.String("stream_id", streamID), zap.Error(err))
	}
}

// DeadLetter moves the message to the dead stream and acknowledges it.
func (q *Queue) DeadLetter(ctx context.Context, msg Message, cause error) error {
	values := taskValues(msg.Task)
	values["error"] = cause.Error()
	values["error_type"] = resilience.ClassifyError(cause)
	values["dead_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.dead,
		ID:     "*",
		Values: values,
	}).Err(); err != nil {
		return eris.Wrapf(err, "queue: dead-letter %s", msg.StreamID)
	}
	zap.L().Warn("task dead-lettered",
		zap.String("kind", msg.Task.Kind),
		zap.Int64("lead_id", msg.Task.LeadID),
		zap.Error(cause))
	return q.Ack(ctx, msg.StreamID)
}

// Reclaim takes over pending entries idle longer than MinIdle, typically
// left by a dead worker. Entries past the delivery budget are dead-lettered
// instead of redelivered.
func (q *Queue) Reclaim(ctx context.Context, count int64) ([]Message, error) {
	claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, eris.Wrap(err, "queue: autoclaim")
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	// claiming bumps the delivery counter, so the budget check reads it
	// after the claim
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, eris.Wrap(err, "queue: pending scan")
	}
	attempts := make(map[string]int64, len(pending))
	for _, p := range pending {
		attempts[p.ID] = p.RetryCount
	}

	var msgs []Message
	for _, raw := range claimed {
		task, err := parseTask(raw.Values)
		if err != nil {
			zap.L().Warn("dropping malformed task",
				zap.String("stream_id", raw.ID), zap.Error(err))
			q.ackQuiet(ctx, raw.ID)
			continue
		}
		msg := Message{StreamID: raw.ID, Task: task}
		if attempts[raw.ID] >= int64(q.maxAttempts) {
			if err := q.DeadLetter(ctx, msg, eris.Errorf("queue: %d deliveries exhausted", attempts[raw.ID])); err != nil {
				zap.L().Warn("dead-letter failed", zap.String("stream_id", raw.ID), zap.Error(err))
			}
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DeadStream returns the dead-letter stream name.
func (q *Queue) DeadStream() string {
	return q.dead
}

func taskValues(task Task) map[string]any {
	return map[string]any{
		"id":          task.ID,
		"kind":        task.Kind,
		"lead_id":     strconv.FormatInt(task.LeadID, 10),
		"enqueued_at": task.EnqueuedAt.Format(time.RFC3339Nano),
	}
}

func parseTask(values map[string]any) (Task, error) {
	str := func(key string) string {
		if v, ok := values[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	task := Task{ID: str("id"), Kind: str("kind")}
	if task.Kind == "" {
		raw, _ := json.Marshal(values)
		return Task{}, eris.Errorf("queue: entry missing kind: %s", raw)
	}
	leadID, err := strconv.ParseInt(str("lead_id"), 10, 64)
	if err != nil {
		return Task{}, eris.Wrap(err, "queue: parse lead_id")
	}
	task.LeadID = leadID
	if ts, err := time.Parse(time.RFC3339Nano, str("enqueued_at")); err == nil {
		task.EnqueuedAt = ts
	}
	return task, nil
}
