package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts Options) (*Queue, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	if opts.MinIdle == 0 {
		opts.MinIdle = time.Millisecond
	}
	q, err := New(context.Background(), client, opts)
	require.NoError(t, err)
	return q, mr, client
}

func TestEnqueueAndFetch(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	task := NewTask(KindEnrich, 42)
	id, err := q.Enqueue(ctx, task)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := q.Fetch(ctx, 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, task.ID, msgs[0].Task.ID)
	assert.Equal(t, KindEnrich, msgs[0].Task.Kind)
	assert.Equal(t, int64(42), msgs[0].Task.LeadID)
	assert.Equal(t, id, msgs[0].StreamID)
}

func TestFetch_EmptyStream(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})

	msgs, err := q.Fetch(context.Background(), 10, time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAck_RemovesFromPending(t *testing.T) {
	q, _, client := newTestQueue(t, Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, NewTask(KindEnrich, 1))
	require.NoError(t, err)

	msgs, err := q.Fetch(ctx, 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Ack(ctx, msgs[0].StreamID))

	summary, err := client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Zero(t, summary.Count)
}

func TestFetch_DeliversInOrder(t *testing.T) {
	q, _, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	for _, leadID := range []int64{1, 2, 3} {
		_, err := q.Enqueue(ctx, NewTask(KindEnrich, leadID))
		require.NoError(t, err)
	}

	msgs, err := q.Fetch(ctx, 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(1), msgs[0].Task.LeadID)
	assert.Equal(t, int64(3), msgs[2].Task.LeadID)
}

func TestReclaim_RedeliversUnacked(t *testing.T) {
	q, mr, _ := newTestQueue(t, Options{MaxAttempts: 5})
	ctx := context.Background()

	task := NewTask(KindEnrich, 7)
	_, err := q.Enqueue(ctx, task)
	require.NoError(t, err)

	// fetched but never acked, as if the worker died
	msgs, err := q.Fetch(ctx, 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// SetTime advances the clock miniredis uses for pending-entry idle time
	mr.SetTime(time.Now().Add(time.Minute))

	reclaimed, err := q.Reclaim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, task.ID, reclaimed[0].Task.ID)
}

func TestReclaim_DeadLettersAfterBudget(t *testing.T) {
	q, mr, client := newTestQueue(t, Options{MaxAttempts: 2})
	ctx := context.Background()

	task := NewTask(KindEnrich, 7)
	_, err := q.Enqueue(ctx, task)
	require.NoError(t, err)

	_, err = q.Fetch(ctx, 10, time.Millisecond)
	require.NoError(t, err)

	// each reclaim bumps the delivery counter until the budget runs out
	for i := 0; i < 3; i++ {
		mr.SetTime(time.Now().Add(time.Duration(i+1) * time.Minute))
		if _, err := q.Reclaim(ctx, 10); err != nil {
			t.Fatal(err)
		}
	}

	dead, err := client.XRange(ctx, q.DeadStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, task.ID, dead[0].Values["id"])
	assert.Contains(t, dead[0].Values, "error")
	assert.Equal(t, "permanent", dead[0].Values["error_type"])

	summary, err := client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Zero(t, summary.Count)
}

func TestDeadLetter_AcksOriginal(t *testing.T) {
	q, _, client := newTestQueue(t, Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, NewTask(KindScore, 9))
	require.NoError(t, err)

	msgs, err := q.Fetch(ctx, 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.DeadLetter(ctx, msgs[0], assert.AnError))

	dead, err := client.XRange(ctx, q.DeadStream(), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)

	summary, err := client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Zero(t, summary.Count)
}

func TestNew_ExistingGroupIsFine(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	_, err := New(ctx, client, Options{Stream: "tasks", Group: "g"})
	require.NoError(t, err)
	_, err = New(ctx, client, Options{Stream: "tasks", Group: "g"})
	require.NoError(t, err)
}

func TestParseTask_Malformed(t *testing.T) {
	_, err := parseTask(map[string]any{"lead_id": "12"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing kind")

	_, err = parseTask(map[string]any{"kind": KindEnrich, "lead_id": "not-a-number"})
	require.Error(t, err)
}

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask(KindNotify, 3)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, KindNotify, task.Kind)
	assert.WithinDuration(t, time.Now().UTC(), task.EnqueuedAt, time.Minute)
}
