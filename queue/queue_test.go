package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/execution"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) subscriber() Subscriber {
	return func(ev Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
	}
}

func (r *recorder) types(jobID string) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, ev := range r.events {
		if ev.JobID == jobID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func testOptions() Options {
	return Options{
		MaxAttempts:        3,
		BackoffBase:        5 * time.Millisecond,
		CompletedRetention: 10,
		FailedRetention:    10,
	}
}

func job(id string, priority int) Job {
	return Job{ID: id, Language: "python", Priority: priority, Request: execution.Request{Code: "print(1)", Language: "python"}}
}

func dequeue(t *testing.T, q *Queue) Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return j
}

func TestPriorityOrderWithFIFOTies(t *testing.T) {
	q := New("python", testOptions(), nil)
	for _, j := range []Job{job("a", 5), job("b", 1), job("c", 5), job("d", 1), job("e", 3)} {
		require.NoError(t, q.Add(j))
	}

	var order []string
	for i := 0; i < 5; i++ {
		order = append(order, dequeue(t, q).ID)
	}
	assert.Equal(t, []string{"b", "d", "e", "a", "c"}, order)
}

func TestDequeueBlocksUntilAdd(t *testing.T) {
	q := New("python", testOptions(), nil)

	got := make(chan Job, 1)
	go func() {
		j, err := q.Dequeue(context.Background())
		if err == nil {
			got <- j
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Add(job("late", 0)))

	select {
	case j := <-got:
		assert.Equal(t, "late", j.ID)
		assert.Equal(t, StateActive, j.State)
		assert.Equal(t, 1, j.Attempts)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestDequeueHonoursContextAndClose(t *testing.T) {
	q := New("python", testOptions(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	q.Close()
	_, err = q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.Add(job("x", 0)), ErrClosed)
	q.Close()
}

func TestMaxWaiting(t *testing.T) {
	opts := testOptions()
	opts.MaxWaiting = 2
	q := New("python", opts, nil)

	require.NoError(t, q.Add(job("a", 0)))
	require.NoError(t, q.Add(job("b", 0)))
	err := q.Add(job("c", 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFull)
	assert.True(t, apperr.IsKind(err, apperr.KindUnexpected))
}

func TestCompleteAndStats(t *testing.T) {
	rec := &recorder{}
	q := New("python", testOptions(), NewEventBus(rec.subscriber()))
	require.NoError(t, q.Add(job("a", 0)))
	require.NoError(t, q.Add(job("b", 0)))

	j := dequeue(t, q)
	assert.Equal(t, Stats{Waiting: 1, Active: 1}, q.Stats())

	resp := &execution.Response{Success: true}
	require.NoError(t, q.Complete(j, resp))
	assert.Equal(t, Stats{Waiting: 1, Completed: 1}, q.Stats())

	got, ok := q.Get("a")
	require.True(t, ok)
	assert.Equal(t, StateCompleted, got.State)
	assert.Same(t, resp, got.Result)

	assert.ErrorIs(t, q.Complete(j, resp), ErrNotActive)
	assert.Equal(t, []EventType{EventWaiting, EventActive, EventCompleted}, rec.types("a"))
}

func TestRetriesThenFinalFailure(t *testing.T) {
	rec := &recorder{}
	q := New("python", testOptions(), NewEventBus(rec.subscriber()))
	require.NoError(t, q.Add(job("a", 0)))

	boom := apperr.Unexpected("sandbox crashed", errors.New("exit 137"))
	for attempt := 1; attempt <= 3; attempt++ {
		j := dequeue(t, q)
		assert.Equal(t, attempt, j.Attempts)
		require.NoError(t, q.Fail(j, boom, true))
		if attempt < 3 {
			got, _ := q.Get("a")
			assert.Equal(t, StateDelayed, got.State)
		}
	}

	got, ok := q.Get("a")
	require.True(t, ok)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, string(apperr.KindUnexpected), got.ErrorKind)
	assert.Equal(t, Stats{Failed: 1}, q.Stats())

	assert.Equal(t, []EventType{
		EventWaiting, EventActive, EventRetrying,
		EventWaiting, EventActive, EventRetrying,
		EventWaiting, EventActive, EventFailed,
	}, rec.types("a"))
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	q := New("python", testOptions(), nil)
	require.NoError(t, q.Add(job("a", 0)))

	j := dequeue(t, q)
	require.NoError(t, q.Fail(j, apperr.Validation(apperr.RuleSyntax, "bad"), false))

	got, _ := q.Get("a")
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 1, got.Attempts)
}

func TestBackoffDoubles(t *testing.T) {
	q := New("python", Options{BackoffBase: 100 * time.Millisecond}, nil)
	assert.Equal(t, 100*time.Millisecond, q.backoff(1))
	assert.Equal(t, 200*time.Millisecond, q.backoff(2))
	assert.Equal(t, 400*time.Millisecond, q.backoff(3))
}

func TestRemove(t *testing.T) {
	opts := testOptions()
	opts.BackoffBase = time.Hour
	rec := &recorder{}
	q := New("python", opts, NewEventBus(rec.subscriber()))

	require.NoError(t, q.Add(job("active", 0)))
	require.NoError(t, q.Add(job("waiting", 1)))
	require.NoError(t, q.Add(job("delayed", 2)))

	active := dequeue(t, q)
	assert.False(t, q.Remove(active.ID))

	assert.True(t, q.Remove("waiting"))
	_, ok := q.Get("waiting")
	assert.False(t, ok)
	assert.Contains(t, rec.types("waiting"), EventRemoved)

	d := dequeue(t, q)
	require.Equal(t, "delayed", d.ID)
	require.NoError(t, q.Fail(d, errors.New("flaky"), true))
	assert.Equal(t, 1, q.Stats().Delayed)
	assert.True(t, q.Remove("delayed"))
	assert.Equal(t, 0, q.Stats().Delayed)

	assert.False(t, q.Remove("missing"))
	require.NoError(t, q.Complete(active, &execution.Response{}))
	assert.False(t, q.Remove(active.ID))
}

func TestRetention(t *testing.T) {
	opts := testOptions()
	opts.CompletedRetention = 2
	q := New("python", opts, nil)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Add(job(id, 0)))
		require.NoError(t, q.Complete(dequeue(t, q), &execution.Response{}))
	}

	_, ok := q.Get("a")
	assert.False(t, ok)
	_, ok = q.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, q.Stats().Completed)
}

func TestCheckStalled(t *testing.T) {
	opts := testOptions()
	opts.StallAfter = time.Minute
	opts.MaxAttempts = 2
	rec := &recorder{}
	q := New("python", opts, NewEventBus(rec.subscriber()))

	now := time.Unix(1_700_000_000, 0)
	q.now = func() time.Time { return now }

	require.NoError(t, q.Add(job("a", 0)))
	first := dequeue(t, q)

	assert.Equal(t, 0, q.CheckStalled())
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, q.CheckStalled())

	got, _ := q.Get("a")
	assert.Equal(t, StateWaiting, got.State)
	assert.ErrorIs(t, q.Complete(first, &execution.Response{}), ErrNotActive)

	second := dequeue(t, q)
	assert.Equal(t, 2, second.Attempts)
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, q.CheckStalled())

	got, _ = q.Get("a")
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, []EventType{
		EventWaiting, EventActive, EventStalled, EventWaiting, EventActive, EventStalled, EventFailed,
	}, rec.types("a"))
}

func TestCloseDropsPendingRetries(t *testing.T) {
	opts := testOptions()
	opts.BackoffBase = 10 * time.Millisecond
	q := New("python", opts, nil)
	require.NoError(t, q.Add(job("a", 0)))
	require.NoError(t, q.Fail(dequeue(t, q), errors.New("flaky"), true))

	q.Close()
	time.Sleep(30 * time.Millisecond)
	got, _ := q.Get("a")
	assert.Equal(t, StateDelayed, got.State)
}
