// Package queue is the asynchronous execution path: one priority queue per
// language, each drained by its own bounded worker pool.
//
// Jobs are dequeued by ascending priority value, ties in enqueue order. A
// failed attempt is retried with exponential backoff while attempts remain
// and the failure is retryable; validation and not-found failures never are.
// Once a job is active it can only be stopped by the engine's own timeout.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/isdmx/codearena/apperr"
	"github.com/isdmx/codearena/execution"
)

var (
	// ErrClosed is returned by Dequeue and Add once the queue is closed.
	ErrClosed = errors.New("queue closed")
	// ErrFull is wrapped in the error returned by Add when MaxWaiting is reached.
	ErrFull = errors.New("queue full")
	// ErrNotActive is returned when reporting on a job the caller no longer owns.
	ErrNotActive = errors.New("job is not active")
)

// Options is the fixed policy of one queue.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	// Retention bounds how many finished jobs stay queryable; <= 0 keeps all.
	CompletedRetention int
	FailedRetention    int
	// MaxWaiting bounds waiting plus delayed jobs; <= 0 is unbounded.
	MaxWaiting int
	// StallAfter is how long a job may stay active before it is presumed
	// orphaned; <= 0 disables stall detection.
	StallAfter time.Duration
}

// DefaultOptions returns the standard retry and retention policy.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:        3,
		BackoffBase:        2 * time.Second,
		CompletedRetention: 100,
		FailedRetention:    50,
		MaxWaiting:         1000,
		StallAfter:         2 * time.Minute,
	}
}

// Queue holds the jobs of one language.
type Queue struct {
	name   string
	opts   Options
	events *EventBus
	now    func() time.Time

	mu        sync.Mutex
	seq       uint64
	waiting   jobHeap
	jobs      map[string]*Job
	timers    map[string]*time.Timer
	completed []string
	failed    []string
	active    int
	delayed   int
	closed    bool

	notify chan struct{}
	done   chan struct{}
}

// New creates a queue named name.
func New(name string, opts Options, events *EventBus) *Queue {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Queue{
		name:   name,
		opts:   opts,
		events: events,
		now:    time.Now,
		jobs:   make(map[string]*Job),
		timers: make(map[string]*time.Timer),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) event(t EventType, job *Job) Event {
	return Event{Type: t, Queue: q.name, JobID: job.ID, Attempt: job.Attempts, Priority: job.Priority, Error: job.Error, At: q.now()}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Add enqueues job in the waiting state. ID, Request and Priority must be set.
func (q *Queue) Add(job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.opts.MaxWaiting > 0 && len(q.waiting)+q.delayed >= q.opts.MaxWaiting {
		q.mu.Unlock()
		return apperr.Unexpected("cannot enqueue job on "+q.name, ErrFull)
	}
	q.seq++
	j := job
	j.seq = q.seq
	j.State = StateWaiting
	j.Attempts = 0
	j.MaxAttempts = q.opts.MaxAttempts
	j.CreatedAt = q.now()
	q.jobs[j.ID] = &j
	heap.Push(&q.waiting, &j)
	ev := q.event(EventWaiting, &j)
	q.mu.Unlock()

	q.signal()
	q.events.Publish(ev)
	return nil
}

// Dequeue blocks until a job is available, ctx ends or the queue closes.
// The returned snapshot is active and its Attempts counts this attempt.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Job{}, ErrClosed
		}
		if len(q.waiting) > 0 {
			j := heap.Pop(&q.waiting).(*Job)
			j.State = StateActive
			j.Attempts++
			j.StartedAt = q.now()
			q.active++
			more := len(q.waiting) > 0
			snapshot := *j
			ev := q.event(EventActive, j)
			q.mu.Unlock()

			if more {
				q.signal()
			}
			q.events.Publish(ev)
			return snapshot, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.done:
			return Job{}, ErrClosed
		case <-q.notify:
		}
	}
}

// owned returns the queue's job for a snapshot still holding the same attempt.
func (q *Queue) owned(snapshot Job) (*Job, error) {
	j, ok := q.jobs[snapshot.ID]
	if !ok || j.State != StateActive || j.Attempts != snapshot.Attempts {
		return nil, ErrNotActive
	}
	return j, nil
}

// Complete records a successful attempt.
func (q *Queue) Complete(snapshot Job, resp *execution.Response) error {
	q.mu.Lock()
	j, err := q.owned(snapshot)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	q.active--
	j.State = StateCompleted
	j.Result = resp
	j.Error = ""
	j.ErrorKind = ""
	j.FinishedAt = q.now()
	q.completed = q.retain(q.completed, j.ID, q.opts.CompletedRetention)
	ev := q.event(EventCompleted, j)
	q.mu.Unlock()

	q.events.Publish(ev)
	return nil
}

// Fail records a failed attempt. Retryable failures with attempts left are
// delayed by BackoffBase * 2^(attempts-1) and then waiting again; everything
// else is final.
func (q *Queue) Fail(snapshot Job, cause error, retryable bool) error {
	q.mu.Lock()
	j, err := q.owned(snapshot)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	q.active--
	j.Error = cause.Error()
	j.ErrorKind = string(apperr.KindOf(cause))

	var ev Event
	if retryable && j.Attempts < j.MaxAttempts && !q.closed {
		delay := q.backoff(j.Attempts)
		j.State = StateDelayed
		q.delayed++
		id := j.ID
		q.timers[id] = time.AfterFunc(delay, func() { q.promote(id) })
		ev = q.event(EventRetrying, j)
		ev.Delay = delay
	} else {
		j.State = StateFailed
		j.FinishedAt = q.now()
		q.failed = q.retain(q.failed, j.ID, q.opts.FailedRetention)
		ev = q.event(EventFailed, j)
	}
	q.mu.Unlock()

	q.events.Publish(ev)
	return nil
}

func (q *Queue) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return q.opts.BackoffBase << (attempts - 1)
}

// promote moves a delayed job back to waiting.
func (q *Queue) promote(id string) {
	q.mu.Lock()
	delete(q.timers, id)
	j, ok := q.jobs[id]
	if !ok || j.State != StateDelayed || q.closed {
		q.mu.Unlock()
		return
	}
	q.delayed--
	j.State = StateWaiting
	heap.Push(&q.waiting, j)
	ev := q.event(EventWaiting, j)
	q.mu.Unlock()

	q.signal()
	q.events.Publish(ev)
}

// retain appends id to a finished list and evicts the oldest entries past limit.
func (q *Queue) retain(list []string, id string, limit int) []string {
	list = append(list, id)
	if limit <= 0 {
		return list
	}
	for len(list) > limit {
		delete(q.jobs, list[0])
		list = list[1:]
	}
	return list
}

// Remove cancels a waiting or delayed job. Active and finished jobs are not
// removable and report false.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return false
	}
	switch j.State {
	case StateWaiting:
		heap.Remove(&q.waiting, j.index)
	case StateDelayed:
		if t, ok := q.timers[id]; ok {
			t.Stop()
			delete(q.timers, id)
		}
		q.delayed--
	default:
		q.mu.Unlock()
		return false
	}
	delete(q.jobs, id)
	ev := q.event(EventRemoved, j)
	q.mu.Unlock()

	q.events.Publish(ev)
	return true
}

// Get returns a snapshot of the job with id.
func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Stats counts jobs by state. Finished counts are bounded by retention.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Waiting:   len(q.waiting),
		Active:    q.active,
		Completed: len(q.completed),
		Failed:    len(q.failed),
		Delayed:   q.delayed,
	}
}

// CheckStalled returns active jobs older than StallAfter to waiting, or fails
// them when they have no attempts left. It returns how many were stalled.
func (q *Queue) CheckStalled() int {
	if q.opts.StallAfter <= 0 {
		return 0
	}
	q.mu.Lock()
	now := q.now()
	var events []Event
	for _, j := range q.jobs {
		if j.State != StateActive || now.Sub(j.StartedAt) < q.opts.StallAfter {
			continue
		}
		events = append(events, q.stallLocked(j)...)
	}
	q.mu.Unlock()

	if len(events) > 0 {
		q.signal()
	}
	stalled := 0
	for _, ev := range events {
		if ev.Type == EventStalled {
			stalled++
		}
		q.events.Publish(ev)
	}
	return stalled
}

// Stall hands back a job whose worker gave up on it mid-attempt.
func (q *Queue) Stall(snapshot Job) error {
	q.mu.Lock()
	j, err := q.owned(snapshot)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	events := q.stallLocked(j)
	q.mu.Unlock()

	q.signal()
	for _, ev := range events {
		q.events.Publish(ev)
	}
	return nil
}

func (q *Queue) stallLocked(j *Job) []Event {
	q.active--
	j.Error = "job stalled"
	j.ErrorKind = string(apperr.KindUnexpected)
	events := []Event{q.event(EventStalled, j)}
	if j.Attempts >= j.MaxAttempts {
		j.State = StateFailed
		j.FinishedAt = q.now()
		q.failed = q.retain(q.failed, j.ID, q.opts.FailedRetention)
		return append(events, q.event(EventFailed, j))
	}
	j.State = StateWaiting
	heap.Push(&q.waiting, j)
	return append(events, q.event(EventWaiting, j))
}

// Close stops dispatching. Blocked Dequeue calls return ErrClosed and pending
// retries are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	close(q.done)
}
