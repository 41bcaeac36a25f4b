package queue

import (
	"time"

	"github.com/isdmx/codearena/execution"
)

// State is a job's position in its lifecycle:
//
//	waiting -> active -> completed
//	                  -> delayed -> waiting (retry)
//	                  -> failed (attempts exhausted or not retryable)
//	active -> waiting (stalled worker recovered)
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is one queued execution. Values handed out by the queue are snapshots;
// only the queue mutates its own copy.
type Job struct {
	ID          string              `json:"id"`
	Language    string              `json:"language"`
	Request     execution.Request   `json:"-"`
	CallerID    string              `json:"callerId,omitempty"`
	Priority    int                 `json:"priority"`
	Attempts    int                 `json:"attempts"`
	MaxAttempts int                 `json:"maxAttempts"`
	State       State               `json:"state"`
	Result      *execution.Response `json:"result,omitempty"`
	Error       string              `json:"error,omitempty"`
	ErrorKind   string              `json:"errorKind,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	StartedAt   time.Time           `json:"startedAt,omitzero"`
	FinishedAt  time.Time           `json:"finishedAt,omitzero"`

	seq   uint64
	index int
}

// Stats counts the jobs of one queue by state.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// jobHeap orders waiting jobs: lower priority value first, then enqueue order.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[:n-1]
	return job
}
