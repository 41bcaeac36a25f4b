package queue

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EventType names a job lifecycle transition.
type EventType string

const (
	EventWaiting   EventType = "waiting"
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRetrying  EventType = "retrying"
	EventStalled   EventType = "stalled"
	EventRemoved   EventType = "removed"
)

// Event describes one transition of one job.
type Event struct {
	Type     EventType     `json:"type"`
	Queue    string        `json:"queue"`
	JobID    string        `json:"jobId"`
	Attempt  int           `json:"attempt"`
	Priority int           `json:"priority"`
	Error    string        `json:"error,omitempty"`
	Delay    time.Duration `json:"delay,omitempty"`
	At       time.Time     `json:"at"`
}

// Subscriber receives events synchronously and must not block.
type Subscriber func(Event)

// EventBus fans events out to subscribers.
type EventBus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewEventBus creates a bus with the given subscribers.
func NewEventBus(subs ...Subscriber) *EventBus {
	return &EventBus{subs: subs}
}

// Subscribe adds a subscriber.
func (b *EventBus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sub)
}

// Publish delivers ev to every subscriber. A nil bus drops events.
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, sub := range subs {
		sub(ev)
	}
}

// LogEvents logs job transitions.
func LogEvents(logger *zap.Logger) Subscriber {
	return func(ev Event) {
		fields := []zap.Field{
			zap.String("queue", ev.Queue),
			zap.String("job_id", ev.JobID),
			zap.Int("attempt", ev.Attempt),
		}
		switch ev.Type {
		case EventFailed:
			logger.Warn("job failed", append(fields, zap.String("error", ev.Error))...)
		case EventRetrying:
			logger.Info("job retrying", append(fields, zap.String("error", ev.Error), zap.Duration("delay", ev.Delay))...)
		case EventStalled:
			logger.Warn("job stalled", fields...)
		case EventCompleted:
			logger.Info("job completed", fields...)
		default:
			logger.Debug("job "+string(ev.Type), fields...)
		}
	}
}

// Publisher is the subset of *nats.Conn used for event fan-out.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// ConnectNATS dials the NATS server used for job events.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name("codearena-queue"), nats.MaxReconnects(-1))
}

// NATSEvents publishes every event as JSON on <prefix>.<queue>.<type>.
func NATSEvents(pub Publisher, prefix string, logger *zap.Logger) Subscriber {
	return func(ev Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			logger.Error("failed to marshal job event", zap.Error(err))
			return
		}
		subject := prefix + "." + ev.Queue + "." + string(ev.Type)
		if err := pub.Publish(subject, b); err != nil {
			logger.Warn("failed to publish job event", zap.String("subject", subject), zap.Error(err))
		}
	}
}
