package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return p.err
}

func TestNATSEvents(t *testing.T) {
	pub := &fakePublisher{}
	sub := NATSEvents(pub, "codearena.jobs", zap.NewNop())

	sub(Event{Type: EventCompleted, Queue: "python", JobID: "j1", Attempt: 1, At: time.Unix(0, 0)})

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "codearena.jobs.python.completed", pub.subjects[0])

	var ev Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &ev))
	assert.Equal(t, "j1", ev.JobID)
	assert.Equal(t, EventCompleted, ev.Type)

	pub.err = errors.New("nats: connection closed")
	sub(Event{Type: EventFailed, Queue: "python", JobID: "j2"})
	assert.Len(t, pub.subjects, 2)
}

func TestLogEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bus := NewEventBus()
	bus.Subscribe(LogEvents(zap.New(core)))

	bus.Publish(Event{Type: EventFailed, Queue: "go", JobID: "j1", Error: "boom"})
	bus.Publish(Event{Type: EventStalled, Queue: "go", JobID: "j2"})
	bus.Publish(Event{Type: EventActive, Queue: "go", JobID: "j3"})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "job failed", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "job stalled", entries[1].Message)
	assert.Equal(t, "job active", entries[2].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)

	var nilBus *EventBus
	nilBus.Publish(Event{Type: EventActive})
}
