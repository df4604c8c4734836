package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingPublisher struct {
	got []Event
	err error
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, e Event) error {
	p.got = append(p.got, e)
	return p.err
}

func TestMultiFansOut(t *testing.T) {
	var a, b []Event
	m := Multi{
		SinkFunc(func(_ context.Context, e Event) { a = append(a, e) }),
		nil,
		SinkFunc(func(_ context.Context, e Event) { b = append(b, e) }),
	}
	m.Emit(context.Background(), Event{ID: "1"})
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestPublishSinkSurvivesCanceledRequest(t *testing.T) {
	var logs bytes.Buffer
	pub := &recordingPublisher{err: errors.New("broker down")}
	s := PublishSink{Publisher: pub, Log: slog.New(slog.NewTextHandler(&logs, nil))}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Emit(ctx, Event{ID: "e1"})

	assert.Len(t, pub.got, 1)
	assert.Contains(t, logs.String(), "broker down")
}

func TestLogSinkLevels(t *testing.T) {
	var logs bytes.Buffer
	s := LogSink{Log: slog.New(slog.NewTextHandler(&logs, nil))}
	s.Emit(context.Background(), Event{ID: "x", Outcome: OutcomeFallback})
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "outcome=fallback")
}

func TestHashUser(t *testing.T) {
	assert.Empty(t, HashUser(" "))
	assert.Equal(t, HashUser("X@Y.org"), HashUser(" x@y.org "))
	assert.NotContains(t, HashUser("x@y.org"), "@")
	assert.Len(t, HashUser("x@y.org"), 24)
}
