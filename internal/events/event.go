// Package events carries the single analytics record emitted per
// orchestration call.
package events

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
	OutcomeInvalid  Outcome = "invalid"
)

// Event is one orchestration call. It never carries message text or raw
// email addresses.
type Event struct {
	ID               string    `json:"id"`
	At               time.Time `json:"at"`
	Outcome          Outcome   `json:"outcome"`
	Slot             string    `json:"slot,omitempty"`
	Provider         string    `json:"provider,omitempty"`
	Model            string    `json:"model,omitempty"`
	Role             string    `json:"role,omitempty"`
	Topic            string    `json:"topic,omitempty"`
	UserHash         string    `json:"user_hash,omitempty"`
	Stream           bool      `json:"stream,omitempty"`
	MessageChars     int       `json:"message_chars"`
	PromptChars      int       `json:"prompt_chars"`
	TokensUsed       int       `json:"tokens_used"`
	LatencyMS        int64     `json:"latency_ms"`
	HadCRMData       bool      `json:"had_crm_data"`
	HadKnowledgeBase bool      `json:"had_knowledge_base"`
	CRMFailed        []string  `json:"crm_failed,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// HashUser returns a stable pseudonymous id for an email.
func HashUser(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(email))
	return hex.EncodeToString(sum[:12])
}

type Sink interface {
	Emit(ctx context.Context, e Event)
}

type SinkFunc func(ctx context.Context, e Event)

func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Nop drops every event.
var Nop Sink = SinkFunc(func(context.Context, Event) {})

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}
	level := slog.LevelInfo
	if e.Outcome == OutcomeFallback {
		level = slog.LevelWarn
	}
	l.Log(ctx, level, "assistant turn",
		"event_id", e.ID,
		"outcome", e.Outcome,
		"slot", e.Slot,
		"provider", e.Provider,
		"model", e.Model,
		"stream", e.Stream,
		"tokens_used", e.TokensUsed,
		"latency_ms", e.LatencyMS,
		"had_crm_data", e.HadCRMData,
		"had_knowledge_base", e.HadKnowledgeBase,
		"error", e.Error,
	)
}

// Publisher is satisfied by the RabbitMQ publisher.
type Publisher interface {
	PublishEvent(ctx context.Context, e Event) error
}

// PublishSink forwards events to a broker. Publish failures are logged and
// never reach the caller.
type PublishSink struct {
	Publisher Publisher
	Timeout   time.Duration
	Log       *slog.Logger
}

func (s PublishSink) Emit(ctx context.Context, e Event) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	// detached so an aborted request still records its event
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.Publisher.PublishEvent(cctx, e); err != nil {
		l := s.Log
		if l == nil {
			l = slog.Default()
		}
		l.Warn("publish analytics event failed", "event_id", e.ID, "error", err)
	}
}
