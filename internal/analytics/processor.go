// Package analytics persists orchestration events delivered over RabbitMQ.
package analytics

import (
	"context"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/mas-assistant/internal/chat"
	"github.com/suPer8Hu/mas-assistant/internal/store/rabbitmq"
)

type Store interface {
	InsertAnalytics(ctx context.Context, a *chat.Analytics) error
}

type Retrier interface {
	Retry(ctx context.Context, d amqp.Delivery, attempt int, delay time.Duration) error
}

type Outcome string

const (
	Stored   Outcome = "stored"
	Retried  Outcome = "retried"
	Rejected Outcome = "rejected" // dead-lettered
	Requeued Outcome = "requeued"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	maxDelay           = 5 * time.Minute
)

type Processor struct {
	Store       Store
	Retrier     Retrier
	MaxAttempts int
	BaseDelay   time.Duration
	Log         *slog.Logger
}

func (p *Processor) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// Backoff doubles from base per attempt, capped at five minutes.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}

// Handle stores one delivery and settles it. Undecodable messages go
// straight to the dead-letter queue; store failures are retried through the
// retry queue until MaxAttempts, then dead-lettered.
func (p *Processor) Handle(ctx context.Context, d amqp.Delivery) Outcome {
	log := p.logger().With("message_id", d.MessageId)

	e, err := rabbitmq.Decode(d.Body)
	if err != nil || e.ID == "" {
		log.Warn("bad analytics message", "error", err)
		_ = d.Nack(false, false)
		return Rejected
	}

	row := chat.AnalyticsFromEvent(e)
	start := time.Now()
	err = p.Store.InsertAnalytics(ctx, &row)
	if err == nil {
		if aerr := d.Ack(false); aerr != nil {
			log.Warn("ack failed", "error", aerr)
		}
		log.Debug("analytics stored", "event_id", e.ID, "duration_ms", time.Since(start).Milliseconds())
		return Stored
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	attempt := rabbitmq.Attempt(d) + 1
	if attempt >= maxAttempts || p.Retrier == nil {
		log.Error("analytics dead-lettered", "event_id", e.ID, "attempt", attempt, "error", err)
		_ = d.Nack(false, false)
		return Rejected
	}

	delay := Backoff(p.BaseDelay, attempt)
	if rerr := p.Retrier.Retry(ctx, d, attempt, delay); rerr != nil {
		log.Warn("retry publish failed, requeueing", "event_id", e.ID, "error", rerr)
		_ = d.Nack(false, true)
		return Requeued
	}
	_ = d.Ack(false)
	log.Warn("analytics store failed, retry scheduled", "event_id", e.ID, "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
	return Retried
}
