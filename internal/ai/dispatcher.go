package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	DefaultMaxTokens   = 2000
	DefaultTemperature = 0.7
	DefaultTimeout     = 60 * time.Second
)

var (
	ErrEmptyCompletion   = errors.New("provider returned empty text")
	ErrStreamUnsupported = errors.New("provider does not support streaming")
)

type DispatcherConfig struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Dispatcher sends one assembled prompt to the provider bound to a slot.
type Dispatcher struct {
	registry *Registry
	cfg      DispatcherConfig
	log      *slog.Logger
}

func NewDispatcher(registry *Registry, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{registry: registry, cfg: cfg, log: log}
}

func (d *Dispatcher) request(system, message string) Request {
	return Request{
		System:      system,
		Messages:    []Message{{Role: "user", Content: message}},
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, id ProviderID, system, message string) (Completion, error) {
	p, err := d.registry.Get(ctx, id)
	if err != nil {
		return Completion{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := p.Complete(cctx, d.request(system, message))
	latency := time.Since(start)
	if err == nil && strings.TrimSpace(out.Text) == "" {
		err = fmt.Errorf("%s: %w", p.Name(), ErrEmptyCompletion)
	}
	if err != nil {
		d.log.Warn("provider call failed",
			"slot", id,
			"provider", p.Name(),
			"prompt_chars", len(system)+len(message),
			"duration_ms", latency.Milliseconds(),
			"error", err,
		)
		return Completion{}, err
	}

	out.Latency = latency
	if out.Provider == "" {
		out.Provider = p.Name()
	}
	d.log.Info("provider call",
		"slot", id,
		"provider", out.Provider,
		"model", out.Model,
		"prompt_chars", len(system)+len(message),
		"response_chars", len(out.Text),
		"tokens_used", out.TokensUsed,
		"finish_reason", out.FinishReason,
		"duration_ms", latency.Milliseconds(),
	)
	return out, nil
}

// Stream is an in-flight streaming completion. Close must be called once
// Chunks is drained.
type Stream struct {
	Chunks   <-chan string
	Errs     <-chan error
	Provider string
	cancel   context.CancelFunc
}

func (s *Stream) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Stream starts a streaming completion. It returns ErrStreamUnsupported when
// the bound provider cannot stream.
func (d *Dispatcher) Stream(ctx context.Context, id ProviderID, system, message string) (*Stream, error) {
	p, err := d.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sp, ok := p.(StreamProvider)
	if !ok {
		return nil, fmt.Errorf("%s: %w", p.Name(), ErrStreamUnsupported)
	}
	cctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	chunks, errs := sp.StreamChat(cctx, d.request(system, message))
	d.log.Info("provider stream started", "slot", id, "provider", p.Name(), "prompt_chars", len(system)+len(message))
	return &Stream{Chunks: chunks, Errs: errs, Provider: p.Name(), cancel: cancel}, nil
}
