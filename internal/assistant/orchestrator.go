// Package assistant composes classification, retrieval, prompt assembly and
// model dispatch into one turn, and owns the fallback policy.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/suPer8Hu/mas-assistant/internal/ai"
	"github.com/suPer8Hu/mas-assistant/internal/classify"
	"github.com/suPer8Hu/mas-assistant/internal/crm"
	"github.com/suPer8Hu/mas-assistant/internal/events"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
	"github.com/suPer8Hu/mas-assistant/internal/prompt"
)

var ErrValidation = errors.New("invalid request")

// ValidationError rejects a malformed request before any remote call.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	msg := e.Err.Error()
	if strings.HasPrefix(msg, e.Reason) {
		return msg
	}
	return e.Reason + ": " + msg
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

type CRMSource interface {
	Fetch(ctx context.Context, message string, p profile.UserProfile) (crm.Result, error)
}

type KnowledgeSource interface {
	ContextForQuery(ctx context.Context, query, role string) (string, error)
}

type Models interface {
	Dispatch(ctx context.Context, id ai.ProviderID, system, message string) (ai.Completion, error)
	Stream(ctx context.Context, id ai.ProviderID, system, message string) (*ai.Stream, error)
}

type Request struct {
	Message          string
	Profile          *profile.UserProfile
	PreviousMessages []profile.Turn
}

type Response struct {
	Text             string
	Slot             ai.ProviderID
	Provider         string
	Model            string
	TokensUsed       int
	FinishReason     string
	HadCRMData       bool
	HadKnowledgeBase bool
	Fallback         bool
	Latency          time.Duration
}

// Config wires an Orchestrator. CRM and Knowledge may be nil, which
// disables that source.
type Config struct {
	CRM       CRMSource
	Knowledge KnowledgeSource
	Models    Models
	Prompt    *prompt.Assembler
	Events    events.Sink
	Log       *slog.Logger
}

type Orchestrator struct {
	crm    CRMSource
	kb     KnowledgeSource
	models Models
	prompt *prompt.Assembler
	sink   events.Sink
	log    *slog.Logger
	now    func() time.Time
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		crm:    cfg.CRM,
		kb:     cfg.Knowledge,
		models: cfg.Models,
		prompt: cfg.Prompt,
		sink:   cfg.Events,
		log:    cfg.Log,
		now:    time.Now,
	}
	if o.prompt == nil {
		o.prompt = prompt.NewAssembler(0)
	}
	if o.sink == nil {
		o.sink = events.Nop
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// ValidateRequest reports the *ValidationError ProcessMessage would return
// for req, without running the pipeline.
func ValidateRequest(req Request) error {
	_, err := validate(req)
	return err
}

// validate returns the normalized profile.
func validate(req Request) (profile.UserProfile, error) {
	if strings.TrimSpace(req.Message) == "" {
		return profile.UserProfile{}, &ValidationError{Reason: "message is required"}
	}
	if req.Profile == nil {
		return profile.UserProfile{}, &ValidationError{Reason: "user profile is required"}
	}
	if err := req.Profile.Validate(); err != nil {
		return profile.UserProfile{}, &ValidationError{Reason: "invalid user profile", Err: err}
	}
	return req.Profile.Normalize(), nil
}

// turn is everything decided before the model call.
type turn struct {
	slot      ai.ProviderID
	system    string
	hadCRM    bool
	hadKB     bool
	crmFailed []string
}

func (o *Orchestrator) prepare(ctx context.Context, message string, p profile.UserProfile, history []profile.Turn) (turn, error) {
	t := turn{slot: classify.SelectProvider(p, message)}

	var crmText string
	if o.crm != nil && classify.NeedsExternalData(message) {
		res, err := o.crm.Fetch(ctx, message, p)
		t.crmFailed = res.Failed
		if err != nil {
			return t, fmt.Errorf("crm: %w", err)
		}
		if res.HasData() {
			crmText = res.Text
		}
	}

	var kbText string
	if o.kb != nil {
		s, err := o.kb.ContextForQuery(ctx, message, profile.RoleDisplay(p))
		if err != nil {
			return t, fmt.Errorf("knowledge base: %w", err)
		}
		kbText = s
	}

	if err := ctx.Err(); err != nil {
		return t, err
	}

	t.hadCRM = crmText != ""
	t.hadKB = kbText != ""
	t.system = o.prompt.Build(prompt.Input{
		Profile:          p,
		History:          history,
		KnowledgeContext: kbText,
		CRMData:          crmText,
	})
	return t, nil
}

func (o *Orchestrator) baseEvent(p profile.UserProfile, message string, stream bool) events.Event {
	return events.Event{
		ID:           ulid.Make().String(),
		At:           o.now().UTC(),
		Role:         string(p.Role),
		Topic:        profile.TopicDisplay(p),
		UserHash:     events.HashUser(p.ContactEmail()),
		Stream:       stream,
		MessageChars: len(message),
	}
}

func (o *Orchestrator) finish(ctx context.Context, ev events.Event, t turn, resp Response, cause error) {
	ev.Slot = string(t.slot)
	ev.Provider = resp.Provider
	ev.Model = resp.Model
	ev.PromptChars = len(t.system)
	ev.TokensUsed = resp.TokensUsed
	ev.LatencyMS = resp.Latency.Milliseconds()
	ev.HadCRMData = resp.HadCRMData
	ev.HadKnowledgeBase = resp.HadKnowledgeBase
	ev.CRMFailed = t.crmFailed
	ev.Outcome = events.OutcomeOK
	if resp.Fallback {
		ev.Outcome = events.OutcomeFallback
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	o.sink.Emit(ctx, ev)
}

func (o *Orchestrator) rejected(ctx context.Context, message string, err error) {
	o.sink.Emit(ctx, events.Event{
		ID:           ulid.Make().String(),
		At:           o.now().UTC(),
		Outcome:      events.OutcomeInvalid,
		MessageChars: len(message),
		Error:        err.Error(),
	})
}

func (o *Orchestrator) fallback(message string, p profile.UserProfile, t turn, start time.Time, cause error) Response {
	o.log.Warn("upstream failure, using fallback response",
		"slot", t.slot,
		"rule", MatchFallback(message, p),
		"error", cause,
	)
	return Response{
		Text:     FallbackResponse(message, p),
		Slot:     t.slot,
		Fallback: true,
		Latency:  o.now().Sub(start),
	}
}

// ProcessMessage answers one message. The only error it returns is a
// *ValidationError; every upstream failure resolves to fallback text.
func (o *Orchestrator) ProcessMessage(ctx context.Context, req Request) (Response, error) {
	start := o.now()
	p, err := validate(req)
	if err != nil {
		o.rejected(ctx, req.Message, err)
		return Response{}, err
	}
	ev := o.baseEvent(p, req.Message, false)

	t, err := o.prepare(ctx, req.Message, p, req.PreviousMessages)
	var out ai.Completion
	if err == nil {
		if o.models == nil {
			err = errors.New("no model dispatcher configured")
		} else {
			out, err = o.models.Dispatch(ctx, t.slot, t.system, req.Message)
		}
	}
	if err != nil {
		resp := o.fallback(req.Message, p, t, start, err)
		o.finish(ctx, ev, t, resp, err)
		return resp, nil
	}

	resp := Response{
		Text:             out.Text,
		Slot:             t.slot,
		Provider:         out.Provider,
		Model:            out.Model,
		TokensUsed:       out.TokensUsed,
		FinishReason:     out.FinishReason,
		HadCRMData:       t.hadCRM,
		HadKnowledgeBase: t.hadKB,
		Latency:          o.now().Sub(start),
	}
	o.finish(ctx, ev, t, resp, nil)
	return resp, nil
}
