package assistant

import (
	"context"
	"errors"
	"strings"

	"github.com/suPer8Hu/mas-assistant/internal/ai"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

// StreamMessage runs the same pipeline as ProcessMessage and streams the
// answer. Chunks is closed before the single Response is delivered on Done.
// A failure before the first chunk yields the fallback text as one chunk. A
// provider that cannot stream is answered with one non-streamed chunk.
func (o *Orchestrator) StreamMessage(ctx context.Context, req Request) (<-chan string, <-chan Response, error) {
	start := o.now()
	p, err := validate(req)
	if err != nil {
		o.rejected(ctx, req.Message, err)
		return nil, nil, err
	}
	ev := o.baseEvent(p, req.Message, true)

	chunks := make(chan string, 16)
	done := make(chan Response, 1)

	go func() {
		defer close(done)

		resp, cause := o.stream(ctx, req.Message, p, req.PreviousMessages, chunks)
		close(chunks)

		resp.Latency = o.now().Sub(start)
		o.finish(ctx, ev, resp.turn, resp.Response, cause)
		done <- resp.Response
	}()

	return chunks, done, nil
}

type streamed struct {
	Response
	turn turn
}

func emit(ctx context.Context, ch chan<- string, s string) bool {
	select {
	case ch <- s:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) stream(ctx context.Context, message string, p profile.UserProfile, history []profile.Turn, chunks chan<- string) (streamed, error) {
	t, err := o.prepare(ctx, message, p, history)
	fail := func(cause error) (streamed, error) {
		r := o.fallback(message, p, t, o.now(), cause)
		emit(ctx, chunks, r.Text)
		return streamed{Response: r, turn: t}, cause
	}
	if err != nil {
		return fail(err)
	}
	if o.models == nil {
		return fail(errors.New("no model dispatcher configured"))
	}

	base := Response{Slot: t.slot, HadCRMData: t.hadCRM, HadKnowledgeBase: t.hadKB}

	s, err := o.models.Stream(ctx, t.slot, t.system, message)
	if errors.Is(err, ai.ErrStreamUnsupported) {
		out, derr := o.models.Dispatch(ctx, t.slot, t.system, message)
		if derr != nil {
			return fail(derr)
		}
		base.Text = out.Text
		base.Provider = out.Provider
		base.Model = out.Model
		base.TokensUsed = out.TokensUsed
		base.FinishReason = out.FinishReason
		emit(ctx, chunks, out.Text)
		return streamed{Response: base, turn: t}, nil
	}
	if err != nil {
		return fail(err)
	}
	defer s.Close()
	base.Provider = s.Provider

	var text strings.Builder
	for c := range s.Chunks {
		text.WriteString(c)
		if !emit(ctx, chunks, c) {
			break
		}
	}
	serr := <-s.Errs
	if serr == nil {
		serr = ctx.Err()
	}

	if serr != nil && text.Len() == 0 {
		return fail(serr)
	}
	if strings.TrimSpace(text.String()) == "" {
		return fail(ai.ErrEmptyCompletion)
	}
	// a mid-stream failure keeps what the caller already received
	base.Text = text.String()
	if serr != nil {
		base.FinishReason = "error"
		o.log.Warn("stream interrupted", "slot", t.slot, "provider", s.Provider, "error", serr)
		return streamed{Response: base, turn: t}, serr
	}
	base.FinishReason = "stop"
	return streamed{Response: base, turn: t}, nil
}
