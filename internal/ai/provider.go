package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderID names a routing slot, not a vendor. Each slot is bound to a
// concrete backend in the Registry.
type ProviderID string

const (
	ProviderTechnical  ProviderID = "technical"
	ProviderConsulting ProviderID = "consulting"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type Completion struct {
	Text         string        `json:"text"`
	TokensUsed   int           `json:"tokens_used"`
	FinishReason string        `json:"finish_reason"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Latency      time.Duration `json:"latency"`
}

type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// ProviderError is returned for non-success HTTP responses.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func providerError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	return &ProviderError{
		Provider:   name,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

func withSystem(system string, msgs []Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	if system != "" {
		out = append(out, Message{Role: "system", Content: system})
	}
	return append(out, msgs...)
}
