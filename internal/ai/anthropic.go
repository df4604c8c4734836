package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type anthropicReq struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

type anthropicResp struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewAnthropicProvider(baseURL, apiKey, model string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	return &AnthropicProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, string, error) {
	if p.Client == nil {
		return nil, "", errors.New("anthropic: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, "", errors.New("anthropic: api key is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = p.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	// the messages API carries the system prompt out of band
	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		msgs = append(msgs, m)
	}

	b, err := json.Marshal(anthropicReq{
		Model:       model,
		System:      req.System,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, "", err
	}

	url := fmt.Sprintf("%s/v1/messages", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, model, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Completion, error) {
	httpReq, model, err := p.newRequest(ctx, req, false)
	if err != nil {
		return Completion{}, err
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Completion{}, providerError(p.Name(), resp)
	}

	var decoded anthropicResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Completion{}, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return Completion{}, fmt.Errorf("anthropic: %s", decoded.Error.Message)
	}

	var b strings.Builder
	for _, c := range decoded.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if decoded.Model != "" {
		model = decoded.Model
	}
	return Completion{
		Text:         b.String(),
		TokensUsed:   decoded.Usage.InputTokens + decoded.Usage.OutputTokens,
		FinishReason: decoded.StopReason,
		Provider:     p.Name(),
		Model:        model,
	}, nil
}

// StreamChat streams text deltas from the messages API event stream.
func (p *AnthropicProvider) StreamChat(ctx context.Context, req Request) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		httpReq, _, err := p.newRequest(ctx, req, true)
		if err != nil {
			errs <- err
			return
		}

		client := *p.Client
		client.Timeout = 0

		resp, err := client.Do(httpReq)
		if err != nil {
			errs <- err
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- providerError(p.Name(), resp)
			return
		}

		err = scanSSE(resp.Body, func(data string) (bool, error) {
			var ev anthropicEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				return false, err
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Text == "" {
					return true, nil
				}
				return send(ctx, chunks, ev.Delta.Text), nil
			case "message_stop":
				return false, nil
			case "error":
				msg := "stream error"
				if ev.Error != nil {
					msg = ev.Error.Message
				}
				return false, fmt.Errorf("anthropic: %s", msg)
			}
			return true, nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}
