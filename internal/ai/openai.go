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

// OpenAIProvider talks to any OpenAI compatible chat completions endpoint
// (OpenAI itself, OpenRouter).
type OpenAIProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openAIChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type openAIError struct {
	Message string `json:"message"`
}

type openAIChatResp struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *openAIError `json:"error,omitempty"`
}

func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, string, error) {
	if p.Client == nil {
		return nil, "", errors.New("openai: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, "", errors.New("openai: api key is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(p.Model)
	}
	if model == "" {
		return nil, "", errors.New("openai: model is required")
	}

	b, err := json.Marshal(openAIChatReq{
		Model:       model,
		Messages:    withSystem(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, "", err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		httpReq.Header.Set("X-Title", p.AppName)
	}
	return httpReq, model, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Completion, error) {
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

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Completion{}, fmt.Errorf("openai: decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return Completion{}, fmt.Errorf("openai: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return Completion{}, errors.New("openai: empty response")
	}
	if decoded.Model != "" {
		model = decoded.Model
	}
	return Completion{
		Text:         decoded.Choices[0].Message.Content,
		TokensUsed:   decoded.Usage.TotalTokens,
		FinishReason: decoded.Choices[0].FinishReason,
		Provider:     p.Name(),
		Model:        model,
	}, nil
}

// StreamChat streams assistant content chunks via SSE.
func (p *OpenAIProvider) StreamChat(ctx context.Context, req Request) (<-chan string, <-chan error) {
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

		// ctx bounds the stream, not the client timeout
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
			if data == "[DONE]" {
				return false, nil
			}
			var decoded openAIStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				return false, err
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				return false, fmt.Errorf("openai: %s", decoded.Error.Message)
			}
			if len(decoded.Choices) == 0 || decoded.Choices[0].Delta.Content == "" {
				return true, nil
			}
			return send(ctx, chunks, decoded.Choices[0].Delta.Content), nil
		})
		if err != nil {
			errs <- err
		}
	}()

	return chunks, errs
}
