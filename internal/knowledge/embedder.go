package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder turns text into a vector. The dimension must be stable across calls.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	EmbedProviderOpenAI = "openai"
	EmbedProviderOllama = "ollama"

	DefaultEmbedModel = "text-embedding-3-small"
)

type EmbedderConfig struct {
	Provider   string
	Model      string
	OpenAIKey  string
	OllamaHost string
}

// LangchainEmbedder adapts a langchaingo embedder.
type LangchainEmbedder struct {
	model     embeddings.Embedder
	modelName string
}

func NewLangchainEmbedder(cfg EmbedderConfig) (*LangchainEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultEmbedModel
	}

	var model embeddings.Embedder
	var err error

	switch cfg.Provider {
	case EmbedProviderOllama:
		llm, ollamaErr := ollama.New(
			ollama.WithModel(cfg.Model),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	case "", EmbedProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, errors.New("OpenAI API key required")
		}
		llm, openaiErr := openai.New(
			openai.WithToken(cfg.OpenAIKey),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	return &LangchainEmbedder{model: model, modelName: cfg.Model}, nil
}

func (e *LangchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.model.EmbedQuery(ctx, text)
	if err != nil {
		slog.Warn("embedding failed", "model", e.modelName, "text_len", len(text), "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vec) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return vec, nil
}
