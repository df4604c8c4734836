// Package app builds the assistant pipeline and its backing stores from
// configuration. cmd/server, cmd/worker and cmd/masctl share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/suPer8Hu/mas-assistant/internal/ai"
	"github.com/suPer8Hu/mas-assistant/internal/assistant"
	"github.com/suPer8Hu/mas-assistant/internal/chat"
	"github.com/suPer8Hu/mas-assistant/internal/config"
	"github.com/suPer8Hu/mas-assistant/internal/crm"
	"github.com/suPer8Hu/mas-assistant/internal/db"
	"github.com/suPer8Hu/mas-assistant/internal/events"
	"github.com/suPer8Hu/mas-assistant/internal/knowledge"
	"github.com/suPer8Hu/mas-assistant/internal/metrics"
	"github.com/suPer8Hu/mas-assistant/internal/prompt"
	"github.com/suPer8Hu/mas-assistant/internal/store/rabbitmq"
	"github.com/suPer8Hu/mas-assistant/internal/store/redisstore"
	"gorm.io/gorm"
)

// Options selects the optional parts of the build.
type Options struct {
	Persistence bool // open the database and build the chat service
	Publish     bool // publish turn events to RabbitMQ
	Metrics     bool
}

type App struct {
	Cfg          config.Config
	Log          *slog.Logger
	Orchestrator *assistant.Orchestrator
	Index        *knowledge.Index
	Metrics      *metrics.Metrics
	DB           *gorm.DB
	ChatSvc      *chat.Service

	closers []func() error
}

// NewBackend constructs the provider client named by backend.
func NewBackend(backend string, cfg config.Config) (ai.Provider, error) {
	switch backend {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai backend")
		}
		return ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic backend")
		}
		return ai.NewAnthropicProvider(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	case "", "ollama":
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	default:
		return nil, fmt.Errorf("unsupported backend %q", backend)
	}
}

// NewRegistry binds both routing slots.
func NewRegistry(cfg config.Config) (*ai.Registry, error) {
	reg := ai.NewRegistry()
	for slot, backend := range map[ai.ProviderID]string{
		ai.ProviderTechnical:  cfg.TechnicalBackend,
		ai.ProviderConsulting: cfg.ConsultingBackend,
	} {
		p, err := NewBackend(backend, cfg)
		if err != nil {
			return nil, fmt.Errorf("%s slot: %w", slot, err)
		}
		reg.RegisterProvider(slot, p)
	}
	return reg, nil
}

// NewIndex builds the knowledge base over the built-in corpus, or returns
// nil when no embedder can be created.
func NewIndex(cfg config.Config, log *slog.Logger) *knowledge.Index {
	emb, err := knowledge.NewLangchainEmbedder(knowledge.EmbedderConfig{
		Provider:   cfg.EmbeddingProvider,
		Model:      cfg.EmbeddingModel,
		OpenAIKey:  cfg.OpenAIAPIKey,
		OllamaHost: cfg.OllamaBaseURL,
	})
	if err != nil {
		log.Warn("knowledge base disabled", "error", err)
		return nil
	}
	return knowledge.NewIndex(emb, knowledge.DefaultCorpus(),
		knowledge.WithEmbedTimeout(cfg.EmbedTimeout),
		knowledge.WithLogger(log),
	)
}

func (a *App) newGateway() *crm.Gateway {
	client := crm.NewRESTClient(a.Cfg.CRMBaseURL, a.Cfg.CRMAPIKey, a.Cfg.CRMSiteKey)
	var resolver crm.IdentityResolver
	if a.Cfg.RedisAddr != "" {
		store, err := redisstore.New(a.Cfg.RedisAddr, a.Cfg.RedisPassword, a.Cfg.RedisDB)
		if err != nil {
			a.Log.Warn("identity cache disabled", "error", err)
		} else {
			a.closers = append(a.closers, store.Close)
			resolver = &crm.CachedResolver{
				Next:  crm.ClientResolver{Client: client},
				Cache: store,
				TTL:   a.Cfg.IdentityTTL,
				Log:   a.Log,
			}
		}
	}
	return crm.NewGateway(client, resolver, crm.GatewayConfig{CallTimeout: a.Cfg.CRMTimeout}, a.Log)
}

// Build wires the orchestrator and whatever opts asks for. Close releases
// everything Build opened.
func Build(cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Cfg: cfg, Log: log}

	reg, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	dispatcher := ai.NewDispatcher(reg, ai.DispatcherConfig{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     cfg.LLMTimeout,
	}, log)

	sinks := events.Multi{events.LogSink{Log: log}}
	if opts.Metrics {
		a.Metrics = metrics.New()
		sinks = append(sinks, a.Metrics)
	}
	if opts.Publish && cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Warn("analytics publishing disabled", "error", err)
		} else {
			a.closers = append(a.closers, pub.Close)
			sinks = append(sinks, events.PublishSink{Publisher: pub, Log: log})
		}
	}

	ocfg := assistant.Config{
		Models: dispatcher,
		Prompt: prompt.NewAssembler(cfg.PromptMaxChars),
		Events: sinks,
		Log:    log,
	}
	if cfg.CRMEnabled() {
		ocfg.CRM = a.newGateway()
	} else {
		log.Info("crm disabled, CIVICRM_URL / CIVICRM_API_KEY / CIVICRM_SITE_KEY not set")
	}
	if ix := NewIndex(cfg, log); ix != nil {
		a.Index = ix
		ocfg.Knowledge = ix
	}
	a.Orchestrator = assistant.New(ocfg)

	if opts.Persistence {
		gdb, err := db.Connect(cfg.DBDSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := db.Migrate(gdb); err != nil {
			a.Close()
			return nil, err
		}
		a.DB = gdb
		a.ChatSvc = chat.NewService(chat.NewRepo(gdb), a.Orchestrator, cfg.ChatContextWindowSize)
	}
	return a, nil
}

// WarmKnowledge embeds the corpus in the background. Queries before it
// finishes embed on demand.
func (a *App) WarmKnowledge(ctx context.Context) {
	if a.Index == nil {
		return
	}
	go func() {
		start := time.Now()
		if err := a.Index.GenerateEmbeddings(ctx); err != nil {
			a.Log.Warn("knowledge base warmup failed", "error", err)
			return
		}
		a.Log.Info("knowledge base warm", "duration_ms", time.Since(start).Milliseconds())
	}()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
