package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mas-assistant/internal/assistant"
	"github.com/suPer8Hu/mas-assistant/internal/chat"
	"github.com/suPer8Hu/mas-assistant/internal/config"
	"github.com/suPer8Hu/mas-assistant/internal/httpapi/middleware"
	"github.com/suPer8Hu/mas-assistant/internal/knowledge"
)

// Assistant is the orchestration surface the stateless chat routes use.
type Assistant interface {
	ProcessMessage(ctx context.Context, req assistant.Request) (assistant.Response, error)
	StreamMessage(ctx context.Context, req assistant.Request) (<-chan string, <-chan assistant.Response, error)
}

// Knowledge is the read and write surface of the knowledge base routes.
type Knowledge interface {
	FindRelevant(ctx context.Context, query string, k int) ([]knowledge.ScoredDocument, error)
	AddDocument(ctx context.Context, doc knowledge.Document) (knowledge.Document, error)
	SearchByCategory(c knowledge.Category) []knowledge.Document
	SearchByTags(tags []string) []knowledge.Document
	Documents() []knowledge.Document
	Document(id string) (knowledge.Document, error)
	Categories() []knowledge.Category
}

type Handler struct {
	Assistant Assistant
	ChatSvc   *chat.Service // nil without persistence
	Knowledge Knowledge     // nil when the knowledge base is disabled
	Cfg       config.Config
	Log       *slog.Logger
}

func NewHandler(a Assistant, svc *chat.Service, kb Knowledge, cfg config.Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Assistant: a, ChatSvc: svc, Knowledge: kb, Cfg: cfg, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

func (h *Handler) logger(c *gin.Context) *slog.Logger {
	return h.Log.With("request_id", c.GetString(middleware.RequestIDKey))
}
