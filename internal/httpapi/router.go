package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mas-assistant/internal/common"
	"github.com/suPer8Hu/mas-assistant/internal/config"
	"github.com/suPer8Hu/mas-assistant/internal/httpapi/handlers"
	"github.com/suPer8Hu/mas-assistant/internal/httpapi/middleware"
	"github.com/suPer8Hu/mas-assistant/internal/metrics"
)

// NewRouter mounts every route. m may be nil, which disables /metrics.
func NewRouter(h *handlers.Handler, cfg config.Config, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())
	if m != nil {
		r.Use(m.Middleware())
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	r.GET("/ping", h.Ping)

	api := r.Group("/api")

	// stateless chat, token optional
	open := api.Group("/")
	open.Use(middleware.OptionalAuth(cfg.JWTSecret))
	open.POST("/chat", h.Chat)
	open.POST("/chat/stream", h.ChatStream)
	open.POST("/session", h.CreateSession)

	open.GET("/knowledge/categories", h.KnowledgeCategories)
	open.GET("/knowledge/documents", h.KnowledgeDocuments)
	open.GET("/knowledge/documents/:doc_id", h.KnowledgeDocument)
	open.POST("/knowledge/search", h.KnowledgeSearch)

	// persisted chats (JWT required)
	authGroup := api.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.POST("/chats", h.CreateChat)
	authGroup.GET("/chats", h.ListChats)
	authGroup.DELETE("/chats/:chat_id", h.DeleteChat)
	authGroup.GET("/chats/:chat_id/messages", h.ListChatMessages)
	authGroup.POST("/chats/:chat_id/messages", h.SendChatMessage)
	authGroup.POST("/chats/:chat_id/messages/stream", h.SendChatMessageStream)
	authGroup.POST("/messages/:message_id/vote", h.VoteMessage)
	authGroup.GET("/messages/:message_id/actions", h.ListActions)
	authGroup.POST("/messages/:message_id/actions", h.CreateAction)
	authGroup.POST("/actions/:action_id/complete", h.CompleteAction)
	authGroup.POST("/knowledge/documents", h.KnowledgeAdd)
	return r
}
