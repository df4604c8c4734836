package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mas-assistant/internal/auth"
	"github.com/suPer8Hu/mas-assistant/internal/common"
	"github.com/suPer8Hu/mas-assistant/internal/httpapi/middleware"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

const sessionTTL = 24 * time.Hour

type sessionReq struct {
	UserProfile *profile.UserProfile `json:"userProfile" binding:"required"`
}

// CreateSession exchanges a verified identity token for a service token and
// mirrors the client's profile. Only federated identities get persisted
// chats.
func (h *Handler) CreateSession(c *gin.Context) {
	if h.ChatSvc == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "persistence disabled")
		return
	}
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok || strings.TrimSpace(claims.Email) == "" {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req sessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	p := *req.UserProfile
	p.Identification = profile.IdentFederated
	p.Email = claims.Email
	p.MicrosoftSession = &profile.FederatedSession{Name: claims.Name, Email: claims.Email}
	if err := p.Validate(); err != nil {
		common.FailWith(c, http.StatusBadRequest, 10002, "invalid user profile", gin.H{"details": err.Error()})
		return
	}

	u, err := h.ChatSvc.EnsureUser(c.Request.Context(), p, claims.Name)
	if err != nil {
		h.logger(c).Error("ensure user failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	token, err := auth.SignJWT(u.ID, u.Email, u.Name, h.Cfg.JWTSecret, sessionTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to sign token")
		return
	}
	common.OK(c, gin.H{
		"user":    u,
		"profile": u.Profile(),
		"token":   token,
	})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	u, err := h.ChatSvc.GetUser(c.Request.Context(), uid)
	if err != nil {
		h.failChat(c, err, "user")
		return
	}
	common.OK(c, gin.H{"user": u, "profile": u.Profile()})
}
