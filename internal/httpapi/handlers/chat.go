package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mas-assistant/internal/assistant"
	"github.com/suPer8Hu/mas-assistant/internal/common"
	"github.com/suPer8Hu/mas-assistant/internal/httpapi/middleware"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

type chatReq struct {
	Message          string               `json:"message"`
	UserProfile      *profile.UserProfile `json:"userProfile"`
	PreviousMessages []profile.Turn       `json:"previousMessages"`
}

// resolveSession decides which federated session the profile carries. A
// verified token replaces whatever the client sent, unless the deployment
// trusts client sessions. Without a token the client session is dropped.
func (h *Handler) resolveSession(c *gin.Context, p *profile.UserProfile) {
	if p == nil {
		return
	}
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok || claims.Email == "" {
		p.MicrosoftSession = nil
		return
	}
	if h.Cfg.TrustClientSession && p.MicrosoftSession != nil && p.MicrosoftSession.Email != "" {
		return
	}
	p.MicrosoftSession = &profile.FederatedSession{Name: claims.Name, Email: claims.Email}
}

func chatPayload(resp assistant.Response) gin.H {
	return gin.H{
		"response":           resp.Text,
		"provider":           resp.Slot,
		"backend":            resp.Provider,
		"model":              resp.Model,
		"tokens_used":        resp.TokensUsed,
		"had_crm_data":       resp.HadCRMData,
		"had_knowledge_base": resp.HadKnowledgeBase,
		"fallback":           resp.Fallback,
		"response_time":      resp.Latency.Milliseconds(),
		"timestamp":          time.Now().UTC(),
	}
}

// failValidation answers a rejected request. It reports false for any other
// error.
func failValidation(c *gin.Context, err error) bool {
	var verr *assistant.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	common.FailWith(c, http.StatusBadRequest, 10002, verr.Reason, gin.H{"details": err.Error()})
	return true
}

// Chat answers one stateless message. The client owns the profile and the
// history; nothing is stored.
func (h *Handler) Chat(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	h.resolveSession(c, req.UserProfile)

	resp, err := h.Assistant.ProcessMessage(c.Request.Context(), assistant.Request{
		Message:          req.Message,
		Profile:          req.UserProfile,
		PreviousMessages: req.PreviousMessages,
	})
	if err != nil {
		if failValidation(c, err) {
			return
		}
		h.logger(c).Error("chat failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, chatPayload(resp))
}

// ChatStream is Chat over server-sent events: chunk events, then one done
// event carrying the same payload as Chat without the text.
func (h *Handler) ChatStream(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	h.resolveSession(c, req.UserProfile)

	ctx := c.Request.Context()
	chunks, done, err := h.Assistant.StreamMessage(ctx, assistant.Request{
		Message:          req.Message,
		Profile:          req.UserProfile,
		PreviousMessages: req.PreviousMessages,
	})
	if err != nil {
		if failValidation(c, err) {
			return
		}
		h.logger(c).Error("chat stream failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	sse, ok := startSSE(c)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50001, "streaming not supported")
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	// done is only read once chunks is closed so no chunk trails the done event
	var doneCh <-chan assistant.Response
	for {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				doneCh = done
				continue
			}
			sse.chunk(ch)

		case resp, ok := <-doneCh:
			if !ok {
				sse.fail("stream ended unexpectedly")
				return
			}
			payload := chatPayload(resp)
			delete(payload, "response")
			payload["type"] = "done"
			payload["finish_reason"] = resp.FinishReason
			sse.send("done", payload)
			return

		case <-ticker.C:
			sse.ping()

		case <-ctx.Done():
			return
		}
	}
}
