package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/mas-assistant/internal/chat"
	"github.com/suPer8Hu/mas-assistant/internal/common"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

// failChat maps service errors onto the envelope.
func (h *Handler) failChat(c *gin.Context, err error, what string) {
	switch {
	case chat.IsNotFound(err):
		common.Fail(c, http.StatusNotFound, 40004, what+" not found")
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrInvalidVote), errors.Is(err, chat.ErrEmptyAction):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	default:
		if failValidation(c, err) {
			return
		}
		h.logger(c).Error("chat request failed", "what", what, "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

// requireUser reads the authenticated user id and checks persistence is on.
func (h *Handler) requireUser(c *gin.Context) (uint64, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return 0, false
	}
	if h.ChatSvc == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "persistence disabled")
		return 0, false
	}
	return uid, true
}

// profileFor uses the profile sent with the request, or the mirrored one.
func (h *Handler) profileFor(c *gin.Context, uid uint64, sent *profile.UserProfile) (profile.UserProfile, error) {
	var p profile.UserProfile
	if sent != nil {
		p = *sent
	} else {
		u, err := h.ChatSvc.GetUser(c.Request.Context(), uid)
		if err != nil {
			return profile.UserProfile{}, err
		}
		p = u.Profile()
	}
	h.resolveSession(c, &p)
	return p, nil
}

type createChatReq struct {
	Message    string          `json:"message"`
	Visibility chat.Visibility `json:"visibility"`
}

func (h *Handler) CreateChat(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req createChatReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	ch, err := h.ChatSvc.CreateChat(c.Request.Context(), uid, req.Message, req.Visibility)
	if err != nil {
		h.failChat(c, err, "chat")
		return
	}
	common.OK(c, ch)
}

func (h *Handler) ListChats(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	chats, err := h.ChatSvc.ListChats(c.Request.Context(), uid, limit)
	if err != nil {
		h.failChat(c, err, "chats")
		return
	}
	common.OK(c, gin.H{"chats": chats})
}

func (h *Handler) DeleteChat(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	if err := h.ChatSvc.DeleteChat(c.Request.Context(), uid, c.Param("chat_id")); err != nil {
		h.failChat(c, err, "chat")
		return
	}
	common.OK(c, gin.H{"deleted": true})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, c.Param("chat_id"), limit, c.Query("after_id"))
	if err != nil {
		h.failChat(c, err, "chat")
		return
	}

	var nextAfterID string
	if len(msgs) > 0 {
		nextAfterID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":      msgs,
		"next_after_id": nextAfterID,
	})
}

type sendMessageReq struct {
	Message     string               `json:"message" binding:"required"`
	UserProfile *profile.UserProfile `json:"userProfile"`
}

func (h *Handler) SendChatMessage(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	p, err := h.profileFor(c, uid, req.UserProfile)
	if err != nil {
		h.failChat(c, err, "user")
		return
	}

	chatID := c.Param("chat_id")
	msg, resp, err := h.ChatSvc.SendMessage(c.Request.Context(), uid, chatID, req.Message, p)
	if err != nil {
		h.failChat(c, err, "chat")
		return
	}
	payload := chatPayload(resp)
	payload["chat_id"] = chatID
	payload["message"] = msg
	common.OK(c, payload)
}

func (h *Handler) SendChatMessageStream(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	p, err := h.profileFor(c, uid, req.UserProfile)
	if err != nil {
		h.failChat(c, err, "user")
		return
	}

	ctx := c.Request.Context()
	chunks, result, err := h.ChatSvc.SendMessageStream(ctx, uid, c.Param("chat_id"), req.Message, p)
	if err != nil {
		h.failChat(c, err, "chat")
		return
	}

	sse, ok := startSSE(c)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50001, "streaming not supported")
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	var resultCh <-chan chat.StreamResult
	for {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				resultCh = result
				continue
			}
			sse.chunk(ch)

		case res, ok := <-resultCh:
			if !ok {
				sse.fail("stream ended unexpectedly")
				return
			}
			if res.Err != nil {
				h.logger(c).Error("store streamed reply failed", "error", res.Err)
				sse.fail("failed to store reply")
				return
			}
			payload := chatPayload(res.Response)
			delete(payload, "response")
			payload["type"] = "done"
			payload["message_id"] = res.Message.ID
			sse.send("done", payload)
			return

		case <-ticker.C:
			sse.ping()

		case <-ctx.Done():
			return
		}
	}
}

type voteReq struct {
	Vote     chat.Vote `json:"vote" binding:"required"`
	Feedback *string   `json:"feedback"`
}

func (h *Handler) VoteMessage(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req voteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	v, err := h.ChatSvc.Vote(c.Request.Context(), uid, c.Param("message_id"), req.Vote, req.Feedback)
	if err != nil {
		h.failChat(c, err, "message")
		return
	}
	common.OK(c, v)
}

func (h *Handler) ListActions(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	actions, err := h.ChatSvc.ListActions(c.Request.Context(), uid, c.Param("message_id"))
	if err != nil {
		h.failChat(c, err, "message")
		return
	}
	common.OK(c, gin.H{"actions": actions})
}

type createActionReq struct {
	Action      string `json:"action" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (h *Handler) CreateAction(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req createActionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	a, err := h.ChatSvc.CreateAction(c.Request.Context(), uid, c.Param("message_id"), req.Action, req.Description, req.Category)
	if err != nil {
		h.failChat(c, err, "message")
		return
	}
	common.OK(c, a)
}

func (h *Handler) CompleteAction(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	a, err := h.ChatSvc.CompleteAction(c.Request.Context(), uid, c.Param("action_id"))
	if err != nil {
		h.failChat(c, err, "action")
		return
	}
	common.OK(c, a)
}
