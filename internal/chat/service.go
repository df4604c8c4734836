package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/suPer8Hu/mas-assistant/internal/assistant"
	"github.com/suPer8Hu/mas-assistant/internal/common"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
	"gorm.io/gorm"
)

const (
	DefaultTitle   = "New Chat"
	titleWords     = 6
	titleMaxChars  = 50
	defaultListCap = 50
)

var (
	ErrEmptyMessage = errors.New("message is required")
	ErrNoEmail      = errors.New("profile has no email")
	ErrInvalidVote  = errors.New("vote must be up or down")
	ErrEmptyAction  = errors.New("action is required")
)

// Assistant is the orchestration surface the service needs.
type Assistant interface {
	ProcessMessage(ctx context.Context, req assistant.Request) (assistant.Response, error)
	StreamMessage(ctx context.Context, req assistant.Request) (<-chan string, <-chan assistant.Response, error)
}

type Service struct {
	repo              *Repo
	assistant         Assistant
	contextWindowSize int
}

func NewService(repo *Repo, a Assistant, contextWindowSize int) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{repo: repo, assistant: a, contextWindowSize: contextWindowSize}
}

// GenerateTitle builds a chat title from the first words of a message.
func GenerateTitle(message string) string {
	words := strings.Fields(message)
	if len(words) == 0 {
		return DefaultTitle
	}
	if len(words) > titleWords {
		words = words[:titleWords]
	}
	title := strings.Join(words, " ")
	if utf8.RuneCountInString(title) > titleMaxChars {
		title = string([]rune(title)[:titleMaxChars]) + "..."
	}
	return title
}

// EnsureUser mirrors the profile into the users table, keyed by the
// profile's contact email.
func (s *Service) EnsureUser(ctx context.Context, p profile.UserProfile, name string) (*User, error) {
	p = p.Normalize()
	email := p.ContactEmail()
	if email == "" {
		return nil, ErrNoEmail
	}
	if name == "" && p.MicrosoftSession != nil {
		name = p.MicrosoftSession.Name
	}
	u := &User{
		Email:          email,
		Name:           name,
		Role:           string(p.Role),
		CustomRole:     p.CustomRole,
		Topic:          p.Topic,
		CustomTopic:    p.CustomTopic,
		Identification: string(p.Identification),
		DataAccess:     p.DataAccess,
	}
	if err := s.repo.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, userID uint64) (*User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// CreateChat opens a chat. The title comes from the first message when one
// is given.
func (s *Service) CreateChat(ctx context.Context, userID uint64, firstMessage string, visibility Visibility) (*Chat, error) {
	if visibility != VisibilityPublic {
		visibility = VisibilityPrivate
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	c := &Chat{
		ID:         id,
		UserID:     userID,
		Title:      GenerateTitle(firstMessage),
		Visibility: visibility,
	}
	if err := s.repo.CreateChat(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListChats(ctx context.Context, userID uint64, limit int) ([]Chat, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultListCap
	}
	return s.repo.ListChats(ctx, userID, limit)
}

func (s *Service) DeleteChat(ctx context.Context, userID uint64, chatID string) error {
	return s.repo.DeleteChat(ctx, userID, chatID)
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, chatID string, limit int, afterID string) ([]Message, error) {
	if _, err := s.repo.GetChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = defaultListCap
	}
	return s.repo.ListMessages(ctx, chatID, limit, afterID)
}

// history loads the context window oldest first.
func (s *Service) history(ctx context.Context, chatID string) ([]profile.Turn, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, chatID, s.contextWindowSize)
	if err != nil {
		return nil, err
	}
	turns := make([]profile.Turn, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		turns = append(turns, recentDesc[i].Turn())
	}
	return turns, nil
}

// pending is a stored user turn that can be withdrawn if the assistant
// rejects the request.
type pending struct {
	chat    *Chat
	history []profile.Turn
	msgID   string
	retitle bool
}

// begin validates the request, checks ownership, loads history and stores
// the user turn. Nothing is written for a request the assistant would reject.
func (s *Service) begin(ctx context.Context, userID uint64, chatID, content string, p profile.UserProfile) (*pending, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	if err := assistant.ValidateRequest(assistant.Request{Message: content, Profile: &p}); err != nil {
		return nil, err
	}
	c, err := s.repo.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	hist, err := s.history(ctx, chatID)
	if err != nil {
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	if err := s.repo.InsertMessage(ctx, &Message{ID: id, ChatID: chatID, Role: profile.SenderUser, Content: content}); err != nil {
		return nil, err
	}
	pd := &pending{chat: c, history: hist, msgID: id}
	if len(hist) == 0 && c.Title == DefaultTitle {
		if err := s.repo.UpdateChatTitle(ctx, chatID, GenerateTitle(content)); err != nil {
			return nil, err
		}
		pd.retitle = true
	}
	return pd, nil
}

// abort withdraws the user turn when the assistant rejected the request as
// invalid. Other failures keep the turn so the user can retry.
func (s *Service) abort(ctx context.Context, pd *pending, cause error) {
	if !errors.Is(cause, assistant.ErrValidation) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	_ = s.repo.DeleteMessage(ctx, pd.msgID)
	if pd.retitle {
		_ = s.repo.UpdateChatTitle(ctx, pd.chat.ID, DefaultTitle)
	}
}

// finish stores the assistant turn with its metadata.
func (s *Service) finish(ctx context.Context, chatID string, resp assistant.Response) (*Message, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:      id,
		ChatID:  chatID,
		Role:    profile.SenderAssistant,
		Content: resp.Text,
		Metadata: &profile.TurnMetadata{
			Model:            resp.Model,
			TokensUsed:       resp.TokensUsed,
			HadCRMData:       resp.HadCRMData,
			HadKnowledgeBase: resp.HadKnowledgeBase,
			ResponseTimeMS:   resp.Latency.Milliseconds(),
		},
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	if err := s.repo.TouchChat(ctx, chatID); err != nil {
		return nil, err
	}
	return m, nil
}

// SendMessage stores the user turn, runs the assistant over the chat history
// and stores the reply.
func (s *Service) SendMessage(ctx context.Context, userID uint64, chatID, content string, p profile.UserProfile) (*Message, assistant.Response, error) {
	pd, err := s.begin(ctx, userID, chatID, content, p)
	if err != nil {
		return nil, assistant.Response{}, err
	}
	resp, err := s.assistant.ProcessMessage(ctx, assistant.Request{
		Message:          content,
		Profile:          &p,
		PreviousMessages: pd.history,
	})
	if err != nil {
		s.abort(ctx, pd, err)
		return nil, assistant.Response{}, err
	}
	m, err := s.finish(context.WithoutCancel(ctx), chatID, resp)
	if err != nil {
		return nil, resp, err
	}
	return m, resp, nil
}

// StreamResult is delivered once a streamed reply has been stored.
type StreamResult struct {
	Message  *Message
	Response assistant.Response
	Err      error
}

// SendMessageStream stores the user message immediately, forwards assistant
// chunks, and stores the assistant message once streaming completes. Chunks is
// closed before the result is sent.
func (s *Service) SendMessageStream(ctx context.Context, userID uint64, chatID, content string, p profile.UserProfile) (<-chan string, <-chan StreamResult, error) {
	pd, err := s.begin(ctx, userID, chatID, content, p)
	if err != nil {
		return nil, nil, err
	}
	in, done, err := s.assistant.StreamMessage(ctx, assistant.Request{
		Message:          content,
		Profile:          &p,
		PreviousMessages: pd.history,
	})
	if err != nil {
		s.abort(ctx, pd, err)
		return nil, nil, err
	}

	out := make(chan string, 16)
	result := make(chan StreamResult, 1)
	go func() {
		defer close(result)
		canceled := false
		for c := range in {
			if canceled {
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				canceled = true
			}
		}
		close(out)

		resp, ok := <-done
		if !ok {
			result <- StreamResult{Err: errors.New("stream ended without a response")}
			return
		}
		m, err := s.finish(context.WithoutCancel(ctx), chatID, resp)
		result <- StreamResult{Message: m, Response: resp, Err: err}
	}()
	return out, result, nil
}

// VoteResult is the caller's vote with the message's current totals.
type VoteResult struct {
	MessageVote
	Up   int64 `json:"up"`
	Down int64 `json:"down"`
}

// Vote records an up or down vote on a message the user can see.
func (s *Service) Vote(ctx context.Context, userID uint64, messageID string, vote Vote, feedback *string) (*VoteResult, error) {
	if vote != VoteUp && vote != VoteDown {
		return nil, ErrInvalidVote
	}
	if _, err := s.repo.GetMessageForUser(ctx, userID, messageID); err != nil {
		return nil, err
	}
	if feedback != nil {
		f := strings.TrimSpace(*feedback)
		if f == "" {
			feedback = nil
		} else {
			feedback = &f
		}
	}
	v := &MessageVote{UserID: userID, MessageID: messageID, Vote: vote, Feedback: feedback}
	if err := s.repo.UpsertVote(ctx, v); err != nil {
		return nil, err
	}
	stored, err := s.repo.GetVote(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	up, down, err := s.repo.VoteCounts(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &VoteResult{MessageVote: *stored, Up: up, Down: down}, nil
}

func (s *Service) ListActions(ctx context.Context, userID uint64, messageID string) ([]SuggestedAction, error) {
	if _, err := s.repo.GetMessageForUser(ctx, userID, messageID); err != nil {
		return nil, err
	}
	return s.repo.ListSuggestedActions(ctx, messageID)
}

func (s *Service) CreateAction(ctx context.Context, userID uint64, messageID, action, description, category string) (*SuggestedAction, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, ErrEmptyAction
	}
	if _, err := s.repo.GetMessageForUser(ctx, userID, messageID); err != nil {
		return nil, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	a := &SuggestedAction{
		ID:          id,
		MessageID:   messageID,
		Action:      action,
		Description: strings.TrimSpace(description),
		Category:    strings.TrimSpace(category),
	}
	if err := s.repo.CreateSuggestedAction(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) CompleteAction(ctx context.Context, userID uint64, actionID string) (*SuggestedAction, error) {
	return s.repo.CompleteSuggestedAction(ctx, userID, actionID)
}

// IsNotFound reports whether err means the record is missing or not owned
// by the caller.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
