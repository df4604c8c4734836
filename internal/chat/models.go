package chat

import (
	"time"

	"github.com/suPer8Hu/mas-assistant/internal/events"
	"github.com/suPer8Hu/mas-assistant/internal/profile"
)

// User mirrors the client-owned profile. It is not authoritative.
type User struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email          string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name           string    `gorm:"type:varchar(255)" json:"name,omitempty"`
	Role           string    `gorm:"type:varchar(50);not null" json:"role"`
	CustomRole     string    `gorm:"type:text" json:"custom_role,omitempty"`
	Topic          string    `gorm:"type:varchar(50);not null" json:"topic"`
	CustomTopic    string    `gorm:"type:text" json:"custom_topic,omitempty"`
	Identification string    `gorm:"type:varchar(50);not null" json:"identification"`
	DataAccess     []string  `gorm:"serializer:json" json:"data_access"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Profile rebuilds the profile the record mirrors.
func (u User) Profile() profile.UserProfile {
	return profile.UserProfile{
		Role:           profile.Role(u.Role),
		CustomRole:     u.CustomRole,
		Topic:          u.Topic,
		CustomTopic:    u.CustomTopic,
		Identification: profile.Identification(u.Identification),
		Email:          u.Email,
		DataAccess:     append([]string(nil), u.DataAccess...),
	}
}

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

type Chat struct {
	ID         string     `gorm:"type:varchar(26);primaryKey" json:"id"`
	UserID     uint64     `gorm:"index;not null" json:"-"`
	Title      string     `gorm:"type:varchar(255);not null" json:"title"`
	Visibility Visibility `gorm:"type:varchar(10);not null;default:private" json:"visibility"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID        string                `gorm:"type:varchar(26);primaryKey" json:"id"`
	ChatID    string                `gorm:"type:varchar(26);not null;index:idx_msg_chat_id,priority:1" json:"chat_id"`
	Role      profile.Sender        `gorm:"type:varchar(20);not null" json:"role"`
	Content   string                `gorm:"type:text;not null" json:"content"`
	Metadata  *profile.TurnMetadata `gorm:"serializer:json" json:"metadata,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Turn converts the stored message for prompt history.
func (m Message) Turn() profile.Turn {
	return profile.Turn{ID: m.ID, Sender: m.Role, Content: m.Content, Timestamp: m.CreatedAt, Metadata: m.Metadata}
}

type Vote string

const (
	VoteUp   Vote = "up"
	VoteDown Vote = "down"
)

// MessageVote is unique per (user, message); voting again replaces it.
type MessageVote struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint64    `gorm:"not null;index:uniq_vote_user_msg,unique,priority:1" json:"-"`
	MessageID string    `gorm:"type:varchar(26);not null;index:uniq_vote_user_msg,unique,priority:2" json:"message_id"`
	Vote      Vote      `gorm:"type:varchar(10);not null" json:"vote"`
	Feedback  *string   `gorm:"type:text" json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (MessageVote) TableName() string { return "message_votes" }

type SuggestedAction struct {
	ID          string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	MessageID   string    `gorm:"type:varchar(26);index;not null" json:"message_id"`
	Action      string    `gorm:"type:varchar(100);not null" json:"action"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Category    string    `gorm:"type:varchar(50)" json:"category,omitempty"` // follow-up, template, next-step
	Completed   bool      `gorm:"not null;default:false" json:"is_completed"`
	CreatedAt   time.Time `json:"created_at"`
}

func (SuggestedAction) TableName() string { return "suggested_actions" }

// Analytics is one persisted orchestration event. ID is the event id, so
// redelivered events do not duplicate rows.
type Analytics struct {
	ID               string    `gorm:"type:varchar(26);primaryKey" json:"id"`
	At               time.Time `gorm:"index;not null" json:"at"`
	Outcome          string    `gorm:"type:varchar(16);index;not null" json:"outcome"`
	Slot             string    `gorm:"type:varchar(32)" json:"slot"`
	Provider         string    `gorm:"type:varchar(32)" json:"provider"`
	Model            string    `gorm:"type:varchar(64)" json:"model"`
	UserRole         string    `gorm:"type:varchar(50)" json:"user_role"`
	Topic            string    `gorm:"type:varchar(100)" json:"topic"`
	UserHash         string    `gorm:"type:varchar(32);index" json:"user_hash"`
	Stream           bool      `json:"stream"`
	MessageChars     int       `json:"message_chars"`
	PromptChars      int       `json:"prompt_chars"`
	TokensUsed       int       `json:"tokens_used"`
	ResponseTimeMS   int64     `json:"response_time"`
	HadCRMData       bool      `gorm:"column:had_civicrm_data" json:"had_civicrm_data"`
	HadKnowledgeBase bool      `json:"had_knowledge_base"`
	CRMFailed        []string  `gorm:"serializer:json" json:"crm_failed,omitempty"`
	Error            string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (Analytics) TableName() string { return "analytics" }

func AnalyticsFromEvent(e events.Event) Analytics {
	return Analytics{
		ID:               e.ID,
		At:               e.At,
		Outcome:          string(e.Outcome),
		Slot:             e.Slot,
		Provider:         e.Provider,
		Model:            e.Model,
		UserRole:         e.Role,
		Topic:            e.Topic,
		UserHash:         e.UserHash,
		Stream:           e.Stream,
		MessageChars:     e.MessageChars,
		PromptChars:      e.PromptChars,
		TokensUsed:       e.TokensUsed,
		ResponseTimeMS:   e.LatencyMS,
		HadCRMData:       e.HadCRMData,
		HadKnowledgeBase: e.HadKnowledgeBase,
		CRMFailed:        e.CRMFailed,
		Error:            e.Error,
	}
}

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&User{}, &Chat{}, &Message{}, &MessageVote{}, &SuggestedAction{}, &Analytics{}}
}
