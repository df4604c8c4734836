package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetUserByID(ctx context.Context, id uint64) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpsertUser creates the user or refreshes the mirrored profile fields,
// keyed by email. u.ID is set on return.
func (r *Repo) UpsertUser(ctx context.Context, u *User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing User
		err := tx.Where("email = ?", u.Email).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(u).Error
		}
		if err != nil {
			return err
		}
		u.ID = existing.ID
		u.CreatedAt = existing.CreatedAt
		return tx.Model(&existing).Select(
			"name", "role", "custom_role", "topic", "custom_topic", "identification", "data_access",
		).Updates(u).Error
	})
}

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// GetChat returns gorm.ErrRecordNotFound for chats owned by someone else.
func (r *Repo) GetChat(ctx context.Context, userID uint64, chatID string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", chatID, userID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListChats returns the user's chats, most recently updated first.
func (r *Repo) ListChats(ctx context.Context, userID uint64, limit int) ([]Chat, error) {
	var out []Chat
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) TouchChat(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("updated_at", time.Now()).Error
}

func (r *Repo) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("title", title).Error
}

// DeleteChat removes a chat with its messages, votes and actions.
func (r *Repo) DeleteChat(ctx context.Context, userID uint64, chatID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", chatID, userID).Delete(&Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		var msgIDs []string
		if err := tx.Model(&Message{}).Where("chat_id = ?", chatID).Pluck("id", &msgIDs).Error; err != nil {
			return err
		}
		if len(msgIDs) == 0 {
			return nil
		}
		if err := tx.Where("message_id IN ?", msgIDs).Delete(&MessageVote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN ?", msgIDs).Delete(&SuggestedAction{}).Error; err != nil {
			return err
		}
		return tx.Where("chat_id = ?", chatID).Delete(&Message{}).Error
	})
}

func (r *Repo) DeleteMessage(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&Message{}).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns messages oldest first. Ids are ULIDs so id order is
// creation order.
func (r *Repo) ListMessages(ctx context.Context, chatID string, limit int, afterID string) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id ASC").
		Limit(limit)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages newest first.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessageForUser loads a message only if its chat belongs to userID.
func (r *Repo) GetMessageForUser(ctx context.Context, userID uint64, messageID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Joins("JOIN chats ON chats.id = chat_messages.chat_id").
		Where("chat_messages.id = ? AND chats.user_id = ?", messageID, userID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertVote records the user's vote, replacing any earlier one.
func (r *Repo) UpsertVote(ctx context.Context, v *MessageVote) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vote", "feedback", "updated_at"}),
	}).Create(v).Error
}

func (r *Repo) GetVote(ctx context.Context, userID uint64, messageID string) (*MessageVote, error) {
	var v MessageVote
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		First(&v).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// VoteCounts returns up and down totals for a message.
func (r *Repo) VoteCounts(ctx context.Context, messageID string) (up, down int64, err error) {
	type row struct {
		Vote  Vote
		Count int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&MessageVote{}).
		Select("vote, COUNT(*) AS count").
		Where("message_id = ?", messageID).
		Group("vote").
		Scan(&rows).Error; err != nil {
		return 0, 0, err
	}
	for _, rw := range rows {
		switch rw.Vote {
		case VoteUp:
			up = rw.Count
		case VoteDown:
			down = rw.Count
		}
	}
	return up, down, nil
}

func (r *Repo) CreateSuggestedAction(ctx context.Context, a *SuggestedAction) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *Repo) ListSuggestedActions(ctx context.Context, messageID string) ([]SuggestedAction, error) {
	var out []SuggestedAction
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteSuggestedAction marks an action done if its message belongs to
// userID.
func (r *Repo) CompleteSuggestedAction(ctx context.Context, userID uint64, actionID string) (*SuggestedAction, error) {
	var a SuggestedAction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Joins("JOIN chat_messages ON chat_messages.id = suggested_actions.message_id").
			Joins("JOIN chats ON chats.id = chat_messages.chat_id").
			Where("suggested_actions.id = ? AND chats.user_id = ?", actionID, userID).
			First(&a).Error; err != nil {
			return err
		}
		if a.Completed {
			return nil
		}
		a.Completed = true
		return tx.Model(&SuggestedAction{}).Where("id = ?", a.ID).Update("completed", true).Error
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertAnalytics stores an event row. A redelivered event is a no-op.
func (r *Repo) InsertAnalytics(ctx context.Context, a *Analytics) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(a).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

type AnalyticsFilter struct {
	UserHash string
	Outcome  string
	Limit    int
}

func (r *Repo) ListAnalytics(ctx context.Context, f AnalyticsFilter) ([]Analytics, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Order("at DESC").Limit(limit)
	if f.UserHash != "" {
		q = q.Where("user_hash = ?", f.UserHash)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	var out []Analytics
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
