package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/utils"
	"gorm.io/gorm"
)

type MessageRepo interface {
	// Insert stamps CreatedAt itself; callers never choose it.
	Insert(ctx context.Context, m *models.Message) error
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	Latest(ctx context.Context, conversationID string) (*models.Message, error)
	CountByConversations(ctx context.Context, conversationIDs []string) (map[string]int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewMessageRepo(db *gorm.DB) MessageRepo {
	return &messageRepo{db: db, now: time.Now}
}

// Insert assigns a timestamp strictly after the conversation's latest
// message at microsecond precision, the resolution Postgres keeps.
func (r *messageRepo) Insert(ctx context.Context, m *models.Message) error {
	at := r.now().UTC().Truncate(time.Microsecond)

	last, err := r.Latest(ctx, m.ConversationID)
	switch {
	case err == nil:
		if !at.After(last.CreatedAt) {
			at = last.CreatedAt.UTC().Add(time.Microsecond)
		}
	case !errors.Is(err, utils.ErrNotFound):
		return err
	}

	m.CreatedAt = at
	return translate(r.db.WithContext(ctx).Create(m).Error)
}

func (r *messageRepo) ListByConversation(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 500
	}

	var rows []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *messageRepo) Latest(ctx context.Context, conversationID string) (*models.Message, error) {
	var row models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *messageRepo) CountByConversations(ctx context.Context, conversationIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		ConversationID string
		Count          int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS count").
		Where("conversation_id IN ?", conversationIDs).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ConversationID] = row.Count
	}
	return out, nil
}
