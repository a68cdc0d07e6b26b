package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/utils"
	"gorm.io/gorm"
)

type ConversationRepo interface {
	Create(ctx context.Context, c *models.Conversation) error
	GetOwned(ctx context.Context, ownerID, id string) (*models.Conversation, error)
	FindActive(ctx context.Context, ownerID string) (*models.Conversation, error)
	FindByGroupID(ctx context.Context, ownerID, groupID string, status models.ConversationStatus) (*models.Conversation, error)
	GroupIDHeldByOther(ctx context.Context, ownerID, groupID string) (bool, error)

	SetGroupIDIfUnset(ctx context.Context, id, groupID string, at time.Time) (bool, error)
	SetGroupID(ctx context.Context, id, groupID string, at time.Time) error
	SetStatus(ctx context.Context, id string, from, to models.ConversationStatus, at time.Time) (bool, error)
	ArchiveActive(ctx context.Context, ownerID string, at time.Time) (int64, error)
	TouchLastMessageAt(ctx context.Context, id string, at time.Time) error

	ListByStatus(ctx context.Context, ownerID string, status models.ConversationStatus, limit, offset int) ([]models.Conversation, int64, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Create(ctx context.Context, c *models.Conversation) error {
	return translate(r.db.WithContext(ctx).Create(c).Error)
}

func (r *conversationRepo) GetOwned(ctx context.Context, ownerID, id string) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

func (r *conversationRepo) FindActive(ctx context.Context, ownerID string) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, models.StatusActive).
		Order("last_message_at DESC").
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

func (r *conversationRepo) FindByGroupID(ctx context.Context, ownerID, groupID string, status models.ConversationStatus) (*models.Conversation, error) {
	var row models.Conversation
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND external_group_id = ? AND status = ?", ownerID, groupID, status).
		Order("last_message_at DESC").
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

func (r *conversationRepo) GroupIDHeldByOther(ctx context.Context, ownerID, groupID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("external_group_id = ? AND owner_id <> ?", groupID, ownerID).
		Count(&count).Error
	return count > 0, err
}

// SetGroupIDIfUnset is the compare-and-set used by first-time binding.
func (r *conversationRepo) SetGroupIDIfUnset(ctx context.Context, id, groupID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND external_group_id IS NULL", id).
		Updates(map[string]any{
			"external_group_id": groupID,
			"updated_at":        at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, r.TouchLastMessageAt(ctx, id, at)
}

func (r *conversationRepo) SetGroupID(ctx context.Context, id, groupID string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"external_group_id": groupID,
			"updated_at":        at,
		}).Error
	if err != nil {
		return err
	}
	return r.TouchLastMessageAt(ctx, id, at)
}

func (r *conversationRepo) SetStatus(ctx context.Context, id string, from, to models.ConversationStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": at,
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *conversationRepo) ArchiveActive(ctx context.Context, ownerID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("owner_id = ? AND status = ?", ownerID, models.StatusActive).
		Updates(map[string]any{
			"status":     models.StatusArchived,
			"updated_at": at,
		})
	return res.RowsAffected, res.Error
}

// TouchLastMessageAt never moves the marker backwards.
func (r *conversationRepo) TouchLastMessageAt(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND last_message_at < ?", id, at).
		UpdateColumn("last_message_at", at).Error
}

func (r *conversationRepo) ListByStatus(ctx context.Context, ownerID string, status models.ConversationStatus, limit, offset int) ([]models.Conversation, int64, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	q := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("owner_id = ? AND status = ?", ownerID, status)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.Conversation
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status = ?", ownerID, status).
		Order("last_message_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, total, err
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return utils.ErrNotFound
	case isUniqueViolation(err):
		return utils.ErrDuplicate
	default:
		return err
	}
}
