package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rant2me/continuity/internal/models"
	"gorm.io/gorm"
)

// Repos are repositories bound to one transaction.
type Repos struct {
	Conversations ConversationRepo
	Messages      MessageRepo
}

type UnitOfWork interface {
	// WithinOwner runs fn in a single transaction serialized against every
	// other WithinOwner call for the same owner. A concurrent reader therefore
	// sees the owner's conversations either before or after fn, never between.
	WithinOwner(ctx context.Context, ownerID string, fn func(r Repos) error) error
}

type unitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) UnitOfWork {
	return &unitOfWork{db: db}
}

func (u *unitOfWork) WithinOwner(ctx context.Context, ownerID string, fn func(r Repos) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockOwner(tx, ownerID); err != nil {
			return err
		}
		return fn(Repos{
			Conversations: NewConversationRepo(tx),
			Messages:      NewMessageRepo(tx),
		})
	})
}

// lockOwner takes a transaction-scoped advisory lock keyed by owner on
// Postgres. Other dialects (SQLite in tests) already serialize writers.
func lockOwner(tx *gorm.DB, ownerID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", ownerID).Error
}

// Migrate creates the schema including the partial unique index that backs
// the one-ACTIVE-conversation-per-owner rule.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Conversation{}, &models.Message{}); err != nil {
		return err
	}
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_conversation_per_owner
		ON conversations (owner_id) WHERE status = 'ACTIVE'`).Error
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
