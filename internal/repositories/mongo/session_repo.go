package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type VoiceSessionRepo interface {
	Create(ctx context.Context, s *models.VoiceSession) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.VoiceSession, error)
	// AttachGroupID records the provider group id on a live session. Returns
	// utils.ErrNotFound when no live session matches.
	AttachGroupID(ctx context.Context, sessionID, groupID string) error
	// End marks a live session ended. Ending an already-ended session is
	// reported as utils.ErrNotFound.
	End(ctx context.Context, sessionID string, endedAt time.Time, durationSeconds int64) error
	ListByConversation(ctx context.Context, ownerID, conversationID string, limit int64) ([]models.VoiceSession, error)
}

type voiceSessionRepo struct {
	col *mongo.Collection
}

func NewVoiceSessionRepo(db *mongo.Database) VoiceSessionRepo {
	return &voiceSessionRepo{col: db.Collection("voice_sessions")}
}

func (r *voiceSessionRepo) Create(ctx context.Context, s *models.VoiceSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = models.VoiceSessionLive
	}
	_, err := r.col.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return utils.ErrDuplicate
	}
	return err
}

func (r *voiceSessionRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.VoiceSession, error) {
	var s models.VoiceSession
	err := r.col.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *voiceSessionRepo) AttachGroupID(ctx context.Context, sessionID, groupID string) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "status": models.VoiceSessionLive},
		bson.M{"$set": bson.M{"group_id": groupID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *voiceSessionRepo) End(ctx context.Context, sessionID string, endedAt time.Time, durationSeconds int64) error {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"session_id": sessionID, "status": models.VoiceSessionLive},
		bson.M{"$set": bson.M{
			"status":           models.VoiceSessionEnded,
			"ended_at":         endedAt.UTC(),
			"duration_seconds": durationSeconds,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return utils.ErrNotFound
	}
	return nil
}

func (r *voiceSessionRepo) ListByConversation(ctx context.Context, ownerID, conversationID string, limit int64) ([]models.VoiceSession, error) {
	if limit <= 0 {
		limit = 50
	}
	cur, err := r.col.Find(ctx,
		bson.M{"owner_id": ownerID, "conversation_id": conversationID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]models.VoiceSession, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
