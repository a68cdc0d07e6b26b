package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type VoiceSessionStatus string

const (
	VoiceSessionLive  VoiceSessionStatus = "live"
	VoiceSessionEnded VoiceSessionStatus = "ended"
)

// VoiceSession journals one live provider session attached to a conversation.
type VoiceSession struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID      string             `bson:"session_id" json:"session_id"` // uuid v4
	OwnerID        string             `bson:"owner_id" json:"owner_id"`
	ConversationID string             `bson:"conversation_id" json:"conversation_id"`
	GroupID        string             `bson:"group_id,omitempty" json:"group_id,omitempty"` // filled on reveal

	Status  VoiceSessionStatus `bson:"status" json:"status"`
	Resumed bool               `bson:"resumed" json:"resumed"` // started with a resume group id

	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`

	DurationSeconds int64 `bson:"duration_seconds" json:"duration_seconds"`
}
