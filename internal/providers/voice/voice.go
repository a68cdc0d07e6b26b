// Package voice adapts the external real-time voice/text provider.
package voice

import (
	"context"

	"github.com/rant2me/continuity/internal/models"
)

type EventType string

const (
	EventMetadata         EventType = "chat_metadata"
	EventUserMessage      EventType = "user_message"
	EventAssistantMessage EventType = "assistant_message"
	EventError            EventType = "error"
)

// Event is one provider notification. GroupID is set on EventMetadata; Role,
// Content and Emotions on message events; Err on EventError.
type Event struct {
	Type     EventType
	GroupID  string
	ChatID   string
	Role     models.MessageRole
	Content  string
	Emotions models.EmotionScores
	Err      error
}

// SessionSettings tells the provider which group id the session continues and
// which correlation variables it carries.
type SessionSettings struct {
	Type            string            `json:"type"`
	CustomSessionID string            `json:"custom_session_id,omitempty"`
	Variables       map[string]string `json:"variables,omitempty"`
}

func NewSessionSettings(groupID, conversationID, ownerID string) SessionSettings {
	return SessionSettings{
		Type:            "session_settings",
		CustomSessionID: groupID,
		Variables: map[string]string{
			"conversation_id": conversationID,
			"user_id":         ownerID,
		},
	}
}

type StartOptions struct {
	// ResumeGroupID asks the provider to continue an existing chat group.
	ResumeGroupID string
}

type Provider interface {
	Start(ctx context.Context, opts StartOptions) (Session, error)
}

type Session interface {
	// Events is closed when the session ends.
	Events() <-chan Event
	SendSessionSettings(ctx context.Context, s SessionSettings) error
	// SendUserInput sends a typed user turn.
	SendUserInput(ctx context.Context, text string) error
	Close() error
}
