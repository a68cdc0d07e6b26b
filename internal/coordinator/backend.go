package coordinator

import (
	"context"

	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/services"
)

// Backend is the conversation API the coordinator drives. The owner is
// implied by the backend's credentials.
type Backend interface {
	ResolveActive(ctx context.Context, hintGroupID string) (*models.ActiveConversation, error)
	BindGroupID(ctx context.Context, conversationID, groupID string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, in services.AppendInput) (*models.Message, error)
	Reset(ctx context.Context) (*models.Conversation, error)
}

// Journal records voice sessions. Optional; failures are logged only.
type Journal interface {
	StartSession(ctx context.Context, conversationID string, resumed bool) (*models.VoiceSession, error)
	AttachGroupID(ctx context.Context, sessionID, groupID string) error
	EndSession(ctx context.Context, sessionID string) error
}

// HintStore is the persisted slot holding the last observed group id.
type HintStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, groupID string) error
	Clear(ctx context.Context) error
}

// LocalBackend calls the services in-process for one owner.
type LocalBackend struct {
	OwnerID       string
	Conversations services.ConversationService
	Messages      services.MessageService
	Lifecycle     services.LifecycleService
	Sessions      services.SessionService
}

func (b *LocalBackend) ResolveActive(ctx context.Context, hintGroupID string) (*models.ActiveConversation, error) {
	return b.Conversations.ResolveOrCreateActive(ctx, b.OwnerID, hintGroupID)
}

func (b *LocalBackend) BindGroupID(ctx context.Context, conversationID, groupID string) (*models.Conversation, error) {
	return b.Conversations.BindGroupID(ctx, b.OwnerID, conversationID, groupID)
}

func (b *LocalBackend) AppendMessage(ctx context.Context, in services.AppendInput) (*models.Message, error) {
	return b.Messages.Append(ctx, b.OwnerID, in)
}

func (b *LocalBackend) Reset(ctx context.Context) (*models.Conversation, error) {
	return b.Lifecycle.Reset(ctx, b.OwnerID)
}

func (b *LocalBackend) StartSession(ctx context.Context, conversationID string, resumed bool) (*models.VoiceSession, error) {
	return b.Sessions.Start(ctx, b.OwnerID, conversationID, resumed)
}

func (b *LocalBackend) AttachGroupID(ctx context.Context, sessionID, groupID string) error {
	_, err := b.Sessions.AttachGroupID(ctx, b.OwnerID, sessionID, groupID)
	return err
}

func (b *LocalBackend) EndSession(ctx context.Context, sessionID string) error {
	_, err := b.Sessions.End(ctx, b.OwnerID, sessionID)
	return err
}
