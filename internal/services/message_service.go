package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rant2me/continuity/internal/metrics"
	"github.com/rant2me/continuity/internal/models"
	pgrepo "github.com/rant2me/continuity/internal/repositories/postgres"
	"github.com/rant2me/continuity/internal/utils"
	"github.com/sirupsen/logrus"
)

type AppendInput struct {
	ConversationID string
	Role           models.MessageRole
	Content        string
	Emotions       models.EmotionScores
}

type MessageService interface {
	// Append stores one turn and advances the conversation's lastMessageAt.
	Append(ctx context.Context, ownerID string, in AppendInput) (*models.Message, error)
	// List returns a conversation's messages oldest first.
	List(ctx context.Context, ownerID, conversationID string, limit int) ([]models.Message, error)
}

type messageService struct {
	uow    pgrepo.UnitOfWork
	convos pgrepo.ConversationRepo
	msgs   pgrepo.MessageRepo
	opt    options
}

func NewMessageService(uow pgrepo.UnitOfWork, convos pgrepo.ConversationRepo, msgs pgrepo.MessageRepo, opts ...Option) MessageService {
	return &messageService{uow: uow, convos: convos, msgs: msgs, opt: buildOptions(opts)}
}

func (s *messageService) Append(ctx context.Context, ownerID string, in AppendInput) (*models.Message, error) {
	const op = "MessageService.Append"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}
	if !in.Role.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "role must be USER or ASSISTANT", nil)
	}
	if err := models.ValidateContent(in.Content); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), err)
	}
	if len(in.Emotions) > 0 && in.Role != models.RoleUser {
		return nil, utils.E(utils.CodeInvalidArgument, op, "emotions are only accepted on USER messages", nil)
	}
	if err := in.Emotions.Validate(); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), err)
	}
	emotions, err := in.Emotions.JSON()
	if err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid emotions", err)
	}
	if !validConversationID(in.ConversationID) {
		return nil, utils.E(utils.CodeNotFound, op, "conversation not found", nil)
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	msg := &models.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        in.Content,
		Emotions:       emotions,
	}
	err = s.uow.WithinOwner(ctx, ownerID, func(r pgrepo.Repos) error {
		conv, err := r.Conversations.GetOwned(ctx, ownerID, in.ConversationID)
		if err != nil {
			return err
		}
		if err := r.Messages.Insert(ctx, msg); err != nil {
			return err
		}
		return r.Conversations.TouchLastMessageAt(ctx, conv.ID, msg.CreatedAt)
	})

	fields := logrus.Fields{"owner_id": ownerID, "conversation_id": in.ConversationID, "role": in.Role}
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrNotFound):
		return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
	default:
		return nil, s.opt.storeFailure(op, "failed to append message", fields, err)
	}

	metrics.MessagesTotal.WithLabelValues(string(in.Role)).Inc()
	s.opt.log.WithFields(fields).WithField("message_id", msg.ID).Debug("message appended")
	return msg, nil
}

func (s *messageService) List(ctx context.Context, ownerID, conversationID string, limit int) ([]models.Message, error) {
	const op = "MessageService.List"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}
	if !validConversationID(conversationID) {
		return nil, utils.E(utils.CodeNotFound, op, "conversation not found", nil)
	}
	if limit <= 0 || limit > 1000 {
		limit = 500
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	fields := logrus.Fields{"owner_id": ownerID, "conversation_id": conversationID}
	if _, err := s.convos.GetOwned(ctx, ownerID, conversationID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return nil, s.opt.storeFailure(op, "failed to get conversation", fields, err)
	}

	out, err := s.msgs.ListByConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, s.opt.storeFailure(op, "failed to list messages", fields, err)
	}
	return out, nil
}
