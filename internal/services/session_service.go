package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rant2me/continuity/internal/models"
	mongorepo "github.com/rant2me/continuity/internal/repositories/mongo"
	"github.com/rant2me/continuity/internal/utils"
	"github.com/sirupsen/logrus"
)

// SessionService journals live voice sessions against conversations. The
// journal is diagnostic; conversation state never depends on it.
type SessionService interface {
	Start(ctx context.Context, ownerID, conversationID string, resumed bool) (*models.VoiceSession, error)
	Get(ctx context.Context, ownerID, sessionID string) (*models.VoiceSession, error)
	AttachGroupID(ctx context.Context, ownerID, sessionID, groupID string) (*models.VoiceSession, error)
	End(ctx context.Context, ownerID, sessionID string) (*models.VoiceSession, error)
	ListByConversation(ctx context.Context, ownerID, conversationID string, limit int64) ([]models.VoiceSession, error)
}

type sessionService struct {
	sessions mongorepo.VoiceSessionRepo
	convos   ConversationService
	opt      options
}

func NewSessionService(sessions mongorepo.VoiceSessionRepo, convos ConversationService, opts ...Option) SessionService {
	return &sessionService{sessions: sessions, convos: convos, opt: buildOptions(opts)}
}

func (s *sessionService) Start(ctx context.Context, ownerID, conversationID string, resumed bool) (*models.VoiceSession, error) {
	const op = "SessionService.Start"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}
	conv, err := s.convos.Get(ctx, ownerID, conversationID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	session := &models.VoiceSession{
		SessionID:      uuid.NewString(),
		OwnerID:        ownerID,
		ConversationID: conv.ID,
		GroupID:        conv.GroupID(),
		Status:         models.VoiceSessionLive,
		Resumed:        resumed,
		CreatedAt:      s.opt.clock(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, s.opt.storeFailure(op, "failed to create voice session", logrus.Fields{
			"owner_id":        ownerID,
			"conversation_id": conv.ID,
		}, err)
	}
	return session, nil
}

func (s *sessionService) Get(ctx context.Context, ownerID, sessionID string) (*models.VoiceSession, error) {
	const op = "SessionService.Get"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	out, err := s.sessions.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session not found", err)
		}
		return nil, s.opt.storeFailure(op, "failed to get session", logrus.Fields{"session_id": sessionID}, err)
	}
	if out.OwnerID != ownerID {
		return nil, utils.E(utils.CodeNotFound, op, "session not found", nil)
	}
	return out, nil
}

func (s *sessionService) AttachGroupID(ctx context.Context, ownerID, sessionID, groupID string) (*models.VoiceSession, error) {
	const op = "SessionService.AttachGroupID"

	groupID, err := normalizeGroupID(op, groupID, true)
	if err != nil {
		return nil, err
	}
	ss, err := s.Get(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	if err := s.sessions.AttachGroupID(ctx, sessionID, groupID); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeConflict, op, "session already ended", err)
		}
		return nil, s.opt.storeFailure(op, "failed to attach group id", logrus.Fields{"session_id": sessionID}, err)
	}
	ss.GroupID = groupID
	return ss, nil
}

func (s *sessionService) End(ctx context.Context, ownerID, sessionID string) (*models.VoiceSession, error) {
	const op = "SessionService.End"

	ss, err := s.Get(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status == models.VoiceSessionEnded {
		return ss, nil
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	now := s.opt.clock()
	dur := int64(now.Sub(ss.CreatedAt).Seconds())
	if dur < 0 {
		dur = 0
	}

	if err := s.sessions.End(ctx, sessionID, now, dur); err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			// ended concurrently
			return s.Get(ctx, ownerID, sessionID)
		}
		return nil, s.opt.storeFailure(op, "failed to end session", logrus.Fields{"session_id": sessionID}, err)
	}

	ss.Status = models.VoiceSessionEnded
	ss.EndedAt = &now
	ss.DurationSeconds = dur
	return ss, nil
}

func (s *sessionService) ListByConversation(ctx context.Context, ownerID, conversationID string, limit int64) ([]models.VoiceSession, error) {
	const op = "SessionService.ListByConversation"

	if _, err := s.convos.Get(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	out, err := s.sessions.ListByConversation(ctx, ownerID, conversationID, limit)
	if err != nil {
		return nil, s.opt.storeFailure(op, "failed to list sessions", logrus.Fields{"conversation_id": conversationID}, err)
	}
	return out, nil
}
