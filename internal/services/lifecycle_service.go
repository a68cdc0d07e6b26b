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

type LifecycleService interface {
	// Reset archives the ACTIVE conversation and starts a fresh one with a
	// new group id, atomically.
	Reset(ctx context.Context, ownerID string) (*models.Conversation, error)
	// Rebind overwrites the group id of the ACTIVE conversation.
	Rebind(ctx context.Context, ownerID, groupID string) (*models.Conversation, error)
}

type lifecycleService struct {
	uow pgrepo.UnitOfWork
	opt options
}

func NewLifecycleService(uow pgrepo.UnitOfWork, opts ...Option) LifecycleService {
	return &lifecycleService{uow: uow, opt: buildOptions(opts)}
}

func (s *lifecycleService) Reset(ctx context.Context, ownerID string) (*models.Conversation, error) {
	const op = "LifecycleService.Reset"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	var (
		out      *models.Conversation
		archived int64
	)
	err := s.uow.WithinOwner(ctx, ownerID, func(r pgrepo.Repos) error {
		now := s.opt.clock()

		n, err := r.Conversations.ArchiveActive(ctx, ownerID, now)
		if err != nil {
			return err
		}
		archived = n

		groupID := uuid.NewString()
		conv := &models.Conversation{
			ID:              uuid.NewString(),
			OwnerID:         ownerID,
			Status:          models.StatusActive,
			ExternalGroupID: &groupID,
			LastMessageAt:   now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := r.Conversations.Create(ctx, conv); err != nil {
			return err
		}
		out = conv
		return nil
	})
	if err != nil {
		return nil, s.opt.storeFailure(op, "failed to reset conversation", logrus.Fields{"owner_id": ownerID}, err)
	}

	metrics.Resets.Inc()
	s.opt.log.WithFields(logrus.Fields{
		"owner_id":        ownerID,
		"conversation_id": out.ID,
		"group_id":        out.GroupID(),
		"archived":        archived,
	}).Info("conversation reset")

	s.opt.announce(ctx, ownerID, out.ID, out.GroupID())
	return out, nil
}

func (s *lifecycleService) Rebind(ctx context.Context, ownerID, groupID string) (*models.Conversation, error) {
	const op = "LifecycleService.Rebind"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}
	groupID, err := normalizeGroupID(op, groupID, true)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	var out *models.Conversation
	err = s.uow.WithinOwner(ctx, ownerID, func(r pgrepo.Repos) error {
		conv, err := r.Conversations.FindActive(ctx, ownerID)
		if err != nil {
			return err
		}
		if conv.GroupID() == groupID {
			out = conv
			return nil
		}

		held, err := r.Conversations.GroupIDHeldByOther(ctx, ownerID, groupID)
		if err != nil {
			return err
		}
		if held {
			return errGroupIDConflict
		}

		now := s.opt.clock()
		if err := r.Conversations.SetGroupID(ctx, conv.ID, groupID, now); err != nil {
			return err
		}
		g := groupID
		conv.ExternalGroupID = &g
		conv.UpdatedAt = now
		if conv.LastMessageAt.Before(now) {
			conv.LastMessageAt = now
		}
		out = conv
		return nil
	})

	fields := logrus.Fields{"owner_id": ownerID, "group_id": groupID}
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrNotFound):
		return nil, utils.E(utils.CodeNotFound, op, "no active conversation", err)
	case errors.Is(err, errGroupIDConflict):
		return nil, utils.E(utils.CodeConflict, op, "group id is bound elsewhere", err)
	default:
		return nil, s.opt.storeFailure(op, "failed to rebind conversation", fields, err)
	}

	s.opt.log.WithFields(fields).WithField("conversation_id", out.ID).Info("conversation rebound")
	s.opt.announce(ctx, ownerID, out.ID, groupID)
	return out, nil
}
