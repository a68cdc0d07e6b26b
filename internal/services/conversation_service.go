package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rant2me/continuity/internal/metrics"
	"github.com/rant2me/continuity/internal/models"
	pgrepo "github.com/rant2me/continuity/internal/repositories/postgres"
	"github.com/rant2me/continuity/internal/utils"
	"github.com/sirupsen/logrus"
)

type ConversationService interface {
	// ResolveOrCreateActive returns the owner's ACTIVE conversation, reviving
	// or creating one when needed. hintGroupID may be empty.
	ResolveOrCreateActive(ctx context.Context, ownerID, hintGroupID string) (*models.ActiveConversation, error)
	// BindGroupID attaches a provider group id to the ACTIVE conversation if
	// it has none. Re-binding the same id is a no-op; a different id or an
	// archived conversation is CONFLICT.
	BindGroupID(ctx context.Context, ownerID, conversationID, groupID string) (*models.Conversation, error)
	Get(ctx context.Context, ownerID, conversationID string) (*models.Conversation, error)
	List(ctx context.Context, ownerID string, status models.ConversationStatus, page, limit int) (*ConversationPage, error)
}

type ConversationPage struct {
	Items []models.ConversationSummary `json:"items"`
	Total int64                        `json:"total"`
	Page  int                          `json:"page"`
	Limit int                          `json:"limit"`
}

var errGroupIDConflict = errors.New("group id conflict")

type conversationService struct {
	uow    pgrepo.UnitOfWork
	convos pgrepo.ConversationRepo
	msgs   pgrepo.MessageRepo
	opt    options
}

func NewConversationService(uow pgrepo.UnitOfWork, convos pgrepo.ConversationRepo, msgs pgrepo.MessageRepo, opts ...Option) ConversationService {
	return &conversationService{uow: uow, convos: convos, msgs: msgs, opt: buildOptions(opts)}
}

func (s *conversationService) ResolveOrCreateActive(ctx context.Context, ownerID, hintGroupID string) (*models.ActiveConversation, error) {
	const op = "ConversationService.ResolveOrCreateActive"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}
	hint, err := normalizeGroupID(op, hintGroupID, false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	var out *models.ActiveConversation
	resolve := func() error {
		return s.uow.WithinOwner(ctx, ownerID, func(r pgrepo.Repos) error {
			res, err := s.resolveTx(ctx, r, ownerID, hint)
			if err != nil {
				return err
			}
			out = res
			return nil
		})
	}

	err = resolve()
	if errors.Is(err, utils.ErrDuplicate) {
		// Lost a create race to another resolver; its row is now visible.
		err = resolve()
	}
	if err != nil {
		return nil, s.opt.storeFailure(op, "failed to resolve conversation", logrus.Fields{
			"owner_id": ownerID,
			"hint":     hint,
		}, err)
	}

	metrics.Resolutions.WithLabelValues(string(out.Resolution)).Inc()
	s.opt.log.WithFields(logrus.Fields{
		"owner_id":        ownerID,
		"conversation_id": out.ID,
		"resolution":      out.Resolution,
		"group_id":        out.GroupID(),
	}).Info("conversation resolved")

	s.opt.announce(ctx, ownerID, out.ID, out.GroupID())
	return out, nil
}

// resolveTx runs the three resolution steps inside one owner-serialized
// transaction: existing ACTIVE, then revival by hint, then create.
func (s *conversationService) resolveTx(ctx context.Context, r pgrepo.Repos, ownerID, hint string) (*models.ActiveConversation, error) {
	now := s.opt.clock()

	conv, err := r.Conversations.FindActive(ctx, ownerID)
	switch {
	case err == nil:
		if hint != "" && conv.ExternalGroupID == nil {
			if err := s.claimHint(ctx, r, conv, ownerID, hint, now); err != nil {
				return nil, err
			}
		}
		return s.withLatest(ctx, r, conv, models.ResolvedActive)

	case !errors.Is(err, utils.ErrNotFound):
		return nil, err
	}

	if hint != "" {
		archived, err := r.Conversations.FindByGroupID(ctx, ownerID, hint, models.StatusArchived)
		switch {
		case err == nil:
			ok, err := r.Conversations.SetStatus(ctx, archived.ID, models.StatusArchived, models.StatusActive, now)
			if err != nil {
				return nil, err
			}
			if ok {
				if err := r.Conversations.TouchLastMessageAt(ctx, archived.ID, now); err != nil {
					return nil, err
				}
				archived.Status = models.StatusActive
				archived.UpdatedAt = now
				if archived.LastMessageAt.Before(now) {
					archived.LastMessageAt = now
				}
				return s.withLatest(ctx, r, archived, models.ResolvedRevived)
			}
		case !errors.Is(err, utils.ErrNotFound):
			return nil, err
		}
	}

	conv = &models.Conversation{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Status:        models.StatusActive,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if hint != "" {
		held, err := r.Conversations.GroupIDHeldByOther(ctx, ownerID, hint)
		if err != nil {
			return nil, err
		}
		if !held {
			g := hint
			conv.ExternalGroupID = &g
		}
	}
	if err := r.Conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	return &models.ActiveConversation{Conversation: *conv, Resolution: models.ResolvedCreated}, nil
}

// claimHint binds hint onto an unbound ACTIVE conversation unless another
// owner already holds that group id.
func (s *conversationService) claimHint(ctx context.Context, r pgrepo.Repos, conv *models.Conversation, ownerID, hint string, now time.Time) error {
	held, err := r.Conversations.GroupIDHeldByOther(ctx, ownerID, hint)
	if err != nil || held {
		return err
	}
	ok, err := r.Conversations.SetGroupIDIfUnset(ctx, conv.ID, hint, now)
	if err != nil || !ok {
		return err
	}
	g := hint
	conv.ExternalGroupID = &g
	conv.UpdatedAt = now
	if conv.LastMessageAt.Before(now) {
		conv.LastMessageAt = now
	}
	return nil
}

func (s *conversationService) withLatest(ctx context.Context, r pgrepo.Repos, conv *models.Conversation, how models.Resolution) (*models.ActiveConversation, error) {
	out := &models.ActiveConversation{Conversation: *conv, Resolution: how}
	latest, err := r.Messages.Latest(ctx, conv.ID)
	switch {
	case err == nil:
		out.LatestMessage = latest
	case !errors.Is(err, utils.ErrNotFound):
		return nil, err
	}
	return out, nil
}

func (s *conversationService) BindGroupID(ctx context.Context, ownerID, conversationID, groupID string) (*models.Conversation, error) {
	const op = "ConversationService.BindGroupID"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}
	groupID, err := normalizeGroupID(op, groupID, true)
	if err != nil {
		return nil, err
	}
	if !validConversationID(conversationID) {
		return nil, utils.E(utils.CodeNotFound, op, "conversation not found", nil)
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	var (
		out   *models.Conversation
		bound bool
	)
	err = s.uow.WithinOwner(ctx, ownerID, func(r pgrepo.Repos) error {
		conv, err := r.Conversations.GetOwned(ctx, ownerID, conversationID)
		if err != nil {
			return err
		}
		out = conv

		switch existing := conv.GroupID(); {
		case existing == groupID:
			return nil
		case existing != "":
			return errGroupIDConflict
		case conv.Status != models.StatusActive:
			// Only the live conversation takes a new group id.
			return errGroupIDConflict
		}

		held, err := r.Conversations.GroupIDHeldByOther(ctx, ownerID, groupID)
		if err != nil {
			return err
		}
		if held {
			return errGroupIDConflict
		}

		now := s.opt.clock()
		ok, err := r.Conversations.SetGroupIDIfUnset(ctx, conv.ID, groupID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errGroupIDConflict
		}
		g := groupID
		conv.ExternalGroupID = &g
		conv.UpdatedAt = now
		if conv.LastMessageAt.Before(now) {
			conv.LastMessageAt = now
		}
		bound = true
		return nil
	})

	fields := logrus.Fields{"owner_id": ownerID, "conversation_id": conversationID, "group_id": groupID}
	switch {
	case err == nil:
	case errors.Is(err, utils.ErrNotFound):
		return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
	case errors.Is(err, errGroupIDConflict):
		metrics.Binds.WithLabelValues("conflict").Inc()
		s.opt.log.WithFields(fields).WithFields(logrus.Fields{
			"existing_group_id": out.GroupID(),
			"status":            out.Status,
		}).Warn("bind rejected")
		if out.GroupID() == "" && out.Status != models.StatusActive {
			return nil, utils.E(utils.CodeConflict, op, "conversation is not active", err)
		}
		return nil, utils.E(utils.CodeConflict, op, "conversation is bound to a different group id", err)
	default:
		return nil, s.opt.storeFailure(op, "failed to bind group id", fields, err)
	}

	if !bound {
		metrics.Binds.WithLabelValues("noop").Inc()
		return out, nil
	}

	metrics.Binds.WithLabelValues("bound").Inc()
	s.opt.log.WithFields(fields).Info("group id bound")
	s.opt.announce(ctx, ownerID, out.ID, groupID)
	return out, nil
}

func (s *conversationService) Get(ctx context.Context, ownerID, conversationID string) (*models.Conversation, error) {
	const op = "ConversationService.Get"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}
	if !validConversationID(conversationID) {
		return nil, utils.E(utils.CodeNotFound, op, "conversation not found", nil)
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	conv, err := s.convos.GetOwned(ctx, ownerID, conversationID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return nil, s.opt.storeFailure(op, "failed to get conversation", logrus.Fields{
			"owner_id":        ownerID,
			"conversation_id": conversationID,
		}, err)
	}
	return conv, nil
}

func (s *conversationService) List(ctx context.Context, ownerID string, status models.ConversationStatus, page, limit int) (*ConversationPage, error) {
	const op = "ConversationService.List"

	if err := requireOwner(op, ownerID); err != nil {
		return nil, err
	}
	if status == "" {
		status = models.StatusActive
	}
	if !status.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid status", nil)
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	ctx, cancel := s.opt.withTimeout(ctx)
	defer cancel()

	fields := logrus.Fields{"owner_id": ownerID, "status": status}
	rows, total, err := s.convos.ListByStatus(ctx, ownerID, status, limit, (page-1)*limit)
	if err != nil {
		return nil, s.opt.storeFailure(op, "failed to list conversations", fields, err)
	}

	ids := make([]string, 0, len(rows))
	for _, c := range rows {
		ids = append(ids, c.ID)
	}
	counts, err := s.msgs.CountByConversations(ctx, ids)
	if err != nil {
		return nil, s.opt.storeFailure(op, "failed to count messages", fields, err)
	}

	items := make([]models.ConversationSummary, 0, len(rows))
	for _, c := range rows {
		sum := models.ConversationSummary{Conversation: c, MessageCount: counts[c.ID]}
		if sum.MessageCount > 0 {
			latest, err := s.msgs.Latest(ctx, c.ID)
			if err != nil && !errors.Is(err, utils.ErrNotFound) {
				return nil, s.opt.storeFailure(op, "failed to load latest message", fields, err)
			}
			sum.LatestMessage = latest
		}
		items = append(items, sum)
	}

	return &ConversationPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}
