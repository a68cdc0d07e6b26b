// Package coordinator drives one client's voice session against the
// conversation backend: resolve on start, bind on reveal, ingest every turn.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/providers/voice"
	"github.com/rant2me/continuity/internal/services"
	"github.com/rant2me/continuity/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	NoticeLoad = "couldn't load conversation"
	NoticeSave = "couldn't save conversation"
)

// Notice is a user-facing failure report. The UI stays usable after one.
type Notice struct {
	Op      string
	Message string
	Err     error
}

type Config struct {
	// OwnerID is only used for provider correlation variables.
	OwnerID  string
	Backend  Backend
	Provider voice.Provider
	Hints    HintStore
	Journal  Journal
	Logger   *logrus.Logger
	OnNotice func(Notice)
}

type Coordinator struct {
	cfg   Config
	log   *logrus.Entry
	group singleflight.Group

	mu        sync.Mutex
	conv      *models.Conversation
	gen       uint64 // bumped by Reset; results started before it are dropped
	pending   string // group id revealed before it could be bound
	session   voice.Session
	journalID string
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Backend == nil || cfg.Provider == nil || cfg.Hints == nil {
		return nil, errors.New("coordinator: Backend, Provider and Hints are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Coordinator{
		cfg: cfg,
		log: cfg.Logger.WithField("owner_id", cfg.OwnerID),
	}, nil
}

// Conversation returns the currently resolved conversation, nil before the
// first successful resolve.
func (c *Coordinator) Conversation() *models.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return nil
	}
	cp := *c.conv
	return &cp
}

// Resolve asks the backend for the active conversation using the persisted
// hint. Concurrent callers share one in-flight request.
func (c *Coordinator) Resolve(ctx context.Context) (*models.ActiveConversation, error) {
	v, err, _ := c.group.Do("resolve", func() (any, error) {
		return c.resolve(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.ActiveConversation), nil
}

func (c *Coordinator) resolve(ctx context.Context) (*models.ActiveConversation, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	hint, err := c.cfg.Hints.Load(ctx)
	if err != nil {
		c.log.WithError(err).Warn("hint load failed, resolving without it")
		hint = ""
	}

	active, err := c.cfg.Backend.ResolveActive(ctx, hint)
	if err != nil {
		c.notify("resolve", NoticeLoad, err)
		return nil, err
	}

	conv := active.Conversation
	c.mu.Lock()
	if c.gen != gen && c.conv != nil {
		// A reset finished while this resolve was in flight.
		cur := *c.conv
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"current_id":      cur.ID,
		}).Info("dropping resolve superseded by reset")
		return &models.ActiveConversation{Conversation: cur, Resolution: models.ResolvedActive}, nil
	}
	c.conv = &conv
	pending := c.pending
	journal := c.session != nil && c.journalID == ""
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"conversation_id": conv.ID,
		"resolution":      active.Resolution,
		"group_id":        conv.GroupID(),
	}).Info("conversation resolved")

	switch g := conv.GroupID(); {
	case g != "":
		c.saveHint(ctx, g)
	case hint != "":
		// The backend would not attach the hint, so it is no use next time.
		if err := c.cfg.Hints.Clear(ctx); err != nil {
			c.log.WithError(err).Warn("hint clear failed")
		}
	}
	if journal {
		c.startJournal(ctx, conv.ID, false)
	}
	if pending != "" {
		c.observeGroupID(ctx, pending)
	}
	return active, nil
}

// Run resolves, starts a provider session resuming the conversation's group
// id when there is one, and handles events until ctx ends or the provider
// closes the session. A failed resolve does not prevent the session.
func (c *Coordinator) Run(ctx context.Context) error {
	active, _ := c.Resolve(ctx)

	var resume string
	if active != nil {
		resume = active.GroupID()
	}

	sess, err := c.cfg.Provider.Start(ctx, voice.StartOptions{ResumeGroupID: resume})
	if err != nil {
		c.notify("provider", NoticeLoad, err)
		return err
	}
	defer sess.Close()

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
	}()

	if active != nil {
		c.startJournal(ctx, active.ID, resume != "")
		if resume != "" {
			c.sendSettings(ctx, active.ID, resume)
		}
	}
	defer c.endJournal(context.WithoutCancel(ctx))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sess.Events():
			if !ok {
				return nil
			}
			c.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one provider event. Reveal and message events may
// arrive in any order relative to each other and to resolution.
func (c *Coordinator) HandleEvent(ctx context.Context, ev voice.Event) {
	switch ev.Type {
	case voice.EventMetadata:
		c.observeGroupID(ctx, ev.GroupID)
	case voice.EventUserMessage, voice.EventAssistantMessage:
		c.ingest(ctx, ev)
	case voice.EventError:
		c.log.WithError(ev.Err).Warn("provider error")
	}
}

func (c *Coordinator) observeGroupID(ctx context.Context, groupID string) {
	if groupID == "" {
		return
	}

	c.mu.Lock()
	conv := c.conv
	if conv == nil {
		c.pending = groupID
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	switch existing := conv.GroupID(); {
	case existing == groupID:
		c.clearPending(groupID)
		c.saveHint(ctx, groupID)
		c.attachJournal(ctx, groupID)
	case existing != "":
		c.clearPending(groupID)
		c.log.WithFields(logrus.Fields{
			"conversation_id": conv.ID,
			"bound_group_id":  existing,
			"group_id":        groupID,
		}).Warn("provider revealed a different group id, keeping the bound one")
	default:
		c.bind(ctx, conv.ID, groupID)
	}
}

func (c *Coordinator) bind(ctx context.Context, conversationID, groupID string) {
	bound, err := c.cfg.Backend.BindGroupID(ctx, conversationID, groupID)

	c.mu.Lock()
	if c.conv == nil || c.conv.ID != conversationID || (bound != nil && bound.ID != conversationID) {
		// The coordinator moved on (reset or re-resolve) while binding.
		c.mu.Unlock()
		c.log.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"group_id":        groupID,
		}).WithError(err).Info("dropping bind for a superseded conversation")
		return
	}
	c.mu.Unlock()

	if err != nil {
		c.mu.Lock()
		if utils.Retryable(err) {
			c.pending = groupID
		} else if c.pending == groupID {
			c.pending = ""
		}
		c.mu.Unlock()
		c.notify("bind", NoticeSave, err)
		return
	}

	c.mu.Lock()
	if c.conv == nil || c.conv.ID != bound.ID {
		c.mu.Unlock()
		return
	}
	c.conv = bound
	if c.pending == groupID {
		c.pending = ""
	}
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"conversation_id": bound.ID, "group_id": groupID}).Info("group id bound")
	c.saveHint(ctx, groupID)
	c.sendSettings(ctx, bound.ID, groupID)
	c.attachJournal(ctx, groupID)
}

func (c *Coordinator) clearPending(groupID string) {
	c.mu.Lock()
	if c.pending == groupID {
		c.pending = ""
	}
	c.mu.Unlock()
}

// ensureResolved returns the current conversation, resolving lazily when the
// last attempt failed. A reveal still waiting on a retryable bind is retried.
func (c *Coordinator) ensureResolved(ctx context.Context) (*models.Conversation, error) {
	c.mu.Lock()
	conv, pending := c.conv, c.pending
	c.mu.Unlock()

	if conv == nil {
		if _, err := c.Resolve(ctx); err != nil {
			return nil, err
		}
	} else if pending != "" && conv.GroupID() == "" {
		c.observeGroupID(ctx, pending)
	}

	conv = c.Conversation()
	if conv == nil {
		return nil, errors.New("coordinator: no conversation")
	}
	return conv, nil
}

func (c *Coordinator) ingest(ctx context.Context, ev voice.Event) {
	conv, err := c.ensureResolved(ctx)
	if err != nil {
		c.notify("append", NoticeSave, err)
		return
	}

	in := services.AppendInput{
		ConversationID: conv.ID,
		Role:           ev.Role,
		Content:        ev.Content,
	}
	if ev.Role == models.RoleUser {
		in.Emotions = ev.Emotions
	}

	if _, err := c.cfg.Backend.AppendMessage(ctx, in); err != nil {
		if utils.IsCode(err, utils.CodeNotFound) {
			// Gone from under us; re-resolve before the next turn.
			c.mu.Lock()
			if c.conv != nil && c.conv.ID == conv.ID {
				c.conv = nil
			}
			c.mu.Unlock()
		}
		c.notify("append", NoticeSave, err)
	}
}

// Reset archives the current conversation through the backend and switches
// the live session onto the fresh one.
func (c *Coordinator) Reset(ctx context.Context) (*models.Conversation, error) {
	conv, err := c.cfg.Backend.Reset(ctx)
	if err != nil {
		c.notify("reset", NoticeSave, err)
		return nil, err
	}

	c.mu.Lock()
	c.conv = conv
	c.gen++
	c.pending = ""
	c.mu.Unlock()

	c.saveHint(ctx, conv.GroupID())
	c.sendSettings(ctx, conv.ID, conv.GroupID())
	return conv, nil
}

func (c *Coordinator) saveHint(ctx context.Context, groupID string) {
	if groupID == "" {
		return
	}
	if err := c.cfg.Hints.Save(ctx, groupID); err != nil {
		c.log.WithError(err).WithField("group_id", groupID).Warn("hint save failed")
	}
}

func (c *Coordinator) sendSettings(ctx context.Context, conversationID, groupID string) {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()
	if sess == nil || groupID == "" {
		return
	}

	settings := voice.NewSessionSettings(groupID, conversationID, c.cfg.OwnerID)
	if err := sess.SendSessionSettings(ctx, settings); err != nil {
		c.log.WithError(err).WithField("conversation_id", conversationID).Warn("session settings send failed")
	}
}

func (c *Coordinator) startJournal(ctx context.Context, conversationID string, resumed bool) {
	if c.cfg.Journal == nil {
		return
	}
	vs, err := c.cfg.Journal.StartSession(ctx, conversationID, resumed)
	if err != nil {
		c.log.WithError(err).Warn("voice session journal start failed")
		return
	}
	c.mu.Lock()
	c.journalID = vs.SessionID
	c.mu.Unlock()
}

func (c *Coordinator) attachJournal(ctx context.Context, groupID string) {
	c.mu.Lock()
	id := c.journalID
	c.mu.Unlock()
	if c.cfg.Journal == nil || id == "" {
		return
	}
	if err := c.cfg.Journal.AttachGroupID(ctx, id, groupID); err != nil {
		c.log.WithError(err).Warn("voice session journal attach failed")
	}
}

func (c *Coordinator) endJournal(ctx context.Context) {
	c.mu.Lock()
	id := c.journalID
	c.journalID = ""
	c.mu.Unlock()
	if c.cfg.Journal == nil || id == "" {
		return
	}
	if err := c.cfg.Journal.EndSession(ctx, id); err != nil {
		c.log.WithError(err).Warn("voice session journal end failed")
	}
}

func (c *Coordinator) notify(op, msg string, err error) {
	c.log.WithFields(logrus.Fields{"op": op, "code": utils.CodeOf(err)}).WithError(err).Warn(msg)
	if c.cfg.OnNotice != nil {
		c.cfg.OnNotice(Notice{Op: op, Message: msg, Err: err})
	}
}
