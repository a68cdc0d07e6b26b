package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rant2me/continuity/internal/logger"
	"github.com/rant2me/continuity/internal/metrics"
	"github.com/rant2me/continuity/internal/notify"
	"github.com/rant2me/continuity/internal/utils"
	"github.com/sirupsen/logrus"
)

// MaxGroupIDLen bounds provider group ids accepted from callers.
const MaxGroupIDLen = 256

type Option func(*options)

type options struct {
	log          *logrus.Logger
	notifier     notify.Notifier
	storeTimeout time.Duration
	now          func() time.Time
}

func WithLogger(l *logrus.Logger) Option { return func(o *options) { o.log = l } }

func WithNotifier(n notify.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithStoreTimeout bounds every store round trip made by a single call.
func WithStoreTimeout(d time.Duration) Option { return func(o *options) { o.storeTimeout = d } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

func buildOptions(opts []Option) options {
	o := options{
		log:          logger.Discard(),
		notifier:     notify.Nop{},
		storeTimeout: 5 * time.Second,
		now:          time.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) clock() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

func (o options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.storeTimeout)
}

// announce publishes an association. Delivery is best effort; the stored
// binding is already committed.
func (o options) announce(ctx context.Context, ownerID, conversationID, groupID string) {
	if groupID == "" {
		return
	}
	err := o.notifier.Associate(ctx, notify.Association{
		OwnerID:        ownerID,
		ConversationID: conversationID,
		GroupID:        groupID,
		At:             o.clock(),
	})
	if err != nil {
		o.log.WithFields(logrus.Fields{
			"owner_id":        ownerID,
			"conversation_id": conversationID,
			"group_id":        groupID,
		}).WithError(err).Warn("association notify failed")
	}
}

// storeFailure logs and counts an infrastructure error and wraps it.
func (o options) storeFailure(op, msg string, fields logrus.Fields, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	o.log.WithFields(fields).WithField("op", op).WithError(err).Error(msg)
	return utils.Infra(op, msg, err)
}

func requireOwner(op, ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return utils.E(utils.CodeUnauthorized, op, "unauthenticated", nil)
	}
	return nil
}

func normalizeGroupID(op, groupID string, required bool) (string, error) {
	groupID = strings.TrimSpace(groupID)
	switch {
	case groupID == "" && required:
		return "", utils.E(utils.CodeInvalidArgument, op, "group id is required", nil)
	case len(groupID) > MaxGroupIDLen:
		return "", utils.E(utils.CodeInvalidArgument, op, "group id is too long", nil)
	}
	return groupID, nil
}

// validConversationID rejects malformed ids up front so they surface as
// NOT_FOUND instead of a store cast error.
func validConversationID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
