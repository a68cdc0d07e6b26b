package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/notify"
	pgrepo "github.com/rant2me/continuity/internal/repositories/postgres"
	"github.com/rant2me/continuity/internal/services"
	"github.com/rant2me/continuity/internal/testutil"
)

type recordingNotifier struct {
	mu  sync.Mutex
	got []notify.Association
}

func (n *recordingNotifier) Associate(_ context.Context, a notify.Association) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, a)
	return nil
}

func (n *recordingNotifier) groupIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.got))
	for _, a := range n.got {
		out = append(out, a.GroupID)
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	convos    services.ConversationService
	lifecycle services.LifecycleService
	messages  services.MessageService
	notifier  *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	uow := pgrepo.NewUnitOfWork(db)
	convoRepo := pgrepo.NewConversationRepo(db)
	msgRepo := pgrepo.NewMessageRepo(db)
	n := &recordingNotifier{}

	opts := []services.Option{services.WithNotifier(n)}
	return &fixture{
		db:        db,
		convos:    services.NewConversationService(uow, convoRepo, msgRepo, opts...),
		lifecycle: services.NewLifecycleService(uow, opts...),
		messages:  services.NewMessageService(uow, convoRepo, msgRepo, opts...),
		notifier:  n,
	}
}

func (f *fixture) activeCount(t *testing.T, owner string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Conversation{}).
		Where("owner_id = ? AND status = ?", owner, models.StatusActive).
		Count(&n).Error)
	return n
}

func (f *fixture) statusOf(t *testing.T, id string) models.ConversationStatus {
	t.Helper()
	var c models.Conversation
	require.NoError(t, f.db.Where("id = ?", id).Take(&c).Error)
	return c.Status
}
