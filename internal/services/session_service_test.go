package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/services"
	"github.com/rant2me/continuity/internal/utils"
)

// memorySessions stands in for the Mongo journal.
type memorySessions struct {
	mu   sync.Mutex
	rows map[string]*models.VoiceSession
}

func newMemorySessions() *memorySessions {
	return &memorySessions{rows: map[string]*models.VoiceSession{}}
}

func (m *memorySessions) Create(_ context.Context, s *models.VoiceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.SessionID]; ok {
		return utils.ErrDuplicate
	}
	cp := *s
	m.rows[s.SessionID] = &cp
	return nil
}

func (m *memorySessions) GetBySessionID(_ context.Context, id string) (*models.VoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memorySessions) AttachGroupID(_ context.Context, id, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Status != models.VoiceSessionLive {
		return utils.ErrNotFound
	}
	s.GroupID = groupID
	return nil
}

func (m *memorySessions) End(_ context.Context, id string, endedAt time.Time, dur int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok || s.Status != models.VoiceSessionLive {
		return utils.ErrNotFound
	}
	s.Status = models.VoiceSessionEnded
	s.EndedAt = &endedAt
	s.DurationSeconds = dur
	return nil
}

func (m *memorySessions) ListByConversation(_ context.Context, ownerID, conversationID string, _ int64) ([]models.VoiceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VoiceSession
	for _, s := range m.rows {
		if s.OwnerID == ownerID && s.ConversationID == conversationID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func TestSessionService_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := services.NewSessionService(newMemorySessions(), f.convos)

	conv, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)

	ss, err := svc.Start(ctx, "alice", conv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.VoiceSessionLive, ss.Status)
	assert.Empty(t, ss.GroupID)

	ss, err = svc.AttachGroupID(ctx, "alice", ss.SessionID, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", ss.GroupID)

	ended, err := svc.End(ctx, "alice", ss.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.VoiceSessionEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)

	again, err := svc.End(ctx, "alice", ss.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.VoiceSessionEnded, again.Status)

	_, err = svc.AttachGroupID(ctx, "alice", ss.SessionID, "g2")
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	rows, err := svc.ListByConversation(ctx, "alice", conv.ID, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSessionService_OwnerScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := services.NewSessionService(newMemorySessions(), f.convos)

	conv, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)

	_, err = svc.Start(ctx, "bob", conv.ID, false)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))

	ss, err := svc.Start(ctx, "alice", conv.ID, true)
	require.NoError(t, err)
	assert.True(t, ss.Resumed)

	_, err = svc.Get(ctx, "bob", ss.SessionID)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
	_, err = svc.End(ctx, "bob", ss.SessionID)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}
