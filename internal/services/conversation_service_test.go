package services_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/services"
	"github.com/rant2me/continuity/internal/utils"
)

func TestResolve_RequiresOwner(t *testing.T) {
	f := newFixture(t)

	_, err := f.convos.ResolveOrCreateActive(context.Background(), "", "g1")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnauthorized))
}

func TestResolve_CreatesThenReturnsSame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedCreated, first.Resolution)
	assert.Equal(t, models.StatusActive, first.Status)
	assert.Empty(t, first.GroupID())
	assert.Nil(t, first.LatestMessage)

	second, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedActive, second.Resolution)
	assert.Equal(t, first.ID, second.ID)
	assert.EqualValues(t, 1, f.activeCount(t, "alice"))
}

func TestResolve_SeedsHintOnCreate(t *testing.T) {
	f := newFixture(t)

	out, err := f.convos.ResolveOrCreateActive(context.Background(), "alice", "g1")
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedCreated, out.Resolution)
	assert.Equal(t, "g1", out.GroupID())
	assert.Contains(t, f.notifier.groupIDs(), "g1")
}

func TestResolve_BindsHintOntoUnboundActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)

	out, err := f.convos.ResolveOrCreateActive(ctx, "alice", "g1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, out.ID)
	assert.Equal(t, "g1", out.GroupID())

	// a different hint never overwrites an established binding
	out, err = f.convos.ResolveOrCreateActive(ctx, "alice", "g2")
	require.NoError(t, err)
	assert.Equal(t, "g1", out.GroupID())
}

func TestResolve_RevivesArchivedByHint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.convos.ResolveOrCreateActive(ctx, "alice", "g1")
	require.NoError(t, err)

	_, err = f.messages.Append(ctx, "alice", services.AppendInput{
		ConversationID: old.ID, Role: models.RoleUser, Content: "remember me",
	})
	require.NoError(t, err)

	fresh, err := f.lifecycle.Reset(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, f.db.Exec("UPDATE conversations SET status = ? WHERE id = ?", string(models.StatusArchived), fresh.ID).Error)
	require.Equal(t, models.StatusArchived, f.statusOf(t, old.ID))
	require.EqualValues(t, 0, f.activeCount(t, "alice"))

	revived, err := f.convos.ResolveOrCreateActive(ctx, "alice", "g1")
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedRevived, revived.Resolution)
	assert.Equal(t, old.ID, revived.ID)
	assert.Equal(t, models.StatusActive, revived.Status)
	assert.True(t, !revived.LastMessageAt.Before(old.LastMessageAt))
	require.NotNil(t, revived.LatestMessage)
	assert.Equal(t, "remember me", revived.LatestMessage.Content)
	assert.EqualValues(t, 1, f.activeCount(t, "alice"))
}

func TestResolve_HintIsOwnerScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.convos.ResolveOrCreateActive(ctx, "alice", "g1")
	require.NoError(t, err)
	_, err = f.lifecycle.Reset(ctx, "alice")
	require.NoError(t, err)

	bob, err := f.convos.ResolveOrCreateActive(ctx, "bob", "g1")
	require.NoError(t, err)
	assert.NotEqual(t, alice.ID, bob.ID)
	assert.Equal(t, models.ResolvedCreated, bob.Resolution)
	assert.Empty(t, bob.GroupID())
	assert.Equal(t, models.StatusArchived, f.statusOf(t, alice.ID))
}

func TestResolve_ConcurrentCallsCreateOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
			if assert.NoError(t, err) {
				ids[i] = out.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.EqualValues(t, 1, f.activeCount(t, "alice"))
}

func TestResolve_IncludesLatestMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)
	for _, content := range []string{"one", "two"} {
		_, err := f.messages.Append(ctx, "alice", services.AppendInput{
			ConversationID: conv.ID, Role: models.RoleAssistant, Content: content,
		})
		require.NoError(t, err)
	}

	out, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)
	require.NotNil(t, out.LatestMessage)
	assert.Equal(t, "two", out.LatestMessage.Content)
}

func TestResolve_StoreFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = f.convos.ResolveOrCreateActive(context.Background(), "alice", "")
	require.Error(t, err)
	assert.Equal(t, utils.CodeUnavailable, utils.CodeOf(err))
	assert.True(t, utils.Retryable(err))
}

func TestBind_IdempotentForSameID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)

	first, err := f.convos.BindGroupID(ctx, "alice", conv.ID, "g1")
	require.NoError(t, err)
	second, err := f.convos.BindGroupID(ctx, "alice", conv.ID, "g1")
	require.NoError(t, err)

	assert.Equal(t, "g1", first.GroupID())
	assert.Equal(t, first.GroupID(), second.GroupID())
	assert.True(t, first.LastMessageAt.Equal(second.LastMessageAt))
	assert.Equal(t, []string{"g1"}, f.notifier.groupIDs())
}

func TestBind_ConflictingIDRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.convos.ResolveOrCreateActive(ctx, "alice", "g1")
	require.NoError(t, err)

	_, err = f.convos.BindGroupID(ctx, "alice", conv.ID, "g2")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
	assert.False(t, utils.Retryable(err))

	got, err := f.convos.Get(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "g1", got.GroupID())
}

func TestBind_GroupIDOfAnotherOwnerRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.convos.ResolveOrCreateActive(ctx, "alice", "g1")
	require.NoError(t, err)
	bob, err := f.convos.ResolveOrCreateActive(ctx, "bob", "")
	require.NoError(t, err)

	_, err = f.convos.BindGroupID(ctx, "bob", bob.ID, "g1")
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
}

func TestBind_NotOwnedOrMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)

	for _, id := range []string{conv.ID, uuid.NewString(), "not-a-uuid"} {
		_, err := f.convos.BindGroupID(ctx, "bob", id, "g1")
		assert.True(t, utils.IsCode(err, utils.CodeNotFound), "id %q", id)
	}

	got, err := f.convos.Get(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.GroupID())
}

func TestBind_ArchivedConversationRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)
	fresh, err := f.lifecycle.Reset(ctx, "alice")
	require.NoError(t, err)

	_, err = f.convos.BindGroupID(ctx, "alice", old.ID, "g-late")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))

	got, err := f.convos.Get(ctx, "alice", old.ID)
	require.NoError(t, err)
	assert.Empty(t, got.GroupID())
	assert.Equal(t, models.StatusArchived, got.Status)

	// the fresh conversation's own id still binds as a no-op
	same, err := f.convos.BindGroupID(ctx, "alice", fresh.ID, fresh.GroupID())
	require.NoError(t, err)
	assert.Equal(t, fresh.GroupID(), same.GroupID())
}

func TestBind_ValidatesGroupID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)

	_, err = f.convos.BindGroupID(ctx, "alice", conv.ID, "   ")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	long := make([]byte, services.MaxGroupIDLen+1)
	for i := range long {
		long[i] = 'g'
	}
	_, err = f.convos.BindGroupID(ctx, "alice", conv.ID, string(long))
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestList_ArchivedWithCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)
	for _, content := range []string{"a", "b"} {
		_, err := f.messages.Append(ctx, "alice", services.AppendInput{
			ConversationID: first.ID, Role: models.RoleUser, Content: content,
		})
		require.NoError(t, err)
	}
	_, err = f.lifecycle.Reset(ctx, "alice")
	require.NoError(t, err)

	page, err := f.convos.List(ctx, "alice", models.StatusArchived, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, first.ID, page.Items[0].ID)
	assert.EqualValues(t, 2, page.Items[0].MessageCount)
	require.NotNil(t, page.Items[0].LatestMessage)
	assert.Equal(t, "b", page.Items[0].LatestMessage.Content)

	_, err = f.convos.List(ctx, "alice", models.ConversationStatus("DELETED"), 1, 10)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestList_DefaultsToActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.convos.ResolveOrCreateActive(ctx, "alice", "")
	require.NoError(t, err)
	fresh, err := f.lifecycle.Reset(ctx, "alice")
	require.NoError(t, err)

	page, err := f.convos.List(ctx, "alice", "", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, fresh.ID, page.Items[0].ID)
	assert.Equal(t, models.StatusActive, page.Items[0].Status)
}
