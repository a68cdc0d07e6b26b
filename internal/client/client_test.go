package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rant2me/continuity/internal/api/handlers"
	"github.com/rant2me/continuity/internal/api/middleware"
	"github.com/rant2me/continuity/internal/api/routes"
	"github.com/rant2me/continuity/internal/client"
	"github.com/rant2me/continuity/internal/models"
	pgrepo "github.com/rant2me/continuity/internal/repositories/postgres"
	"github.com/rant2me/continuity/internal/services"
	"github.com/rant2me/continuity/internal/testutil"
	"github.com/rant2me/continuity/internal/utils"
)

func newServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	uow := pgrepo.NewUnitOfWork(db)
	convoRepo := pgrepo.NewConversationRepo(db)
	msgRepo := pgrepo.NewMessageRepo(db)
	convos := services.NewConversationService(uow, convoRepo, msgRepo)

	r := gin.New()
	routes.RegisterRoutes(r, routes.Deps{
		Auth:         middleware.JWTConfig{Secret: "s"},
		Conversation: handlers.NewConversationHandler(convos, services.NewLifecycleService(uow)),
		Message:      handlers.NewMessageHandler(services.NewMessageService(uow, convoRepo, msgRepo)),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("s"))
	require.NoError(t, err)
	return srv, tok
}

func TestClient_AgainstServer(t *testing.T) {
	srv, tok := newServer(t)
	c := client.New(srv.URL, tok, 5*time.Second)
	ctx := context.Background()

	active, err := c.ResolveActive(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, models.ResolvedCreated, active.Resolution)

	bound, err := c.BindGroupID(ctx, active.ID, "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", bound.GroupID())

	_, err = c.BindGroupID(ctx, active.ID, "g2")
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeConflict))
	assert.False(t, utils.Retryable(err))

	msg, err := c.AppendMessage(ctx, services.AppendInput{
		ConversationID: active.ID,
		Role:           models.RoleUser,
		Content:        "hello",
		Emotions:       models.EmotionScores{"Joy": 0.2},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)

	again, err := c.ResolveActive(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, active.ID, again.ID)

	rebound, err := c.Rebind(ctx, "g9")
	require.NoError(t, err)
	assert.Equal(t, "g9", rebound.GroupID())

	fresh, err := c.Reset(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, active.ID, fresh.ID)

	_, err = c.AppendMessage(ctx, services.AppendInput{ConversationID: "nope", Role: models.RoleUser, Content: "x"})
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
}

func TestClient_StatusWithoutBodyMapsToCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := client.New(srv.URL, "t", time.Second).ResolveActive(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, utils.CodeUnavailable, utils.CodeOf(err))
	assert.True(t, utils.Retryable(err))
}

func TestClient_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := client.New(url, "t", time.Second).Reset(context.Background())
	require.Error(t, err)
	assert.True(t, utils.Retryable(err))
}
