package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoundTripsPublishedPayload(t *testing.T) {
	a := Association{OwnerID: "alice", ConversationID: "c1", GroupID: "g1", At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b, err := json.Marshal(a)
	require.NoError(t, err)

	got, err := Decode(string(b))
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = Decode("{")
	assert.Error(t, err)
}

func TestAssociation_Settings(t *testing.T) {
	s := Association{OwnerID: "alice", ConversationID: "c1", GroupID: "g1"}.Settings()
	assert.Equal(t, "session_settings", s.Type)
	assert.Equal(t, "g1", s.CustomSessionID)
	assert.Equal(t, map[string]string{"conversation_id": "c1", "user_id": "alice"}, s.Variables)
}

func TestChannel_IsOwnerScoped(t *testing.T) {
	assert.NotEqual(t, Channel("alice"), Channel("bob"))
}
