package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rant2me/continuity/internal/models"
)

func TestDecodeHume(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		ok     bool
		expect Event
	}{
		{
			name:   "metadata",
			frame:  `{"type":"chat_metadata","chat_group_id":"g1","chat_id":"c1"}`,
			ok:     true,
			expect: Event{Type: EventMetadata, GroupID: "g1", ChatID: "c1"},
		},
		{
			name:  "metadata without group",
			frame: `{"type":"chat_metadata","chat_id":"c1"}`,
		},
		{
			name:  "interim user turn",
			frame: `{"type":"user_message","interim":true,"message":{"role":"user","content":"he"}}`,
		},
		{
			name:   "assistant turn",
			frame:  `{"type":"assistant_message","message":{"role":"assistant","content":"hello"}}`,
			ok:     true,
			expect: Event{Type: EventAssistantMessage, Role: models.RoleAssistant, Content: "hello"},
		},
		{
			name:  "empty content",
			frame: `{"type":"assistant_message","message":{"role":"assistant","content":""}}`,
		},
		{
			name:  "audio output ignored",
			frame: `{"type":"audio_output","data":"AAAA"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := decodeHume([]byte(tc.frame))
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.expect, ev)
			}
		})
	}
}

func TestDecodeHume_UserTurnCarriesProsody(t *testing.T) {
	ev, ok := decodeHume([]byte(`{"type":"user_message","message":{"role":"user","content":"hi"},"models":{"prosody":{"scores":{"Joy":0.8,"Calmness":0.1}}}}`))
	require.True(t, ok)
	assert.Equal(t, models.RoleUser, ev.Role)
	assert.InDelta(t, 0.8, ev.Emotions["Joy"], 1e-9)
	assert.Len(t, ev.Emotions, 2)
}

func TestDecodeHume_ErrorFrame(t *testing.T) {
	ev, ok := decodeHume([]byte(`{"type":"error","code":"E0001","slug":"bad_config","message":"config not found"}`))
	require.True(t, ok)
	assert.Equal(t, EventError, ev.Type)
	require.Error(t, ev.Err)
	assert.Contains(t, ev.Err.Error(), "config not found")
}

func TestHume_SessionRoundTrip(t *testing.T) {
	query := make(chan url.Values, 1)
	received := make(chan map[string]any, 4)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		frames := []string{
			`{"type":"chat_metadata","chat_group_id":"g1","chat_id":"c1"}`,
			`{"type":"user_message","interim":true,"message":{"role":"user","content":"he"}}`,
			`{"type":"user_message","message":{"role":"user","content":"hello"},"models":{"prosody":{"scores":{"Joy":0.5}}}}`,
			`{"type":"assistant_message","message":{"role":"assistant","content":"hi there"}}`,
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}

		for i := 0; i < 2; i++ {
			var m map[string]any
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			received <- m
		}
	}))
	defer srv.Close()

	h := NewHume("token-1", "cfg-1")
	h.Endpoint = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := h.Start(ctx, StartOptions{ResumeGroupID: "g1"})
	require.NoError(t, err)
	defer sess.Close()

	q := <-query
	assert.Equal(t, "token-1", q.Get("access_token"))
	assert.Equal(t, "cfg-1", q.Get("config_id"))
	assert.Equal(t, "g1", q.Get("resumed_chat_group_id"))

	var got []Event
	for len(got) < 3 {
		select {
		case ev := <-sess.Events():
			got = append(got, ev)
		case <-ctx.Done():
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, EventMetadata, got[0].Type)
	assert.Equal(t, "g1", got[0].GroupID)
	assert.Equal(t, "hello", got[1].Content)
	assert.InDelta(t, 0.5, got[1].Emotions["Joy"], 1e-9)
	assert.Equal(t, models.RoleAssistant, got[2].Role)

	require.NoError(t, sess.SendSessionSettings(ctx, NewSessionSettings("g1", "conv-1", "alice")))
	require.NoError(t, sess.SendUserInput(ctx, "typed"))

	settings := <-received
	assert.Equal(t, "session_settings", settings["type"])
	assert.Equal(t, "g1", settings["custom_session_id"])
	vars, _ := settings["variables"].(map[string]any)
	assert.Equal(t, "conv-1", vars["conversation_id"])

	input := <-received
	assert.Equal(t, "user_input", input["type"])
	assert.Equal(t, "typed", input["text"])
}

func TestHume_RequiresToken(t *testing.T) {
	_, err := NewHume("", "").Start(context.Background(), StartOptions{})
	require.Error(t, err)
}
