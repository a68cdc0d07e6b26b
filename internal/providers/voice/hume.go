package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rant2me/continuity/internal/models"
)

const DefaultHumeEndpoint = "wss://api.hume.ai/v0/evi/chat"

// Hume speaks the EVI chat websocket protocol.
type Hume struct {
	Endpoint    string
	AccessToken string
	ConfigID    string
	Dialer      *websocket.Dialer
}

func NewHume(accessToken, configID string) *Hume {
	return &Hume{
		Endpoint:    DefaultHumeEndpoint,
		AccessToken: accessToken,
		ConfigID:    configID,
		Dialer:      websocket.DefaultDialer,
	}
}

func (h *Hume) Start(ctx context.Context, opts StartOptions) (Session, error) {
	if h.AccessToken == "" {
		return nil, errors.New("hume: access token is required")
	}

	endpoint := h.Endpoint
	if endpoint == "" {
		endpoint = DefaultHumeEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("hume: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("access_token", h.AccessToken)
	if h.ConfigID != "" {
		q.Set("config_id", h.ConfigID)
	}
	if opts.ResumeGroupID != "" {
		q.Set("resumed_chat_group_id", opts.ResumeGroupID)
	}
	u.RawQuery = q.Encode()

	dialer := h.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("hume: dial: %w", err)
	}

	s := &humeSession{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type humeSession struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	wmu       sync.Mutex
	closeOnce sync.Once
}

// humeMessage covers the inbound frames we act on. "message" is an object on
// chat turns and a string on errors, so it is decoded per type.
type humeMessage struct {
	Type        string          `json:"type"`
	ChatGroupID string          `json:"chat_group_id"`
	ChatID      string          `json:"chat_id"`
	Interim     bool            `json:"interim"`
	Message     json.RawMessage `json:"message"`
	Models      struct {
		Prosody *struct {
			Scores map[string]float64 `json:"scores"`
		} `json:"prosody"`
	} `json:"models"`
	Code string `json:"code"`
	Slug string `json:"slug"`
}

type humeChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *humeSession) Events() <-chan Event { return s.events }

func (s *humeSession) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.emit(Event{Type: EventError, Err: err})
				}
			}
			return
		}

		ev, ok := decodeHume(data)
		if !ok {
			continue
		}
		if !s.emit(ev) {
			return
		}
	}
}

func (s *humeSession) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func decodeHume(data []byte) (Event, bool) {
	var m humeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return Event{Type: EventError, Err: fmt.Errorf("hume: decode frame: %w", err)}, true
	}

	switch EventType(m.Type) {
	case EventMetadata:
		if m.ChatGroupID == "" {
			return Event{}, false
		}
		return Event{Type: EventMetadata, GroupID: m.ChatGroupID, ChatID: m.ChatID}, true

	case EventUserMessage, EventAssistantMessage:
		if m.Interim {
			return Event{}, false
		}
		var cm humeChatMessage
		if err := json.Unmarshal(m.Message, &cm); err != nil || cm.Content == "" {
			return Event{}, false
		}
		ev := Event{Type: EventType(m.Type), Content: cm.Content, Role: models.RoleAssistant}
		if ev.Type == EventUserMessage {
			ev.Role = models.RoleUser
			if m.Models.Prosody != nil && len(m.Models.Prosody.Scores) > 0 {
				ev.Emotions = models.EmotionScores(m.Models.Prosody.Scores)
			}
		}
		return ev, true

	case EventError:
		var msg string
		_ = json.Unmarshal(m.Message, &msg)
		return Event{Type: EventError, Err: fmt.Errorf("hume: %s %s: %s", m.Code, m.Slug, msg)}, true
	}
	return Event{}, false
}

func (s *humeSession) SendSessionSettings(ctx context.Context, settings SessionSettings) error {
	return s.writeJSON(ctx, settings)
}

func (s *humeSession) SendUserInput(ctx context.Context, text string) error {
	return s.writeJSON(ctx, map[string]string{"type": "user_input", "text": text})
}

func (s *humeSession) writeJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *humeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wmu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.wmu.Unlock()
		err = s.conn.Close()
	})
	return err
}
