package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rant2me/continuity/internal/notify"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// AssociationFeed yields the pub/sub subscription for one owner.
type AssociationFeed interface {
	Subscribe(ctx context.Context, ownerID string) *redis.PubSub
}

// WSHandler relays association notices to a connected client as provider
// session settings, so a live voice session can adopt a binding made
// elsewhere (another tab, a reset, a rebind).
type WSHandler struct {
	feed     AssociationFeed
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(feed AssociationFeed, log *logrus.Logger, allowedOrigins []string) *WSHandler {
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allow[o] = struct{}{}
	}
	return &WSHandler{
		feed: feed,
		log:  log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allow) == 0 {
					return true
				}
				_, ok := allow[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeText(b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

type wsAssociationMsg struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	GroupID        string `json:"group_id"`
	Settings       any    `json:"session_settings"`
}

func (h *WSHandler) Associations(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote the response
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	pubsub := h.feed.Subscribe(ctx, userID)
	defer pubsub.Close()

	// reader: only keeps the deadline fresh and notices disconnects
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.relay(ctx, &wsConn{c: conn}, userID, pubsub.Channel(), readDone, 25*time.Second)
}

// relay forwards userID's associations from msgs to the client until the
// client goes away or the feed closes.
func (h *WSHandler) relay(ctx context.Context, wc *wsConn, userID string, msgs <-chan *redis.Message, readDone <-chan struct{}, pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wc.ping(); err != nil {
				return
			}
		case m, ok := <-msgs:
			if !ok {
				return
			}
			a, err := notify.Decode(m.Payload)
			if err != nil || a.OwnerID != userID {
				h.log.WithField("owner_id", userID).WithError(err).Warn("dropping malformed association")
				continue
			}
			b, _ := json.Marshal(wsAssociationMsg{
				Type:           "association",
				ConversationID: a.ConversationID,
				GroupID:        a.GroupID,
				Settings:       a.Settings(),
			})
			if err := wc.writeText(b); err != nil {
				return
			}
		}
	}
}
