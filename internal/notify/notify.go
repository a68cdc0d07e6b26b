// Package notify publishes conversation/group-id associations so live
// clients can push matching session settings to the voice provider.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rant2me/continuity/internal/providers/voice"
	"github.com/redis/go-redis/v9"
)

// Association says conversation ConversationID is now continued by provider
// group GroupID.
type Association struct {
	OwnerID        string    `json:"owner_id"`
	ConversationID string    `json:"conversation_id"`
	GroupID        string    `json:"group_id"`
	At             time.Time `json:"at"`
}

// Settings is the provider payload a client should send for a.
func (a Association) Settings() voice.SessionSettings {
	return voice.NewSessionSettings(a.GroupID, a.ConversationID, a.OwnerID)
}

type Notifier interface {
	Associate(ctx context.Context, a Association) error
}

// Channel is the Redis pub/sub channel carrying one owner's associations.
func Channel(ownerID string) string {
	return "continuity:associations:" + ownerID
}

type RedisNotifier struct {
	rdb *redis.Client
}

func NewRedisNotifier(rdb *redis.Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

func (n *RedisNotifier) Associate(ctx context.Context, a Association) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, Channel(a.OwnerID), b).Err()
}

// Subscribe returns a subscription to ownerID's associations. Callers close it.
func (n *RedisNotifier) Subscribe(ctx context.Context, ownerID string) *redis.PubSub {
	return n.rdb.Subscribe(ctx, Channel(ownerID))
}

// Decode parses a payload published by Associate.
func Decode(payload string) (Association, error) {
	var a Association
	err := json.Unmarshal([]byte(payload), &a)
	return a, err
}

// Nop drops every association.
type Nop struct{}

func (Nop) Associate(context.Context, Association) error { return nil }
