package cache

import (
	"context"
	"time"
)

// HintKey scopes the hint slot to one owner on one device.
func HintKey(ownerID, deviceID string) string {
	if deviceID == "" {
		deviceID = "default"
	}
	return "continuity:hint:" + ownerID + ":" + deviceID
}

// HintSlot persists the most recently observed provider group id so a later
// session can ask the resolver to revive it. Only the latest write is kept.
type HintSlot struct {
	c   Cache
	key string
	ttl time.Duration
}

func NewHintSlot(c Cache, key string, ttl time.Duration) *HintSlot {
	return &HintSlot{c: c, key: key, ttl: ttl}
}

type hintValue struct {
	GroupID string    `json:"group_id"`
	SavedAt time.Time `json:"saved_at"`
}

// Load returns "" when nothing has been saved.
func (h *HintSlot) Load(ctx context.Context) (string, error) {
	var v hintValue
	hit, err := h.c.GetJSON(ctx, h.key, &v)
	if err != nil || !hit {
		return "", err
	}
	return v.GroupID, nil
}

func (h *HintSlot) Save(ctx context.Context, groupID string) error {
	if groupID == "" {
		return nil
	}
	return h.c.SetJSON(ctx, h.key, hintValue{GroupID: groupID, SavedAt: time.Now().UTC()}, h.ttl)
}

func (h *HintSlot) Clear(ctx context.Context) error {
	return h.c.Del(ctx, h.key)
}
