package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

type ConversationStatus string

const (
	StatusActive   ConversationStatus = "ACTIVE"
	StatusArchived ConversationStatus = "ARCHIVED"
)

func (s ConversationStatus) Valid() bool {
	return s == StatusActive || s == StatusArchived
}

type MessageRole string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"
)

func (r MessageRole) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is one continuous exchange between an owner and the agent.
// At most one row per owner may be ACTIVE; the partial unique index
// uniq_active_conversation_per_owner enforces it at the store.
type Conversation struct {
	ID              string             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OwnerID         string             `gorm:"column:owner_id;type:text;not null;index:idx_conversations_owner_status,priority:1" json:"owner_id"`
	Status          ConversationStatus `gorm:"column:status;type:text;not null;index:idx_conversations_owner_status,priority:2" json:"status"`
	ExternalGroupID *string            `gorm:"column:external_group_id;type:text;index" json:"external_group_id,omitempty"`
	Title           *string            `gorm:"column:title;type:text" json:"title,omitempty"`
	LastMessageAt   time.Time          `gorm:"column:last_message_at;not null" json:"last_message_at"`
	CreatedAt       time.Time          `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"column:updated_at" json:"updated_at"`

	Messages []Message `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Conversation) TableName() string { return "conversations" }

// GroupID returns the bound external group id or "".
func (c *Conversation) GroupID() string {
	if c == nil || c.ExternalGroupID == nil {
		return ""
	}
	return *c.ExternalGroupID
}

type Message struct {
	ID             string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ConversationID string         `gorm:"column:conversation_id;type:uuid;not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	Role           MessageRole    `gorm:"column:role;type:text;not null" json:"role"`
	Content        string         `gorm:"column:content;type:text;not null" json:"content"`
	Emotions       datatypes.JSON `gorm:"column:emotions" json:"emotions,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null;index:idx_messages_conversation_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// EmotionScores decodes the stored prosody scores, nil when absent.
func (m *Message) EmotionScores() (EmotionScores, error) {
	if m == nil || len(m.Emotions) == 0 || string(m.Emotions) == "null" {
		return nil, nil
	}
	var out EmotionScores
	if err := json.Unmarshal(m.Emotions, &out); err != nil {
		return nil, err
	}
	return out, nil
}

const (
	MaxEmotionLabels   = 64
	MaxEmotionLabelLen = 64
	MaxContentBytes    = 100000
)

// EmotionScores maps a prosody label (e.g. "Joy") to a score in [0,1].
type EmotionScores map[string]float64

func (e EmotionScores) Validate() error {
	if len(e) > MaxEmotionLabels {
		return fmt.Errorf("too many emotion labels: %d > %d", len(e), MaxEmotionLabels)
	}
	for label, score := range e {
		if label == "" || len(label) > MaxEmotionLabelLen || !utf8.ValidString(label) {
			return fmt.Errorf("invalid emotion label %q", label)
		}
		if math.IsNaN(score) || score < 0 || score > 1 {
			return fmt.Errorf("emotion %q score %v out of range [0,1]", label, score)
		}
	}
	return nil
}

func (e EmotionScores) JSON() (datatypes.JSON, error) {
	if len(e) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func ValidateContent(content string) error {
	switch {
	case content == "":
		return errors.New("content cannot be empty")
	case len(content) > MaxContentBytes:
		return errors.New("content exceeds maximum length")
	case !utf8.ValidString(content):
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

type Resolution string

const (
	ResolvedActive  Resolution = "active"
	ResolvedRevived Resolution = "revived"
	ResolvedCreated Resolution = "created"
)

// ActiveConversation is what the resolver hands back: the conversation the
// next real-time session attaches to plus its latest message.
type ActiveConversation struct {
	Conversation
	LatestMessage *Message   `json:"latest_message,omitempty"`
	Resolution    Resolution `json:"resolution"`
}

type ConversationSummary struct {
	Conversation
	LatestMessage *Message `json:"latest_message,omitempty"`
	MessageCount  int64    `json:"message_count"`
}
