package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/services"
)

type MessageHandler struct {
	msgs services.MessageService
}

func NewMessageHandler(msgs services.MessageService) *MessageHandler {
	return &MessageHandler{msgs: msgs}
}

type appendRequest struct {
	ConversationID string               `json:"conversationId"`
	Role           string               `json:"role"`
	Content        string               `json:"content"`
	Emotions       models.EmotionScores `json:"emotions"`
}

func (h *MessageHandler) Append(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req appendRequest
	if !bindJSON(c, "MessageHandler.Append", &req) {
		return
	}

	msg, err := h.msgs.Append(c.Request.Context(), userID, services.AppendInput{
		ConversationID: req.ConversationID,
		Role:           models.MessageRole(strings.ToUpper(req.Role)),
		Content:        req.Content,
		Emotions:       req.Emotions,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// List replays a conversation oldest first.
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	rows, err := h.msgs.List(c.Request.Context(), userID, conversationID, queryInt(c, "limit", 500))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"messages":        rows,
	})
}
