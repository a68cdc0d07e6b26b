package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rant2me/continuity/internal/models"
	"github.com/rant2me/continuity/internal/services"
)

type ConversationHandler struct {
	convos    services.ConversationService
	lifecycle services.LifecycleService
}

func NewConversationHandler(convos services.ConversationService, lifecycle services.LifecycleService) *ConversationHandler {
	return &ConversationHandler{convos: convos, lifecycle: lifecycle}
}

type activeRequest struct {
	LastChatGroupID string `json:"lastChatGroupId"`
}

type bindRequest struct {
	GroupID string `json:"groupId"`
}

type settingsRequest struct {
	CustomSessionID string `json:"custom_session_id"`
}

// Active resolves (or creates) the caller's ACTIVE conversation.
func (h *ConversationHandler) Active(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req activeRequest
	if !bindJSON(c, "ConversationHandler.Active", &req) {
		return
	}

	out, err := h.convos.ResolveOrCreateActive(c.Request.Context(), userID, req.LastChatGroupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ConversationHandler) Bind(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req bindRequest
	if !bindJSON(c, "ConversationHandler.Bind", &req) {
		return
	}

	out, err := h.convos.BindGroupID(c.Request.Context(), userID, c.Param("id"), req.GroupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ConversationHandler) Reset(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	out, err := h.lifecycle.Reset(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// Settings is the explicit rebind of the ACTIVE conversation.
func (h *ConversationHandler) Settings(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req settingsRequest
	if !bindJSON(c, "ConversationHandler.Settings", &req) {
		return
	}

	out, err := h.lifecycle.Rebind(c.Request.Context(), userID, req.CustomSessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	status := models.ConversationStatus(strings.ToUpper(c.Query("status")))
	out, err := h.convos.List(c.Request.Context(), userID, status, queryInt(c, "page", 1), queryInt(c, "limit", 10))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ConversationHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	out, err := h.convos.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
