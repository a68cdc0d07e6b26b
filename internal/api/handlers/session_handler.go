package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rant2me/continuity/internal/services"
	"github.com/rant2me/continuity/internal/utils"
)

type SessionHandler struct {
	svc services.SessionService
}

func NewSessionHandler(svc services.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type StartSessionRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Resumed        bool   `json:"resumed"`
}

type attachGroupRequest struct {
	GroupID string `json:"group_id" binding:"required"`
}

func (h *SessionHandler) Start(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.Start", "invalid request body", err))
		return
	}

	sess, err := h.svc.Start(c.Request.Context(), userID, req.ConversationID, req.Resumed)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (h *SessionHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	sess, err := h.svc.Get(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) AttachGroup(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req attachGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.AttachGroup", "invalid request body", err))
		return
	}

	sess, err := h.svc.AttachGroupID(c.Request.Context(), userID, c.Param("session_id"), req.GroupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h *SessionHandler) End(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	ended, err := h.svc.End(c.Request.Context(), userID, c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ended)
}

func (h *SessionHandler) ListByConversation(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	rows, err := h.svc.ListByConversation(c.Request.Context(), userID, conversationID, int64(queryInt(c, "limit", 50)))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": conversationID,
		"sessions":        rows,
	})
}
