package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rant2me/continuity/internal/api/handlers"
	"github.com/rant2me/continuity/internal/api/middleware"
)

type Deps struct {
	Auth         middleware.JWTConfig
	Conversation *handlers.ConversationHandler
	Message      *handlers.MessageHandler
	Session      *handlers.SessionHandler
	WS           *handlers.WSHandler // optional; nil without Redis
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.Auth))

	auth.POST("/conversation/active", d.Conversation.Active)
	auth.POST("/conversation/reset", d.Conversation.Reset)
	auth.POST("/conversation/settings", d.Conversation.Settings)

	auth.GET("/conversations", d.Conversation.List)
	auth.GET("/conversations/:id", d.Conversation.Get)
	auth.PATCH("/conversations/:id", d.Conversation.Bind)
	auth.GET("/conversations/:id/messages", d.Message.List)

	auth.POST("/messages", d.Message.Append)

	if d.Session != nil {
		auth.POST("/voice-sessions", d.Session.Start)
		auth.GET("/voice-sessions/:session_id", d.Session.Get)
		auth.POST("/voice-sessions/:session_id/group", d.Session.AttachGroup)
		auth.POST("/voice-sessions/:session_id/end", d.Session.End)
		auth.GET("/conversations/:id/voice-sessions", d.Session.ListByConversation)
	}

	if d.WS != nil {
		auth.GET("/ws/associations", d.WS.Associations)
	}
}
