package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/staylight/livechat/internal/common"
	"github.com/staylight/livechat/internal/config"
	"github.com/staylight/livechat/internal/httpapi/handlers"
	"github.com/staylight/livechat/internal/httpapi/middleware"
	"github.com/staylight/livechat/internal/ws"
)

// NewRouter wires the public visitor surface, the authenticated agent
// surface, and the websocket endpoint onto one gin engine.
func NewRouter(cfg config.Config, h *handlers.Handler, gw *ws.Gateway, limiter middleware.Limiter) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// agent accounts
	r.POST("/agents", h.CreateAgent)
	r.POST("/login", h.Login)

	// visitor surface, rate limited per client IP
	pub := r.Group("/")
	if limiter != nil {
		pub.Use(middleware.RateLimit(limiter, 60, time.Minute))
	}
	pub.POST("/chat/sessions", h.CreateOrResumeSession)
	pub.PATCH("/chat/sessions/:session_id/identity", h.BindIdentity)
	pub.GET("/chat/sessions/:session_id/messages", h.History)
	pub.POST("/chat/sessions/:session_id/messages", h.AppendMessage)
	pub.POST("/chat/sessions/:session_id/attachments", h.UploadAttachment)

	// agent surface (JWT required)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/chat/sessions", h.ListSessions)
	authGroup.POST("/chat/sessions/:session_id/assign", h.AssignSession)

	r.GET("/ws", gw.HandleWS)

	return r
}
