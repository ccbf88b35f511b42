package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/staylight/livechat/internal/chat"
	"github.com/staylight/livechat/internal/config"
	"github.com/staylight/livechat/internal/httpapi/middleware"
	"github.com/staylight/livechat/internal/upload"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Uploads *upload.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, chatSvc *chat.Service, uploads *upload.Service) *Handler {
	return &Handler{DB: db, Cfg: cfg, ChatSvc: chatSvc, Uploads: uploads}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}

func agentFromContext(c *gin.Context) (id, name string, ok bool) {
	idv, ok1 := c.Get(middleware.AgentIDKey)
	namev, ok2 := c.Get(middleware.AgentNameKey)
	if !ok1 || !ok2 {
		return "", "", false
	}
	id, ok1 = idv.(string)
	name, ok2 = namev.(string)
	return id, name, ok1 && ok2
}
