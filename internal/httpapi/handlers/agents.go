package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/staylight/livechat/internal/auth"
	"github.com/staylight/livechat/internal/common"
	"github.com/staylight/livechat/internal/logging"
	"github.com/staylight/livechat/internal/models"
)

type createAgentReq struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Avatar   string `json:"avatar_url"`
}

func (h *Handler) CreateAgent(c *gin.Context) {
	var req createAgentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Name == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email, name and password required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	agentID, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20004, "failed to allocate agent id")
		return
	}

	agent := models.Agent{
		AgentID:      agentID,
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		AvatarURL:    req.Avatar,
	}
	if err := h.DB.Create(&agent).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create agent (maybe email already exists)")
		return
	}

	token, err := auth.SignJWT(agent.AgentID, agent.Name, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	logging.Info().Str("agent_id", agent.AgentID).Str("email", agent.Email).Msg("agent created")
	common.Ok(c, gin.H{
		"agent": agent,
		"token": token,
	})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	var agent models.Agent
	if err := h.DB.Where("email = ?", req.Email).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid credentials")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if !auth.CheckPassword(agent.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40101, "invalid credentials")
		return
	}

	token, err := auth.SignJWT(agent.AgentID, agent.Name, h.Cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	common.Ok(c, gin.H{
		"agent": agent,
		"token": token,
	})
}
