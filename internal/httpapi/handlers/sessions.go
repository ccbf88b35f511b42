package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/staylight/livechat/internal/chat"
	"github.com/staylight/livechat/internal/common"
	"github.com/staylight/livechat/internal/logging"
)

type createSessionReq struct {
	VisitorID     string `json:"visitor_id"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	AuthProvider  string `json:"auth_provider"`
}

// CreateOrResumeSession is the visitor's entry point. Idempotent by visitor
// ID: posting twice inside the retention window returns the same session.
func (h *Handler) CreateOrResumeSession(c *gin.Context) {
	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	var ident *chat.Identity
	if req.CustomerEmail != "" || req.CustomerPhone != "" || req.AuthProvider != "" {
		ident = &chat.Identity{
			Email:        req.CustomerEmail,
			Phone:        req.CustomerPhone,
			AuthProvider: req.AuthProvider,
		}
	}

	sess, resumed, err := h.ChatSvc.CreateOrResume(c.Request.Context(), req.VisitorID, ident)
	if err != nil {
		logging.Error().Err(err).Msg("create-or-resume failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}

	common.Ok(c, gin.H{
		"session": sess,
		"resumed": resumed,
	})
}

// BindIdentity attaches customer identity after the visitor authenticates.
// Merge-only: empty fields never clobber previously bound values.
func (h *Handler) BindIdentity(c *gin.Context) {
	var ident chat.Identity
	if err := c.ShouldBindJSON(&ident); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.BindIdentity(c.Request.Context(), c.Param("session_id"), ident)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		logging.Error().Err(err).Str("session_id", c.Param("session_id")).Msg("bind identity failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.Ok(c, gin.H{"session": sess})
}

// ListSessions renders the agent-facing queue, most recently active first.
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.ChatSvc.ListSessions(c.Request.Context())
	if err != nil {
		logging.Error().Err(err).Msg("list sessions failed")
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}
	common.Ok(c, gin.H{"sessions": sessions})
}

type assignReq struct {
	AgentID string `json:"agent_id"`
	Force   bool   `json:"force"`
}

// AssignSession assigns or reassigns a session. Empty agent_id auto-picks
// the least-loaded present agent; reassigning away from another agent
// requires force so two admins cannot silently steal from each other.
func (h *Handler) AssignSession(c *gin.Context) {
	if _, _, ok := agentFromContext(c); !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req assignReq
	_ = c.ShouldBindJSON(&req) // empty body means auto-pick

	sess, err := h.ChatSvc.Assign(c.Request.Context(), c.Param("session_id"), req.AgentID, req.Force)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
		case errors.Is(err, chat.ErrConflict):
			common.Fail(c, http.StatusConflict, 40901, "session already assigned; retry with force to take over")
		case errors.Is(err, chat.ErrNoAgentAvailable):
			common.Fail(c, http.StatusServiceUnavailable, 50301, "no admin available")
		default:
			logging.Error().Err(err).Str("session_id", c.Param("session_id")).Msg("assign failed")
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.Ok(c, gin.H{"session": sess})
}
