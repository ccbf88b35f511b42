package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/staylight/livechat/internal/auth"
	"github.com/staylight/livechat/internal/chat"
	"github.com/staylight/livechat/internal/common"
	"github.com/staylight/livechat/internal/logging"
	"github.com/staylight/livechat/internal/upload"
)

// History returns the full transcript for reconnecting clients.
func (h *Handler) History(c *gin.Context) {
	msgs, err := h.ChatSvc.History(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
			return
		}
		logging.Error().Err(err).Str("session_id", c.Param("session_id")).Msg("history fetch failed")
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to fetch messages")
		return
	}
	common.Ok(c, gin.H{"messages": msgs})
}

type sendMessageReq struct {
	ID          string            `json:"id"`
	Text        string            `json:"text"`
	Attachments []chat.Attachment `json:"attachments"`
}

// AppendMessage is the non-socket fallback path. Persistence and broadcast
// semantics are identical to the socket message event, including how the
// sender is derived: a valid agent JWT makes it an admin message, anything
// else is a visitor. The body has no say, so transcripts cannot be spoofed.
func (h *Handler) AppendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sender := chat.SenderVisitor
	if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		if _, err := auth.ParseJWT(token, h.Cfg.JWTSecret); err == nil {
			sender = chat.SenderAdmin
		}
	}

	msg, _, err := h.ChatSvc.AppendMessage(c.Request.Context(), chat.MessageInput{
		ID:          req.ID,
		SessionID:   c.Param("session_id"),
		Sender:      sender,
		Text:        req.Text,
		Attachments: req.Attachments,
	})
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
		case errors.Is(err, chat.ErrInvalidMessage):
			common.Fail(c, http.StatusBadRequest, 10010, err.Error())
		default:
			logging.Error().Err(err).Str("session_id", c.Param("session_id")).Msg("append message failed")
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.Ok(c, gin.H{"message": msg})
}

// UploadAttachment accepts one multipart file and returns the descriptor to
// reference in a later message. Nothing lands in the transcript yet.
func (h *Handler) UploadAttachment(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10020, "file field required")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10021, "unreadable file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.Cfg.UploadMaxBytes+1))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10021, "unreadable file")
		return
	}

	att, err := h.Uploads.Store(c.Request.Context(), c.Param("session_id"), fileHeader.Filename, data)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrTooLarge):
			common.Fail(c, http.StatusBadRequest, 10030, "file exceeds size limit")
		case errors.Is(err, upload.ErrDisallowedType):
			common.Fail(c, http.StatusBadRequest, 10031, "file type not allowed")
		case errors.Is(err, chat.ErrNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "session not found")
		default:
			logging.Error().Err(err).Str("session_id", c.Param("session_id")).Msg("attachment store failed")
			common.Fail(c, http.StatusInternalServerError, 50003, "failed to store attachment")
		}
		return
	}

	common.Ok(c, gin.H{"attachment": att})
}
