package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studio-assistant/internal/auth"
	"github.com/suPer8Hu/studio-assistant/internal/chat"
	"github.com/suPer8Hu/studio-assistant/internal/common"
	"github.com/suPer8Hu/studio-assistant/internal/httpapi/middleware"
	"github.com/suPer8Hu/studio-assistant/internal/logx"
	"go.uber.org/zap"
)

type Handler struct {
	Auth *auth.Service
	Hub  *chat.Hub
	Log  *zap.Logger
	// MaxAttachmentBytes bounds how much of one uploaded file is read.
	MaxAttachmentBytes int64
}

func NewHandler(authSvc *auth.Service, hub *chat.Hub, maxAttachmentBytes int64, log *zap.Logger) *Handler {
	log = logx.OrNop(log)
	return &Handler{Auth: authSvc, Hub: hub, Log: log, MaxAttachmentBytes: maxAttachmentBytes}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (string, bool) {
	uid := c.GetString(middleware.UserIDKey)
	return uid, uid != ""
}

func (h *Handler) requireUser(c *gin.Context) (string, bool) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}
