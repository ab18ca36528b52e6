package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studio-assistant/internal/auth"
	"github.com/suPer8Hu/studio-assistant/internal/common"
	"github.com/suPer8Hu/studio-assistant/internal/httpapi/middleware"
	"go.uber.org/zap"
)

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func userJSON(u *auth.User) gin.H {
	return gin.H{
		"id":         u.ID,
		"email":      u.Email,
		"created_at": u.CreatedAt,
	}
}

func (h *Handler) SignUp(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	u, token, err := h.Auth.SignUp(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
		return
	case errors.Is(err, auth.ErrEmailTaken):
		common.Fail(c, http.StatusConflict, 10003, "email already registered")
		return
	case err != nil:
		h.Log.Error("sign up failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to create user")
		return
	}

	common.OK(c, gin.H{"token": token, "user": userJSON(u)})
}

func (h *Handler) Login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	u, token, err := h.Auth.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		common.Fail(c, http.StatusUnauthorized, 40100, "invalid email or password")
		return
	case err != nil:
		h.Log.Error("login failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{"token": token, "user": userJSON(u)})
}

// Logout revokes the token and drops the caller's conversation.
func (h *Handler) Logout(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	claims, ok := middleware.Claims(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.Auth.Logout(c.Request.Context(), claims); err != nil {
		h.Log.Error("revoke token failed", zap.String("user_id", uid), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 20001, "failed to revoke token")
		return
	}
	h.Hub.Close(c.Request.Context(), uid)
	common.OK(c, nil)
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := h.requireUser(c)
	if !ok {
		return
	}
	u, err := h.Auth.Me(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, userJSON(u))
}
