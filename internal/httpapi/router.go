package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studio-assistant/internal/common"
	"github.com/suPer8Hu/studio-assistant/internal/httpapi/handlers"
	"github.com/suPer8Hu/studio-assistant/internal/httpapi/middleware"
	"github.com/suPer8Hu/studio-assistant/internal/logx"
	"go.uber.org/zap"
)

type RouterConfig struct {
	CORSOrigins []string
	Log         *zap.Logger
}

func NewRouter(h *handlers.Handler, cfg RouterConfig) *gin.Engine {
	log := logx.OrNop(cfg.Log)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	// auth
	r.POST("/auth/signup", h.SignUp)
	r.POST("/auth/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Auth))
	authGroup.POST("/auth/logout", h.Logout)
	authGroup.GET("/me", h.Me)
	// Chat (JWT required)
	authGroup.GET("/chat", h.GetChat)
	authGroup.POST("/chat/attachments", h.UploadAttachments)
	authGroup.DELETE("/chat/attachments/:index", h.RemoveAttachment)
	authGroup.POST("/chat/messages/stream", h.StreamMessage)
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = origins
	}
	return c
}
