package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/rs/zerolog/log"
)

// SetupRouter wires the HTTP surface of a signaling node.
func SetupRouter(cfg *config.Config, signaling *SignalingHandler, admin *AdminHandler) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if !cfg.IsProduction() {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ws", signaling.HandleSignaling)

	if cfg.Admin.JWTSecret != "" {
		adminGroup := router.Group("/api/admin", middleware.JWTAuth(cfg.Admin.JWTSecret))
		{
			adminGroup.GET("/stats", admin.Stats)
			adminGroup.GET("/sessions", admin.ListSessions)
		}
	} else {
		log.Info().Str("module", "handlers").Msg("admin API disabled, no admin.jwt_secret set")
	}

	return router
}
