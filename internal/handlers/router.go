package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mossy-p/lobby/config"
	"github.com/mossy-p/lobby/internal/middleware"
)

// NewRouter mounts every lobby route on a fresh gin engine.
func NewRouter(cfg *config.Config, h *Handler) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(h.log))

	// Global CORS middleware (runs before routing)
	router.Use(middleware.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", h.Health)

	auth := middleware.JWTAuth(cfg.JWTSecret)

	api := router.Group("/api")
	{
		// Development token issuer; production tokens come from the identity provider
		if !cfg.IsProduction() {
			api.POST("/auth/login", Login(cfg.JWTSecret))
		}

		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/code/:code", h.GetRoomByCode)
		api.GET("/rooms/:roomId", h.GetRoom)

		api.POST("/rooms", auth, h.CreateRoom)
		api.POST("/rooms/:roomId/join", auth, h.JoinRoom)
		api.POST("/rooms/:roomId/leave", auth, h.LeaveRoom)
		api.POST("/rooms/:roomId/ready", auth, h.SetReady)
		api.POST("/rooms/:roomId/kick", auth, h.KickPlayer)
		api.POST("/rooms/:roomId/start", auth, h.StartMatch)
		api.DELETE("/rooms/:roomId", auth, h.DeleteRoom)
	}

	// Live room snapshots
	ws := router.Group("/ws")
	{
		ws.GET("/rooms/:roomId", h.WatchRoom)
	}

	return router
}
