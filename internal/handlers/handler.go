// Package handlers exposes the lobby over HTTP and WebSocket.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mossy-p/lobby/internal/fanout"
	"github.com/mossy-p/lobby/internal/lobby"
	"github.com/mossy-p/lobby/internal/middleware"
	"github.com/mossy-p/lobby/internal/models"
	"github.com/mossy-p/lobby/internal/store"
)

// Handler carries the collaborators every route needs.
type Handler struct {
	lobby *lobby.Service
	hub   *fanout.Hub
	log   zerolog.Logger
	ping  func(context.Context) error
}

type HandlerOption func(*Handler)

// WithHealthCheck makes /health report the backing store's reachability.
func WithHealthCheck(ping func(context.Context) error) HandlerOption {
	return func(h *Handler) { h.ping = ping }
}

func NewHandler(svc *lobby.Service, hub *fanout.Hub, log zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{lobby: svc, hub: hub, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health reports liveness and, when configured, store reachability.
func (h *Handler) Health(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			h.log.Warn().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "watchedRooms": h.hub.Rooms()})
}

func identity(c *gin.Context) (models.Identity, bool) {
	who, ok := middleware.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
	}
	return who, ok
}

// statusFor maps a lobby error code to an HTTP status
var statusFor = map[lobby.Code]int{
	lobby.CodeNotFound:         http.StatusNotFound,
	lobby.CodeConflict:         http.StatusConflict,
	lobby.CodeForbidden:        http.StatusForbidden,
	lobby.CodeInvalidTarget:    http.StatusBadRequest,
	lobby.CodeCapacityExceeded: http.StatusConflict,
	lobby.CodeInvalidState:     http.StatusConflict,
	lobby.CodeCodeExhausted:    http.StatusServiceUnavailable,
	lobby.CodeInvalidArgument:  http.StatusBadRequest,
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, store.ErrContention) {
		h.log.Warn().Err(err).Str("path", c.FullPath()).Msg("room update contention")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Room is busy, try again", "code": "CONTENTION"})
		return
	}

	code := lobby.CodeOf(err)
	status, ok := statusFor[code]
	if !ok {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": lobby.CodeInternal})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": lobby.CodeInvalidArgument})
}
