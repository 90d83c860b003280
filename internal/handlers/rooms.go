package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/lobby/internal/lobby"
	"github.com/mossy-p/lobby/internal/models"
)

// ListRooms lists rooms that can still be joined (public)
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.lobby.ListOpenRooms(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// CreateRoom creates a room hosted by the caller (requires authentication)
func (h *Handler) CreateRoom(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	room, err := h.lobby.CreateRoom(c.Request.Context(), lobby.CreateParams{
		Creator:    who,
		PlayerName: req.PlayerName,
		RoomName:   req.RoomName,
		MaxPlayers: req.MaxPlayers,
		MinPlayers: req.MinPlayers,
		Settings:   req.Settings,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID: room.ID,
		Code:   room.GameCode,
		Room:   room,
	})
}

// GetRoom returns a room by id (public)
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.lobby.GetRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// GetRoomByCode looks a room up by its game code, any case (public)
func (h *Handler) GetRoomByCode(c *gin.Context) {
	room, err := h.lobby.FindByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// JoinRoom adds the caller to a room, or refreshes their entry on rejoin
func (h *Handler) JoinRoom(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req models.JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	room, err := h.lobby.JoinRoom(c.Request.Context(), c.Param("roomId"), who, req.PlayerName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// LeaveRoom removes the caller. Leaving twice is fine.
func (h *Handler) LeaveRoom(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	if err := h.lobby.LeaveRoom(c.Request.Context(), c.Param("roomId"), who.ID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left room"})
}

// SetReady sets the caller's ready flag
func (h *Handler) SetReady(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req models.ReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	room, err := h.lobby.SetPlayerReady(c.Request.Context(), c.Param("roomId"), who.ID, *req.Ready)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// KickPlayer removes another player (host only)
func (h *Handler) KickPlayer(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	var req models.KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.lobby.KickPlayer(c.Request.Context(), c.Param("roomId"), who.ID, req.PlayerID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Player kicked"})
}

// StartMatch moves a ready room to starting (host only)
func (h *Handler) StartMatch(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	room, err := h.lobby.StartMatch(c.Request.Context(), c.Param("roomId"), who.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// DeleteRoom deletes a room before its match starts (host only)
func (h *Handler) DeleteRoom(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		return
	}

	if err := h.lobby.DeleteRoom(c.Request.Context(), c.Param("roomId"), who.ID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}
