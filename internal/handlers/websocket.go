package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mossy-p/lobby/internal/lobby"
	"github.com/mossy-p/lobby/internal/models"
	"github.com/mossy-p/lobby/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// viewer is one WebSocket connection watching a room
type viewer struct {
	roomID      string
	conn        *websocket.Conn
	updates     <-chan *models.Room
	unsubscribe func()
	log         zerolog.Logger
}

// WatchRoom streams room snapshots over a WebSocket until the room is
// deleted or the client goes away (public).
func (h *Handler) WatchRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	// The subscription outlives this handler; the pumps end it.
	updates, unsubscribe, err := h.hub.Subscribe(context.WithoutCancel(c.Request.Context()), roomID)
	if errors.Is(err, store.ErrNotFound) {
		h.fail(c, lobby.ErrRoomNotFound)
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		h.log.Warn().Err(err).Str("roomId", roomID).Msg("failed to upgrade connection")
		return
	}

	v := &viewer{
		roomID:      roomID,
		conn:        conn,
		updates:     updates,
		unsubscribe: unsubscribe,
		log:         h.log.With().Str("roomId", roomID).Str("remote", c.ClientIP()).Logger(),
	}
	v.log.Debug().Msg("viewer connected")

	go v.writePump()
	go v.readPump()
}

// readPump only services control frames; viewers send nothing the server
// acts on.
func (v *viewer) readPump() {
	defer func() {
		v.unsubscribe()
		v.conn.Close()
		v.log.Debug().Msg("viewer disconnected")
	}()

	v.conn.SetReadLimit(512)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				v.log.Warn().Err(err).Msg("websocket error")
			}
			return
		}
	}
}

func (v *viewer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case room, ok := <-v.updates:
			if !ok {
				// Fell behind or lost the store; the client re-subscribes.
				v.close(websocket.CloseTryAgainLater, "stream interrupted")
				return
			}
			if err := v.send(models.SnapshotEvent(v.roomID, room)); err != nil {
				v.log.Warn().Err(err).Msg("failed to write message")
				return
			}
			if room == nil {
				v.close(websocket.CloseNormalClosure, "room deleted")
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (v *viewer) send(evt models.RoomEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return v.conn.WriteMessage(websocket.TextMessage, data)
}

func (v *viewer) close(code int, reason string) {
	v.conn.SetWriteDeadline(time.Now().Add(writeWait))
	v.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
