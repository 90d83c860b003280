package lobby

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mossy-p/lobby/internal/events"
	"github.com/mossy-p/lobby/internal/models"
	"github.com/mossy-p/lobby/internal/store"
)

// CreateParams describes a new room. Zero capacity fields take the
// configured defaults.
type CreateParams struct {
	Creator    models.Identity
	PlayerName string
	RoomName   string
	MaxPlayers int
	MinPlayers int
	Settings   *models.SettingsPatch
}

func newPlayer(who models.Identity, name string, host bool, joinedAt time.Time) models.Player {
	return models.Player{
		ID:          who.ID,
		Name:        name,
		DisplayName: who.DisplayName,
		Email:       who.Email,
		PhotoURL:    who.PhotoURL,
		IsHost:      host,
		JoinedAt:    joinedAt,
		IsAnonymous: who.IsAnonymous,
	}
}

// CreateRoom builds a waiting room with the creator as its only player and
// host, then inserts it under a fresh game code. A code collision is retried
// with a new code up to the configured bound.
func (s *Service) CreateRoom(ctx context.Context, p CreateParams) (*models.Room, error) {
	roomName := strings.TrimSpace(p.RoomName)
	playerName := strings.TrimSpace(p.PlayerName)
	if roomName == "" || playerName == "" {
		return nil, ErrInvalidName
	}
	if strings.TrimSpace(p.Creator.ID) == "" {
		return nil, ErrMissingIdentity
	}

	maxPlayers := p.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = s.limits.DefaultMaxPlayers
	}
	minPlayers := p.MinPlayers
	if minPlayers == 0 {
		minPlayers = min(s.limits.DefaultMinPlayers, maxPlayers)
	}
	if minPlayers < 1 || minPlayers > maxPlayers {
		return nil, ErrInvalidCapacity
	}

	now := s.timestamp()
	room := &models.Room{
		ID:         s.newID(),
		Name:       roomName,
		HostID:     p.Creator.ID,
		Players:    []models.Player{newPlayer(p.Creator, playerName, true, now)},
		MaxPlayers: maxPlayers,
		MinPlayers: minPlayers,
		Status:     models.StatusWaiting,
		CreatedAt:  now,
		Settings:   p.Settings.Apply(models.DefaultSettings()),
	}

	for attempt := 1; attempt <= s.limits.CodeAttempts; attempt++ {
		gameCode, err := s.codes.Generate()
		if err != nil {
			return nil, err
		}
		room.GameCode = gameCode

		err = s.store.Create(ctx, room)
		if errors.Is(err, store.ErrConflict) {
			s.log.Warn().Str("code", gameCode).Int("attempt", attempt).Msg("game code collision, regenerating")
			continue
		}
		if err != nil {
			return nil, err
		}

		s.log.Info().
			Str("roomId", room.ID).
			Str("code", room.GameCode).
			Str("hostId", room.HostID).
			Msg("room created")
		s.publish(ctx, events.NewEvent(events.TypeCreated, room.ID, room, room.CreatedAt))
		return room, nil
	}

	s.log.Error().Int("attempts", s.limits.CodeAttempts).Msg("gave up allocating a game code")
	return nil, ErrCodeExhausted
}

// JoinRoom adds who to the room, or refreshes their profile if they are
// already a member. A rejoin always succeeds and keeps ready state, host
// role and join time.
func (s *Service) JoinRoom(ctx context.Context, roomID string, who models.Identity, playerName string) (*models.Room, error) {
	name := strings.TrimSpace(playerName)
	if name == "" {
		return nil, ErrInvalidName
	}
	if strings.TrimSpace(who.ID) == "" {
		return nil, ErrMissingIdentity
	}

	var (
		rejoin bool
		prev   models.Status
	)
	room, err := s.update(ctx, roomID, func(r *models.Room) (store.Outcome, error) {
		prev = r.Status
		if p := r.Player(who.ID); p != nil {
			rejoin = true
			if !p.Refresh(name, who) {
				return store.Keep, nil
			}
			return store.Save, nil
		}
		rejoin = false

		if r.IsFull() {
			return store.Keep, ErrRoomFull
		}
		if !r.Status.IsOpen() {
			return store.Keep, ErrAlreadyStarted
		}
		r.Players = append(r.Players, newPlayer(who, name, false, s.timestamp()))
		r.ReconcileReadiness()
		return store.Save, nil
	})
	if err != nil {
		return nil, err
	}

	if rejoin {
		s.log.Info().Str("roomId", roomID).Str("playerId", who.ID).Msg("player rejoined room")
	} else {
		s.log.Info().
			Str("roomId", roomID).
			Str("playerId", who.ID).
			Int("players", len(room.Players)).
			Int("maxPlayers", room.MaxPlayers).
			Msg("player joined room")
	}
	s.statusChanged(ctx, prev, room)
	return room, nil
}

// LeaveRoom removes the player. Leaving a room you are not in, or one that
// no longer exists, is a no-op. A departing host hands the role to the
// earliest-joined remaining player; the last player out deletes the room.
func (s *Service) LeaveRoom(ctx context.Context, roomID, playerID string) error {
	var (
		present bool
		wasHost bool
		prev    models.Status
	)
	room, err := s.update(ctx, roomID, func(r *models.Room) (store.Outcome, error) {
		prev = r.Status
		p := r.Player(playerID)
		present = p != nil
		if !present {
			return store.Keep, nil
		}
		wasHost = p.IsHost

		r.RemovePlayer(playerID)
		if len(r.Players) == 0 {
			return store.Remove, nil
		}
		r.ReconcileReadiness()
		return store.Save, nil
	})
	if errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !present {
		return nil
	}

	if room == nil {
		s.log.Info().Str("roomId", roomID).Str("playerId", playerID).Msg("last player left, room deleted")
		s.publish(ctx, events.NewEvent(events.TypeDeleted, roomID, nil, s.timestamp()))
		return nil
	}

	if wasHost {
		s.log.Info().
			Str("roomId", roomID).
			Str("oldHost", playerID).
			Str("newHost", room.HostID).
			Msg("host transferred")
	}
	s.log.Info().Str("roomId", roomID).Str("playerId", playerID).Msg("player left room")
	s.statusChanged(ctx, prev, room)
	return nil
}

// KickPlayer lets the host remove another player while the room is open.
func (s *Service) KickPlayer(ctx context.Context, roomID, requesterID, targetID string) error {
	var prev models.Status
	room, err := s.update(ctx, roomID, func(r *models.Room) (store.Outcome, error) {
		prev = r.Status
		if r.HostID != requesterID {
			return store.Keep, ErrForbidden
		}
		if requesterID == targetID {
			return store.Keep, ErrInvalidTarget
		}
		if !r.Status.IsOpen() {
			return store.Keep, ErrInvalidState
		}
		if !r.RemovePlayer(targetID) {
			return store.Keep, ErrPlayerNotFound
		}
		r.ReconcileReadiness()
		return store.Save, nil
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("roomId", roomID).
		Str("hostId", requesterID).
		Str("playerId", targetID).
		Msg("player kicked")
	s.statusChanged(ctx, prev, room)
	return nil
}

// DeleteRoom lets the host drop a room whose match has not begun.
func (s *Service) DeleteRoom(ctx context.Context, roomID, requesterID string) error {
	_, err := s.update(ctx, roomID, func(r *models.Room) (store.Outcome, error) {
		if r.HostID != requesterID {
			return store.Keep, ErrForbidden
		}
		if !r.Status.IsOpen() {
			return store.Keep, ErrInvalidState
		}
		return store.Remove, nil
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("roomId", roomID).Str("hostId", requesterID).Msg("room deleted")
	s.publish(ctx, events.NewEvent(events.TypeDeleted, roomID, nil, s.timestamp()))
	return nil
}
