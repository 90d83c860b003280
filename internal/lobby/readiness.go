package lobby

import (
	"context"
	"fmt"

	"github.com/mossy-p/lobby/internal/models"
	"github.com/mossy-p/lobby/internal/store"
)

// SetPlayerReady records a player's ready flag. In a waiting room that now
// has quorum with everyone ready the status moves to ready; in a ready room
// that lost either condition it moves back to waiting. Later statuses are
// left alone.
func (s *Service) SetPlayerReady(ctx context.Context, roomID, playerID string, ready bool) (*models.Room, error) {
	var prev models.Status
	room, err := s.update(ctx, roomID, func(r *models.Room) (store.Outcome, error) {
		prev = r.Status
		p := r.Player(playerID)
		if p == nil {
			return store.Keep, ErrPlayerNotFound
		}
		flagChanged := p.IsReady != ready
		p.IsReady = ready
		if !r.ReconcileReadiness() && !flagChanged {
			return store.Keep, nil
		}
		return store.Save, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("roomId", roomID).
		Str("playerId", playerID).
		Bool("ready", ready).
		Msg("player readiness set")
	s.statusChanged(ctx, prev, room)
	return room, nil
}

// UpdateRoomStatus writes a new status. Callers are trusted to have checked
// who may do this (the host starting a match, the game engine afterwards);
// the write itself still has to follow the room state machine.
func (s *Service) UpdateRoomStatus(ctx context.Context, roomID string, status models.Status) (*models.Room, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	var prev models.Status
	room, err := s.update(ctx, roomID, func(r *models.Room) (store.Outcome, error) {
		prev = r.Status
		if r.Status == status {
			return store.Keep, nil
		}
		if !r.Status.CanTransition(status) {
			return store.Keep, ErrInvalidState.Wrap(fmt.Errorf("%s -> %s", r.Status, status))
		}
		r.Status = status
		return store.Save, nil
	})
	if err != nil {
		return nil, err
	}

	s.statusChanged(ctx, prev, room)
	return room, nil
}

// StartMatch is the host's start action: it checks the start precondition
// (host only, quorum met, everyone ready) and moves the room to starting in
// one atomic update.
func (s *Service) StartMatch(ctx context.Context, roomID, requesterID string) (*models.Room, error) {
	var prev models.Status
	room, err := s.update(ctx, roomID, func(r *models.Room) (store.Outcome, error) {
		prev = r.Status
		if r.HostID != requesterID {
			return store.Keep, ErrForbidden
		}
		if !r.Status.IsOpen() {
			return store.Keep, ErrAlreadyStarted
		}
		if !r.CanStart() {
			return store.Keep, ErrNotReady
		}
		r.Status = models.StatusStarting
		return store.Save, nil
	})
	if err != nil {
		return nil, err
	}

	s.statusChanged(ctx, prev, room)
	return room, nil
}
