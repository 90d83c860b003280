package lobby

import (
	"context"
	"errors"

	"github.com/mossy-p/lobby/internal/code"
	"github.com/mossy-p/lobby/internal/models"
	"github.com/mossy-p/lobby/internal/store"
)

// ListOpenRooms returns waiting and ready rooms, newest first.
func (s *Service) ListOpenRooms(ctx context.Context) ([]*models.Room, error) {
	return s.store.ListOpen(ctx)
}

// FindByCode looks a room up by its game code, ignoring case.
func (s *Service) FindByCode(ctx context.Context, gameCode string) (*models.Room, error) {
	normalized := code.Normalize(gameCode)
	if !code.Valid(normalized) {
		return nil, ErrRoomNotFound
	}
	room, err := s.store.FindByCode(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	return room, err
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.store.Get(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	return room, err
}
