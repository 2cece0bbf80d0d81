package repository

import (
	"context"

	"multiplayer-life/internal/domain"
)

// RoomRepository stores room metadata. Every write refreshes the room's TTL.
type RoomRepository interface {
	// FindByID returns ErrRoomNotFound when the room does not exist or has expired.
	FindByID(ctx context.Context, roomID string) (*domain.Room, error)

	// Save creates or overwrites the room record (last writer wins).
	Save(ctx context.Context, room *domain.Room) error

	// Delete removes the room record and its game state.
	Delete(ctx context.Context, roomID string) error
}
