package repository

import (
	"context"

	"multiplayer-life/internal/domain"
)

// StateRepository holds the per-room Game State. All writes go through
// CompareAndSwapGameState.
type StateRepository interface {
	// GetGameState returns the current state with its Version marker, or
	// ErrGameStateNotFound.
	GetGameState(ctx context.Context, roomID string) (*domain.GameState, error)

	// CompareAndSwapGameState writes next only if the stored Version still equals
	// expectedVersion (0 means "no record yet"). On success the stored Version is
	// expectedVersion+1 and the room TTL is refreshed. A lost race returns ErrConflict.
	CompareAndSwapGameState(ctx context.Context, roomID string, expectedVersion uint64, next domain.GameState) (*domain.GameState, error)
}
