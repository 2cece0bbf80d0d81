package repository

import (
	"context"

	"multiplayer-life/internal/domain"
)

// SnapshotRepository archives game states to durable storage.
type SnapshotRepository interface {
	// GetLatestSnapshot returns ErrSnapshotNotFound when the room has no archived row.
	GetLatestSnapshot(ctx context.Context, roomID string) (*domain.Snapshot, error)

	// SaveSnapshot inserts a new archive row.
	SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error
}
