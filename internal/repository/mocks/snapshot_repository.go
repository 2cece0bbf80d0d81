package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"multiplayer-life/internal/domain"
)

// SnapshotRepository is a testify mock of repository.SnapshotRepository.
type SnapshotRepository struct {
	mock.Mock
}

func (m *SnapshotRepository) GetLatestSnapshot(ctx context.Context, roomID string) (*domain.Snapshot, error) {
	args := m.Called(ctx, roomID)
	var snap *domain.Snapshot
	if v := args.Get(0); v != nil {
		snap = v.(*domain.Snapshot)
	}
	return snap, args.Error(1)
}

func (m *SnapshotRepository) SaveSnapshot(ctx context.Context, snapshot *domain.Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}
