package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"multiplayer-life/internal/domain"
)

// StateRepository is a testify mock of repository.StateRepository.
type StateRepository struct {
	mock.Mock
}

func (m *StateRepository) GetGameState(ctx context.Context, roomID string) (*domain.GameState, error) {
	args := m.Called(ctx, roomID)
	var state *domain.GameState
	if v := args.Get(0); v != nil {
		state = v.(*domain.GameState)
	}
	return state, args.Error(1)
}

func (m *StateRepository) CompareAndSwapGameState(ctx context.Context, roomID string, expectedVersion uint64, next domain.GameState) (*domain.GameState, error) {
	args := m.Called(ctx, roomID, expectedVersion, next)
	var state *domain.GameState
	if v := args.Get(0); v != nil {
		state = v.(*domain.GameState)
	}
	return state, args.Error(1)
}
