package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/repository"
	"multiplayer-life/internal/repository/mocks"
	"multiplayer-life/internal/service"
)

func TestSnapshotService_ArchiveRoom(t *testing.T) {
	// Arrange
	mockSnapshots := new(mocks.SnapshotRepository)
	mockStates := new(mocks.StateRepository)
	svc := service.NewSnapshotService(mockSnapshots, mockStates)
	ctx := context.Background()
	state := domain.NewGameState(2, 2, time.Now())
	state.Generation = 9
	state.Grid.Set(1, 1, alive("a", "#FF0000"))

	mockStates.On("GetGameState", ctx, "room").Return(&state, nil).Once()
	mockSnapshots.On("GetLatestSnapshot", ctx, "room").Return(nil, repository.ErrSnapshotNotFound).Once()
	mockSnapshots.On("SaveSnapshot", ctx, mock.MatchedBy(func(s *domain.Snapshot) bool {
		grid, err := s.ParseGrid()
		return err == nil && s.RoomID == "room" && s.Generation == 9 && grid.At(1, 1).IsAlive
	})).Return(nil).Once()

	// Act
	written, err := svc.ArchiveRoom(ctx, "room")

	// Assert
	require.NoError(t, err)
	assert.True(t, written)
	mockSnapshots.AssertExpectations(t)
	mockStates.AssertExpectations(t)
}

func TestSnapshotService_SkipsUnchangedState(t *testing.T) {
	mockSnapshots := new(mocks.SnapshotRepository)
	mockStates := new(mocks.StateRepository)
	svc := service.NewSnapshotService(mockSnapshots, mockStates)
	ctx := context.Background()
	state := domain.NewGameState(2, 2, time.Now())
	state.Generation = 9
	state.Version = 4

	mockStates.On("GetGameState", ctx, "room").Return(&state, nil).Once()
	mockSnapshots.On("GetLatestSnapshot", ctx, "room").Return(&domain.Snapshot{RoomID: "room", Generation: 9, StateVersion: 4}, nil).Once()

	written, err := svc.ArchiveRoom(ctx, "room")

	require.NoError(t, err)
	assert.False(t, written)
	mockSnapshots.AssertNotCalled(t, "SaveSnapshot", mock.Anything, mock.Anything)
}

func TestSnapshotService_ArchivesEditsWithoutNewGeneration(t *testing.T) {
	mockSnapshots := new(mocks.SnapshotRepository)
	mockStates := new(mocks.StateRepository)
	svc := service.NewSnapshotService(mockSnapshots, mockStates)
	ctx := context.Background()
	state := domain.NewGameState(2, 2, time.Now())
	state.Generation = 9
	state.Version = 7
	state.Grid.Set(0, 0, alive("b", "#00FF00"))

	mockStates.On("GetGameState", ctx, "room").Return(&state, nil).Once()
	mockSnapshots.On("GetLatestSnapshot", ctx, "room").Return(&domain.Snapshot{RoomID: "room", Generation: 9, StateVersion: 4}, nil).Once()
	mockSnapshots.On("SaveSnapshot", ctx, mock.MatchedBy(func(s *domain.Snapshot) bool {
		return s.Generation == 9 && s.StateVersion == 7
	})).Return(nil).Once()

	written, err := svc.ArchiveRoom(ctx, "room")

	require.NoError(t, err)
	assert.True(t, written, "paused edits bump the version only")
	mockSnapshots.AssertExpectations(t)
}

func TestSnapshotService_ArchiveRoomsContinuesPastFailures(t *testing.T) {
	mockSnapshots := new(mocks.SnapshotRepository)
	mockStates := new(mocks.StateRepository)
	svc := service.NewSnapshotService(mockSnapshots, mockStates)
	ctx := context.Background()
	state := domain.NewGameState(2, 2, time.Now())
	state.Generation = 1

	mockStates.On("GetGameState", ctx, "broken").Return(nil, assert.AnError).Once()
	mockStates.On("GetGameState", ctx, "idle").Return(nil, repository.ErrGameStateNotFound).Once()
	mockStates.On("GetGameState", ctx, "busy").Return(&state, nil).Once()
	mockSnapshots.On("GetLatestSnapshot", ctx, "busy").Return(nil, repository.ErrSnapshotNotFound).Once()
	mockSnapshots.On("SaveSnapshot", ctx, mock.AnythingOfType("*domain.Snapshot")).Return(nil).Once()

	written, err := svc.ArchiveRooms(ctx, []string{"broken", "idle", "busy"})

	assert.Error(t, err)
	assert.Equal(t, 1, written)
	mockStates.AssertExpectations(t)
	mockSnapshots.AssertExpectations(t)
}
