package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/repository"
)

// SnapshotService copies live game states into the long-term archive.
type SnapshotService struct {
	snapshotRepo repository.SnapshotRepository
	stateRepo    repository.StateRepository
	now          func() time.Time
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(snapshotRepo repository.SnapshotRepository, stateRepo repository.StateRepository) *SnapshotService {
	if snapshotRepo == nil || stateRepo == nil {
		panic("SnapshotRepository and StateRepository must be non-nil for SnapshotService")
	}
	return &SnapshotService{
		snapshotRepo: snapshotRepo,
		stateRepo:    stateRepo,
		now:          time.Now,
	}
}

// ArchiveRoom writes a snapshot row for the room unless the live state has not
// been written since the last archived one. It reports whether a row was written.
func (s *SnapshotService) ArchiveRoom(ctx context.Context, roomID string) (bool, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "archive"})

	// 1. Current live state; rooms that never started have nothing to archive.
	state, err := s.stateRepo.GetGameState(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("archive: failed to read game state: %w", err)
	}

	// 2. Skip states nobody wrote since the last row. Edits during a pause
	// leave the generation alone but still bump the version.
	last, err := s.snapshotRepo.GetLatestSnapshot(ctx, roomID)
	switch {
	case err == nil:
		if last.StateVersion == state.Version && last.Generation == state.Generation {
			logCtx.WithField("version", state.Version).Debug("State unchanged, skipping snapshot")
			return false, nil
		}
	case errors.Is(err, repository.ErrNotFound):
	default:
		return false, fmt.Errorf("archive: failed to read latest snapshot: %w", err)
	}

	// 3. Write.
	snapshot := &domain.Snapshot{
		RoomID:       roomID,
		Generation:   state.Generation,
		StateVersion: state.Version,
		CreatedAt:    s.now().UTC(),
	}
	if err := snapshot.SetGrid(state.Grid); err != nil {
		return false, fmt.Errorf("archive: failed to encode grid: %w", err)
	}
	if err := s.snapshotRepo.SaveSnapshot(ctx, snapshot); err != nil {
		return false, fmt.Errorf("archive: failed to save snapshot: %w", err)
	}
	logCtx.WithField("generation", state.Generation).Info("Snapshot archived")
	return true, nil
}

// ArchiveRooms archives each room and returns how many rows were written. A
// failing room is logged and does not stop the others.
func (s *SnapshotService) ArchiveRooms(ctx context.Context, roomIDs []string) (int, error) {
	written := 0
	var firstErr error
	for _, id := range roomIDs {
		ok, err := s.ArchiveRoom(ctx, id)
		if err != nil {
			logrus.WithField("room_id", id).WithError(err).Error("Snapshot archive failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			written++
		}
	}
	return written, firstErr
}

// LatestSnapshot returns the newest archived snapshot of a room.
func (s *SnapshotService) LatestSnapshot(ctx context.Context, roomID string) (*domain.Snapshot, error) {
	if err := ValidateRoomID(roomID); err != nil {
		return nil, err
	}
	snap, err := s.snapshotRepo.GetLatestSnapshot(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, ErrInternalServer
	}
	return snap, nil
}
