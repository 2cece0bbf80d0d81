package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/repository"
)

// MergeUpdates applies the queued batches onto current and returns the next state.
// Updates are applied in ascending timestamp order, ties keeping arrival order.
// Heartbeats only contribute their generation. The generation never goes backwards.
// Version is carried over unchanged; the store assigns the next one.
func MergeUpdates(current domain.GameState, batches [][]domain.CellUpdate, now time.Time) domain.GameState {
	// Flatten in arrival order so the stable sort keeps ties in that order.
	var flat []domain.CellUpdate
	for _, b := range batches {
		flat = append(flat, b...)
	}
	sort.SliceStable(flat, func(i, j int) bool {
		return flat[i].Timestamp < flat[j].Timestamp
	})

	// Later timestamps overwrite earlier ones cell by cell.
	next := current.Clone()
	for _, u := range flat {
		if u.Generation > next.Generation {
			next.Generation = u.Generation
		}
		if u.Heartbeat {
			continue
		}
		next.Grid.Set(u.Row, u.Col, u.Cell)
	}
	next.LastUpdated = now
	return next
}

// Merger is what the batcher flushes into.
type Merger interface {
	Merge(ctx context.Context, roomID string, batches [][]domain.CellUpdate) (*domain.GameState, error)
}

// MergeService owns every write to a room's game state key.
type MergeService struct {
	stateRepo repository.StateRepository
	retry     RetryPolicy
	rows      int
	cols      int
	now       func() time.Time
}

// NewMergeService creates a MergeService for grids of rows x cols.
func NewMergeService(stateRepo repository.StateRepository, retry RetryPolicy, rows, cols int) *MergeService {
	if stateRepo == nil {
		panic("StateRepository cannot be nil for MergeService")
	}
	return &MergeService{
		stateRepo: stateRepo,
		retry:     retry,
		rows:      rows,
		cols:      cols,
		now:       time.Now,
	}
}

// Merge runs the read-merge-write cycle under optimistic concurrency. Exhausting
// the retry budget returns ErrConcurrencyConflict and leaves the state untouched.
func (s *MergeService) Merge(ctx context.Context, roomID string, batches [][]domain.CellUpdate) (*domain.GameState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "merge"})
	return s.swap(ctx, roomID, logCtx, func(current *domain.GameState) (domain.GameState, error) {
		if current == nil {
			return domain.GameState{}, ErrGameNotStarted
		}
		return MergeUpdates(*current, batches, s.now()), nil
	})
}

// Reset replaces the grid with an all-dead one at generation 0. It does not touch
// the update queue; Batcher.Reset wraps it for that.
func (s *MergeService) Reset(ctx context.Context, roomID string) (*domain.GameState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "reset"})
	return s.swap(ctx, roomID, logCtx, func(current *domain.GameState) (domain.GameState, error) {
		if current == nil {
			return domain.GameState{}, ErrGameNotStarted
		}
		return domain.NewGameState(current.Grid.Rows(), current.Grid.Cols(), s.now()), nil
	})
}

// Initialize writes the fresh generation-0 state when a game starts for the first
// time. It is the only path that creates the record.
func (s *MergeService) Initialize(ctx context.Context, roomID string) (*domain.GameState, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "operation": "initialize"})
	return s.swap(ctx, roomID, logCtx, func(current *domain.GameState) (domain.GameState, error) {
		return domain.NewGameState(s.rows, s.cols, s.now()), nil
	})
}

// Current reads the persisted state. A missing record is reported as ErrGameNotStarted.
func (s *MergeService) Current(ctx context.Context, roomID string) (*domain.GameState, error) {
	state, err := s.stateRepo.GetGameState(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGameNotStarted
		}
		return nil, ErrInternalServer
	}
	return state, nil
}

func (s *MergeService) swap(
	ctx context.Context,
	roomID string,
	logCtx *logrus.Entry,
	compute func(current *domain.GameState) (domain.GameState, error),
) (*domain.GameState, error) {
	var written *domain.GameState
	err := s.retry.Do(ctx, isConflict, func(attempt int) error {
		// 1. Read the current record, if any.
		current, err := s.stateRepo.GetGameState(ctx, roomID)
		var expected uint64
		switch {
		case err == nil:
			expected = current.Version
		case errors.Is(err, repository.ErrNotFound):
			current = nil
		default:
			return err
		}

		// 2. Recompute from what was read.
		next, err := compute(current)
		if err != nil {
			return err
		}

		// 3. Write only if nobody else did in between.
		written, err = s.stateRepo.CompareAndSwapGameState(ctx, roomID, expected, next)
		if err != nil && isConflict(err) {
			logCtx.WithField("attempt", attempt).Debug("Game state write conflict, retrying")
		}
		return err
	})
	if err == nil {
		return written, nil
	}
	switch {
	case isConflict(err):
		logCtx.WithError(err).Error("Game state write retries exhausted")
		return nil, ErrConcurrencyConflict
	case errors.Is(err, ErrGameNotStarted):
		return nil, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		logCtx.WithError(err).Error("Game state store failure")
		return nil, ErrInternalServer
	}
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict)
}
