package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/tasks"
)

// TaskEnqueuer is the part of *asynq.Client the scheduler uses.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskDeleter is the part of *asynq.Inspector the scheduler uses.
type TaskDeleter interface {
	DeleteTask(queue, id string) error
}

// AsynqGraceScheduler keeps grace timers as delayed asynq tasks so they survive
// a restart and fire on whichever instance runs the worker.
type AsynqGraceScheduler struct {
	client    TaskEnqueuer
	inspector TaskDeleter
	log       *logrus.Entry
}

// NewAsynqGraceScheduler creates an AsynqGraceScheduler.
func NewAsynqGraceScheduler(client TaskEnqueuer, inspector TaskDeleter, logger *logrus.Logger) *AsynqGraceScheduler {
	if client == nil || inspector == nil {
		panic("asynq client and inspector cannot be nil for AsynqGraceScheduler")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AsynqGraceScheduler{
		client:    client,
		inspector: inspector,
		log:       logger.WithField("component", "grace_scheduler"),
	}
}

// Schedule replaces the player's pending grace task with one due after the period.
func (s *AsynqGraceScheduler) Schedule(ctx context.Context, roomID, playerID string, since time.Time, after time.Duration) error {
	task, err := tasks.NewGraceExpireTask(roomID, playerID, since)
	if err != nil {
		return err
	}
	logCtx := s.log.WithFields(logrus.Fields{"room_id": roomID, "player_id": playerID})
	if err := s.Cancel(ctx, roomID, playerID); err != nil {
		// An active task cannot be deleted. The enqueue below still arms a new
		// one, and the running task sees a stale since and does nothing.
		logCtx.WithError(err).Warn("Could not delete previous grace task, enqueueing anyway")
	}

	id := tasks.GraceTaskID(roomID, playerID)
	info, err := s.client.EnqueueContext(ctx, task, asynq.TaskID(id), asynq.ProcessIn(after))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// The old task is already running and cannot be deleted. Expiry compares
		// since, so an anonymous task next to it is harmless.
		logCtx.Debug("Grace task id busy, enqueueing without id")
		info, err = s.client.EnqueueContext(ctx, task, asynq.ProcessIn(after))
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue grace task: %w", err)
	}
	logCtx.WithFields(logrus.Fields{"task_id": info.ID, "due": info.NextProcessAt}).Debug("Grace task scheduled")
	return nil
}

// Cancel deletes the player's pending grace task. A missing task is not an error.
func (s *AsynqGraceScheduler) Cancel(_ context.Context, roomID, playerID string) error {
	err := s.inspector.DeleteTask(tasks.QueueCritical, tasks.GraceTaskID(roomID, playerID))
	if err == nil || errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return fmt.Errorf("failed to delete grace task: %w", err)
}
