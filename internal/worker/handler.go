package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/service"
	"multiplayer-life/internal/tasks"
)

// GraceExpirer removes players whose grace period elapsed.
type GraceExpirer interface {
	ExpireGrace(ctx context.Context, roomID, playerID string, since time.Time) (*service.RemovalResult, error)
}

// GraceExpireHandler processes presence:grace_expire tasks.
type GraceExpireHandler struct {
	presence GraceExpirer
}

// NewGraceExpireHandler creates a GraceExpireHandler.
func NewGraceExpireHandler(presence GraceExpirer) *GraceExpireHandler {
	if presence == nil {
		panic("GraceExpirer cannot be nil for GraceExpireHandler")
	}
	return &GraceExpireHandler{presence: presence}
}

// ProcessTask implements asynq.Handler.
func (h *GraceExpireHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	currentRetry, _ := asynq.GetRetryCount(ctx)
	logCtx := logrus.WithFields(logrus.Fields{"task_type": t.Type(), "retry": currentRetry})

	payload, err := tasks.ParseGraceExpirePayload(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": payload.RoomID, "player_id": payload.PlayerID})

	result, err := h.presence.ExpireGrace(ctx, payload.RoomID, payload.PlayerID, payload.Since)
	if err != nil {
		logCtx.WithError(err).Warn("Grace expiry failed, will retry")
		return fmt.Errorf("grace expiry for %s/%s: %w", payload.RoomID, payload.PlayerID, err)
	}
	if result == nil {
		logCtx.Debug("Grace task was stale")
		return nil
	}
	logCtx.Info("Grace task removed player")
	return nil
}
