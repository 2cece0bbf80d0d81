package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task types.
const (
	TypeGraceExpire     = "presence:grace_expire"
	TypeSnapshotArchive = "snapshot:archive"
)

// Queues, by priority.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// GraceExpirePayload identifies the disconnect a grace task was scheduled for.
type GraceExpirePayload struct {
	RoomID   string    `json:"room_id"`
	PlayerID string    `json:"player_id"`
	Since    time.Time `json:"since"`
}

// GraceTaskID is the deterministic id of a player's pending grace task.
func GraceTaskID(roomID, playerID string) string {
	return "grace:" + roomID + ":" + playerID
}

// NewGraceExpireTask builds the task that expires a player's grace period.
func NewGraceExpireTask(roomID, playerID string, since time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(GraceExpirePayload{RoomID: roomID, PlayerID: playerID, Since: since})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal grace payload: %w", err)
	}
	return asynq.NewTask(TypeGraceExpire, payload, asynq.Queue(QueueCritical), asynq.MaxRetry(3)), nil
}

// ParseGraceExpirePayload decodes a grace task.
func ParseGraceExpirePayload(t *asynq.Task) (GraceExpirePayload, error) {
	var p GraceExpirePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal grace payload: %w", err)
	}
	if p.RoomID == "" || p.PlayerID == "" {
		return p, fmt.Errorf("grace payload missing room or player id")
	}
	return p, nil
}

// NewSnapshotArchiveTask builds the periodic archive task. It carries no payload.
func NewSnapshotArchiveTask() *asynq.Task {
	return asynq.NewTask(TypeSnapshotArchive, nil, asynq.Queue(QueueLow), asynq.MaxRetry(0))
}
