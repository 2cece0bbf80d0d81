package service

import (
	"errors"

	"multiplayer-life/internal/repository"
)

// Authorization errors. These are reported to the originating caller only.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrInvalidRoomID  = errors.New("invalid room id")
	ErrRoomFull       = errors.New("room is full")
	ErrGameInProgress = errors.New("game already in progress")
	ErrNotHost        = errors.New("only the host can do that")
	ErrPlayerInactive = errors.New("player is inactive")
	ErrNotMember      = errors.New("player is not a member of this room")
	ErrNotJoined      = errors.New("join a room first")
	ErrTokenMismatch  = errors.New("session token does not match this player")
)

// ErrSnapshotNotFound means the archive holds nothing for the room.
var ErrSnapshotNotFound = errors.New("no snapshot archived for this room")

// Game status state machine errors.
var (
	ErrInvalidTransition  = errors.New("invalid game status transition")
	ErrGameNotStarted     = errors.New("game has not started")
	ErrGameAlreadyStarted = errors.New("game has already started")
	ErrPlayersInactive    = errors.New("all players must be active to start")
)

// Validation errors.
var (
	ErrInvalidPlayerID = errors.New("invalid player id")
	ErrInvalidName     = errors.New("invalid player name")
	ErrInvalidCell     = errors.New("cell position out of range")
	ErrInvalidColor    = errors.New("invalid color")
	ErrInvalidStatus   = errors.New("invalid game status")
	ErrTooManyUpdates  = errors.New("too many updates in one message")
	ErrInvalidMessage  = errors.New("invalid message")
)

// Concurrency and process-level errors.
var (
	ErrConcurrencyConflict = errors.New("state changed concurrently, retries exhausted")
	ErrInternalServer      = errors.New("internal server error")
)

var publicErrors = []error{
	ErrRoomNotFound, ErrInvalidRoomID, ErrRoomFull, ErrGameInProgress, ErrNotHost,
	ErrPlayerInactive, ErrNotMember, ErrNotJoined, ErrTokenMismatch,
	ErrInvalidTransition, ErrGameNotStarted, ErrGameAlreadyStarted, ErrPlayersInactive,
	ErrInvalidPlayerID, ErrInvalidName, ErrInvalidCell, ErrInvalidColor, ErrInvalidStatus,
	ErrTooManyUpdates, ErrInvalidMessage, ErrConcurrencyConflict, ErrSnapshotNotFound, ErrInvalidToken,
}

// PublicMessage returns the text that may be shown to a client for err. Anything
// not in the service taxonomy collapses to the generic internal error.
func PublicMessage(err error) string {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return ErrInternalServer.Error()
}

// mapRepoError translates repository failures into service errors.
func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return ErrRoomNotFound
	}
	return ErrInternalServer
}
