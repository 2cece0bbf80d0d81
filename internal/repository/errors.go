package repository

import "errors"

// Common repository errors.
var (
	// ErrNotFound means the requested record does not exist (or has expired).
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry means a write violated a uniqueness constraint.
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
	// ErrConflict means a compare-and-swap lost against a concurrent writer.
	ErrConflict = errors.New("repository: optimistic concurrency conflict")
)

// Resource-specific aliases.
var (
	ErrRoomNotFound      = ErrNotFound
	ErrGameStateNotFound = ErrNotFound
	ErrSnapshotNotFound  = ErrNotFound
)
