package domain

import (
	"errors"
	"fmt"
)

// Error classes. Specific errors wrap exactly one class so callers can
// branch with errors.Is without knowing every sentinel.
var (
	ErrPermission   = errors.New("permission denied")
	ErrPrecondition = errors.New("failed precondition")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("invalid request")
)

var (
	// ErrRoomNotFound is returned when a room code does not resolve.
	ErrRoomNotFound = fmt.Errorf("%w: room", ErrNotFound)
	// ErrPlayerNotFound is returned when a user has not joined the room.
	ErrPlayerNotFound = fmt.Errorf("%w: player", ErrNotFound)
	// ErrSubmissionNotFound means the answer was deleted or never written.
	ErrSubmissionNotFound = fmt.Errorf("%w: answer submission", ErrNotFound)
	// ErrBuzzNotFound means the buzz event was deleted or never written.
	ErrBuzzNotFound = fmt.Errorf("%w: buzz event", ErrNotFound)

	ErrNotHost  = fmt.Errorf("%w: caller is not the room host", ErrPermission)
	ErrNotAdmin = fmt.Errorf("%w: caller is not an administrator", ErrPermission)

	ErrAlreadyStarted  = fmt.Errorf("%w: room already started", ErrPrecondition)
	ErrNotStarted      = fmt.Errorf("%w: room not started", ErrPrecondition)
	ErrRoomFinished    = fmt.Errorf("%w: room already finished", ErrPrecondition)
	ErrNoPlayers       = fmt.Errorf("%w: room has no players", ErrPrecondition)
	ErrNoMoreQuestions = fmt.Errorf("%w: no more questions, finish the room instead", ErrPrecondition)
	ErrStaleTransition = fmt.Errorf("%w: room changed concurrently, re-read and retry", ErrPrecondition)
	ErrRoomFull        = fmt.Errorf("%w: room is full", ErrPrecondition)
	ErrRoomExists      = fmt.Errorf("%w: room code already in use", ErrPrecondition)

	ErrInvalidRoom = fmt.Errorf("%w: room definition", ErrValidation)
)
