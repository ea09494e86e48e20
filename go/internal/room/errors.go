package room

import "errors"

var (
	// ErrRoomNotFound is returned when a room id or code does not resolve to a room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrStoreWrite wraps failed store writes.
	ErrStoreWrite = errors.New("store write failed")
	// ErrStoreRead wraps failed store reads and subscriptions.
	ErrStoreRead = errors.New("store read failed")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrCodeUnavailable is returned when no unused room code could be generated.
	ErrCodeUnavailable = errors.New("no unused room code")
)

// ValidationError rejects an action before any store call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

const (
	msgNotFound = "Room not found. Please check the code."
	msgGeneric  = "Something went wrong. Please try again."
)

// UserMessage turns an action error into text safe to show to a participant.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	if errors.Is(err, ErrRoomNotFound) {
		return msgNotFound
	}
	return msgGeneric
}
