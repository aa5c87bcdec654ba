package engine

import (
	"errors"
	"fmt"

	"remindkit/internal/models"
)

var (
	ErrValidation       = errors.New("invalid reminder request")
	ErrPermissionDenied = errors.New("permission denied")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrPlatform         = errors.New("platform scheduling failed")
	ErrNotFound         = errors.New("reminder not found")
)

// ValidationError rejects a request before any platform call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type PermissionError struct {
	Track models.Track
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s permission not granted", e.Track)
}

func (e *PermissionError) Is(target error) bool { return target == ErrPermissionDenied }

// CapacityError reports how many slots a request needed against how many
// were left on the track.
type CapacityError struct {
	Track     models.Track
	Required  int
	Remaining int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s track: need %d slots, %d remaining (deficit %d)", e.Track, e.Required, e.Remaining, e.Deficit())
}

// Deficit is the number of slots missing.
func (e *CapacityError) Deficit() int {
	if d := e.Required - e.Remaining; d > 0 {
		return d
	}
	return 0
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExceeded }

// PlatformError wraps a failed register/cancel/snooze call.
type PlatformError struct {
	Track models.Track
	Op    string
	ID    string
	Err   error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Track, e.Op, e.ID, e.Err)
}

func (e *PlatformError) Unwrap() error { return e.Err }

func (e *PlatformError) Is(target error) bool { return target == ErrPlatform }
