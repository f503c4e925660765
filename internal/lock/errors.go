package lock

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrLockConflict = errors.New("lock conflict")
	ErrInvalidLock  = errors.New("invalid lock")
)

// ConflictError reports the lock that prevented an acquisition. Callers should
// back off and retry later.
type ConflictError struct {
	Want Type
	Held Lock
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: cannot acquire %s lock, %s is held until %s",
		ErrLockConflict, e.Want, e.Held, e.Held.ExpiresAt.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrLockConflict
}
