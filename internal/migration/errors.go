package migration

import (
	"errors"
	"fmt"
)

var (
	ErrTargetTooNew    = errors.New("sync target too new")
	ErrTargetTooOld    = errors.New("sync target too old")
	ErrMigrationFailed = errors.New("migration failed")
)

// VersionError is a skew between the target and what the client supports.
type VersionError struct {
	Target    int
	Supported int
}

func (e *VersionError) Error() string {
	if e.Target > e.Supported {
		return fmt.Sprintf("sync version of the target (%d) is greater than the version supported by the client (%d), please upgrade your client", e.Target, e.Supported)
	}
	return fmt.Sprintf("sync version of the target (%d) is lower than the version supported by the client (%d), please upgrade the sync target", e.Target, e.Supported)
}

func (e *VersionError) Is(target error) bool {
	switch target {
	case ErrTargetTooNew:
		return e.Target > e.Supported
	case ErrTargetTooOld:
		return e.Target < e.Supported
	}
	return false
}

// MigrationError is a failed upgrade step. The descriptor still holds the
// version before Version, so running the upgrade again is safe.
type MigrationError struct {
	Version int
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%s: version %d: %v", ErrMigrationFailed, e.Version, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

func (e *MigrationError) Is(target error) bool {
	return target == ErrMigrationFailed
}
