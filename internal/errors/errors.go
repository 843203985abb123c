package errors

import (
	"errors"
	"fmt"
)

// Common storage errors shared by the token store tiers
var (
	ErrNotFound           = errors.New("not found")
	ErrCorrupt            = errors.New("corrupt value")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrClosed             = errors.New("storage closed")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

