package storemode

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLoaded is returned when no store is attached.
	ErrNotLoaded = errors.New("data store not loaded")

	// ErrReentrantRebuild is returned when a mode change is requested from
	// inside the main execution context, which the rebuild needs to own.
	ErrReentrantRebuild = errors.New("mode change requested from inside the main context")
)

// AttachError reports that the engine could not be attached at all. It is the
// only unrecoverable error the controller produces.
type AttachError struct {
	Mode Mode
	Path string
	Err  error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach %s store at %s: %v", e.Mode, e.Path, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}

// IsAttachError reports whether err is (or wraps) an AttachError.
func IsAttachError(err error) bool {
	var ae *AttachError
	return errors.As(err, &ae)
}
