package merklebuild

import (
	"errors"
	"fmt"
)

// ErrSymlinkLoop is wrapped by every *CycleError
var ErrSymlinkLoop = errors.New("symlink loop detected")

// CycleError reports a directory that was re-entered through a symlink while
// its own hash was still being calculated
type CycleError struct {
	Path string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: symlink loop detected, cannot calculate directory hash", e.Path)
}

func (e *CycleError) Unwrap() error {
	return ErrSymlinkLoop
}
