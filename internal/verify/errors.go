package verify

import (
	"errors"
	"fmt"
)

// Verify error types.
var (
	// ErrTreeMismatch is matched by the terminal error of a walk with failures.
	ErrTreeMismatch = errors.New("tree mismatch")
	// ErrRootNotFound means the live root does not exist or is not a directory.
	ErrRootNotFound = errors.New("live root not found")
)

// TreeMismatchError is returned by CompareTrees when at least one pair failed.
// Log holds the full aggregated diff log.
type TreeMismatchError struct {
	Root     string
	Failures int
	Log      string
}

func (e *TreeMismatchError) Error() string {
	return fmt.Sprintf("%s: %d failure(s) under %s\n%s", ErrTreeMismatch, e.Failures, e.Root, e.Log)
}

// Is reports whether target is ErrTreeMismatch.
func (e *TreeMismatchError) Is(target error) bool {
	return target == ErrTreeMismatch
}
