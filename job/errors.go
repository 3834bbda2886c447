package job

import "errors"

var (
	ErrAlreadyConverted = errors.New("item already converted; revert it first")
	ErrCommitFailed     = errors.New("failed to commit converted file")
)

// ValidationError rejects a request before anything is queued or mutated
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }
