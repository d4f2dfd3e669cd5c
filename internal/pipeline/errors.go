package pipeline

import "errors"

var (
	// ErrValidation marks malformed requests and job input. Jobs failing
	// validation are never retried.
	ErrValidation = errors.New("validation error")
	// ErrNotCancelable is returned when canceling a run that already left
	// the queue.
	ErrNotCancelable = errors.New("run is not cancelable")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with
// Permanent or is a validation error.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || errors.Is(err, ErrValidation)
}
