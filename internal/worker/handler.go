package worker

import (
	"context"
	"errors"
)

// JobHandler executes one job type. Type must match the job_type column
// the job was enqueued with; Handle receives the raw JSON payload.
type JobHandler interface {
	Type() string
	Handle(ctx context.Context, payload []byte) error
}

// PermanentError marks a job failure that a retry cannot fix, such as a
// missing subscription or an invalid status transition. The job is failed
// immediately instead of being rescheduled.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or anything it wraps is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
