package flow

import (
	"errors"
	"fmt"

	"github.com/tidehq/tide/persistence"
)

// TransientError marks a retryable failure: network errors, rate limits,
// timeouts. The run aborts without advancing past the failing item and the
// scheduler retries with backoff.
type TransientError struct {
	Err error
}

func (e TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks an item that will never succeed: malformed content
// or rejection by the destination. The item is recorded as a failure and
// the watermark advances past it so one bad item can not stall a workflow.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e PermanentError) Unwrap() error {
	return e.Err
}

// EscalationError is not a failure: a filter or publisher raises it when a
// business rule says a human must decide. The runner routes the item to the
// escalator instead.
type EscalationError struct {
	Reason string
}

func (e EscalationError) Error() string {
	return fmt.Sprintf("escalation required: %s", e.Reason)
}

func IsTransient(err error) bool {
	var te TransientError
	if errors.As(err, &te) {
		return true
	}
	// storage failures are always retryable
	var se persistence.StorageLayerError
	return errors.As(err, &se)
}

func IsPermanent(err error) bool {
	var pe PermanentError
	return errors.As(err, &pe)
}

func IsEscalationRequired(err error) bool {
	var ee EscalationError
	return errors.As(err, &ee)
}
