package ingredient

import (
	"errors"
	"fmt"
)

var (
	// ErrInputTooLong is terminal for the line.
	ErrInputTooLong = errors.New("input too long")
	// ErrOutOfCredits is terminal for the whole batch.
	ErrOutOfCredits = errors.New("provider out of credits")
	// ErrUnparsableModelOutput is retried until the attempt budget runs out.
	ErrUnparsableModelOutput = errors.New("unparsable model output")
	// ErrProviderTransient is left to the queue's own backoff.
	ErrProviderTransient = errors.New("provider transient error")
	// ErrStoreInconsistency means an aggregate or correlation record is missing or malformed.
	ErrStoreInconsistency = errors.New("store inconsistency")
)

// ProviderError is an inference provider rejection. It unwraps to one of the
// sentinels above so callers classify with errors.Is.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	Kind       error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// StatusFor maps a dispatch error to the status its fallback outcome carries.
func StatusFor(err error) Status {
	switch {
	case errors.Is(err, ErrInputTooLong):
		return StatusLineTooLong
	case errors.Is(err, ErrUnparsableModelOutput):
		return StatusUnparsableModelOutput
	default:
		return StatusProviderError
	}
}
