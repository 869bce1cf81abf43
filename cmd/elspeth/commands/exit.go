package commands

import "errors"

// Exit codes: 0 success; 1 user error (config invalid, unreachable
// node); 2 runtime error; 3 partial (some rows quarantined); 64 unexpected.
const (
	ExitOK          = 0
	ExitUserError   = 1
	ExitRuntime     = 2
	ExitPartial     = 3
	ExitUnexpected  = 64
)

// userError marks a failure as a config/graph problem (exit 1).
type userError struct{ cause error }

func (e *userError) Error() string { return e.cause.Error() }
func (e *userError) Unwrap() error { return e.cause }

// UserError wraps err so ExitCodeFor reports exit code 1 for it.
func UserError(err error) error {
	if err == nil {
		return nil
	}
	return &userError{cause: err}
}

// partialError marks a run that completed but quarantined rows (exit 3).
type partialError struct{ cause error }

func (e *partialError) Error() string { return e.cause.Error() }
func (e *partialError) Unwrap() error { return e.cause }

// PartialError wraps err so ExitCodeFor reports exit code 3 for it.
func PartialError(err error) error {
	if err == nil {
		return nil
	}
	return &partialError{cause: err}
}

// ExitCodeFor classifies an error from a command's RunE into the exit code
// the CLI reports. A nil error is exit 0. Errors not wrapped with
// UserError/PartialError, including cobra's own "unknown command" errors,
// are treated as runtime errors (exit 2).
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *userError
	if errors.As(err, &ue) {
		return ExitUserError
	}
	var pe *partialError
	if errors.As(err, &pe) {
		return ExitPartial
	}
	return ExitRuntime
}
