package codes

import (
	"errors"
	"os/exec"
	"strconv"
)

const (
	// Success is returned when xbuild and the delegated cargo both succeed
	Success = 0

	// InternalError is returned for every failure xbuild reports itself
	InternalError = 1

	// CargoFailure is what cargo and rustc exit with on compile errors
	CargoFailure = 101
)

// ErrorCodes maps the exit codes xbuild commonly forwards to their descriptions
var ErrorCodes = map[int]string{
	Success:       "Success",
	InternalError: "Internal error",
	CargoFailure:  "Compilation failed",
	130:           "Interrupted",
}

// IsSuccess returns true if the exit code indicates success
func IsSuccess(code int) bool {
	return code == Success
}

// GetErrorMessage returns the error message for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := ErrorCodes[code]; ok {
		return msg
	}

	return "Unknown error"
}

// ExitError carries a child process status that must be forwarded verbatim
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "child process exited with status " + strconv.Itoa(e.Code)
}

// ExitCode picks the process exit status for err: the child's own status for
// a forwarded failure, InternalError for anything else
func ExitCode(err error) int {
	if err == nil {
		return Success
	}

	var forwarded *ExitError
	if errors.As(err, &forwarded) {
		return forwarded.Code
	}

	return InternalError
}

// FromExec converts an *exec.ExitError into an *ExitError, or returns err unchanged
func FromExec(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// killed by a signal
			code = InternalError
		}

		return &ExitError{Code: code}
	}

	return err
}
