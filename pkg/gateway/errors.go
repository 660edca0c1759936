package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ExitError describes a command that could not start or exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int // -1 when the process never ran or was killed
	Output   string
	Cause    error
}

func (e *ExitError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("Command '%s' returned non-zero exit status %d.", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("Command '%s' failed: %v", e.Command, e.Cause)
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

type exitCoder interface {
	ExitCode() int
}

func exitCode(err error) int {
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

func newExitError(ctx context.Context, line string, out []byte, err error) *ExitError {
	e := &ExitError{
		Command:  line,
		ExitCode: exitCode(err),
		Output:   string(out),
		Cause:    err,
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		e.ExitCode = -1
		e.Cause = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return e
}
