package convert

import (
	"errors"
	"fmt"
)

// ErrNoOutput reports that the converter exited zero without writing output.
var ErrNoOutput = errors.New("conversion failed - output file not created")

// InputError reports an upload that was rejected before any work started.
type InputError struct {
	Message  string
	TooLarge bool
}

func (e *InputError) Error() string { return e.Message }

func invalidInput(format string, args ...any) *InputError {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}
