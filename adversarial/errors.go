package adversarial

import (
	"fmt"

	"github.com/openfluke/yopo/nn"
	"github.com/pkg/errors"
)

var (
	// ErrInvalidArgument reports shape mismatches, unknown norms and
	// out-of-range budgets.
	ErrInvalidArgument = nn.ErrInvalidArgument

	// ErrComputation reports that a requested gradient could not be produced.
	// It is fatal for the batch.
	ErrComputation = nn.ErrComputation
)

func invalidArgument(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

// computationError keeps an already classified cause and files anything
// else under ErrComputation.
func computationError(cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case cause == nil:
		return errors.Wrap(ErrComputation, msg)
	case errors.Is(cause, ErrComputation), errors.Is(cause, ErrInvalidArgument):
		return errors.Wrap(cause, msg)
	default:
		return errors.Wrapf(ErrComputation, "%s: %v", msg, cause)
	}
}
