package nn

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument reports a malformed argument: shape mismatches,
	// unknown enum values, non-positive layer sizing.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrComputation reports that a gradient could not be produced for a
	// requested value, e.g. backward without a recorded forward pass.
	// It signals a structural bug and is never retried.
	ErrComputation = errors.New("computation error")
)

func invalidArgument(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}

func computationError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrComputation, format, args...)
}
