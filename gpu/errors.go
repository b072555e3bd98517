package gpu

import "github.com/cockroachdb/errors"

// Error classes. Implementations mark their errors with these using
// errors.Mark so that callers can test with errors.Is without losing the
// original message.
var (
	ErrResourceCreation   = errors.New("gpu: resource creation failed")
	ErrTimeout            = errors.New("gpu: wait timed out")
	ErrDeviceLost         = errors.New("gpu: device lost")
	ErrOutOfDate          = errors.New("gpu: swapchain out of date")
	ErrSuboptimal         = errors.New("gpu: swapchain suboptimal")
	ErrInvalidState       = errors.New("gpu: invalid state")
	ErrFeatureUnavailable = errors.New("gpu: feature unavailable")
)

// CreationFailed wraps err as a resource creation failure for what.
func CreationFailed(err error, what string) error {
	return errors.Mark(errors.Wrapf(err, "create %s", what), ErrResourceCreation)
}

// IsFatal reports whether err means the device-dependent state must be torn
// down and recreated.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}
