// Package invariant reports programmer errors in the frame pipeline. Builds
// tagged inflightdebug panic at the violation; other builds return an error
// marked gpu.ErrInvalidState.
package invariant

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
)

// Check returns nil if cond holds.
func Check(cond bool, format string, args ...interface{}) error {
	if cond {
		return nil
	}
	err := errors.Mark(errors.Newf(format, args...), gpu.ErrInvalidState)
	if panicOnViolation {
		panic(err)
	}
	return err
}
