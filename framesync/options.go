package framesync

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// DefaultFramesInFlight is how many frames the CPU may record ahead of the GPU.
const DefaultFramesInFlight = 3

type Options struct {
	// FramesInFlight is the number of frame slots. Must be at least 1.
	FramesInFlight int
	// PreferTimeline selects timeline semaphores for cross-lane ordering when
	// the device supports them.
	PreferTimeline bool
	Logger         *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		FramesInFlight: DefaultFramesInFlight,
		PreferTimeline: true,
	}
}

func (o Options) Validate() error {
	if o.FramesInFlight < 1 {
		return errors.Newf("frames in flight must be at least 1, got %d", o.FramesInFlight)
	}
	return nil
}
