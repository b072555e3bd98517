package frame

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/inflight/framesync"
	"github.com/vkngwrapper/inflight/gpu"
	"github.com/vkngwrapper/inflight/swapchain"
)

// DefaultCrossLaneWaitStages are the graphics stages that wait for each
// other lane's work of the same frame.
var DefaultCrossLaneWaitStages = [gpu.LaneCount]gpu.PipelineStages{
	gpu.LaneCompute:  gpu.StageVertexInput | gpu.StageVertexShader | gpu.StageFragmentShader,
	gpu.LaneTransfer: gpu.StageTransfer | gpu.StageVertexInput | gpu.StageFragmentShader,
}

// imageAvailableStages matches the external dependency of the render pass on
// the swapchain image.
const imageAvailableStages = gpu.StageColorAttachmentOutput | gpu.StageEarlyFragmentTests

type Config struct {
	FramesInFlight int
	// FenceTimeout bounds each wait on a frame fence.
	FenceTimeout time.Duration
	// FenceRetries is how many timed-out fence waits are logged and retried
	// before the timeout is returned. Zero makes the first timeout final.
	FenceRetries   int
	AcquireTimeout time.Duration
	// Lanes are recorded and submitted every frame. Graphics is required.
	Lanes []gpu.Lane
	// ParallelRecording records the lanes on separate goroutines.
	ParallelRecording   bool
	CrossLaneWaitStages [gpu.LaneCount]gpu.PipelineStages
	// PreferTimeline orders lanes with timeline semaphores when available.
	PreferTimeline bool
	Swapchain      swapchain.Config
	Logger         *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		FramesInFlight:      framesync.DefaultFramesInFlight,
		FenceTimeout:        gpu.NoTimeout,
		AcquireTimeout:      gpu.NoTimeout,
		Lanes:               gpu.Lanes(),
		CrossLaneWaitStages: DefaultCrossLaneWaitStages,
		PreferTimeline:      true,
		Swapchain:           swapchain.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	if c.FramesInFlight < 1 {
		return errors.Newf("frames in flight must be at least 1, got %d", c.FramesInFlight)
	}
	if c.FenceRetries < 0 {
		return errors.Newf("fence retries must not be negative, got %d", c.FenceRetries)
	}
	var seen [gpu.LaneCount]bool
	for _, lane := range c.Lanes {
		if !lane.Valid() {
			return errors.Newf("unknown lane %d", int(lane))
		}
		if seen[lane] {
			return errors.Newf("lane %s listed twice", lane)
		}
		seen[lane] = true
		if lane != gpu.LaneGraphics && c.CrossLaneWaitStages[lane] == 0 {
			return errors.Newf("cross-lane wait stages for the %s lane must not be empty", lane)
		}
	}
	if !seen[gpu.LaneGraphics] {
		return errors.New("the graphics lane is required")
	}
	return errors.Wrap(c.Swapchain.Validate(), "swapchain")
}
