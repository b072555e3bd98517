package framesync

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
)

// laneSync decides how one lane's completion is made visible to the lanes and
// the presentation that depend on it.
type laneSync interface {
	signals(lane gpu.Lane, slot *FrameSlot, frame uint64) []gpu.SemaphoreSignal
	wait(lane gpu.Lane, slot *FrameSlot, frame uint64, stages gpu.PipelineStages) gpu.SemaphoreWait
	signal(lane gpu.Lane, value uint64) error
	waitForValue(lane gpu.Lane, value uint64, timeout time.Duration) error
	value(lane gpu.Lane) (uint64, error)
	destroy()
}

var errNoTimeline = errors.Mark(errors.New("lane timelines need timeline semaphores"), gpu.ErrFeatureUnavailable)

// binaryLanes orders lanes through each slot's binary finished semaphores.
type binaryLanes struct{}

func (binaryLanes) signals(lane gpu.Lane, slot *FrameSlot, frame uint64) []gpu.SemaphoreSignal {
	return []gpu.SemaphoreSignal{{Semaphore: slot.finished[lane]}}
}

func (binaryLanes) wait(lane gpu.Lane, slot *FrameSlot, frame uint64, stages gpu.PipelineStages) gpu.SemaphoreWait {
	return gpu.SemaphoreWait{Semaphore: slot.finished[lane], Stages: stages}
}

func (binaryLanes) signal(gpu.Lane, uint64) error { return errNoTimeline }

func (binaryLanes) waitForValue(gpu.Lane, uint64, time.Duration) error { return errNoTimeline }

func (binaryLanes) value(gpu.Lane) (uint64, error) { return 0, errNoTimeline }

func (binaryLanes) destroy() {}

// timelineLanes gives every lane one timeline semaphore. Frame k completes
// lane L at value k+1, so a single semaphore orders every frame of the lane.
// Presentation still needs the binary render-finished semaphore, which the
// graphics lane signals alongside its timeline.
type timelineLanes struct {
	timelines [gpu.LaneCount]gpu.TimelineSemaphore
}

func newTimelineLanes(device gpu.Device) (*timelineLanes, error) {
	t := &timelineLanes{}
	for _, lane := range gpu.Lanes() {
		sem, err := device.CreateTimelineSemaphore(0)
		if err != nil {
			t.destroy()
			if errors.Is(err, gpu.ErrFeatureUnavailable) {
				return nil, err
			}
			return nil, gpu.CreationFailed(err, lane.String()+" timeline semaphore")
		}
		gpu.Label(sem, lane.String()+" timeline")
		t.timelines[lane] = sem
	}
	return t, nil
}

func completionValue(frame uint64) uint64 { return frame + 1 }

func (t *timelineLanes) signals(lane gpu.Lane, slot *FrameSlot, frame uint64) []gpu.SemaphoreSignal {
	out := []gpu.SemaphoreSignal{{Semaphore: t.timelines[lane], Value: completionValue(frame)}}
	if lane == gpu.LaneGraphics {
		out = append(out, gpu.SemaphoreSignal{Semaphore: slot.RenderFinished()})
	}
	return out
}

func (t *timelineLanes) wait(lane gpu.Lane, slot *FrameSlot, frame uint64, stages gpu.PipelineStages) gpu.SemaphoreWait {
	return gpu.SemaphoreWait{Semaphore: t.timelines[lane], Stages: stages, Value: completionValue(frame)}
}

func (t *timelineLanes) signal(lane gpu.Lane, value uint64) error {
	return errors.Wrapf(t.timelines[lane].Signal(value), "signal %s timeline", lane)
}

func (t *timelineLanes) waitForValue(lane gpu.Lane, value uint64, timeout time.Duration) error {
	return errors.Wrapf(t.timelines[lane].WaitValue(value, timeout), "wait %s timeline for %d", lane, value)
}

func (t *timelineLanes) value(lane gpu.Lane) (uint64, error) {
	v, err := t.timelines[lane].Value()
	return v, errors.Wrapf(err, "read %s timeline", lane)
}

func (t *timelineLanes) destroy() {
	for i, sem := range t.timelines {
		if sem != nil {
			sem.Destroy()
			t.timelines[i] = nil
		}
	}
}
