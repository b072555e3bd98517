// Package framesync owns the fences and semaphores that keep at most N frames
// in flight and order the graphics, compute and transfer lanes within a
// frame.
package framesync

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/inflight/gpu"
	"github.com/vkngwrapper/inflight/internal/invariant"
	"github.com/vkngwrapper/inflight/internal/logging"
)

// Registry is a ring of FrameSlots plus the lane ordering strategy picked at
// construction.
type Registry struct {
	device    gpu.Device
	slots     []*FrameSlot
	current   int
	lanes     laneSync
	timeline  bool
	logger    *slog.Logger
	destroyed bool
}

// New creates opts.FramesInFlight slots. Any failure destroys everything
// created so far.
func New(device gpu.Device, opts Options) (*Registry, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		device: device,
		lanes:  binaryLanes{},
		logger: logging.OrNop(opts.Logger),
	}

	for i := 0; i < opts.FramesInFlight; i++ {
		slot, err := newFrameSlot(device, i)
		if err != nil {
			r.release()
			return nil, errors.Wrapf(err, "frame slot %d", i)
		}
		r.slots = append(r.slots, slot)
	}

	if opts.PreferTimeline && device.SupportsTimelineSemaphores() {
		lanes, err := newTimelineLanes(device)
		switch {
		case err == nil:
			r.lanes = lanes
			r.timeline = true
		case errors.Is(err, gpu.ErrFeatureUnavailable):
			r.logger.Warn("timeline semaphores unavailable, using binary lane semaphores", slog.Any("err", err))
		default:
			r.release()
			return nil, err
		}
	}

	r.logger.Info("frame sync registry created",
		slog.Int("frames", len(r.slots)),
		slog.Bool("timeline", r.timeline))
	return r, nil
}

func (r *Registry) checkSlot(slot int) error {
	if err := invariant.Check(!r.destroyed, "frame sync registry used after destroy"); err != nil {
		return err
	}
	return invariant.Check(slot >= 0 && slot < len(r.slots), "frame slot %d out of range [0,%d)", slot, len(r.slots))
}

// Wait blocks until the slot's fence is signaled, without resetting it.
func (r *Registry) Wait(slot int, timeout time.Duration) error {
	if err := r.checkSlot(slot); err != nil {
		return err
	}
	return errors.Wrapf(r.slots[slot].fence.Wait(timeout), "wait for frame slot %d", slot)
}

// Reset returns the slot's fence to unsignaled. Only call it once the next
// submission that arms the fence is certain to happen.
func (r *Registry) Reset(slot int) error {
	if err := r.checkSlot(slot); err != nil {
		return err
	}
	return errors.Wrapf(r.slots[slot].fence.Reset(), "reset frame slot %d", slot)
}

// WaitAndReset waits for the slot's previous frame to retire and resets its
// fence for reuse.
func (r *Registry) WaitAndReset(slot int, timeout time.Duration) error {
	if err := r.Wait(slot, timeout); err != nil {
		return err
	}
	return r.Reset(slot)
}

// Advance moves to the next slot in the ring. It never blocks.
func (r *Registry) Advance() {
	if len(r.slots) == 0 {
		return
	}
	r.current = (r.current + 1) % len(r.slots)
}

func (r *Registry) Current() int { return r.current }

func (r *Registry) FramesInFlight() int { return len(r.slots) }

// Slot returns slot i, or nil if i is out of range.
func (r *Registry) Slot(i int) *FrameSlot {
	if i < 0 || i >= len(r.slots) {
		return nil
	}
	return r.slots[i]
}

func (r *Registry) CurrentSlot() *FrameSlot { return r.slots[r.current] }

// Timeline reports whether lanes are ordered with timeline semaphores.
func (r *Registry) Timeline() bool { return r.timeline }

// LaneSignals returns what lane's submission for frame must signal in slot.
func (r *Registry) LaneSignals(lane gpu.Lane, slot int, frame uint64) []gpu.SemaphoreSignal {
	return r.lanes.signals(lane, r.slots[slot], frame)
}

// LaneWait returns the wait another submission must add to run after lane's
// work for frame in slot, blocking stages.
func (r *Registry) LaneWait(lane gpu.Lane, slot int, frame uint64, stages gpu.PipelineStages) gpu.SemaphoreWait {
	return r.lanes.wait(lane, r.slots[slot], frame, stages)
}

// Signal sets lane's timeline from the host. Binary registries return an
// error marked gpu.ErrFeatureUnavailable.
func (r *Registry) Signal(lane gpu.Lane, value uint64) error {
	return r.lanes.signal(lane, value)
}

// WaitForValue blocks until lane's timeline reaches value.
func (r *Registry) WaitForValue(lane gpu.Lane, value uint64, timeout time.Duration) error {
	return r.lanes.waitForValue(lane, value, timeout)
}

// Value reads lane's timeline counter.
func (r *Registry) Value(lane gpu.Lane) (uint64, error) {
	return r.lanes.value(lane)
}

// Destroy waits for the device to go idle and destroys every primitive. The
// primitives are destroyed even if the wait fails.
func (r *Registry) Destroy() error {
	if r.destroyed {
		return nil
	}
	err := r.device.WaitIdle()
	r.release()
	r.destroyed = true
	r.logger.Info("frame sync registry destroyed")
	return errors.Wrap(err, "wait for device idle")
}

func (r *Registry) release() {
	r.lanes.destroy()
	for i := len(r.slots) - 1; i >= 0; i-- {
		r.slots[i].destroy()
	}
	r.slots = nil
}
