// Package command owns one command pool per lane and one primary command
// buffer per lane per frame slot, and tracks where each buffer is in its
// record/submit cycle.
package command

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/inflight/gpu"
	"github.com/vkngwrapper/inflight/internal/invariant"
	"github.com/vkngwrapper/inflight/internal/logging"
)

type State int

const (
	StateInitial State = iota
	StateRecording
	StateExecutable
	// StatePending: submitted. The buffer stays pending until the frame
	// slot's fence has been waited on and the buffer is begun again.
	StatePending
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateRecording:
		return "recording"
	case StateExecutable:
		return "executable"
	case StatePending:
		return "pending"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Options struct {
	FramesInFlight int
	Logger         *slog.Logger
}

func (o Options) Validate() error {
	if o.FramesInFlight < 1 {
		return errors.Newf("frames in flight must be at least 1, got %d", o.FramesInFlight)
	}
	return nil
}

type lanePool struct {
	pool        gpu.CommandPool
	buffers     []gpu.CommandBuffer
	states      []State
	submissions uint64
}

func (p *lanePool) destroy() {
	if p.pool == nil {
		return
	}
	if len(p.buffers) > 0 {
		p.pool.Free(p.buffers...)
	}
	p.pool.Destroy()
	p.pool = nil
	p.buffers = nil
}

// Manager is not safe for concurrent use, except that different lanes may be
// recorded (Begin, End) from different goroutines at the same time.
type Manager struct {
	device    gpu.Device
	lanes     [gpu.LaneCount]*lanePool
	frames    int
	logger    *slog.Logger
	destroyed bool
}

// New creates a resettable pool on each lane's queue family and allocates
// opts.FramesInFlight primary buffers from it. On failure everything created
// so far is destroyed.
func New(device gpu.Device, opts Options) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		device: device,
		frames: opts.FramesInFlight,
		logger: logging.OrNop(opts.Logger),
	}

	for _, lane := range gpu.Lanes() {
		family := device.QueueFamily(lane)
		pool, err := device.CreateCommandPool(family)
		if err != nil {
			m.release()
			return nil, gpu.CreationFailed(err, lane.String()+" command pool")
		}
		gpu.Label(pool, lane.String()+" pool")
		lp := &lanePool{pool: pool}
		m.lanes[lane] = lp

		lp.buffers, err = pool.Allocate(opts.FramesInFlight)
		if err != nil {
			m.release()
			return nil, gpu.CreationFailed(err, lane.String()+" command buffers")
		}
		lp.states = make([]State, opts.FramesInFlight)

		m.logger.Debug("command pool created",
			slog.String("lane", lane.String()),
			slog.Int("family", family),
			slog.Int("buffers", opts.FramesInFlight))
	}
	return m, nil
}

func (m *Manager) check(lane gpu.Lane, slot int) error {
	if err := invariant.Check(!m.destroyed, "command manager used after destroy"); err != nil {
		return err
	}
	if err := invariant.Check(lane.Valid(), "unknown lane %d", int(lane)); err != nil {
		return err
	}
	return invariant.Check(slot >= 0 && slot < m.frames, "frame slot %d out of range [0,%d)", slot, m.frames)
}

// Begin resets the lane's buffer for slot and starts recording it for a single
// submission. The caller must already have waited on the slot's fence.
func (m *Manager) Begin(lane gpu.Lane, slot int) (gpu.CommandBuffer, error) {
	if err := m.check(lane, slot); err != nil {
		return nil, err
	}
	lp := m.lanes[lane]
	if err := invariant.Check(lp.states[slot] != StateRecording,
		"%s command buffer for slot %d is already recording", lane, slot); err != nil {
		return nil, err
	}

	buf := lp.buffers[slot]
	if err := buf.Reset(); err != nil {
		return nil, errors.Wrapf(err, "reset %s command buffer %d", lane, slot)
	}
	lp.states[slot] = StateInitial
	if err := buf.Begin(); err != nil {
		return nil, errors.Wrapf(err, "begin %s command buffer %d", lane, slot)
	}
	lp.states[slot] = StateRecording
	return buf, nil
}

// End finishes recording.
func (m *Manager) End(lane gpu.Lane, slot int) error {
	if err := m.check(lane, slot); err != nil {
		return err
	}
	lp := m.lanes[lane]
	if err := invariant.Check(lp.states[slot] == StateRecording,
		"end %s command buffer for slot %d in state %s", lane, slot, lp.states[slot]); err != nil {
		return err
	}
	if err := lp.buffers[slot].End(); err != nil {
		return errors.Wrapf(err, "end %s command buffer %d", lane, slot)
	}
	lp.states[slot] = StateExecutable
	return nil
}

// Submit enqueues the recorded buffer on the lane's queue. fence may be nil.
func (m *Manager) Submit(lane gpu.Lane, slot int, waits []gpu.SemaphoreWait, signals []gpu.SemaphoreSignal, fence gpu.Fence) error {
	if err := m.check(lane, slot); err != nil {
		return err
	}
	lp := m.lanes[lane]
	if err := invariant.Check(lp.states[slot] == StateExecutable,
		"submit %s command buffer for slot %d in state %s", lane, slot, lp.states[slot]); err != nil {
		return err
	}

	err := m.device.Queue(lane).Submit(gpu.SubmitInfo{
		CommandBuffers: []gpu.CommandBuffer{lp.buffers[slot]},
		Waits:          waits,
		Signals:        signals,
	}, fence)
	if err != nil {
		return errors.Wrapf(err, "submit %s command buffer %d", lane, slot)
	}
	lp.states[slot] = StatePending
	lp.submissions++
	return nil
}

// Current returns the lane's buffer for slot while it is recording, and nil
// otherwise.
func (m *Manager) Current(lane gpu.Lane, slot int) gpu.CommandBuffer {
	if m.check(lane, slot) != nil {
		return nil
	}
	lp := m.lanes[lane]
	if lp.states[slot] != StateRecording {
		return nil
	}
	return lp.buffers[slot]
}

func (m *Manager) State(lane gpu.Lane, slot int) State {
	return m.lanes[lane].states[slot]
}

// Submissions returns how many frame submissions the lane has made.
func (m *Manager) Submissions(lane gpu.Lane) uint64 {
	return m.lanes[lane].submissions
}

// Immediate records and submits a one-off command buffer on lane and waits
// for it to finish. It is meant for setup work such as uploads, not for
// per-frame use.
func (m *Manager) Immediate(lane gpu.Lane, timeout time.Duration, record func(cmd gpu.CommandBuffer) error) (err error) {
	if err := m.check(lane, 0); err != nil {
		return err
	}
	lp := m.lanes[lane]

	bufs, err := lp.pool.Allocate(1)
	if err != nil {
		return gpu.CreationFailed(err, lane.String()+" one-shot command buffer")
	}
	buf := bufs[0]

	fence, err := m.device.CreateFence(false)
	if err != nil {
		lp.pool.Free(buf)
		return gpu.CreationFailed(err, "one-shot fence")
	}
	// The buffer and fence may only be released once the submission is
	// known to have retired, or if it never happened.
	submitted := false
	defer func() {
		if submitted && err != nil && !gpu.IsFatal(err) {
			if idleErr := m.device.Queue(lane).WaitIdle(); idleErr != nil {
				err = errors.CombineErrors(err, idleErr)
			}
		}
		fence.Destroy()
		lp.pool.Free(buf)
	}()

	if err = buf.Begin(); err != nil {
		return errors.Wrapf(err, "begin %s one-shot command buffer", lane)
	}
	if err = record(buf); err != nil {
		return errors.Wrapf(err, "record %s one-shot command buffer", lane)
	}
	if err = buf.End(); err != nil {
		return errors.Wrapf(err, "end %s one-shot command buffer", lane)
	}
	err = m.device.Queue(lane).Submit(gpu.SubmitInfo{CommandBuffers: []gpu.CommandBuffer{buf}}, fence)
	if err != nil {
		return errors.Wrapf(err, "submit %s one-shot command buffer", lane)
	}
	submitted = true
	return errors.Wrapf(fence.Wait(timeout), "wait for %s one-shot command buffer", lane)
}

// Destroy frees every buffer and pool. The device must be idle.
func (m *Manager) Destroy() {
	if m.destroyed {
		return
	}
	m.release()
	m.destroyed = true
}

func (m *Manager) release() {
	for i := len(m.lanes) - 1; i >= 0; i-- {
		if m.lanes[i] != nil {
			m.lanes[i].destroy()
		}
	}
}
