// Package frame drives the per-frame cycle: wait for the frame slot, acquire
// a swapchain image, record and submit every lane, present, and advance. It
// keeps up to FramesInFlight frames in flight and rebuilds the swapchain when
// the surface changes.
package frame

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"github.com/vkngwrapper/inflight/command"
	"github.com/vkngwrapper/inflight/framesync"
	"github.com/vkngwrapper/inflight/gpu"
	"github.com/vkngwrapper/inflight/internal/invariant"
	"github.com/vkngwrapper/inflight/internal/logging"
	"github.com/vkngwrapper/inflight/swapchain"
)

// ErrSlotLost is returned when a frame slot's fence was reset but could not
// be armed again. Like device loss it latches.
var ErrSlotLost = errors.New("frame: slot fence can no longer be signaled")

// Orchestrator must be driven from a single goroutine.
type Orchestrator struct {
	id     uuid.UUID
	device gpu.Device
	cfg    Config
	logger *slog.Logger

	registry *framesync.Registry
	commands *command.Manager
	chain    *swapchain.Controller

	renderPass RenderPassProvider
	recorders  [gpu.LaneCount]RecordFunc
	// lanes are the active lanes in submission order.
	lanes []gpu.Lane

	frameIndex uint64
	state      State
	// imageOwner is the slot that last rendered each swapchain image, or -1.
	imageOwner []int
	resize     *gpu.Extent
	// stale is set when the chain exists but its views or framebuffers could
	// not be built.
	stale bool
	lost  error
	timer frameTimer
}

// New creates the sync registry, command pools and swapchain for surface, in
// that order, and builds the swapchain views and framebuffers. On failure
// everything created is destroyed again.
func New(device gpu.Device, surface gpu.Surface, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "frame config")
	}
	o := &Orchestrator{
		id:     uuid.New(),
		device: device,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrNop(o.cfg.Logger).With(slog.String("orchestrator", o.id.String()))

	for _, lane := range gpu.SubmissionOrder {
		for _, active := range cfg.Lanes {
			if lane == active {
				o.lanes = append(o.lanes, lane)
			}
		}
	}

	var err error
	o.registry, err = framesync.New(device, framesync.Options{
		FramesInFlight: cfg.FramesInFlight,
		PreferTimeline: cfg.PreferTimeline,
		Logger:         o.logger,
	})
	if err != nil {
		return nil, err
	}

	o.commands, err = command.New(device, command.Options{
		FramesInFlight: cfg.FramesInFlight,
		Logger:         o.logger,
	})
	if err != nil {
		o.registry.Destroy()
		return nil, err
	}

	o.chain, err = swapchain.New(device, surface, cfg.Swapchain, swapchain.Options{Logger: o.logger})
	if err == nil {
		err = o.buildFramebuffers()
	}
	if err != nil {
		if o.chain != nil {
			o.chain.Destroy()
		}
		o.commands.Destroy()
		o.registry.Destroy()
		return nil, err
	}

	o.logger.Info("frame orchestrator created",
		slog.Int("frames", cfg.FramesInFlight),
		slog.Bool("timeline", o.registry.Timeline()),
		slog.Int("lanes", len(o.lanes)))
	return o, nil
}

func (o *Orchestrator) buildFramebuffers() error {
	if o.renderPass == nil {
		err := o.chain.CreateViewsAndFramebuffers(nil, nil)
		o.resetImageOwners()
		return err
	}
	depth, err := o.renderPass.DepthView(o.chain.Extent())
	if err != nil {
		return errors.Wrap(err, "depth view")
	}
	err = o.chain.CreateViewsAndFramebuffers(o.renderPass.RenderPass(), depth)
	o.resetImageOwners()
	return err
}

func (o *Orchestrator) resetImageOwners() {
	o.imageOwner = make([]int, o.chain.ImageCount())
	for i := range o.imageOwner {
		o.imageOwner[i] = -1
	}
}

// Resize records a new window size. The chain is rebuilt at the start of the
// next tick. A zero size makes ticks fail with swapchain.ErrZeroExtent until
// a non-zero size arrives.
func (o *Orchestrator) Resize(width, height uint32) {
	o.resize = &gpu.Extent{Width: width, Height: height}
}

func (o *Orchestrator) needsRebuild() bool {
	return o.resize != nil || o.stale || o.chain.OutOfDate()
}

func (o *Orchestrator) rebuild() error {
	cfg := o.cfg.Swapchain
	if o.resize != nil {
		if o.resize.Width == 0 || o.resize.Height == 0 {
			return swapchain.ErrZeroExtent
		}
		cfg.Width, cfg.Height = o.resize.Width, o.resize.Height
	}

	o.stale = true
	if err := o.chain.Rebuild(cfg); err != nil {
		return err
	}
	o.cfg.Swapchain = cfg
	o.resize = nil
	if err := o.buildFramebuffers(); err != nil {
		return err
	}
	o.stale = false
	o.timer.rebuilt()
	o.logger.Info("swapchain rebuilt",
		slog.Uint64("frame", o.frameIndex),
		slog.String("extent", o.chain.Extent().String()))
	return nil
}

// fail moves to the state matching err and returns it. Device loss and a lost
// frame slot latch.
func (o *Orchestrator) fail(err error) (TickResult, error) {
	if gpu.IsFatal(err) || errors.Is(err, ErrSlotLost) {
		if o.lost == nil {
			o.lost = err
			o.logger.Warn("frame orchestrator stopped", slog.Uint64("frame", o.frameIndex), slog.Any("err", err))
		}
		o.state = StateDeviceLost
		return TickNone, err
	}
	o.state = StateIdle
	return TickNone, err
}

// waitSlot waits on slot's fence, retrying timeouts as configured. It does not
// reset the fence.
func (o *Orchestrator) waitSlot(slot int) error {
	for attempt := 0; ; attempt++ {
		err := o.registry.Wait(slot, o.cfg.FenceTimeout)
		if err == nil || !errors.Is(err, gpu.ErrTimeout) || attempt >= o.cfg.FenceRetries {
			return err
		}
		o.logger.Warn("frame fence wait timed out, retrying",
			slog.Int("slot", slot),
			slog.Int("attempt", attempt+1),
			slog.Duration("timeout", o.cfg.FenceTimeout))
	}
}

// Tick runs one frame. A cancelled ctx shuts the orchestrator down instead;
// cancellation is only looked at before a frame starts.
func (o *Orchestrator) Tick(ctx context.Context) (TickResult, error) {
	if o.lost != nil {
		return TickNone, o.lost
	}
	if err := invariant.Check(o.state == StateIdle, "tick in state %s", o.state); err != nil {
		return TickNone, err
	}
	if err := ctx.Err(); err != nil {
		return TickNone, errors.CombineErrors(err, o.Shutdown())
	}

	start := o.timer.now()
	if o.needsRebuild() {
		if err := o.rebuild(); err != nil {
			return o.fail(err)
		}
	}

	slot := o.registry.Current()
	sync := o.registry.CurrentSlot()

	o.state = StateFenceWait
	waitStart := o.timer.now()
	if err := o.waitSlot(slot); err != nil {
		return o.fail(err)
	}
	fenceWait := o.timer.now() - waitStart

	o.state = StateAcquiring
	status, err := o.chain.Acquire(sync.ImageAvailable(), o.cfg.AcquireTimeout)
	if err != nil {
		return o.fail(err)
	}
	if status == gpu.StatusOutOfDate {
		o.logger.Debug("swapchain out of date on acquire", slog.Uint64("frame", o.frameIndex))
		// The fence is still signaled, so the slot can be retried next tick.
		if err := o.rebuild(); err != nil {
			return o.fail(err)
		}
		o.state = StateIdle
		return TickRebuilt, nil
	}

	image := o.chain.CurrentImage()
	if owner := o.imageOwner[image]; owner >= 0 && owner != slot {
		if err := o.waitSlot(owner); err != nil {
			return o.fail(err)
		}
	}
	o.imageOwner[image] = slot

	f := &Frame{
		Index:       o.frameIndex,
		Slot:        slot,
		Image:       image,
		Extent:      o.chain.Extent(),
		View:        o.chain.CurrentView(),
		Framebuffer: o.chain.CurrentFramebuffer(),
	}
	o.logger.Debug("frame started",
		slog.Uint64("frame", f.Index),
		slog.Int("slot", slot),
		slog.Int("image", image))

	o.state = StateRecording
	if err := o.record(f); err != nil {
		if abandonErr := o.abandon(slot); abandonErr != nil {
			return o.fail(errors.CombineErrors(abandonErr, err))
		}
		return o.fail(err)
	}

	if err := o.registry.Reset(slot); err != nil {
		return o.fail(err)
	}
	if n, err := o.submit(slot, sync); err != nil {
		return o.fail(o.retire(slot, o.lanes[:n], err))
	}
	o.state = StateSubmitted
	o.logger.Debug("frame submitted", slog.Uint64("frame", f.Index), slog.Int("slot", slot))

	o.state = StatePresenting
	status, err = o.chain.Present(sync.RenderFinished())
	// The frame is on the queues whatever present reports.
	o.registry.Advance()
	o.frameIndex++
	if err != nil {
		o.logger.Warn("present failed",
			slog.Uint64("frame", f.Index),
			slog.Any("err", err))
		return o.fail(err)
	}
	if status != gpu.StatusOptimal {
		o.logger.Warn("swapchain needs rebuild after present",
			slog.Uint64("frame", f.Index),
			slog.String("status", status.String()))
	}
	o.state = StateIdle
	o.timer.presented(start, fenceWait)

	if o.chain.OutOfDate() {
		if err := o.rebuild(); err != nil {
			_, err = o.fail(err)
			return TickPresented, err
		}
	}
	return TickPresented, nil
}

func (o *Orchestrator) record(f *Frame) error {
	if !o.cfg.ParallelRecording || len(o.lanes) == 1 {
		for _, lane := range o.lanes {
			if err := o.recordLane(lane, f); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	for _, lane := range o.lanes {
		lane := lane
		g.Go(func() error {
			return o.recordLane(lane, f)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) recordLane(lane gpu.Lane, f *Frame) error {
	cmd, err := o.commands.Begin(lane, f.Slot)
	if err != nil {
		return err
	}
	if record := o.recorders[lane]; record != nil {
		if err := record(f, cmd); err != nil {
			return errors.Wrapf(err, "record %s lane", lane)
		}
	}
	return o.commands.End(lane, f.Slot)
}

// abandon retires a frame whose recording failed after its image was
// acquired. The chain is rebuilt before the next frame because the image is
// never presented.
func (o *Orchestrator) abandon(slot int) error {
	for _, lane := range o.lanes {
		if o.commands.State(lane, slot) == command.StateRecording {
			if err := o.commands.End(lane, slot); err != nil {
				return err
			}
		}
	}
	if err := o.registry.Reset(slot); err != nil {
		return err
	}
	if err := o.arm(slot, nil); err != nil {
		return errors.Wrap(err, "retire abandoned frame")
	}
	o.stale = true
	return nil
}

// retire gives up on a frame whose submission failed after the slot fence was
// reset. submitted are the lanes that reached their queues; whatever they
// signaled is consumed by the batch that arms the fence. A frame that reached
// any queue still counts, so timeline values never repeat. If the fence
// cannot be armed the slot can never be waited on again and ErrSlotLost is
// returned.
func (o *Orchestrator) retire(slot int, submitted []gpu.Lane, cause error) error {
	if gpu.IsFatal(cause) {
		return cause
	}
	waits := make([]gpu.SemaphoreWait, 0, len(submitted))
	for _, lane := range submitted {
		waits = append(waits, o.registry.LaneWait(lane, slot, o.frameIndex, o.cfg.CrossLaneWaitStages[lane]))
	}
	if err := o.arm(slot, waits); err != nil {
		return errors.Mark(errors.CombineErrors(cause, errors.Wrap(err, "retire failed frame")), ErrSlotLost)
	}
	o.stale = true
	o.logger.Warn("frame retired after failed submit",
		slog.Uint64("frame", o.frameIndex),
		slog.Int("slot", slot),
		slog.Int("submitted", len(submitted)),
		slog.Any("err", cause))
	if len(submitted) > 0 {
		o.registry.Advance()
		o.frameIndex++
	}
	return cause
}

// arm submits an empty graphics batch that consumes the slot's acquired image
// and waits, and signals the slot fence.
func (o *Orchestrator) arm(slot int, waits []gpu.SemaphoreWait) error {
	sync := o.registry.Slot(slot)
	waits = append([]gpu.SemaphoreWait{{Semaphore: sync.ImageAvailable(), Stages: imageAvailableStages}}, waits...)
	return o.device.Queue(gpu.LaneGraphics).Submit(gpu.SubmitInfo{Waits: waits}, sync.Fence())
}

// submit enqueues every active lane in submission order. Graphics goes last,
// waits on the acquired image and on the other lanes, and arms the slot
// fence. It returns how many lanes reached their queues.
func (o *Orchestrator) submit(slot int, sync *framesync.FrameSlot) (int, error) {
	for i, lane := range o.lanes {
		signals := o.registry.LaneSignals(lane, slot, o.frameIndex)
		if lane != gpu.LaneGraphics {
			if err := o.commands.Submit(lane, slot, nil, signals, nil); err != nil {
				return i, err
			}
			continue
		}

		waits := []gpu.SemaphoreWait{{Semaphore: sync.ImageAvailable(), Stages: imageAvailableStages}}
		for _, other := range o.lanes {
			if other != gpu.LaneGraphics {
				waits = append(waits, o.registry.LaneWait(other, slot, o.frameIndex, o.cfg.CrossLaneWaitStages[other]))
			}
		}
		if err := o.commands.Submit(lane, slot, waits, signals, sync.Fence()); err != nil {
			return i, err
		}
	}
	return len(o.lanes), nil
}

// Shutdown waits for the device to go idle and destroys the swapchain,
// command pools and sync primitives. It is safe to call more than once and
// after device loss.
func (o *Orchestrator) Shutdown() error {
	if o.state == StateShutdown {
		return nil
	}
	var err error
	if idleErr := o.device.WaitIdle(); idleErr != nil {
		err = errors.Wrap(idleErr, "wait for device idle")
	}
	o.chain.Destroy()
	o.commands.Destroy()
	if regErr := o.registry.Destroy(); regErr != nil && err == nil {
		err = regErr
	}
	o.state = StateShutdown
	o.logger.Info("frame orchestrator shut down", slog.Uint64("frames", o.frameIndex))
	return err
}

func (o *Orchestrator) ID() uuid.UUID { return o.id }

// FrameIndex is the number of frames submitted so far.
func (o *Orchestrator) FrameIndex() uint64 { return o.frameIndex }

// CurrentSlot is the frame slot the next or current frame uses.
func (o *Orchestrator) CurrentSlot() int { return o.registry.Current() }

// CommandBuffer returns lane's buffer for the current frame while it is being
// recorded, and nil otherwise.
func (o *Orchestrator) CommandBuffer(lane gpu.Lane) gpu.CommandBuffer {
	return o.commands.Current(lane, o.registry.Current())
}

func (o *Orchestrator) State() State { return o.state }

func (o *Orchestrator) Stats() Stats { return o.timer.stats }

func (o *Orchestrator) Swapchain() *swapchain.Controller { return o.chain }

func (o *Orchestrator) Registry() *framesync.Registry { return o.registry }

func (o *Orchestrator) Commands() *command.Manager { return o.commands }
