package frame

import (
	"fmt"

	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/inflight/gpu"
)

// Frame describes the frame being recorded. Recorders must not keep it past
// their call.
type Frame struct {
	// Index counts presented frames from zero.
	Index       uint64
	Slot        int
	Image       int
	Extent      gpu.Extent
	View        gpu.ImageView
	Framebuffer gpu.Framebuffer
}

// RecordFunc records one lane's commands for f into cmd, which is already
// begun and is ended afterwards.
type RecordFunc func(f *Frame, cmd gpu.CommandBuffer) error

// RenderPassProvider supplies what the swapchain framebuffers are built
// against. DepthView is called after every chain build with the new extent
// and may return nil. The provider keeps ownership of the depth view.
type RenderPassProvider interface {
	RenderPass() gpu.RenderPass
	DepthView(extent gpu.Extent) (gpu.ImageView, error)
}

type renderPassOnly struct {
	pass gpu.RenderPass
}

func (r renderPassOnly) RenderPass() gpu.RenderPass { return r.pass }

func (r renderPassOnly) DepthView(gpu.Extent) (gpu.ImageView, error) { return nil, nil }

// RenderPassOnly is a provider for a render pass with only a colour
// attachment.
func RenderPassOnly(pass gpu.RenderPass) RenderPassProvider {
	return renderPassOnly{pass: pass}
}

type Option func(o *Orchestrator)

// WithRenderPass makes the orchestrator build a framebuffer per swapchain
// image. Without it only image views are built.
func WithRenderPass(provider RenderPassProvider) Option {
	return func(o *Orchestrator) {
		o.renderPass = provider
	}
}

// WithRecorder installs the function recording lane's commands every frame.
// An active lane without a recorder submits an empty command buffer.
func WithRecorder(lane gpu.Lane, record RecordFunc) Option {
	return func(o *Orchestrator) {
		if lane.Valid() {
			o.recorders[lane] = record
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.cfg.Logger = logger
	}
}

type TickResult int

const (
	TickNone TickResult = iota
	// TickPresented: a frame was submitted and presented and the frame
	// counter advanced.
	TickPresented
	// TickRebuilt: the chain was out of date on acquire and has been rebuilt.
	// Nothing was submitted and the frame counter did not move.
	TickRebuilt
)

func (r TickResult) String() string {
	switch r {
	case TickNone:
		return "none"
	case TickPresented:
		return "presented"
	case TickRebuilt:
		return "rebuilt"
	}
	return fmt.Sprintf("TickResult(%d)", int(r))
}

type State int

const (
	StateIdle State = iota
	StateFenceWait
	StateAcquiring
	StateRecording
	StateSubmitted
	StatePresenting
	// StateDeviceLost is terminal and is also entered on ErrSlotLost. Only
	// Shutdown is allowed.
	StateDeviceLost
	StateShutdown
)

var stateNames = map[State]string{
	StateIdle:       "idle",
	StateFenceWait:  "fence-wait",
	StateAcquiring:  "acquiring",
	StateRecording:  "recording",
	StateSubmitted:  "submitted",
	StatePresenting: "presenting",
	StateDeviceLost: "device-lost",
	StateShutdown:   "shutdown",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}
