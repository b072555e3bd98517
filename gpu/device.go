package gpu

import (
	"math"
	"time"
)

// NoTimeout waits forever.
const NoTimeout = time.Duration(math.MaxInt64)

// Fence is a CPU-visible completion signal for one queue submission.
type Fence interface {
	// Wait blocks until the fence is signaled or timeout elapses. It returns an
	// error marked ErrTimeout on expiry and ErrDeviceLost if the device is lost.
	Wait(timeout time.Duration) error
	Reset() error
	Destroy()
}

// Labeler is implemented by objects that can carry a debug name for
// validation layers and graphics debuggers.
type Labeler interface {
	SetLabel(name string)
}

// Label names obj if it supports labels and does nothing otherwise.
func Label(obj interface{}, name string) {
	if l, ok := obj.(Labeler); ok {
		l.SetLabel(name)
	}
}

// Semaphore is a binary GPU-side signal between queue operations.
type Semaphore interface {
	Destroy()
}

// TimelineSemaphore is a semaphore carrying a monotonically increasing counter.
type TimelineSemaphore interface {
	Semaphore
	// Signal sets the counter from the host.
	Signal(value uint64) error
	// WaitValue blocks until the counter reaches value.
	WaitValue(value uint64, timeout time.Duration) error
	Value() (uint64, error)
}

// CommandBuffer is a primary command buffer.
type CommandBuffer interface {
	// Begin starts recording with one-time-submit usage.
	Begin() error
	End() error
	Reset() error
}

// CommandPool owns the command buffers allocated from it. Destroying the pool
// frees them.
type CommandPool interface {
	Allocate(count int) ([]CommandBuffer, error)
	Free(buffers ...CommandBuffer)
	Destroy()
}

// SemaphoreWait is a semaphore a submission waits on, with the stages that must
// not start before it is signaled. Value is only read for timeline semaphores.
type SemaphoreWait struct {
	Semaphore Semaphore
	Stages    PipelineStages
	Value     uint64
}

// SemaphoreSignal is a semaphore a submission signals when it completes. Value
// is only read for timeline semaphores.
type SemaphoreSignal struct {
	Semaphore Semaphore
	Value     uint64
}

// SubmitInfo describes one batch of command buffers for a queue.
type SubmitInfo struct {
	CommandBuffers []CommandBuffer
	Waits          []SemaphoreWait
	Signals        []SemaphoreSignal
}

// Queue is a device queue. Submissions on one queue execute in submission order.
type Queue interface {
	// Submit enqueues info and arms fence, which may be nil.
	Submit(info SubmitInfo, fence Fence) error
	WaitIdle() error
}

// Image is a presentable image owned by a swapchain.
type Image interface{}

// ImageView is a view onto an Image.
type ImageView interface {
	Destroy()
}

// Framebuffer binds image views to a render pass.
type Framebuffer interface {
	Destroy()
}

// RenderPass is a render pass created outside this module.
type RenderPass interface{}

// Device is a logical device together with one queue per lane.
type Device interface {
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	// CreateTimelineSemaphore returns an error marked ErrFeatureUnavailable when
	// SupportsTimelineSemaphores is false.
	CreateTimelineSemaphore(initial uint64) (TimelineSemaphore, error)
	// CreateCommandPool creates a pool whose buffers can be reset individually.
	CreateCommandPool(queueFamily int) (CommandPool, error)
	CreateImageView(image Image, format Format) (ImageView, error)
	CreateFramebuffer(renderPass RenderPass, attachments []ImageView, extent Extent) (Framebuffer, error)

	Queue(lane Lane) Queue
	QueueFamily(lane Lane) int
	PresentQueue() Queue
	PresentFamily() int

	SupportsTimelineSemaphores() bool
	// WaitIdle drains all queues.
	WaitIdle() error
}
