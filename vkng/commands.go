package vkng

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_2"

	"github.com/vkngwrapper/inflight/gpu"
)

type CommandPool struct {
	device *Device
	handle core1_0.CommandPool
}

func (d *Device) CreateCommandPool(queueFamily int) (gpu.CommandPool, error) {
	pool, res, err := d.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: queueFamily,
	})
	if err := check(res, err, "command pool"); err != nil {
		return nil, gpu.CreationFailed(err, "command pool")
	}
	return &CommandPool{device: d, handle: pool}, nil
}

func (p *CommandPool) SetLabel(name string) {
	p.device.label(core1_0.ObjectTypeCommandPool, uintptr(p.handle.Handle()), name)
}

func (p *CommandPool) Allocate(count int) ([]gpu.CommandBuffer, error) {
	handles, res, err := p.device.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        p.handle,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err := check(res, err, "command buffers"); err != nil {
		return nil, gpu.CreationFailed(err, "command buffers")
	}

	buffers := make([]gpu.CommandBuffer, len(handles))
	for i, handle := range handles {
		buffers[i] = &CommandBuffer{device: p.device, handle: handle}
	}
	return buffers, nil
}

func (p *CommandPool) Free(buffers ...gpu.CommandBuffer) {
	handles := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		handles = append(handles, buffer.(*CommandBuffer).handle)
	}
	if len(handles) > 0 {
		p.device.driver.FreeCommandBuffers(handles...)
	}
}

func (p *CommandPool) Destroy() {
	p.device.driver.DestroyCommandPool(p.handle, nil)
}

type CommandBuffer struct {
	device *Device
	handle core1_0.CommandBuffer
}

// Handle is the buffer to record commands into between Begin and End.
func (b *CommandBuffer) Handle() core1_0.CommandBuffer {
	return b.handle
}

func (b *CommandBuffer) Begin() error {
	res, err := b.device.driver.BeginCommandBuffer(b.handle, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return check(res, err, "begin command buffer")
}

func (b *CommandBuffer) End() error {
	res, err := b.device.driver.EndCommandBuffer(b.handle)
	return check(res, err, "end command buffer")
}

func (b *CommandBuffer) Reset() error {
	res, err := b.device.driver.ResetCommandBuffer(b.handle, 0)
	return check(res, err, "reset command buffer")
}

type Queue struct {
	device *Device
	handle core1_0.Queue
	family int
}

func (q *Queue) Handle() core1_0.Queue {
	return q.handle
}

func (q *Queue) Submit(info gpu.SubmitInfo, fence gpu.Fence) error {
	submit, err := q.submitInfo(info)
	if err != nil {
		return err
	}

	var fenceHandle *core1_0.Fence
	if fence != nil {
		handle := fence.(*Fence).handle
		fenceHandle = &handle
	}

	res, err := q.device.driver.QueueSubmit(q.handle, fenceHandle, submit)
	return check(res, err, "submit")
}

func (q *Queue) submitInfo(info gpu.SubmitInfo) (core1_0.SubmitInfo, error) {
	var submit core1_0.SubmitInfo
	timeline := false

	for _, buffer := range info.CommandBuffers {
		submit.CommandBuffers = append(submit.CommandBuffers, buffer.(*CommandBuffer).handle)
	}

	waitValues := make([]uint64, 0, len(info.Waits))
	for _, wait := range info.Waits {
		handle, ok := wait.Semaphore.(semaphoreHandle)
		if !ok {
			return submit, errors.Newf("vkng: foreign semaphore %T", wait.Semaphore)
		}
		_, isTimeline := wait.Semaphore.(*TimelineSemaphore)
		timeline = timeline || isTimeline

		submit.WaitSemaphores = append(submit.WaitSemaphores, handle.Handle())
		submit.WaitDstStageMask = append(submit.WaitDstStageMask, pipelineStages(wait.Stages))
		waitValues = append(waitValues, wait.Value)
	}

	signalValues := make([]uint64, 0, len(info.Signals))
	for _, signal := range info.Signals {
		handle, ok := signal.Semaphore.(semaphoreHandle)
		if !ok {
			return submit, errors.Newf("vkng: foreign semaphore %T", signal.Semaphore)
		}
		_, isTimeline := signal.Semaphore.(*TimelineSemaphore)
		timeline = timeline || isTimeline

		submit.SignalSemaphores = append(submit.SignalSemaphores, handle.Handle())
		signalValues = append(signalValues, signal.Value)
	}

	// Binary semaphores in a batch with timeline semaphores have their value
	// ignored, so both value arrays cover every semaphore.
	if timeline {
		submit.Next = core1_2.TimelineSemaphoreSubmitInfo{
			WaitSemaphoreValues:   waitValues,
			SignalSemaphoreValues: signalValues,
		}
	}
	return submit, nil
}

func (q *Queue) WaitIdle() error {
	res, err := q.device.driver.QueueWaitIdle(q.handle)
	return check(res, err, "wait for queue idle")
}

func pipelineStages(stages gpu.PipelineStages) core1_0.PipelineStageFlags {
	return core1_0.PipelineStageFlags(stages)
}
