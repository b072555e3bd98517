package framesync

import (
	"fmt"

	"github.com/vkngwrapper/inflight/gpu"
)

// FrameSlot holds the primitives one in-flight frame owns: a fence that
// signals when the frame's last submission retires, one "finished" semaphore
// per lane, and the semaphore the swapchain signals when the acquired image
// is ready.
type FrameSlot struct {
	index          int
	fence          gpu.Fence
	finished       [gpu.LaneCount]gpu.Semaphore
	imageAvailable gpu.Semaphore
}

func (s *FrameSlot) Index() int { return s.index }

func (s *FrameSlot) Fence() gpu.Fence { return s.fence }

// Finished returns the binary semaphore lane signals when its work for this
// slot completes.
func (s *FrameSlot) Finished(lane gpu.Lane) gpu.Semaphore { return s.finished[lane] }

// RenderFinished is the graphics lane's finished semaphore. Presentation
// waits on it.
func (s *FrameSlot) RenderFinished() gpu.Semaphore { return s.finished[gpu.LaneGraphics] }

func (s *FrameSlot) ImageAvailable() gpu.Semaphore { return s.imageAvailable }

func (s *FrameSlot) destroy() {
	if s.imageAvailable != nil {
		s.imageAvailable.Destroy()
		s.imageAvailable = nil
	}
	for i, sem := range s.finished {
		if sem != nil {
			sem.Destroy()
			s.finished[i] = nil
		}
	}
	if s.fence != nil {
		s.fence.Destroy()
		s.fence = nil
	}
}

func newFrameSlot(device gpu.Device, index int) (*FrameSlot, error) {
	slot := &FrameSlot{index: index}

	var err error
	// Created signaled so the first wait on every slot returns at once.
	slot.fence, err = device.CreateFence(true)
	if err != nil {
		return nil, gpu.CreationFailed(err, "in-flight fence")
	}
	gpu.Label(slot.fence, fmt.Sprintf("slot %d in flight", index))

	for _, lane := range gpu.Lanes() {
		slot.finished[lane], err = device.CreateSemaphore()
		if err != nil {
			slot.destroy()
			return nil, gpu.CreationFailed(err, lane.String()+" finished semaphore")
		}
		gpu.Label(slot.finished[lane], fmt.Sprintf("slot %d %s finished", index, lane))
	}

	slot.imageAvailable, err = device.CreateSemaphore()
	if err != nil {
		slot.destroy()
		return nil, gpu.CreationFailed(err, "image available semaphore")
	}
	gpu.Label(slot.imageAvailable, fmt.Sprintf("slot %d image available", index))
	return slot, nil
}
