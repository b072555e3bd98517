package vkng

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_2"

	"github.com/vkngwrapper/inflight/gpu"
)

type Fence struct {
	device *Device
	handle core1_0.Fence
}

var (
	_ gpu.Labeler = (*Fence)(nil)
	_ gpu.Labeler = (*Semaphore)(nil)
	_ gpu.Labeler = (*TimelineSemaphore)(nil)
	_ gpu.Labeler = (*CommandPool)(nil)
)

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	var info core1_0.FenceCreateInfo
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}

	fence, res, err := d.driver.CreateFence(nil, info)
	if err := check(res, err, "fence"); err != nil {
		return nil, gpu.CreationFailed(err, "fence")
	}
	return &Fence{device: d, handle: fence}, nil
}

func (f *Fence) Handle() core1_0.Fence {
	return f.handle
}

func (f *Fence) SetLabel(name string) {
	f.device.label(core1_0.ObjectTypeFence, uintptr(f.handle.Handle()), name)
}

func (f *Fence) Wait(timeout time.Duration) error {
	res, err := f.device.driver.WaitForFences(true, timeout, f.handle)
	return check(res, err, "wait for fence")
}

func (f *Fence) Reset() error {
	res, err := f.device.driver.ResetFences(f.handle)
	return check(res, err, "reset fence")
}

func (f *Fence) Destroy() {
	f.device.driver.DestroyFence(f.handle, nil)
}

// semaphoreHandle is implemented by both semaphore kinds so that queue
// submission can unwrap either.
type semaphoreHandle interface {
	Handle() core1_0.Semaphore
}

type Semaphore struct {
	device *Device
	handle core1_0.Semaphore
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphore, res, err := d.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err := check(res, err, "semaphore"); err != nil {
		return nil, gpu.CreationFailed(err, "semaphore")
	}
	return &Semaphore{device: d, handle: semaphore}, nil
}

func (s *Semaphore) Handle() core1_0.Semaphore {
	return s.handle
}

func (s *Semaphore) SetLabel(name string) {
	s.device.label(core1_0.ObjectTypeSemaphore, uintptr(s.handle.Handle()), name)
}

func (s *Semaphore) Destroy() {
	s.device.driver.DestroySemaphore(s.handle, nil)
}

type TimelineSemaphore struct {
	Semaphore
}

var errNoTimeline = errors.Mark(errors.New("vkng: timeline semaphores are not enabled"), gpu.ErrFeatureUnavailable)

func (d *Device) CreateTimelineSemaphore(initial uint64) (gpu.TimelineSemaphore, error) {
	if d.timeline == nil {
		return nil, errNoTimeline
	}

	info := core1_0.SemaphoreCreateInfo{}
	info.Next = core1_2.SemaphoreTypeCreateInfo{
		SemaphoreType: core1_2.SemaphoreTypeTimeline,
		InitialValue:  initial,
	}

	semaphore, res, err := d.driver.CreateSemaphore(nil, info)
	if err := check(res, err, "timeline semaphore"); err != nil {
		return nil, gpu.CreationFailed(err, "timeline semaphore")
	}
	return &TimelineSemaphore{Semaphore{device: d, handle: semaphore}}, nil
}

func (s *TimelineSemaphore) Signal(value uint64) error {
	res, err := s.device.timeline.SignalSemaphore(core1_2.SemaphoreSignalInfo{
		Semaphore: s.handle,
		Value:     value,
	})
	return check(res, err, "signal timeline semaphore")
}

func (s *TimelineSemaphore) WaitValue(value uint64, timeout time.Duration) error {
	res, err := s.device.timeline.WaitSemaphores(timeout, core1_2.SemaphoreWaitInfo{
		Semaphores: []core1_0.Semaphore{s.handle},
		Values:     []uint64{value},
	})
	return check(res, err, "wait for timeline semaphore")
}

func (s *TimelineSemaphore) Value() (uint64, error) {
	value, res, err := s.device.timeline.GetSemaphoreCounterValue(s.handle)
	if err := check(res, err, "read timeline semaphore"); err != nil {
		return 0, err
	}
	return value, nil
}
