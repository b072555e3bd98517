// Package gputest provides an in-memory gpu.Device and gpu.Surface.
//
// The fake never runs any GPU work. A submission stays "executing" until
// something observes its completion: a wait on its fence, a wait on a timeline
// value it signals, a queue or device WaitIdle, or the completion of a later
// submission that depends on it. This makes the fake deterministic and lets it
// flag reuse bugs: beginning a command buffer or resetting a fence whose
// submission is still executing is recorded as a violation.
package gputest

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
)

// Kind names a class of device object for counting and failure injection.
type Kind string

const (
	KindFence         Kind = "fence"
	KindSemaphore     Kind = "semaphore"
	KindTimeline      Kind = "timeline-semaphore"
	KindCommandPool   Kind = "command-pool"
	KindCommandBuffer Kind = "command-buffer"
	KindImageView     Kind = "image-view"
	KindFramebuffer   Kind = "framebuffer"
	KindSwapchain     Kind = "swapchain"
)

var errInjected = errors.New("gputest: injected failure")

// labeled records the debug name given to an object. Labels are set while
// objects are created, before they are shared.
type labeled struct {
	label string
}

func (l *labeled) SetLabel(name string) { l.label = name }

// Label returns the object's debug name, or "" if it has none.
func (l *labeled) Label() string { return l.label }

// Device is a fake gpu.Device. The zero value is not usable; call NewDevice.
type Device struct {
	mu sync.Mutex

	timeline      bool
	families      [gpu.LaneCount]int
	presentFamily int
	queues        [gpu.LaneCount]*Queue
	presentQueue  *Queue

	live    map[Kind]int
	created map[Kind]int
	failAt  map[Kind]int

	pools         []*CommandPool
	fenceTimeouts int
	lost          bool
	waitIdles     int
	violations    []string
	events        []string
}

// NewDevice returns a device with one queue per lane, all in family 0, and no
// timeline semaphore support.
func NewDevice() *Device {
	d := &Device{
		live:    make(map[Kind]int),
		created: make(map[Kind]int),
		failAt:  make(map[Kind]int),
	}
	for _, lane := range gpu.Lanes() {
		d.queues[lane] = &Queue{dev: d, name: lane.String()}
	}
	d.presentQueue = &Queue{dev: d, name: "present"}
	return d
}

// EnableTimeline makes the device advertise timeline semaphores.
func (d *Device) EnableTimeline() *Device {
	d.timeline = true
	return d
}

// SetFamilies sets the queue family reported for each lane and for
// presentation.
func (d *Device) SetFamilies(graphics, compute, transfer, present int) *Device {
	d.families = [gpu.LaneCount]int{graphics, compute, transfer}
	d.presentFamily = present
	return d
}

// FailOn makes the nth creation of kind from now on fail, counting from 1.
func (d *Device) FailOn(kind Kind, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAt[kind] = d.created[kind] + n
}

// TimeoutFenceWaits makes the next n fence waits time out regardless of state.
func (d *Device) TimeoutFenceWaits(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fenceTimeouts = n
}

// Lose marks the device lost. Every later wait, submit, acquire and present
// fails with gpu.ErrDeviceLost.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

// Live returns how many objects of kind exist right now.
func (d *Device) Live(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[kind]
}

// Created returns how many objects of kind were ever created.
func (d *Device) Created(kind Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[kind]
}

// LiveTotal returns the number of live objects of every kind.
func (d *Device) LiveTotal() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, n := range d.live {
		total += n
	}
	return total
}

// WaitIdleCalls returns how many times WaitIdle was called on the device.
func (d *Device) WaitIdleCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitIdles
}

// Violations returns every misuse the fake observed.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Events returns the acquire, submit and present calls in the order they
// happened, e.g. "acquire 0", "submit graphics", "present 0". Injected
// failures show up as "submit graphics failed" or "present 0 failed".
func (d *Device) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

// ClearEvents forgets the recorded events.
func (d *Device) ClearEvents() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = nil
}

// LaneQueue returns the fake queue behind lane.
func (d *Device) LaneQueue(lane gpu.Lane) *Queue {
	return d.queues[lane]
}

// PresentQueueFake returns the fake presentation queue.
func (d *Device) PresentQueueFake() *Queue {
	return d.presentQueue
}

func (d *Device) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

// create books a new object of kind. Callers hold d.mu.
func (d *Device) create(kind Kind) error {
	d.created[kind]++
	if at, ok := d.failAt[kind]; ok && d.created[kind] == at {
		delete(d.failAt, kind)
		return gpu.CreationFailed(errInjected, string(kind))
	}
	d.live[kind]++
	return nil
}

// destroy releases an object of kind. Callers hold d.mu.
func (d *Device) destroy(kind Kind, destroyed *bool) {
	if *destroyed {
		d.violate("%s destroyed twice", kind)
		return
	}
	*destroyed = true
	d.live[kind]--
}

func (d *Device) lostErr() error {
	return errors.Mark(errors.New("gputest: device lost"), gpu.ErrDeviceLost)
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.create(KindFence); err != nil {
		return nil, err
	}
	return &Fence{dev: d, signaled: signaled}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.create(KindSemaphore); err != nil {
		return nil, err
	}
	return &Semaphore{dev: d}, nil
}

func (d *Device) CreateTimelineSemaphore(initial uint64) (gpu.TimelineSemaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.timeline {
		return nil, errors.Mark(errors.New("gputest: timeline semaphores disabled"), gpu.ErrFeatureUnavailable)
	}
	if err := d.create(KindTimeline); err != nil {
		return nil, err
	}
	return &TimelineSemaphore{dev: d, value: initial}, nil
}

func (d *Device) CreateCommandPool(queueFamily int) (gpu.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.create(KindCommandPool); err != nil {
		return nil, err
	}
	pool := &CommandPool{dev: d, family: queueFamily}
	d.pools = append(d.pools, pool)
	return pool, nil
}

// Pools returns every command pool created on d, oldest first.
func (d *Device) Pools() []*CommandPool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*CommandPool(nil), d.pools...)
}

func (d *Device) CreateImageView(image gpu.Image, format gpu.Format) (gpu.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.create(KindImageView); err != nil {
		return nil, err
	}
	return &ImageView{dev: d, Image: image.(*Image), Format: format}, nil
}

func (d *Device) CreateFramebuffer(renderPass gpu.RenderPass, attachments []gpu.ImageView, extent gpu.Extent) (gpu.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.create(KindFramebuffer); err != nil {
		return nil, err
	}
	return &Framebuffer{
		dev:         d,
		RenderPass:  renderPass,
		Attachments: append([]gpu.ImageView(nil), attachments...),
		Extent:      extent,
	}, nil
}

func (d *Device) Queue(lane gpu.Lane) gpu.Queue { return d.queues[lane] }

func (d *Device) QueueFamily(lane gpu.Lane) int { return d.families[lane] }

func (d *Device) PresentQueue() gpu.Queue { return d.presentQueue }

func (d *Device) PresentFamily() int { return d.presentFamily }

func (d *Device) SupportsTimelineSemaphores() bool { return d.timeline }

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitIdles++
	if d.lost {
		return d.lostErr()
	}
	for _, q := range d.queues {
		q.drain()
	}
	return nil
}

// ImageView is a fake view. Image and Format record how it was created.
type ImageView struct {
	dev       *Device
	destroyed bool

	Image  *Image
	Format gpu.Format
}

func (v *ImageView) Destroy() {
	v.dev.mu.Lock()
	defer v.dev.mu.Unlock()
	v.dev.destroy(KindImageView, &v.destroyed)
}

// Destroyed reports whether Destroy was called.
func (v *ImageView) Destroyed() bool {
	v.dev.mu.Lock()
	defer v.dev.mu.Unlock()
	return v.destroyed
}

// Framebuffer is a fake framebuffer.
type Framebuffer struct {
	dev       *Device
	destroyed bool

	RenderPass  gpu.RenderPass
	Attachments []gpu.ImageView
	Extent      gpu.Extent
}

func (f *Framebuffer) Destroy() {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	f.dev.destroy(KindFramebuffer, &f.destroyed)
}

// Destroyed reports whether Destroy was called.
func (f *Framebuffer) Destroyed() bool {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	return f.destroyed
}

// NewFramebuffer returns a framebuffer that was not created through the
// device, the way a caller-built framebuffer would be. It is still counted as
// live so leaks and double frees are visible.
func (d *Device) NewFramebuffer() *Framebuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created[KindFramebuffer]++
	d.live[KindFramebuffer]++
	return &Framebuffer{dev: d}
}

// RenderPass is a placeholder render pass.
type RenderPass struct {
	Name string
}
