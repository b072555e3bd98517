package gputest

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
)

// Image is a fake swapchain image.
type Image struct {
	Chain int
	Index int
}

// Surface is a fake window surface. Its exported fields are what the next
// query returns and may be changed between calls to simulate a resize.
type Surface struct {
	dev *Device

	Caps       gpu.SurfaceCapabilities
	FormatList []gpu.SurfaceFormat
	ModeList   []gpu.PresentMode

	acquireStatus []gpu.SwapchainStatus
	presentStatus []gpu.SwapchainStatus
	presentErrs   []error
	chains        []*Swapchain
}

// NewSurface returns an 800x600 surface offering B8G8R8A8 sRGB, FIFO and
// mailbox, with two to eight images.
func NewSurface(dev *Device) *Surface {
	return &Surface{
		dev: dev,
		Caps: gpu.SurfaceCapabilities{
			MinImageCount: 2,
			MaxImageCount: 8,
			CurrentExtent: gpu.Extent{Width: 800, Height: 600},
			MinExtent:     gpu.Extent{Width: 1, Height: 1},
			MaxExtent:     gpu.Extent{Width: 4096, Height: 4096},
		},
		FormatList: []gpu.SurfaceFormat{
			{Format: gpu.FormatB8G8R8A8SRGB, ColorSpace: gpu.ColorSpaceSRGBNonlinear},
			{Format: gpu.FormatB8G8R8A8UNorm, ColorSpace: gpu.ColorSpaceSRGBNonlinear},
		},
		ModeList: []gpu.PresentMode{gpu.PresentModeFIFO, gpu.PresentModeMailbox},
	}
}

// Resize changes the surface's current extent.
func (s *Surface) Resize(width, height uint32) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.Caps.CurrentExtent = gpu.Extent{Width: width, Height: height}
}

// QueueAcquire makes the next acquires report statuses, in order. Afterwards
// acquires are optimal again.
func (s *Surface) QueueAcquire(statuses ...gpu.SwapchainStatus) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.acquireStatus = append(s.acquireStatus, statuses...)
}

// QueuePresent makes the next presents report statuses, in order.
func (s *Surface) QueuePresent(statuses ...gpu.SwapchainStatus) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.presentStatus = append(s.presentStatus, statuses...)
}

// FailPresent makes the next present return err. Like a surface lost on a
// real queue, the failed present still waits on its semaphore.
func (s *Surface) FailPresent(err error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.presentErrs = append(s.presentErrs, err)
}

// Swapchains returns every chain created from the surface, oldest first.
func (s *Surface) Swapchains() []*Swapchain {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return append([]*Swapchain(nil), s.chains...)
}

// Latest returns the most recently created chain, or nil.
func (s *Surface) Latest() *Swapchain {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if len(s.chains) == 0 {
		return nil
	}
	return s.chains[len(s.chains)-1]
}

func (s *Surface) Capabilities() (gpu.SurfaceCapabilities, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.Caps, nil
}

func (s *Surface) Formats() ([]gpu.SurfaceFormat, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return append([]gpu.SurfaceFormat(nil), s.FormatList...), nil
}

func (s *Surface) PresentModes() ([]gpu.PresentMode, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return append([]gpu.PresentMode(nil), s.ModeList...), nil
}

func (s *Surface) CreateSwapchain(info gpu.SwapchainCreateInfo) (gpu.Swapchain, error) {
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return nil, d.lostErr()
	}
	if err := d.create(KindSwapchain); err != nil {
		return nil, err
	}
	sc := &Swapchain{surface: s, id: len(s.chains), Info: info}
	for i := 0; i < info.MinImageCount; i++ {
		sc.images = append(sc.images, &Image{Chain: sc.id, Index: i})
	}
	s.chains = append(s.chains, sc)
	return sc, nil
}

// Present records one present call.
type Present struct {
	Index int
	Wait  gpu.Semaphore
}

// Swapchain is a fake chain that hands out images round robin.
type Swapchain struct {
	surface   *Surface
	id        int
	images    []*Image
	next      int
	destroyed bool

	Info     gpu.SwapchainCreateInfo
	acquires int
	presents []Present
}

func (c *Swapchain) Images() ([]gpu.Image, error) {
	c.surface.dev.mu.Lock()
	defer c.surface.dev.mu.Unlock()
	out := make([]gpu.Image, len(c.images))
	for i, img := range c.images {
		out[i] = img
	}
	return out, nil
}

func (c *Swapchain) AcquireNextImage(timeout time.Duration, semaphore gpu.Semaphore) (int, gpu.SwapchainStatus, error) {
	s := c.surface
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return 0, gpu.StatusOptimal, d.lostErr()
	}
	if c.destroyed {
		return 0, gpu.StatusOptimal, errors.New("gputest: acquire on destroyed swapchain")
	}
	c.acquires++

	status := gpu.StatusOptimal
	if len(s.acquireStatus) > 0 {
		status = s.acquireStatus[0]
		s.acquireStatus = s.acquireStatus[1:]
	}
	if status == gpu.StatusOutOfDate {
		d.events = append(d.events, "acquire out-of-date")
		return 0, status, nil
	}

	index := c.next
	c.next = (c.next + 1) % len(c.images)
	if sem, ok := semaphore.(*Semaphore); ok {
		sem.signal(nil)
	}
	d.events = append(d.events, fmt.Sprintf("acquire %d", index))
	return index, status, nil
}

func (c *Swapchain) Present(queue gpu.Queue, index int, wait gpu.Semaphore) (gpu.SwapchainStatus, error) {
	s := c.surface
	d := s.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return gpu.StatusOptimal, d.lostErr()
	}
	if sem, ok := wait.(*Semaphore); ok {
		sem.consume("present")
	}
	if len(s.presentErrs) > 0 {
		err := s.presentErrs[0]
		s.presentErrs = s.presentErrs[1:]
		d.events = append(d.events, fmt.Sprintf("present %d failed", index))
		return gpu.StatusOptimal, err
	}
	c.presents = append(c.presents, Present{Index: index, Wait: wait})
	d.events = append(d.events, fmt.Sprintf("present %d", index))

	status := gpu.StatusOptimal
	if len(s.presentStatus) > 0 {
		status = s.presentStatus[0]
		s.presentStatus = s.presentStatus[1:]
	}
	return status, nil
}

func (c *Swapchain) Destroy() {
	c.surface.dev.mu.Lock()
	defer c.surface.dev.mu.Unlock()
	c.surface.dev.destroy(KindSwapchain, &c.destroyed)
}

// Destroyed reports whether Destroy was called.
func (c *Swapchain) Destroyed() bool {
	c.surface.dev.mu.Lock()
	defer c.surface.dev.mu.Unlock()
	return c.destroyed
}

// Acquires returns how many acquires reached the chain.
func (c *Swapchain) Acquires() int {
	c.surface.dev.mu.Lock()
	defer c.surface.dev.mu.Unlock()
	return c.acquires
}

// Presents returns every present made on the chain.
func (c *Swapchain) Presents() []Present {
	c.surface.dev.mu.Lock()
	defer c.surface.dev.mu.Unlock()
	return append([]Present(nil), c.presents...)
}
