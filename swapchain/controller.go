// Package swapchain builds and rebuilds the chain of presentable images for a
// surface, together with a view and framebuffer per image, and runs acquire
// and present against it.
package swapchain

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/inflight/gpu"
	"github.com/vkngwrapper/inflight/internal/invariant"
	"github.com/vkngwrapper/inflight/internal/logging"
)

// ErrZeroExtent is returned when the surface currently has no area, as with a
// minimised window. Retry once the window is restored.
var ErrZeroExtent = errors.New("swapchain: surface has zero extent")

type Options struct {
	Logger *slog.Logger
}

// Controller owns one swapchain at a time. Image count, format and extent are
// fixed for the life of a chain and only change through Rebuild.
type Controller struct {
	device  gpu.Device
	surface gpu.Surface
	logger  *slog.Logger

	cfg    Config
	chain  gpu.Swapchain
	images []gpu.Image
	format gpu.SurfaceFormat
	mode   gpu.PresentMode
	extent gpu.Extent

	views        []gpu.ImageView
	framebuffers []gpu.Framebuffer
	// ownsFramebuffers is false when the framebuffers came from SetFramebuffers
	// without ownership.
	ownsFramebuffers bool

	current   int
	outOfDate bool
}

// New creates a controller and its first chain.
func New(device gpu.Device, surface gpu.Surface, cfg Config, opts Options) (*Controller, error) {
	c := &Controller{
		device:  device,
		surface: surface,
		logger:  logging.OrNop(opts.Logger),
		current: -1,
	}
	if err := c.Create(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Create builds the chain for cfg. The controller must not hold a chain.
func (c *Controller) Create(cfg Config) error {
	if err := invariant.Check(c.chain == nil, "swapchain already created, use Rebuild"); err != nil {
		return err
	}
	return c.create(cfg, nil)
}

func (c *Controller) create(cfg Config, old gpu.Swapchain) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	caps, err := c.surface.Capabilities()
	if err != nil {
		return errors.Wrap(err, "query surface capabilities")
	}
	formats, err := c.surface.Formats()
	if err != nil {
		return errors.Wrap(err, "query surface formats")
	}
	modes, err := c.surface.PresentModes()
	if err != nil {
		return errors.Wrap(err, "query surface present modes")
	}

	format, err := ChooseSurfaceFormat(formats, cfg.PreferredFormat)
	if err != nil {
		return gpu.CreationFailed(err, "swapchain")
	}
	mode, err := ChoosePresentMode(modes, cfg.VSync, cfg.TripleBuffering)
	if err != nil {
		return gpu.CreationFailed(err, "swapchain")
	}
	extent := ChooseExtent(caps, cfg.Width, cfg.Height)
	if extent.Width == 0 || extent.Height == 0 {
		return ErrZeroExtent
	}

	families := []int{c.device.QueueFamily(gpu.LaneGraphics)}
	if present := c.device.PresentFamily(); present != families[0] {
		families = append(families, present)
	}

	chain, err := c.surface.CreateSwapchain(gpu.SwapchainCreateInfo{
		MinImageCount: ChooseImageCount(caps),
		Format:        format,
		Extent:        extent,
		PresentMode:   mode,
		ExtraUsage:    cfg.ExtraUsage,
		QueueFamilies: families,
		Old:           old,
	})
	if err != nil {
		return gpu.CreationFailed(err, "swapchain")
	}
	images, err := chain.Images()
	if err != nil {
		chain.Destroy()
		return gpu.CreationFailed(err, "swapchain images")
	}

	c.cfg = cfg
	c.chain = chain
	c.images = images
	c.format = format
	c.mode = mode
	c.extent = extent
	c.current = -1
	c.outOfDate = false

	c.logger.Info("swapchain created",
		slog.Int("images", len(images)),
		slog.String("extent", extent.String()),
		slog.String("mode", mode.String()),
		slog.Int("format", int(format.Format)))
	return nil
}

// CreateViewsAndFramebuffers creates one view per image and, if renderPass is
// not nil, one framebuffer per view. depthView, if not nil, is attached to
// every framebuffer after the colour view. Either everything is created or
// nothing is, and on failure the previous views and framebuffers are kept.
func (c *Controller) CreateViewsAndFramebuffers(renderPass gpu.RenderPass, depthView gpu.ImageView) error {
	if err := invariant.Check(c.chain != nil, "no swapchain to create views for"); err != nil {
		return err
	}

	views := make([]gpu.ImageView, 0, len(c.images))
	var framebuffers []gpu.Framebuffer
	rollback := func() {
		for i := len(framebuffers) - 1; i >= 0; i-- {
			framebuffers[i].Destroy()
		}
		for i := len(views) - 1; i >= 0; i-- {
			views[i].Destroy()
		}
	}

	for i, image := range c.images {
		view, err := c.device.CreateImageView(image, c.format.Format)
		if err != nil {
			rollback()
			return errors.Wrapf(gpu.CreationFailed(err, "image view"), "swapchain image %d", i)
		}
		views = append(views, view)
	}

	if renderPass != nil {
		framebuffers = make([]gpu.Framebuffer, 0, len(views))
		for i, view := range views {
			attachments := []gpu.ImageView{view}
			if depthView != nil {
				attachments = append(attachments, depthView)
			}
			fb, err := c.device.CreateFramebuffer(renderPass, attachments, c.extent)
			if err != nil {
				rollback()
				return errors.Wrapf(gpu.CreationFailed(err, "framebuffer"), "swapchain image %d", i)
			}
			framebuffers = append(framebuffers, fb)
		}
	}

	c.releaseViews()
	c.views = views
	c.framebuffers = framebuffers
	c.ownsFramebuffers = true
	return nil
}

// SetFramebuffers installs framebuffers built elsewhere, one per image. When
// owned is false the controller never destroys them.
func (c *Controller) SetFramebuffers(framebuffers []gpu.Framebuffer, owned bool) error {
	if err := invariant.Check(len(framebuffers) == len(c.images),
		"%d framebuffers for %d swapchain images", len(framebuffers), len(c.images)); err != nil {
		return err
	}
	c.releaseFramebuffers()
	c.framebuffers = append([]gpu.Framebuffer(nil), framebuffers...)
	c.ownsFramebuffers = owned
	return nil
}

// Acquire asks for the next image and has signal signaled when it is ready.
// Both StatusSuboptimal and StatusOutOfDate mark the chain out of date. On
// StatusOutOfDate no image is held.
func (c *Controller) Acquire(signal gpu.Semaphore, timeout time.Duration) (gpu.SwapchainStatus, error) {
	if err := invariant.Check(c.chain != nil, "acquire without a swapchain"); err != nil {
		return gpu.StatusOptimal, err
	}
	index, status, err := c.chain.AcquireNextImage(timeout, signal)
	if err != nil {
		return status, errors.Wrap(err, "acquire swapchain image")
	}
	switch status {
	case gpu.StatusOutOfDate:
		c.outOfDate = true
		c.current = -1
		return status, nil
	case gpu.StatusSuboptimal:
		c.outOfDate = true
	}
	if err := invariant.Check(index >= 0 && index < len(c.images),
		"acquired image %d of %d", index, len(c.images)); err != nil {
		return status, err
	}
	c.current = index
	c.logger.Debug("image acquired", slog.Int("image", index), slog.String("status", status.String()))
	return status, nil
}

// Present queues the acquired image for display once wait is signaled. The
// image is released whatever the outcome, and a failed present leaves the
// chain out of date.
func (c *Controller) Present(wait gpu.Semaphore) (gpu.SwapchainStatus, error) {
	if err := invariant.Check(c.current >= 0, "present without an acquired image"); err != nil {
		return gpu.StatusOptimal, err
	}
	index := c.current
	c.current = -1
	status, err := c.chain.Present(c.device.PresentQueue(), index, wait)
	if err != nil {
		c.outOfDate = true
		return status, errors.Wrapf(err, "present swapchain image %d", index)
	}
	if status != gpu.StatusOptimal {
		c.outOfDate = true
	}
	return status, nil
}

// Rebuild waits for the device to go idle, drops the views and framebuffers
// and replaces the chain. It is the only way to clear the out-of-date flag.
// Views and framebuffers must be created again afterwards.
func (c *Controller) Rebuild(cfg Config) error {
	if err := c.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait for device idle before rebuild")
	}
	c.releaseViews()

	old := c.chain
	c.chain = nil
	c.images = nil
	err := c.create(cfg, old)
	if old != nil {
		old.Destroy()
	}
	if err != nil {
		c.outOfDate = true
		return errors.Wrap(err, "rebuild swapchain")
	}
	c.logger.Info("swapchain rebuilt", slog.String("extent", c.extent.String()))
	return nil
}

// Destroy releases the views, owned framebuffers and the chain.
func (c *Controller) Destroy() {
	c.releaseViews()
	if c.chain != nil {
		c.chain.Destroy()
		c.chain = nil
	}
	c.images = nil
	c.current = -1
}

func (c *Controller) releaseFramebuffers() {
	if c.ownsFramebuffers {
		for i := len(c.framebuffers) - 1; i >= 0; i-- {
			c.framebuffers[i].Destroy()
		}
	}
	c.framebuffers = nil
	c.ownsFramebuffers = false
}

func (c *Controller) releaseViews() {
	c.releaseFramebuffers()
	for i := len(c.views) - 1; i >= 0; i-- {
		c.views[i].Destroy()
	}
	c.views = nil
}

func (c *Controller) Config() Config { return c.cfg }

func (c *Controller) Format() gpu.SurfaceFormat { return c.format }

func (c *Controller) Extent() gpu.Extent { return c.extent }

func (c *Controller) PresentMode() gpu.PresentMode { return c.mode }

func (c *Controller) ImageCount() int { return len(c.images) }

// CurrentImage is the index of the acquired image, or -1 if none is held.
func (c *Controller) CurrentImage() int { return c.current }

func (c *Controller) CurrentView() gpu.ImageView {
	if c.current < 0 || c.current >= len(c.views) {
		return nil
	}
	return c.views[c.current]
}

func (c *Controller) CurrentFramebuffer() gpu.Framebuffer {
	return c.Framebuffer(c.current)
}

// Framebuffer returns the framebuffer for image i, or nil.
func (c *Controller) Framebuffer(i int) gpu.Framebuffer {
	if i < 0 || i >= len(c.framebuffers) {
		return nil
	}
	return c.framebuffers[i]
}

func (c *Controller) Views() []gpu.ImageView { return c.views }

func (c *Controller) Framebuffers() []gpu.Framebuffer { return c.framebuffers }

// OutOfDate reports whether the chain must be rebuilt.
func (c *Controller) OutOfDate() bool { return c.outOfDate }
