package vkng

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/inflight/gpu"
)

type Surface struct {
	device          *Device
	surfaceDriver   khr_surface.ExtensionDriver
	swapchainDriver khr_swapchain.ExtensionDriver
	handle          khr_surface.Surface
	physical        core1_0.PhysicalDevice
}

var _ gpu.Surface = (*Surface)(nil)

// NewSurface wraps a window surface that the caller created and will destroy
// after every swapchain built from it.
func NewSurface(device *Device, surfaceDriver khr_surface.ExtensionDriver, swapchainDriver khr_swapchain.ExtensionDriver, surface khr_surface.Surface, physical core1_0.PhysicalDevice) *Surface {
	return &Surface{
		device:          device,
		surfaceDriver:   surfaceDriver,
		swapchainDriver: swapchainDriver,
		handle:          surface,
		physical:        physical,
	}
}

func (s *Surface) Capabilities() (gpu.SurfaceCapabilities, error) {
	caps, res, err := s.surfaceDriver.GetPhysicalDeviceSurfaceCapabilities(s.handle, s.physical)
	if err := check(res, err, "surface capabilities"); err != nil {
		return gpu.SurfaceCapabilities{}, err
	}
	return capabilities(caps), nil
}

func capabilities(caps *khr_surface.SurfaceCapabilities) gpu.SurfaceCapabilities {
	return gpu.SurfaceCapabilities{
		MinImageCount: caps.MinImageCount,
		MaxImageCount: caps.MaxImageCount,
		CurrentExtent: extentFrom(caps.CurrentExtent),
		MinExtent:     extentFrom(caps.MinImageExtent),
		MaxExtent:     extentFrom(caps.MaxImageExtent),
	}
}

func (s *Surface) Formats() ([]gpu.SurfaceFormat, error) {
	formats, res, err := s.surfaceDriver.GetPhysicalDeviceSurfaceFormats(s.handle, s.physical)
	if err := check(res, err, "surface formats"); err != nil {
		return nil, err
	}

	out := make([]gpu.SurfaceFormat, len(formats))
	for i, format := range formats {
		out[i] = gpu.SurfaceFormat{
			Format:     gpu.Format(format.Format),
			ColorSpace: gpu.ColorSpace(format.ColorSpace),
		}
	}
	return out, nil
}

func (s *Surface) PresentModes() ([]gpu.PresentMode, error) {
	modes, res, err := s.surfaceDriver.GetPhysicalDeviceSurfacePresentModes(s.handle, s.physical)
	if err := check(res, err, "surface present modes"); err != nil {
		return nil, err
	}

	out := make([]gpu.PresentMode, len(modes))
	for i, mode := range modes {
		out[i] = gpu.PresentMode(mode)
	}
	return out, nil
}

func (s *Surface) CreateSwapchain(info gpu.SwapchainCreateInfo) (gpu.Swapchain, error) {
	caps, res, err := s.surfaceDriver.GetPhysicalDeviceSurfaceCapabilities(s.handle, s.physical)
	if err := check(res, err, "surface capabilities"); err != nil {
		return nil, gpu.CreationFailed(err, "swapchain")
	}

	sharingMode, families := sharing(info.QueueFamilies)
	createInfo := khr_swapchain.SwapchainCreateInfo{
		Surface: s.handle,

		MinImageCount:    info.MinImageCount,
		ImageFormat:      core1_0.Format(info.Format.Format),
		ImageColorSpace:  khr_surface.ColorSpace(info.Format.ColorSpace),
		ImageExtent:      extentTo(info.Extent),
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment | core1_0.ImageUsageFlags(info.ExtraUsage),

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: families,

		PreTransform:   caps.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    khr_surface.PresentMode(info.PresentMode),
		Clipped:        true,
	}
	if old, ok := info.Old.(*Swapchain); ok && old != nil {
		createInfo.OldSwapchain = old.handle
	}

	handle, res, err := s.swapchainDriver.CreateSwapchain(nil, createInfo)
	if err := check(res, err, "swapchain"); err != nil {
		return nil, gpu.CreationFailed(err, "swapchain")
	}
	return &Swapchain{surface: s, handle: handle}, nil
}

// sharing picks exclusive ownership unless more than one distinct family
// touches the images.
func sharing(families []int) (core1_0.SharingMode, []int) {
	var distinct []int
	seen := make(map[int]bool)
	for _, family := range families {
		if !seen[family] {
			seen[family] = true
			distinct = append(distinct, family)
		}
	}
	if len(distinct) < 2 {
		return core1_0.SharingModeExclusive, nil
	}
	return core1_0.SharingModeConcurrent, distinct
}

func extentFrom(e core1_0.Extent2D) gpu.Extent {
	if e.Width == -1 && e.Height == -1 {
		return gpu.Extent{Width: gpu.UndefinedExtent, Height: gpu.UndefinedExtent}
	}
	return gpu.Extent{Width: uint32(e.Width), Height: uint32(e.Height)}
}

func extentTo(e gpu.Extent) core1_0.Extent2D {
	return core1_0.Extent2D{Width: int(e.Width), Height: int(e.Height)}
}

type Swapchain struct {
	surface *Surface
	handle  khr_swapchain.Swapchain
}

type Image struct {
	handle core1_0.Image
}

func (i *Image) Handle() core1_0.Image {
	return i.handle
}

func (c *Swapchain) Images() ([]gpu.Image, error) {
	handles, res, err := c.surface.swapchainDriver.GetSwapchainImages(c.handle)
	if err := check(res, err, "swapchain images"); err != nil {
		return nil, err
	}

	images := make([]gpu.Image, len(handles))
	for i, handle := range handles {
		images[i] = &Image{handle: handle}
	}
	return images, nil
}

func (c *Swapchain) AcquireNextImage(timeout time.Duration, semaphore gpu.Semaphore) (int, gpu.SwapchainStatus, error) {
	handle, ok := semaphore.(semaphoreHandle)
	if !ok {
		return 0, gpu.StatusOptimal, errors.Newf("vkng: foreign semaphore %T", semaphore)
	}
	signal := handle.Handle()

	index, res, err := c.surface.swapchainDriver.AcquireNextImage(c.handle, timeout, &signal, nil)
	status, err := swapchainStatus(res, err, "acquire next image")
	return index, status, err
}

func (c *Swapchain) Present(queue gpu.Queue, index int, wait gpu.Semaphore) (gpu.SwapchainStatus, error) {
	handle, ok := wait.(semaphoreHandle)
	if !ok {
		return gpu.StatusOptimal, errors.Newf("vkng: foreign semaphore %T", wait)
	}

	res, err := c.surface.swapchainDriver.QueuePresent(queue.(*Queue).handle, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{handle.Handle()},
		Swapchains:     []khr_swapchain.Swapchain{c.handle},
		ImageIndices:   []int{index},
	})
	return swapchainStatus(res, err, "present")
}

func (c *Swapchain) Destroy() {
	c.surface.swapchainDriver.DestroySwapchain(c.handle, nil)
}

type ImageView struct {
	device *Device
	handle core1_0.ImageView
}

func (v *ImageView) Handle() core1_0.ImageView {
	return v.handle
}

func (d *Device) CreateImageView(image gpu.Image, format gpu.Format) (gpu.ImageView, error) {
	img, ok := image.(*Image)
	if !ok {
		return nil, gpu.CreationFailed(errors.Newf("vkng: foreign image %T", image), "image view")
	}

	view, res, err := d.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    img.handle,
		ViewType: core1_0.ImageViewType2D,
		Format:   core1_0.Format(format),
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err := check(res, err, "image view"); err != nil {
		return nil, gpu.CreationFailed(err, "image view")
	}
	return &ImageView{device: d, handle: view}, nil
}

func (v *ImageView) Destroy() {
	v.device.driver.DestroyImageView(v.handle, nil)
}

// RenderPass is a render pass the caller created. The caller destroys it after
// every framebuffer built against it.
type RenderPass struct {
	Handle core1_0.RenderPass
}

type Framebuffer struct {
	device *Device
	handle core1_0.Framebuffer
}

func (f *Framebuffer) Handle() core1_0.Framebuffer {
	return f.handle
}

func (d *Device) CreateFramebuffer(renderPass gpu.RenderPass, attachments []gpu.ImageView, extent gpu.Extent) (gpu.Framebuffer, error) {
	pass, ok := renderPass.(*RenderPass)
	if !ok {
		return nil, gpu.CreationFailed(errors.Newf("vkng: foreign render pass %T", renderPass), "framebuffer")
	}

	views := make([]core1_0.ImageView, len(attachments))
	for i, attachment := range attachments {
		view, ok := attachment.(*ImageView)
		if !ok {
			return nil, gpu.CreationFailed(errors.Newf("vkng: foreign image view %T", attachment), "framebuffer")
		}
		views[i] = view.handle
	}

	framebuffer, res, err := d.driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  pass.Handle,
		Layers:      1,
		Attachments: views,
		Width:       int(extent.Width),
		Height:      int(extent.Height),
	})
	if err := check(res, err, "framebuffer"); err != nil {
		return nil, gpu.CreationFailed(err, "framebuffer")
	}
	return &Framebuffer{device: d, handle: framebuffer}, nil
}

func (f *Framebuffer) Destroy() {
	f.device.driver.DestroyFramebuffer(f.handle, nil)
}
