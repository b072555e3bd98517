package swapchain

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
)

// DefaultSurfaceFormat is picked when the preferred format is absent or not
// requested.
var DefaultSurfaceFormat = gpu.SurfaceFormat{
	Format:     gpu.FormatB8G8R8A8SRGB,
	ColorSpace: gpu.ColorSpaceSRGBNonlinear,
}

var (
	errNoFormats = errors.New("surface reports no formats")
	errNoModes   = errors.New("surface reports no present modes")
)

// ChooseSurfaceFormat returns preferred if the surface offers it, else the
// default sRGB format if offered, else the first available format.
func ChooseSurfaceFormat(available []gpu.SurfaceFormat, preferred *gpu.SurfaceFormat) (gpu.SurfaceFormat, error) {
	if len(available) == 0 {
		return gpu.SurfaceFormat{}, errNoFormats
	}
	if preferred != nil && preferred.Format != gpu.FormatUndefined {
		for _, f := range available {
			if f == *preferred {
				return f, nil
			}
		}
	}
	for _, f := range available {
		if f == DefaultSurfaceFormat {
			return f, nil
		}
	}
	return available[0], nil
}

// ChoosePresentMode prefers mailbox for triple buffering without vsync, then
// immediate without vsync, then FIFO.
func ChoosePresentMode(available []gpu.PresentMode, vsync, triple bool) (gpu.PresentMode, error) {
	if len(available) == 0 {
		return 0, errNoModes
	}
	has := func(mode gpu.PresentMode) bool {
		for _, m := range available {
			if m == mode {
				return true
			}
		}
		return false
	}
	if !vsync && triple && has(gpu.PresentModeMailbox) {
		return gpu.PresentModeMailbox, nil
	}
	if !vsync && has(gpu.PresentModeImmediate) {
		return gpu.PresentModeImmediate, nil
	}
	// FIFO support is required of every surface.
	return gpu.PresentModeFIFO, nil
}

// ChooseExtent uses the surface's current extent when it has one and clamps
// the requested size into the surface's limits otherwise.
func ChooseExtent(caps gpu.SurfaceCapabilities, width, height uint32) gpu.Extent {
	if !caps.CurrentExtent.Undefined() {
		return caps.CurrentExtent
	}
	return gpu.Extent{
		Width:  clamp(width, caps.MinExtent.Width, caps.MaxExtent.Width),
		Height: clamp(height, caps.MinExtent.Height, caps.MaxExtent.Height),
	}
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ChooseImageCount asks for one image more than the minimum so the
// application is never stuck waiting on the driver, bounded by the maximum
// when the surface has one.
func ChooseImageCount(caps gpu.SurfaceCapabilities) int {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}
