package gpu

import (
	"fmt"
	"time"
)

// UndefinedExtent is the width and height a surface reports as its current
// extent when it lets the swapchain choose the size.
const UndefinedExtent = ^uint32(0)

type Extent struct {
	Width  uint32
	Height uint32
}

// Undefined reports whether e is the surface's "pick your own size" marker.
func (e Extent) Undefined() bool {
	return e.Width == UndefinedExtent && e.Height == UndefinedExtent
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// Format is a VkFormat value.
type Format int32

const (
	FormatUndefined     Format = 0
	FormatR8G8B8A8UNorm Format = 37
	FormatR8G8B8A8SRGB  Format = 43
	FormatB8G8R8A8UNorm Format = 44
	FormatB8G8R8A8SRGB  Format = 50
)

// ColorSpace is a VkColorSpaceKHR value.
type ColorSpace int32

const ColorSpaceSRGBNonlinear ColorSpace = 0

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

// PresentMode is a VkPresentModeKHR value.
type PresentMode int32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFIFO        PresentMode = 2
	PresentModeFIFORelaxed PresentMode = 3
)

var presentModeNames = map[PresentMode]string{
	PresentModeImmediate:   "immediate",
	PresentModeMailbox:     "mailbox",
	PresentModeFIFO:        "fifo",
	PresentModeFIFORelaxed: "fifo-relaxed",
}

func (m PresentMode) String() string {
	if name, ok := presentModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PresentMode(%d)", int32(m))
}

// ImageUsage is a set of VkImageUsageFlagBits in addition to colour attachment.
type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 0x00000001
	ImageUsageTransferDst ImageUsage = 0x00000002
	ImageUsageStorage     ImageUsage = 0x00000008
)

type SurfaceCapabilities struct {
	MinImageCount int
	// MaxImageCount is zero when the surface has no upper bound.
	MaxImageCount int
	CurrentExtent Extent
	MinExtent     Extent
	MaxExtent     Extent
}

// SwapchainStatus distinguishes the soft outcomes of acquire and present.
type SwapchainStatus int

const (
	StatusOptimal SwapchainStatus = iota
	// StatusSuboptimal: the operation succeeded but the chain no longer matches
	// the surface exactly.
	StatusSuboptimal
	// StatusOutOfDate: the operation did not happen; the chain must be rebuilt.
	StatusOutOfDate
)

func (s SwapchainStatus) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out-of-date"
	}
	return fmt.Sprintf("SwapchainStatus(%d)", int(s))
}

type SwapchainCreateInfo struct {
	MinImageCount int
	Format        SurfaceFormat
	Extent        Extent
	PresentMode   PresentMode
	ExtraUsage    ImageUsage
	// QueueFamilies lists every family that touches the images. More than one
	// distinct family means concurrent sharing.
	QueueFamilies []int
	// Old is the chain being replaced, if any.
	Old Swapchain
}

// Swapchain is a chain of presentable images.
type Swapchain interface {
	Images() ([]Image, error)
	// AcquireNextImage signals semaphore when the returned image may be written.
	// On StatusOutOfDate the index is meaningless and nothing is signaled.
	AcquireNextImage(timeout time.Duration, semaphore Semaphore) (int, SwapchainStatus, error)
	// Present queues image index for display once wait is signaled.
	Present(queue Queue, index int, wait Semaphore) (SwapchainStatus, error)
	Destroy()
}

// Surface is a drawable window surface queried against the device's physical
// device.
type Surface interface {
	Capabilities() (SurfaceCapabilities, error)
	Formats() ([]SurfaceFormat, error)
	PresentModes() ([]PresentMode, error)
	CreateSwapchain(info SwapchainCreateInfo) (Swapchain, error)
}
