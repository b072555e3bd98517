/*
Package vkng implements the gpu interfaces on top of vkngwrapper. It is the
binding used outside of tests; the frame pipeline itself only sees the gpu
package.

A Device wraps a core1_0.CoreDeviceDriver that the caller created and still
owns: destroying the Device does not destroy the logical device.
*/
package vkng

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_2"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/inflight/gpu"
	"github.com/vkngwrapper/inflight/internal/logging"
)

type DeviceConfig struct {
	Driver core1_0.CoreDeviceDriver
	// Families holds the queue family of each lane. Lanes may share a family,
	// in which case they also share its first queue.
	Families      [gpu.LaneCount]int
	PresentFamily int
	// Timeline asks for timeline semaphores. They are only used when the driver
	// also exposes the Vulkan 1.2 entry points and the device was created with
	// the timelineSemaphore feature enabled.
	Timeline bool
	// Debug names fences, semaphores and command pools after their role. Leave
	// it nil unless the instance enabled VK_EXT_debug_utils.
	Debug  ext_debug_utils.ExtensionDriver
	Logger *slog.Logger
}

type Device struct {
	driver   core1_0.CoreDeviceDriver
	timeline core1_2.DeviceDriver
	debug    ext_debug_utils.ExtensionDriver

	families      [gpu.LaneCount]int
	presentFamily int
	queues        [gpu.LaneCount]*Queue
	present       *Queue

	logger *slog.Logger
}

var _ gpu.Device = (*Device)(nil)

func NewDevice(cfg DeviceConfig) (*Device, error) {
	if cfg.Driver == nil {
		return nil, errors.New("vkng: nil device driver")
	}

	d := &Device{
		driver:        cfg.Driver,
		debug:         cfg.Debug,
		families:      cfg.Families,
		presentFamily: cfg.PresentFamily,
		logger:        logging.OrNop(cfg.Logger),
	}

	if cfg.Timeline {
		if td, ok := cfg.Driver.(core1_2.DeviceDriver); ok {
			d.timeline = td
		} else {
			d.logger.Warn("timeline semaphores requested but the driver has no Vulkan 1.2 entry points")
		}
	}

	byFamily := make(map[int]*Queue)
	queue := func(family int) *Queue {
		if q, ok := byFamily[family]; ok {
			return q
		}
		q := &Queue{device: d, handle: cfg.Driver.GetQueue(family, 0), family: family}
		byFamily[family] = q
		return q
	}

	for _, lane := range gpu.Lanes() {
		d.queues[lane] = queue(cfg.Families[lane])
	}
	d.present = queue(cfg.PresentFamily)

	d.logger.Debug("device wrapped",
		slog.Int("graphics_family", cfg.Families[gpu.LaneGraphics]),
		slog.Int("compute_family", cfg.Families[gpu.LaneCompute]),
		slog.Int("transfer_family", cfg.Families[gpu.LaneTransfer]),
		slog.Int("present_family", cfg.PresentFamily),
		slog.Bool("timeline", d.timeline != nil),
		slog.Bool("labels", d.debug != nil),
	)
	return d, nil
}

// Driver exposes the wrapped driver for recording commands.
func (d *Device) Driver() core1_0.CoreDeviceDriver {
	return d.driver
}

func (d *Device) Queue(lane gpu.Lane) gpu.Queue {
	return d.queues[lane]
}

func (d *Device) QueueFamily(lane gpu.Lane) int {
	return d.families[lane]
}

func (d *Device) PresentQueue() gpu.Queue {
	return d.present
}

func (d *Device) PresentFamily() int {
	return d.presentFamily
}

func (d *Device) SupportsTimelineSemaphores() bool {
	return d.timeline != nil
}

func (d *Device) WaitIdle() error {
	res, err := d.driver.DeviceWaitIdle()
	return check(res, err, "wait for device idle")
}

// label names a Vulkan object for validation messages and debuggers. Without
// a debug utils driver it does nothing.
func (d *Device) label(objectType core1_0.ObjectType, handle uintptr, name string) {
	if d.debug == nil {
		return
	}
	_, err := d.debug.SetDebugUtilsObjectName(d.driver.Device(), ext_debug_utils.DebugUtilsObjectNameInfo{
		ObjectName:   name,
		ObjectHandle: loader.VulkanHandle(handle),
		ObjectType:   objectType,
	})
	if err != nil {
		d.logger.Debug("object label not set", slog.String("name", name), slog.Any("err", err))
	}
}
