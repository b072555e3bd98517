package swapchain

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
)

type Config struct {
	// Width and Height are only used when the surface lets the swapchain pick
	// its size.
	Width  uint32
	Height uint32
	VSync  bool
	// TripleBuffering asks for mailbox presentation when VSync is off.
	TripleBuffering bool
	PreferredFormat *gpu.SurfaceFormat
	// ExtraUsage is added to colour attachment usage for the images.
	ExtraUsage gpu.ImageUsage
}

func DefaultConfig() Config {
	return Config{
		Width:  1280,
		Height: 720,
		VSync:  true,
	}
}

func (c Config) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return errors.Newf("swapchain size %dx%d must be non-zero", c.Width, c.Height)
	}
	return nil
}
