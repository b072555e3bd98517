package vkng

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/inflight/gpu"
)

func TestCheck(t *testing.T) {
	driverErr := errors.New("driver failure")

	tests := []struct {
		name  string
		res   common.VkResult
		err   error
		class error
		ok    bool
	}{
		{name: "success", res: core1_0.VKSuccess, ok: true},
		{name: "timeout", res: core1_0.VKTimeout, class: gpu.ErrTimeout},
		{name: "not ready", res: core1_0.VKNotReady, class: gpu.ErrTimeout},
		{name: "device lost", res: core1_0.VKErrorDeviceLost, err: driverErr, class: gpu.ErrDeviceLost},
		{name: "out of date", res: khr_swapchain.VKErrorOutOfDate, err: driverErr, class: gpu.ErrOutOfDate},
		{name: "other failure", res: core1_0.VKErrorOutOfHostMemory, err: driverErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := check(tt.res, tt.err, "op")
			if tt.ok {
				if err != nil {
					t.Fatalf("check = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("check = nil, want error")
			}
			if tt.class != nil && !errors.Is(err, tt.class) {
				t.Errorf("check = %v, want class %v", err, tt.class)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("check = %v, lost driver error", err)
			}
		})
	}
}

func TestSwapchainStatus(t *testing.T) {
	tests := []struct {
		name    string
		res     common.VkResult
		err     error
		want    gpu.SwapchainStatus
		wantErr error
	}{
		{name: "success", res: core1_0.VKSuccess, want: gpu.StatusOptimal},
		{name: "suboptimal", res: khr_swapchain.VKSuboptimal, want: gpu.StatusSuboptimal},
		{name: "out of date", res: khr_swapchain.VKErrorOutOfDate, err: errors.New("out of date"), want: gpu.StatusOutOfDate},
		{name: "device lost", res: core1_0.VKErrorDeviceLost, err: errors.New("lost"), wantErr: gpu.ErrDeviceLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := swapchainStatus(tt.res, tt.err, "present")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if status != tt.want {
				t.Errorf("status = %v, want %v", status, tt.want)
			}
		})
	}
}

func TestExtentConversion(t *testing.T) {
	undefined := extentFrom(core1_0.Extent2D{Width: -1, Height: -1})
	if !undefined.Undefined() {
		t.Errorf("extentFrom(-1, -1) = %v, want undefined", undefined)
	}

	e := extentFrom(core1_0.Extent2D{Width: 800, Height: 600})
	if e != (gpu.Extent{Width: 800, Height: 600}) {
		t.Errorf("extentFrom = %v", e)
	}
	if back := extentTo(e); back.Width != 800 || back.Height != 600 {
		t.Errorf("extentTo = %+v", back)
	}
}

func TestSharing(t *testing.T) {
	tests := []struct {
		name     string
		families []int
		mode     core1_0.SharingMode
		want     []int
	}{
		{name: "none", mode: core1_0.SharingModeExclusive},
		{name: "single", families: []int{0}, mode: core1_0.SharingModeExclusive},
		{name: "repeated", families: []int{0, 0, 0}, mode: core1_0.SharingModeExclusive},
		{name: "distinct", families: []int{0, 2, 0}, mode: core1_0.SharingModeConcurrent, want: []int{0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, families := sharing(tt.families)
			if mode != tt.mode {
				t.Errorf("mode = %v, want %v", mode, tt.mode)
			}
			if len(families) != len(tt.want) {
				t.Fatalf("families = %v, want %v", families, tt.want)
			}
			for i := range families {
				if families[i] != tt.want[i] {
					t.Errorf("families = %v, want %v", families, tt.want)
				}
			}
		})
	}
}

func TestLabelWithoutDebugDriver(t *testing.T) {
	// Labels are best effort; without a debug utils driver nothing is called.
	d := &Device{}
	d.label(core1_0.ObjectTypeFence, 1, "slot 0 in flight")
}
