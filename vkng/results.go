package vkng

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/inflight/gpu"
)

// check turns a driver call's result code into an error marked with the gpu
// error class it belongs to. Positive codes such as VK_TIMEOUT come back with a
// nil err from the driver, so the result code is inspected first.
func check(res common.VkResult, err error, op string) error {
	class := classify(res)
	if class == nil {
		if err == nil {
			return nil
		}
		return errors.Wrap(err, op)
	}

	if err == nil {
		err = errors.Newf("vulkan result %v", res)
	}
	return errors.Mark(errors.Wrap(err, op), class)
}

func classify(res common.VkResult) error {
	switch res {
	case core1_0.VKTimeout, core1_0.VKNotReady:
		return gpu.ErrTimeout
	case core1_0.VKErrorDeviceLost:
		return gpu.ErrDeviceLost
	case khr_swapchain.VKErrorOutOfDate:
		return gpu.ErrOutOfDate
	}
	return nil
}

// swapchainStatus folds the soft outcomes of acquire and present into a
// status. Anything else that is not success comes back as an error.
func swapchainStatus(res common.VkResult, err error, op string) (gpu.SwapchainStatus, error) {
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return gpu.StatusOutOfDate, nil
	case khr_swapchain.VKSuboptimal:
		return gpu.StatusSuboptimal, nil
	}
	if err := check(res, err, op); err != nil {
		return gpu.StatusOptimal, err
	}
	return gpu.StatusOptimal, nil
}
