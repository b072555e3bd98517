/*
Package gpu describes the narrow slice of a Vulkan device that the frame pipeline
needs: fences, semaphores, command pools and buffers, queues, and a presentation
surface with its swapchain.

Nothing in this package talks to a driver. The vkng package implements these
interfaces on top of vkngwrapper, and the gputest package implements them in memory
so that the frame pipeline can be exercised without a GPU.

Handles are interfaces rather than values so that an implementation can attach
whatever bookkeeping it needs to them. Every Destroy method must be safe to call
exactly once; callers never use a handle after destroying it.
*/
package gpu
