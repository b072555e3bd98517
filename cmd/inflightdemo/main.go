// Command inflightdemo opens a window and clears it every frame through the
// frame orchestrator, keeping several frames in flight across the graphics,
// compute and transfer queues.
package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_2"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/inflight/frame"
	"github.com/vkngwrapper/inflight/gpu"
	"github.com/vkngwrapper/inflight/swapchain"
	"github.com/vkngwrapper/inflight/vkng"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

type options struct {
	width, height int
	vsync         bool
	triple        bool
	frames        uint64
	fenceTimeout  time.Duration
	fenceRetries  int
	parallel      bool
	timeline      bool
	validation    bool
	debug         bool
}

type queueFamilies struct {
	graphics, compute, transfer, present int
}

type App struct {
	opts   options
	logger *slog.Logger

	window       *sdl.Window
	globalDriver core1_0.GlobalDriver

	instanceDriver core1_0.CoreInstanceDriver
	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	surfaceExtension   khr_surface.ExtensionDriver
	swapchainExtension khr_swapchain.ExtensionDriver
	surface            khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	families       queueFamilies
	timeline       bool
	deviceDriver   core1_0.CoreDeviceDriver

	device       *vkng.Device
	renderPass   core1_0.RenderPass
	orchestrator *frame.Orchestrator
}

func (app *App) Run(ctx context.Context) error {
	err := app.initWindow()
	if err != nil {
		return err
	}
	defer app.cleanup()

	err = app.initVulkan()
	if err != nil {
		return err
	}

	return app.mainLoop(ctx)
}

func (app *App) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return err
	}

	window, err := sdl.CreateWindow("inflight", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(app.opts.width), int32(app.opts.height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return err
	}
	app.window = window

	app.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	return err
}

func (app *App) initVulkan() error {
	steps := []func() error{
		app.createInstance,
		app.setupDebugMessenger,
		app.createSurface,
		app.pickPhysicalDevice,
		app.createLogicalDevice,
		app.createOrchestrator,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (app *App) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    "inflight",
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := app.window.VulkanGetInstanceExtensions()
	extensions, _, err := app.globalDriver.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		if _, hasExt := extensions[ext]; !hasExt {
			return errors.Errorf("createInstance: cannot initialize sdl: missing extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if app.opts.validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	if _, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]; enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if app.opts.validation {
		layers, _, err := app.globalDriver.AvailableLayers()
		if err != nil {
			return err
		}

		for _, layer := range validationLayers {
			if _, hasValidation := layers[layer]; !hasValidation {
				return errors.Errorf("createInstance: validation layer %s not available", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = app.debugMessengerOptions()
	}

	app.instanceDriver, _, err = app.globalDriver.CreateInstance(nil, instanceOptions)
	return err
}

func (app *App) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    app.logDebug,
	}
}

func (app *App) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	app.logger.Log(context.Background(), level, data.Message,
		slog.String("type", msgType.String()),
		slog.String("severity", severity.String()),
	)
	return false
}

func (app *App) setupDebugMessenger() error {
	if !app.opts.validation {
		return nil
	}

	var err error
	app.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(app.instanceDriver)
	app.debugMessenger, _, err = app.debugDriver.CreateDebugUtilsMessenger(nil, app.debugMessengerOptions())
	return err
}

func (app *App) createSurface() error {
	app.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(app.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(app.instanceDriver.Instance(), app.surfaceExtension, app.window)
	if err != nil {
		return err
	}

	app.surface = surface
	return nil
}

func (app *App) pickPhysicalDevice() error {
	physicalDevices, _, err := app.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		families, ok, err := app.findQueueFamilies(device)
		if err != nil {
			return err
		}
		if ok && app.checkDeviceExtensionSupport(device) {
			app.physicalDevice = device
			app.families = families
			break
		}
	}

	if !app.physicalDevice.Initialized() {
		return errors.New("failed to find a suitable GPU")
	}

	props, err := app.instanceDriver.GetPhysicalDeviceProperties(app.physicalDevice)
	if err != nil {
		return err
	}
	app.timeline = app.opts.timeline && props.APIVersion.IsAtLeast(common.Vulkan1_2)

	app.logger.Info("picked physical device",
		slog.String("name", props.DeviceName),
		slog.Int("graphics_family", app.families.graphics),
		slog.Int("compute_family", app.families.compute),
		slog.Int("transfer_family", app.families.transfer),
		slog.Int("present_family", app.families.present),
	)
	return nil
}

func (app *App) checkDeviceExtensionSupport(device core1_0.PhysicalDevice) bool {
	extensions, _, err := app.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		if _, hasExtension := extensions[extension]; !hasExtension {
			return false
		}
	}
	return true
}

// findQueueFamilies prefers a compute family without graphics and a transfer
// family with neither, falling back to the graphics family for both.
func (app *App) findQueueFamilies(device core1_0.PhysicalDevice) (queueFamilies, bool, error) {
	families := queueFamilies{graphics: -1, compute: -1, transfer: -1, present: -1}
	properties := app.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	for idx, family := range properties {
		flags := family.QueueFlags
		graphics := flags&core1_0.QueueGraphics != 0
		compute := flags&core1_0.QueueCompute != 0

		if graphics && families.graphics < 0 {
			families.graphics = idx
		}
		if compute && !graphics && families.compute < 0 {
			families.compute = idx
		}
		if flags&core1_0.QueueTransfer != 0 && !graphics && !compute && families.transfer < 0 {
			families.transfer = idx
		}

		supported, _, err := app.surfaceExtension.GetPhysicalDeviceSurfaceSupport(app.surface, device, idx)
		if err != nil {
			return families, false, err
		}
		// Presenting from the graphics family avoids concurrent image sharing.
		if supported && (families.present < 0 || idx == families.graphics) {
			families.present = idx
		}
	}

	if families.compute < 0 {
		families.compute = families.graphics
	}
	if families.transfer < 0 {
		families.transfer = families.graphics
	}
	return families, families.graphics >= 0 && families.present >= 0, nil
}

func (app *App) createLogicalDevice() error {
	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	seen := make(map[int]bool)
	for _, family := range []int{app.families.graphics, app.families.compute, app.families.transfer, app.families.present} {
		if seen[family] {
			continue
		}
		seen[family] = true
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family,
			QueuePriorities:  []float32{1.0},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// Makes this compatible with vulkan portability, necessary to run on mac
	extensions, _, err := app.instanceDriver.EnumerateDeviceExtensionProperties(app.physicalDevice)
	if err != nil {
		return err
	}
	if _, supported := extensions[khr_portability_subset.ExtensionName]; supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	createInfo := core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueFamilyOptions,
		EnabledExtensionNames: extensionNames,
	}
	if app.timeline {
		createInfo.Next = core1_2.PhysicalDeviceTimelineSemaphoreFeatures{
			TimelineSemaphore: true,
		}
	}

	app.deviceDriver, _, err = app.instanceDriver.CreateDevice(app.physicalDevice, nil, createInfo)
	if err != nil && app.timeline {
		app.logger.Warn("device creation with timeline semaphores failed, retrying without", slog.Any("error", err))
		app.timeline = false
		createInfo.Next = nil
		app.deviceDriver, _, err = app.instanceDriver.CreateDevice(app.physicalDevice, nil, createInfo)
	}
	if err != nil {
		return err
	}

	app.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(app.deviceDriver)

	app.device, err = vkng.NewDevice(vkng.DeviceConfig{
		Driver: app.deviceDriver,
		Families: [gpu.LaneCount]int{
			gpu.LaneGraphics: app.families.graphics,
			gpu.LaneCompute:  app.families.compute,
			gpu.LaneTransfer: app.families.transfer,
		},
		PresentFamily: app.families.present,
		Timeline:      app.timeline,
		Debug:         app.debugDriver,
		Logger:        app.logger,
	})
	return err
}

func (app *App) createRenderPass(format core1_0.Format) error {
	renderPass, _, err := app.deviceDriver.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite,
			},
		},
	})
	if err != nil {
		return err
	}

	app.renderPass = renderPass
	return nil
}

func (app *App) createOrchestrator() error {
	surface := vkng.NewSurface(app.device, app.surfaceExtension, app.swapchainExtension, app.surface, app.physicalDevice)

	// The render pass outlives every chain, so the format is settled up front
	// and pinned for rebuilds.
	formats, err := surface.Formats()
	if err != nil {
		return err
	}
	format, err := swapchain.ChooseSurfaceFormat(formats, nil)
	if err != nil {
		return err
	}
	if err := app.createRenderPass(core1_0.Format(format.Format)); err != nil {
		return err
	}

	w, h := app.window.VulkanGetDrawableSize()

	cfg := frame.DefaultConfig()
	cfg.FenceRetries = app.opts.fenceRetries
	cfg.ParallelRecording = app.opts.parallel
	cfg.PreferTimeline = app.timeline
	if app.opts.fenceTimeout > 0 {
		cfg.FenceTimeout = app.opts.fenceTimeout
	}
	cfg.Swapchain.Width = uint32(w)
	cfg.Swapchain.Height = uint32(h)
	cfg.Swapchain.VSync = app.opts.vsync
	cfg.Swapchain.TripleBuffering = app.opts.triple
	cfg.Swapchain.PreferredFormat = &format

	app.orchestrator, err = frame.New(app.device, surface, cfg,
		frame.WithLogger(app.logger),
		frame.WithRenderPass(frame.RenderPassOnly(&vkng.RenderPass{Handle: app.renderPass})),
		frame.WithRecorder(gpu.LaneGraphics, app.recordClear),
	)
	return err
}

var (
	dawn = mgl32.Vec4{0.05, 0.05, 0.2, 1}
	dusk = mgl32.Vec4{0.6, 0.25, 0.1, 1}
)

// recordClear clears the frame to a colour drifting between dawn and dusk.
func (app *App) recordClear(f *frame.Frame, cmd gpu.CommandBuffer) error {
	t := float32(0.5 + 0.5*math.Sin(hrtime.Now().Seconds()))
	color := dawn.Mul(1 - t).Add(dusk.Mul(t))

	buffer := cmd.(*vkng.CommandBuffer).Handle()
	err := app.deviceDriver.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  app.renderPass,
			Framebuffer: f.Framebuffer.(*vkng.Framebuffer).Handle(),
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: core1_0.Extent2D{Width: int(f.Extent.Width), Height: int(f.Extent.Height)},
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{color[0], color[1], color[2], color[3]},
			},
		})
	if err != nil {
		return err
	}

	app.deviceDriver.CmdEndRenderPass(buffer)
	return nil
}

// maxFrameFailures is how many ticks in a row may fail before the demo gives up.
const maxFrameFailures = 3

func (app *App) mainLoop(ctx context.Context) error {
	rendering := true
	var failures int

appLoop:
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
				case sdl.WINDOWEVENT_RESIZED:
					w, h := app.window.VulkanGetDrawableSize()
					if w > 0 && h > 0 {
						rendering = true
						app.orchestrator.Resize(uint32(w), uint32(h))
					} else {
						rendering = false
					}
				}
			}
		}

		if !rendering {
			sdl.Delay(10)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		result, err := app.orchestrator.Tick(ctx)
		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			failures++
			if app.orchestrator.State() == frame.StateDeviceLost || failures >= maxFrameFailures {
				return err
			}
			// The failed frame was retired; the next tick rebuilds the chain.
			app.logger.Warn("frame failed", slog.Int("in_a_row", failures), slog.Any("err", err))
			continue
		}
		failures = 0

		if result == frame.TickPresented {
			index := app.orchestrator.FrameIndex()
			if index%240 == 0 {
				stats := app.orchestrator.Stats()
				app.logger.Info("frame stats",
					slog.Uint64("frames", index),
					slog.Float64("fps", stats.FPS()),
					slog.Duration("fence_wait", stats.AverageFenceWait),
					slog.Uint64("rebuilds", stats.Rebuilds),
				)
			}
			if app.opts.frames > 0 && index >= app.opts.frames {
				break
			}
		}
	}

	return app.orchestrator.Shutdown()
}

func (app *App) cleanup() {
	if app.orchestrator != nil {
		if err := app.orchestrator.Shutdown(); err != nil {
			app.logger.Error("orchestrator shutdown", slog.Any("error", err))
		}
	}
	if app.renderPass.Initialized() {
		app.deviceDriver.DestroyRenderPass(app.renderPass, nil)
	}
	if app.deviceDriver != nil {
		app.deviceDriver.DestroyDevice(nil)
	}
	if app.debugMessenger.Initialized() {
		app.debugDriver.DestroyDebugUtilsMessenger(app.debugMessenger, nil)
	}
	if app.surface.Initialized() {
		app.surfaceExtension.DestroySurface(app.surface, nil)
	}
	if app.instanceDriver != nil {
		app.instanceDriver.DestroyInstance(nil)
	}
	if app.window != nil {
		app.window.Destroy()
	}
	sdl.Quit()
}

func parseOptions() options {
	var opts options
	flag.IntVar(&opts.width, "width", 1280, "initial window width")
	flag.IntVar(&opts.height, "height", 720, "initial window height")
	flag.BoolVar(&opts.vsync, "vsync", true, "present with FIFO")
	flag.BoolVar(&opts.triple, "triple", false, "prefer mailbox presentation when vsync is off")
	flag.Uint64Var(&opts.frames, "frames", 0, "exit after this many frames, 0 runs until the window closes")
	flag.DurationVar(&opts.fenceTimeout, "fence-timeout", 0, "bound each frame fence wait, 0 waits forever")
	flag.IntVar(&opts.fenceRetries, "fence-retries", 3, "timed-out fence waits retried before giving up")
	flag.BoolVar(&opts.parallel, "parallel", false, "record lanes on separate goroutines")
	flag.BoolVar(&opts.timeline, "timeline", true, "use timeline semaphores between lanes when the device has them")
	flag.BoolVar(&opts.validation, "validation", false, "enable the Khronos validation layer")
	flag.BoolVar(&opts.debug, "debug", false, "log at debug level")
	flag.Parse()
	return opts
}

func main() {
	runtime.LockOSThread()

	opts := parseOptions()
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &App{opts: opts, logger: logger}
	if err := app.Run(ctx); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
