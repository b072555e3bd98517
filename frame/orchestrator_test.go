package frame

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
	"github.com/vkngwrapper/inflight/gputest"
	"github.com/vkngwrapper/inflight/swapchain"
)

type harness struct {
	dev     *gputest.Device
	surface *gputest.Surface
	o       *Orchestrator
}

func newHarness(t *testing.T, dev *gputest.Device, cfg Config, opts ...Option) *harness {
	t.Helper()
	surface := gputest.NewSurface(dev)
	o, err := New(dev, surface, cfg, opts...)
	if err != nil {
		t.Fatalf("New: %+v", err)
	}
	return &harness{dev: dev, surface: surface, o: o}
}

func (h *harness) tick(t *testing.T, want TickResult) {
	t.Helper()
	got, err := h.o.Tick(context.Background())
	if err != nil {
		t.Fatalf("frame %d: Tick: %+v", h.o.FrameIndex(), err)
	}
	if got != want {
		t.Fatalf("frame %d: Tick = %s, want %s", h.o.FrameIndex(), got, want)
	}
}

func (h *harness) checkClean(t *testing.T) {
	t.Helper()
	if v := h.dev.Violations(); len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
}

func (h *harness) fence(slot int) *gputest.Fence {
	return h.o.Registry().Slot(slot).Fence().(*gputest.Fence)
}

func TestThreeFrames(t *testing.T) {
	seen := map[gpu.Lane]map[gpu.CommandBuffer]bool{}
	opts := []Option{}
	for _, lane := range gpu.Lanes() {
		lane := lane
		seen[lane] = map[gpu.CommandBuffer]bool{}
		opts = append(opts, WithRecorder(lane, func(f *Frame, cmd gpu.CommandBuffer) error {
			seen[lane][cmd] = true
			return nil
		}))
	}
	h := newHarness(t, gputest.NewDevice(), DefaultConfig(), opts...)

	for i := 0; i < 3; i++ {
		h.tick(t, TickPresented)
	}

	if got := h.fence(0).Waits(); got != 1 {
		t.Errorf("slot 0 fence waited %d times, want 1", got)
	}
	if got := h.fence(0).Resets(); got != 1 {
		t.Errorf("slot 0 fence reset %d times, want 1", got)
	}
	for _, lane := range gpu.Lanes() {
		if got := h.o.Commands().Submissions(lane); got != 3 {
			t.Errorf("%s submissions = %d, want 3", lane, got)
		}
		if got := len(h.dev.LaneQueue(lane).Submits()); got != 3 {
			t.Errorf("%s queue submits = %d, want 3", lane, got)
		}
		if got := len(seen[lane]); got != 3 {
			t.Errorf("%s recorded into %d distinct buffers, want 3", lane, got)
		}
	}

	presents := h.surface.Latest().Presents()
	if len(presents) != 3 {
		t.Fatalf("%d presents, want 3", len(presents))
	}
	for i, p := range presents {
		if p.Index != i {
			t.Errorf("present %d shows image %d", i, p.Index)
		}
		if p.Wait != h.o.Registry().Slot(i).RenderFinished() {
			t.Errorf("present %d does not wait on slot %d render finished", i, i)
		}
	}

	want := []string{}
	for i := 0; i < 3; i++ {
		want = append(want,
			fmt.Sprintf("acquire %d", i),
			"submit transfer",
			"submit compute",
			"submit graphics",
			fmt.Sprintf("present %d", i))
	}
	if got := h.dev.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("events\n got %v\nwant %v", got, want)
	}

	if got := h.o.Stats().Frames; got != 3 {
		t.Errorf("Stats.Frames = %d, want 3", got)
	}
	h.checkClean(t)
}

func TestGraphicsSubmission(t *testing.T) {
	h := newHarness(t, gputest.NewDevice(), DefaultConfig())
	h.tick(t, TickPresented)

	slot := h.o.Registry().Slot(0)
	gfx := h.dev.LaneQueue(gpu.LaneGraphics).Submits()[0]
	if !gfx.Fenced {
		t.Error("graphics submission does not arm the frame fence")
	}
	if len(gfx.Waits) != 3 {
		t.Fatalf("graphics waits = %+v, want image available and two lanes", gfx.Waits)
	}
	if gfx.Waits[0].Semaphore != slot.ImageAvailable() ||
		gfx.Waits[0].Stages != gpu.StageColorAttachmentOutput|gpu.StageEarlyFragmentTests {
		t.Errorf("first graphics wait = %+v", gfx.Waits[0])
	}
	if gfx.Waits[1].Semaphore != slot.Finished(gpu.LaneTransfer) ||
		gfx.Waits[1].Stages != DefaultCrossLaneWaitStages[gpu.LaneTransfer] {
		t.Errorf("transfer wait = %+v", gfx.Waits[1])
	}
	if gfx.Waits[2].Semaphore != slot.Finished(gpu.LaneCompute) {
		t.Errorf("compute wait = %+v", gfx.Waits[2])
	}
	for _, lane := range []gpu.Lane{gpu.LaneTransfer, gpu.LaneCompute} {
		if h.dev.LaneQueue(lane).Submits()[0].Fenced {
			t.Errorf("%s submission arms a fence", lane)
		}
	}
}

func TestFrameCounterMonotonic(t *testing.T) {
	h := newHarness(t, gputest.NewDevice(), DefaultConfig())
	for n := 1; n <= 10; n++ {
		h.tick(t, TickPresented)
		if got := h.o.FrameIndex(); got != uint64(n) {
			t.Fatalf("after %d ticks FrameIndex = %d", n, got)
		}
		if got := h.o.CurrentSlot(); got != n%3 {
			t.Fatalf("after %d ticks CurrentSlot = %d", n, got)
		}
	}
	h.checkClean(t)
}

func TestOutOfDateOnTickFive(t *testing.T) {
	h := newHarness(t, gputest.NewDevice(), DefaultConfig())
	for i := 0; i < 4; i++ {
		h.tick(t, TickPresented)
	}
	slot := h.o.CurrentSlot()

	h.surface.QueueAcquire(gpu.StatusOutOfDate)
	h.tick(t, TickRebuilt)
	if got := h.o.FrameIndex(); got != 4 {
		t.Errorf("FrameIndex after rebuild tick = %d, want 4", got)
	}
	if h.o.CurrentSlot() != slot {
		t.Errorf("slot moved from %d to %d on a rebuild tick", slot, h.o.CurrentSlot())
	}
	if got := len(h.surface.Swapchains()); got != 2 {
		t.Errorf("%d swapchains created, want 2", got)
	}
	if !h.fence(slot).Signaled() {
		t.Error("fence left unsignaled by the aborted frame")
	}

	h.tick(t, TickPresented)
	if got := h.o.FrameIndex(); got != 5 {
		t.Errorf("FrameIndex after tick 6 = %d, want 5", got)
	}
	if got := len(h.surface.Latest().Presents()); got != 1 {
		t.Errorf("%d presents on the new chain, want 1", got)
	}
	if got := h.o.Stats().Rebuilds; got != 1 {
		t.Errorf("Stats.Rebuilds = %d, want 1", got)
	}
	h.checkClean(t)
}

func TestSuboptimalRebuildsAfterPresent(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *gputest.Surface)
	}{
		{"acquire", func(s *gputest.Surface) { s.QueueAcquire(gpu.StatusSuboptimal) }},
		{"present", func(s *gputest.Surface) { s.QueuePresent(gpu.StatusSuboptimal) }},
		{"present out of date", func(s *gputest.Surface) { s.QueuePresent(gpu.StatusOutOfDate) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, gputest.NewDevice(), DefaultConfig())
			tt.setup(h.surface)
			h.tick(t, TickPresented)

			chains := h.surface.Swapchains()
			if len(chains) != 2 {
				t.Fatalf("%d swapchains, want 2", len(chains))
			}
			if len(chains[0].Presents()) != 1 {
				t.Error("frame was not presented on the old chain")
			}
			if h.o.Swapchain().OutOfDate() {
				t.Error("chain still out of date after the tick")
			}
			if h.o.FrameIndex() != 1 {
				t.Errorf("FrameIndex = %d, want 1", h.o.FrameIndex())
			}
			h.tick(t, TickPresented)
			h.checkClean(t)
		})
	}
}

func TestFenceReuseSafety(t *testing.T) {
	tests := []struct {
		name     string
		frames   int
		minImage int
		timeline bool
	}{
		{"three frames three images", 3, 2, false},
		{"three frames two images", 3, 1, false},
		{"two frames four images", 2, 3, false},
		{"one frame", 1, 2, false},
		{"timeline", 3, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := gputest.NewDevice()
			if tt.timeline {
				dev.EnableTimeline()
			}
			surface := gputest.NewSurface(dev)
			surface.Caps.MinImageCount = tt.minImage
			cfg := DefaultConfig()
			cfg.FramesInFlight = tt.frames
			o, err := New(dev, surface, cfg)
			if err != nil {
				t.Fatal(err)
			}
			for i := 0; i < 20; i++ {
				if _, err := o.Tick(context.Background()); err != nil {
					t.Fatalf("tick %d: %+v", i, err)
				}
			}
			if v := dev.Violations(); len(v) != 0 {
				t.Errorf("violations: %v", v)
			}
		})
	}
}

func TestImageReuseWaitsForOwner(t *testing.T) {
	dev := gputest.NewDevice()
	surface := gputest.NewSurface(dev)
	surface.Caps.MinImageCount = 1 // two images for three slots
	h := &harness{dev: dev, surface: surface}
	var err error
	h.o, err = New(dev, surface, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	h.tick(t, TickPresented) // slot 0, image 0
	h.tick(t, TickPresented) // slot 1, image 1
	h.tick(t, TickPresented) // slot 2, image 0: waits on slot 0
	if got := h.fence(0).Waits(); got != 2 {
		t.Errorf("slot 0 fence waited %d times, want 2", got)
	}
	if got := h.fence(0).Resets(); got != 1 {
		t.Errorf("slot 0 fence reset %d times, want 1", got)
	}
	h.checkClean(t)
}

func TestTimelineIsTransparent(t *testing.T) {
	binary := newHarness(t, gputest.NewDevice(), DefaultConfig())
	timeline := newHarness(t, gputest.NewDevice().EnableTimeline(), DefaultConfig())
	if binary.o.Registry().Timeline() || !timeline.o.Registry().Timeline() {
		t.Fatal("wrong lane strategy selected")
	}
	for i := 0; i < 5; i++ {
		binary.tick(t, TickPresented)
		timeline.tick(t, TickPresented)
	}
	if !reflect.DeepEqual(binary.dev.Events(), timeline.dev.Events()) {
		t.Errorf("event streams differ:\n%v\n%v", binary.dev.Events(), timeline.dev.Events())
	}
	gfx := timeline.dev.LaneQueue(gpu.LaneGraphics).Submits()
	for frame, s := range gfx {
		for _, w := range s.Waits[1:] {
			if w.Value != uint64(frame)+1 {
				t.Errorf("frame %d waits for lane value %d", frame, w.Value)
			}
		}
	}
	v, err := timeline.o.Registry().Value(gpu.LaneCompute)
	if err != nil {
		t.Fatal(err)
	}
	if v > 5 {
		t.Errorf("compute timeline at %d after 5 frames", v)
	}
	binary.checkClean(t)
	timeline.checkClean(t)
}

func TestDeviceLostLatches(t *testing.T) {
	h := newHarness(t, gputest.NewDevice(), DefaultConfig())
	h.tick(t, TickPresented)

	h.dev.Lose()
	_, err := h.o.Tick(context.Background())
	if !errors.Is(err, gpu.ErrDeviceLost) {
		t.Fatalf("Tick = %v, want ErrDeviceLost", err)
	}
	if h.o.State() != StateDeviceLost {
		t.Errorf("State = %s", h.o.State())
	}
	waits := h.fence(1).Waits()
	if _, err := h.o.Tick(context.Background()); !errors.Is(err, gpu.ErrDeviceLost) {
		t.Errorf("second Tick = %v, want ErrDeviceLost", err)
	}
	if h.fence(1).Waits() != waits {
		t.Error("latched orchestrator touched the device")
	}

	if err := h.o.Shutdown(); err == nil {
		t.Error("Shutdown on a lost device reported no error")
	}
	if live := h.dev.LiveTotal(); live != 0 {
		t.Errorf("%d objects leaked", live)
	}
}

func TestFenceTimeoutRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FenceTimeout = time.Millisecond
	cfg.FenceRetries = 2
	h := newHarness(t, gputest.NewDevice(), cfg)

	h.dev.TimeoutFenceWaits(2)
	h.tick(t, TickPresented)
	if got := h.fence(0).Waits(); got != 3 {
		t.Errorf("slot 0 fence waited %d times, want 3", got)
	}

	h.dev.TimeoutFenceWaits(3)
	_, err := h.o.Tick(context.Background())
	if !errors.Is(err, gpu.ErrTimeout) {
		t.Fatalf("Tick = %v, want ErrTimeout", err)
	}
	if h.o.State() != StateIdle || h.o.FrameIndex() != 1 {
		t.Errorf("after timeout state %s frame %d", h.o.State(), h.o.FrameIndex())
	}
	h.tick(t, TickPresented)
	h.checkClean(t)
}

func TestShutdown(t *testing.T) {
	dev := gputest.NewDevice().EnableTimeline()
	h := newHarness(t, dev, DefaultConfig(), WithRenderPass(RenderPassOnly(&gputest.RenderPass{})))
	for i := 0; i < 7; i++ {
		h.tick(t, TickPresented)
	}
	if err := h.o.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := h.o.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	for _, kind := range []gputest.Kind{
		gputest.KindFence, gputest.KindSemaphore, gputest.KindTimeline,
		gputest.KindCommandPool, gputest.KindCommandBuffer,
		gputest.KindImageView, gputest.KindFramebuffer, gputest.KindSwapchain,
	} {
		if live := dev.Live(kind); live != 0 {
			t.Errorf("%d %s objects leaked", live, kind)
		}
	}
	h.checkClean(t)
}

func TestCancelledContextShutsDown(t *testing.T) {
	h := newHarness(t, gputest.NewDevice(), DefaultConfig())
	h.tick(t, TickPresented)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.o.Tick(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Tick = %v, want context.Canceled", err)
	}
	if h.o.State() != StateShutdown {
		t.Errorf("State = %s, want shutdown", h.o.State())
	}
	if live := h.dev.LiveTotal(); live != 0 {
		t.Errorf("%d objects leaked", live)
	}
}

func TestParallelRecording(t *testing.T) {
	var calls [gpu.LaneCount]int32
	cfg := DefaultConfig()
	cfg.ParallelRecording = true
	opts := []Option{}
	for _, lane := range gpu.Lanes() {
		lane := lane
		opts = append(opts, WithRecorder(lane, func(f *Frame, cmd gpu.CommandBuffer) error {
			atomic.AddInt32(&calls[lane], 1)
			return nil
		}))
	}
	h := newHarness(t, gputest.NewDevice(), cfg, opts...)
	for i := 0; i < 6; i++ {
		h.tick(t, TickPresented)
	}
	for _, lane := range gpu.Lanes() {
		if got := atomic.LoadInt32(&calls[lane]); got != 6 {
			t.Errorf("%s recorder called %d times, want 6", lane, got)
		}
	}
	h.checkClean(t)
}

func TestRecorderFailure(t *testing.T) {
	boom := errors.New("boom")
	fail := false
	h := newHarness(t, gputest.NewDevice(), DefaultConfig(),
		WithRecorder(gpu.LaneGraphics, func(f *Frame, cmd gpu.CommandBuffer) error {
			if fail {
				return boom
			}
			return nil
		}))
	h.tick(t, TickPresented)

	fail = true
	_, err := h.o.Tick(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Tick = %v, want recorder error", err)
	}
	if h.o.FrameIndex() != 1 || h.o.State() != StateIdle {
		t.Errorf("after failed frame: index %d state %s", h.o.FrameIndex(), h.o.State())
	}

	fail = false
	h.tick(t, TickPresented)
	h.tick(t, TickPresented)
	if got := len(h.surface.Swapchains()); got != 2 {
		t.Errorf("%d swapchains, want a rebuild after the abandoned frame", got)
	}
	h.checkClean(t)
}

func TestSubmitFailureRetiresFrame(t *testing.T) {
	outOfMemory := errors.New("out of host memory")
	tests := []struct {
		name     string
		timeline bool
		lane     gpu.Lane
		// retired are the lanes whose signals the retiring batch consumes.
		retired   int
		wantIndex uint64
	}{
		{"transfer", false, gpu.LaneTransfer, 0, 1},
		{"compute", false, gpu.LaneCompute, 1, 2},
		{"graphics", false, gpu.LaneGraphics, 2, 2},
		{"timeline transfer", true, gpu.LaneTransfer, 0, 1},
		{"timeline graphics", true, gpu.LaneGraphics, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := gputest.NewDevice()
			if tt.timeline {
				dev.EnableTimeline()
			}
			cfg := DefaultConfig()
			cfg.FenceTimeout = 50 * time.Millisecond
			h := newHarness(t, dev, cfg)
			h.tick(t, TickPresented)

			dev.ClearEvents()
			dev.LaneQueue(tt.lane).FailSubmit(outOfMemory)
			_, err := h.o.Tick(context.Background())
			if !errors.Is(err, outOfMemory) {
				t.Fatalf("Tick = %v, want the submit error", err)
			}
			if h.o.State() != StateIdle {
				t.Errorf("State = %s, want idle", h.o.State())
			}
			if got := h.o.FrameIndex(); got != tt.wantIndex {
				t.Errorf("FrameIndex = %d, want %d", got, tt.wantIndex)
			}

			gfx := dev.LaneQueue(gpu.LaneGraphics).Submits()
			last := gfx[len(gfx)-1]
			if last.Buffers != 0 || !last.Fenced || len(last.Waits) != 1+tt.retired {
				t.Errorf("retiring batch = %+v", last)
			}
			if last.Waits[0].Semaphore != h.o.Registry().Slot(1).ImageAvailable() {
				t.Error("retiring batch does not consume the acquired image")
			}
			events := dev.Events()
			if got := events[len(events)-1]; got != "submit graphics" {
				t.Errorf("last event %q, want the retiring submit", got)
			}

			for i := 0; i < 4; i++ {
				h.tick(t, TickPresented)
			}
			if got := h.o.FrameIndex(); got != tt.wantIndex+4 {
				t.Errorf("FrameIndex = %d after recovery, want %d", got, tt.wantIndex+4)
			}
			if got := len(h.surface.Swapchains()); got != 2 {
				t.Errorf("%d swapchains, want a rebuild after the retired frame", got)
			}
			h.checkClean(t)
		})
	}
}

func TestRetireFailureLatches(t *testing.T) {
	h := newHarness(t, gputest.NewDevice(), DefaultConfig())
	h.tick(t, TickPresented)

	gfx := h.dev.LaneQueue(gpu.LaneGraphics)
	gfx.FailSubmit(errors.New("out of host memory"))
	gfx.FailSubmit(errors.New("out of device memory"))
	_, err := h.o.Tick(context.Background())
	if !errors.Is(err, ErrSlotLost) {
		t.Fatalf("Tick = %v, want ErrSlotLost", err)
	}
	if h.o.State() != StateDeviceLost {
		t.Errorf("State = %s", h.o.State())
	}
	if _, err := h.o.Tick(context.Background()); !errors.Is(err, ErrSlotLost) {
		t.Errorf("second Tick = %v, want ErrSlotLost", err)
	}
	if err := h.o.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if live := h.dev.LiveTotal(); live != 0 {
		t.Errorf("%d objects leaked", live)
	}
}

func TestPresentFailureAdvances(t *testing.T) {
	surfaceLost := errors.New("surface lost")
	for _, timeline := range []bool{false, true} {
		t.Run(fmt.Sprintf("timeline=%v", timeline), func(t *testing.T) {
			dev := gputest.NewDevice()
			if timeline {
				dev.EnableTimeline()
			}
			h := newHarness(t, dev, DefaultConfig())
			h.tick(t, TickPresented)

			h.surface.FailPresent(surfaceLost)
			_, err := h.o.Tick(context.Background())
			if !errors.Is(err, surfaceLost) || gpu.IsFatal(err) {
				t.Fatalf("Tick = %v, want the present error", err)
			}
			if got := h.o.FrameIndex(); got != 2 {
				t.Errorf("FrameIndex = %d after a submitted frame, want 2", got)
			}
			if got := h.o.CurrentSlot(); got != 2 {
				t.Errorf("CurrentSlot = %d, want 2", got)
			}
			if h.o.State() != StateIdle || !h.o.Swapchain().OutOfDate() {
				t.Errorf("state %s, out of date %v", h.o.State(), h.o.Swapchain().OutOfDate())
			}

			for i := 0; i < 4; i++ {
				h.tick(t, TickPresented)
			}
			if got := h.o.FrameIndex(); got != 6 {
				t.Errorf("FrameIndex = %d, want 6", got)
			}
			if got := h.o.Stats().Frames; got != 5 {
				t.Errorf("Stats.Frames = %d, want 5 presented", got)
			}
			if got := len(h.surface.Swapchains()); got != 2 {
				t.Errorf("%d swapchains, want a rebuild after the failed present", got)
			}
			if timeline {
				v, err := h.o.Registry().Value(gpu.LaneGraphics)
				if err != nil {
					t.Fatal(err)
				}
				if v > 6 {
					t.Errorf("graphics timeline at %d after 6 frames", v)
				}
			}
			h.checkClean(t)
		})
	}
}

func TestGraphicsOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lanes = []gpu.Lane{gpu.LaneGraphics}
	h := newHarness(t, gputest.NewDevice(), cfg)
	h.tick(t, TickPresented)
	h.tick(t, TickPresented)

	for _, lane := range []gpu.Lane{gpu.LaneCompute, gpu.LaneTransfer} {
		if n := len(h.dev.LaneQueue(lane).Submits()); n != 0 {
			t.Errorf("inactive %s lane submitted %d times", lane, n)
		}
	}
	gfx := h.dev.LaneQueue(gpu.LaneGraphics).Submits()
	if len(gfx) != 2 || len(gfx[0].Waits) != 1 {
		t.Errorf("graphics submits = %+v", gfx)
	}
	h.checkClean(t)
}

func TestRenderPassFramebuffers(t *testing.T) {
	pass := &gputest.RenderPass{Name: "clear"}
	var got []gpu.Framebuffer
	h := newHarness(t, gputest.NewDevice(), DefaultConfig(),
		WithRenderPass(RenderPassOnly(pass)),
		WithRecorder(gpu.LaneGraphics, func(f *Frame, cmd gpu.CommandBuffer) error {
			got = append(got, f.Framebuffer)
			return nil
		}))
	for i := 0; i < 4; i++ {
		h.tick(t, TickPresented)
	}
	want := []gpu.Framebuffer{
		h.o.Swapchain().Framebuffer(0),
		h.o.Swapchain().Framebuffer(1),
		h.o.Swapchain().Framebuffer(2),
		h.o.Swapchain().Framebuffer(0),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("recorded framebuffers %v, want %v", got, want)
	}
	if fb := got[0].(*gputest.Framebuffer); fb.RenderPass != pass {
		t.Error("framebuffer not built against the render pass")
	}
}

func TestResize(t *testing.T) {
	dev := gputest.NewDevice()
	surface := gputest.NewSurface(dev)
	surface.Caps.CurrentExtent = gpu.Extent{Width: gpu.UndefinedExtent, Height: gpu.UndefinedExtent}
	o, err := New(dev, surface, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{dev: dev, surface: surface, o: o}
	if got := o.Swapchain().Extent(); got != (gpu.Extent{Width: 1280, Height: 720}) {
		t.Fatalf("initial extent %s", got)
	}

	o.Resize(1024, 768)
	h.tick(t, TickPresented)
	if got := o.Swapchain().Extent(); got != (gpu.Extent{Width: 1024, Height: 768}) {
		t.Errorf("extent after resize %s", got)
	}

	o.Resize(0, 0)
	if _, err := o.Tick(context.Background()); !errors.Is(err, swapchain.ErrZeroExtent) {
		t.Fatalf("Tick while minimised = %v, want ErrZeroExtent", err)
	}
	o.Resize(640, 480)
	h.tick(t, TickPresented)
	if got := o.Swapchain().Extent(); got != (gpu.Extent{Width: 640, Height: 480}) {
		t.Errorf("extent after restore %s", got)
	}
	if o.FrameIndex() != 2 {
		t.Errorf("FrameIndex = %d, want 2", o.FrameIndex())
	}
	h.checkClean(t)
}

func TestNewRollsBack(t *testing.T) {
	tests := []struct {
		name string
		kind gputest.Kind
		n    int
	}{
		{"fence", gputest.KindFence, 2},
		{"command buffer", gputest.KindCommandBuffer, 5},
		{"swapchain", gputest.KindSwapchain, 1},
		{"image view", gputest.KindImageView, 3},
		{"framebuffer", gputest.KindFramebuffer, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := gputest.NewDevice()
			dev.FailOn(tt.kind, tt.n)
			_, err := New(dev, gputest.NewSurface(dev), DefaultConfig(),
				WithRenderPass(RenderPassOnly(&gputest.RenderPass{})))
			if !errors.Is(err, gpu.ErrResourceCreation) {
				t.Fatalf("New = %v, want ErrResourceCreation", err)
			}
			if live := dev.LiveTotal(); live != 0 {
				t.Errorf("%d objects leaked", live)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero frames", func(c *Config) { c.FramesInFlight = 0 }},
		{"negative retries", func(c *Config) { c.FenceRetries = -1 }},
		{"no graphics", func(c *Config) { c.Lanes = []gpu.Lane{gpu.LaneCompute} }},
		{"duplicate lane", func(c *Config) { c.Lanes = []gpu.Lane{gpu.LaneGraphics, gpu.LaneGraphics} }},
		{"unknown lane", func(c *Config) { c.Lanes = []gpu.Lane{gpu.LaneGraphics, gpu.Lane(9)} }},
		{"zero swapchain size", func(c *Config) { c.Swapchain.Width = 0 }},
		{"no compute wait stages", func(c *Config) { c.CrossLaneWaitStages[gpu.LaneCompute] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted the config")
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config: %v", err)
	}
	graphicsOnly := DefaultConfig()
	graphicsOnly.Lanes = []gpu.Lane{gpu.LaneGraphics}
	graphicsOnly.CrossLaneWaitStages = [gpu.LaneCount]gpu.PipelineStages{}
	if err := graphicsOnly.Validate(); err != nil {
		t.Errorf("inactive lanes need no wait stages: %v", err)
	}
}
