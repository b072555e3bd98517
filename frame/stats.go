package frame

import (
	"time"

	"github.com/loov/hrtime"
)

// averageWeight is the share of the newest sample in the moving averages.
const averageWeight = 0.1

// Stats are CPU-side timings of the frame loop.
type Stats struct {
	Frames   uint64
	Rebuilds uint64
	// LastFrame is the time between the starts of the last two presented
	// frames.
	LastFrame    time.Duration
	AverageFrame time.Duration
	// FenceWait is how long the last frame blocked on its slot fence.
	FenceWait        time.Duration
	AverageFenceWait time.Duration
}

// FPS derives frames per second from the average frame time.
func (s Stats) FPS() float64 {
	if s.AverageFrame <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.AverageFrame)
}

type frameTimer struct {
	stats     Stats
	lastStart time.Duration
	started   bool
}

func (t *frameTimer) now() time.Duration {
	return hrtime.Now()
}

// presented records a presented frame that started at start and waited
// fenceWait on its fence.
func (t *frameTimer) presented(start, fenceWait time.Duration) {
	s := &t.stats
	s.Frames++
	s.FenceWait = fenceWait
	s.AverageFenceWait = movingAverage(s.AverageFenceWait, fenceWait, s.Frames == 1)
	if t.started {
		s.LastFrame = start - t.lastStart
		s.AverageFrame = movingAverage(s.AverageFrame, s.LastFrame, s.Frames == 2)
	}
	t.lastStart = start
	t.started = true
}

func (t *frameTimer) rebuilt() {
	t.stats.Rebuilds++
}

func movingAverage(avg, sample time.Duration, first bool) time.Duration {
	if first {
		return sample
	}
	return time.Duration(float64(avg)*(1-averageWeight) + float64(sample)*averageWeight)
}
