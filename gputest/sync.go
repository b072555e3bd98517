package gputest

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
)

func timeoutErr(what string) error {
	return errors.Mark(errors.Newf("gputest: %s timed out", what), gpu.ErrTimeout)
}

// Fence is a fake fence. A wait on an unsignaled fence completes the
// submission that armed it; with no such submission the wait would hang and
// reports a timeout instead.
type Fence struct {
	labeled
	dev       *Device
	signaled  bool
	pending   *submission
	destroyed bool

	waits  int
	resets int
}

func (f *Fence) Wait(timeout time.Duration) error {
	d := f.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	f.waits++
	if d.lost {
		return d.lostErr()
	}
	if d.fenceTimeouts > 0 {
		d.fenceTimeouts--
		return timeoutErr("fence wait")
	}
	if f.signaled {
		return nil
	}
	if f.pending != nil {
		f.pending.complete()
		return nil
	}
	return timeoutErr("fence wait")
}

func (f *Fence) Reset() error {
	d := f.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	f.resets++
	if d.lost {
		return d.lostErr()
	}
	if f.pending != nil && !f.pending.done {
		d.violate("fence reset while its submission is executing")
	}
	f.signaled = false
	f.pending = nil
	return nil
}

func (f *Fence) Destroy() {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	if f.pending != nil && !f.pending.done {
		f.dev.violate("fence destroyed while its submission is executing")
	}
	f.dev.destroy(KindFence, &f.destroyed)
}

// Signaled reports the fence state.
func (f *Fence) Signaled() bool {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	return f.signaled
}

// Waits returns how many times Wait was called.
func (f *Fence) Waits() int {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	return f.waits
}

// Resets returns how many times Reset was called.
func (f *Fence) Resets() int {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	return f.resets
}

// Destroyed reports whether Destroy was called.
func (f *Fence) Destroyed() bool {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()
	return f.destroyed
}

// Semaphore is a fake binary semaphore. It tracks whether a signal operation
// is outstanding so that unmatched waits and double signals are caught.
type Semaphore struct {
	labeled
	dev        *Device
	signaled   bool
	signaledBy *submission
	destroyed  bool
}

func (s *Semaphore) Destroy() {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.destroy(KindSemaphore, &s.destroyed)
}

// Destroyed reports whether Destroy was called.
func (s *Semaphore) Destroyed() bool {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.destroyed
}

// Signaled reports whether a signal is outstanding.
func (s *Semaphore) Signaled() bool {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	return s.signaled
}

func (s *Semaphore) signal(by *submission) {
	if s.signaled {
		s.dev.violate("binary semaphore signaled twice without a wait")
	}
	s.signaled = true
	s.signaledBy = by
}

// consume matches a wait against the outstanding signal and returns the
// submission that will perform it, if any.
func (s *Semaphore) consume(what string) *submission {
	if !s.signaled {
		s.dev.violate("%s waits on a binary semaphore nobody signals", what)
		return nil
	}
	by := s.signaledBy
	s.signaled = false
	s.signaledBy = nil
	return by
}

type timelineSignal struct {
	value uint64
	by    *submission
}

// TimelineSemaphore is a fake timeline semaphore.
type TimelineSemaphore struct {
	labeled
	dev       *Device
	value     uint64
	signals   []timelineSignal
	destroyed bool
}

func (t *TimelineSemaphore) Destroy() {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	t.dev.destroy(KindTimeline, &t.destroyed)
}

func (t *TimelineSemaphore) Signal(value uint64) error {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if value <= t.highest() {
		return errors.Newf("gputest: timeline signal %d does not increase %d", value, t.highest())
	}
	t.value = value
	return nil
}

func (t *TimelineSemaphore) WaitValue(value uint64, timeout time.Duration) error {
	d := t.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return d.lostErr()
	}
	if t.value >= value {
		return nil
	}
	if by := t.signaler(value); by != nil {
		by.complete()
		return nil
	}
	return timeoutErr("timeline wait")
}

func (t *TimelineSemaphore) Value() (uint64, error) {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	if t.dev.lost {
		return 0, t.dev.lostErr()
	}
	return t.value, nil
}

// highest is the largest value the semaphore holds or has been promised.
func (t *TimelineSemaphore) highest() uint64 {
	v := t.value
	for _, s := range t.signals {
		if s.value > v {
			v = s.value
		}
	}
	return v
}

// signaler returns the first pending submission that brings the counter to at
// least value.
func (t *TimelineSemaphore) signaler(value uint64) *submission {
	for _, s := range t.signals {
		if s.value >= value && !s.by.done {
			return s.by
		}
	}
	return nil
}

func (t *TimelineSemaphore) promise(value uint64, by *submission) {
	if value <= t.highest() {
		t.dev.violate("timeline value %d does not increase %d", value, t.highest())
	}
	t.signals = append(t.signals, timelineSignal{value: value, by: by})
}

func (t *TimelineSemaphore) reach(value uint64) {
	if value > t.value {
		t.value = value
	}
	kept := t.signals[:0]
	for _, s := range t.signals {
		if !s.by.done {
			kept = append(kept, s)
		}
	}
	t.signals = kept
}
