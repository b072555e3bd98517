package gputest

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/inflight/gpu"
)

type submission struct {
	queue   *Queue
	buffers []*CommandBuffer
	fence   *Fence
	signals []gpu.SemaphoreSignal
	deps    []*submission
	done    bool
}

// complete retires s together with everything submitted before it on the
// same queue. Callers hold the device lock.
func (s *submission) complete() {
	if s.done {
		return
	}
	s.queue.completeThrough(s)
}

func (s *submission) finish() {
	if s.done {
		return
	}
	s.done = true
	for _, dep := range s.deps {
		dep.complete()
	}
	for _, b := range s.buffers {
		if b.pending == s {
			b.pending = nil
		}
	}
	if s.fence != nil && s.fence.pending == s {
		s.fence.signaled = true
		s.fence.pending = nil
	}
	for _, sig := range s.signals {
		if t, ok := sig.Semaphore.(*TimelineSemaphore); ok {
			t.reach(sig.Value)
		}
	}
}

// Submit records one queue submission as seen by the fake.
type Submit struct {
	Queue   string
	Buffers int
	Waits   []gpu.SemaphoreWait
	Signals []gpu.SemaphoreSignal
	Fenced  bool
}

// Queue is a fake queue. Work stays pending until something waits for it.
type Queue struct {
	dev     *Device
	name    string
	pending []*submission
	submits []Submit
	fails   []error
}

// FailSubmit makes the next submit on q return err without enqueuing
// anything.
func (q *Queue) FailSubmit(err error) {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	q.fails = append(q.fails, err)
}

func (q *Queue) completeThrough(s *submission) {
	for len(q.pending) > 0 {
		head := q.pending[0]
		q.pending = q.pending[1:]
		head.finish()
		if head == s {
			return
		}
	}
}

func (q *Queue) drain() {
	for len(q.pending) > 0 {
		head := q.pending[0]
		q.pending = q.pending[1:]
		head.finish()
	}
}

func (q *Queue) Submit(info gpu.SubmitInfo, fence gpu.Fence) error {
	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return d.lostErr()
	}
	if len(q.fails) > 0 {
		err := q.fails[0]
		q.fails = q.fails[1:]
		d.events = append(d.events, "submit "+q.name+" failed")
		return err
	}

	sub := &submission{queue: q, signals: append([]gpu.SemaphoreSignal(nil), info.Signals...)}
	for _, cb := range info.CommandBuffers {
		b := cb.(*CommandBuffer)
		switch {
		case b.freed:
			d.violate("freed command buffer submitted")
		case b.recording:
			d.violate("command buffer submitted while recording")
		case !b.ended:
			d.violate("command buffer submitted without being recorded")
		case b.pending != nil && !b.pending.done:
			d.violate("command buffer submitted while executing")
		}
		b.pending = sub
		b.submits++
		sub.buffers = append(sub.buffers, b)
	}

	for _, w := range info.Waits {
		switch sem := w.Semaphore.(type) {
		case *Semaphore:
			if by := sem.consume("submission on " + q.name); by != nil && !by.done {
				sub.deps = append(sub.deps, by)
			}
		case *TimelineSemaphore:
			if sem.value >= w.Value {
				continue
			}
			by := sem.signaler(w.Value)
			if by == nil {
				d.violate("submission on %s waits for timeline value %d nobody signals", q.name, w.Value)
				continue
			}
			sub.deps = append(sub.deps, by)
		default:
			return errors.Newf("gputest: foreign semaphore %T", w.Semaphore)
		}
	}

	for _, s := range info.Signals {
		switch sem := s.Semaphore.(type) {
		case *Semaphore:
			sem.signal(sub)
		case *TimelineSemaphore:
			sem.promise(s.Value, sub)
		default:
			return errors.Newf("gputest: foreign semaphore %T", s.Semaphore)
		}
	}

	if fence != nil {
		f := fence.(*Fence)
		if f.signaled {
			d.violate("submission on %s arms a signaled fence", q.name)
		}
		if f.pending != nil && !f.pending.done {
			d.violate("submission on %s arms a fence that is already pending", q.name)
		}
		f.pending = sub
		sub.fence = f
	}

	q.pending = append(q.pending, sub)
	q.submits = append(q.submits, Submit{
		Queue:   q.name,
		Buffers: len(info.CommandBuffers),
		Waits:   append([]gpu.SemaphoreWait(nil), info.Waits...),
		Signals: sub.signals,
		Fenced:  fence != nil,
	})
	d.events = append(d.events, "submit "+q.name)
	return nil
}

func (q *Queue) WaitIdle() error {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if q.dev.lost {
		return q.dev.lostErr()
	}
	q.drain()
	return nil
}

// Submits returns every submission made on q.
func (q *Queue) Submits() []Submit {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return append([]Submit(nil), q.submits...)
}

// Pending returns how many submissions on q have not completed.
func (q *Queue) Pending() int {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	return len(q.pending)
}

// CommandPool is a fake pool. Destroying it frees every buffer it still owns.
type CommandPool struct {
	labeled
	dev       *Device
	family    int
	buffers   []*CommandBuffer
	destroyed bool
}

// Family returns the queue family the pool was created for.
func (p *CommandPool) Family() int { return p.family }

func (p *CommandPool) Allocate(count int) ([]gpu.CommandBuffer, error) {
	d := p.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	made := make([]*CommandBuffer, 0, count)
	for i := 0; i < count; i++ {
		if err := d.create(KindCommandBuffer); err != nil {
			for _, b := range made {
				d.destroy(KindCommandBuffer, &b.freed)
			}
			return nil, err
		}
		made = append(made, &CommandBuffer{pool: p})
	}
	out := make([]gpu.CommandBuffer, len(made))
	for i, b := range made {
		out[i] = b
	}
	p.buffers = append(p.buffers, made...)
	return out, nil
}

func (p *CommandPool) Free(buffers ...gpu.CommandBuffer) {
	d := p.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cb := range buffers {
		b := cb.(*CommandBuffer)
		if b.pending != nil && !b.pending.done {
			d.violate("command buffer freed while executing")
		}
		d.destroy(KindCommandBuffer, &b.freed)
	}
}

func (p *CommandPool) Destroy() {
	d := p.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range p.buffers {
		if b.freed {
			continue
		}
		if b.pending != nil && !b.pending.done {
			d.violate("command pool destroyed while a buffer is executing")
		}
		d.destroy(KindCommandBuffer, &b.freed)
	}
	d.destroy(KindCommandPool, &p.destroyed)
}

// CommandBuffer is a fake primary command buffer.
type CommandBuffer struct {
	pool      *CommandPool
	recording bool
	ended     bool
	pending   *submission
	freed     bool

	begins  int
	submits int
}

func (b *CommandBuffer) Begin() error {
	d := b.pool.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.pending != nil && !b.pending.done {
		d.violate("command buffer begun while executing")
	}
	if b.recording {
		return errors.Mark(errors.New("gputest: command buffer already recording"), gpu.ErrInvalidState)
	}
	b.recording = true
	b.ended = false
	b.begins++
	return nil
}

func (b *CommandBuffer) End() error {
	d := b.pool.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if !b.recording {
		return errors.Mark(errors.New("gputest: command buffer not recording"), gpu.ErrInvalidState)
	}
	b.recording = false
	b.ended = true
	return nil
}

func (b *CommandBuffer) Reset() error {
	d := b.pool.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.pending != nil && !b.pending.done {
		d.violate("command buffer reset while executing")
	}
	b.recording = false
	b.ended = false
	return nil
}

// Begins returns how many times recording started.
func (b *CommandBuffer) Begins() int {
	b.pool.dev.mu.Lock()
	defer b.pool.dev.mu.Unlock()
	return b.begins
}

// Submits returns how many submissions included b.
func (b *CommandBuffer) Submits() int {
	b.pool.dev.mu.Lock()
	defer b.pool.dev.mu.Unlock()
	return b.submits
}

// Executing reports whether a submission containing b is still pending.
func (b *CommandBuffer) Executing() bool {
	b.pool.dev.mu.Lock()
	defer b.pool.dev.mu.Unlock()
	return b.pending != nil && !b.pending.done
}
