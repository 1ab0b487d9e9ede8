// Package pktqueue implements the packet pool shared by the demux and decode
// goroutines: a fixed arena of packet slots recycled through a free list,
// with separate audio and video FIFOs layered over it.
package pktqueue

import (
	"errors"
	"sync"
	"time"

	"github.com/zsiec/playback/internal/clock"
	"github.com/zsiec/playback/internal/media"
)

const (
	// DefaultSize is the arena capacity used when none is configured.
	DefaultSize = 256
	// DefaultTimeout bounds DequeueAudio/DequeueVideo.
	DefaultTimeout = 20 * time.Millisecond
	// AcquireTimeout bounds Acquire and Release.
	AcquireTimeout = 10 * time.Millisecond
)

var ErrStopped = errors.New("packet queue stopped")

type slotState uint8

const (
	slotFree slotState = iota
	slotAudio
	slotVideo
	slotInFlight
)

// ring is an index FIFO addressed by monotonic counters masked at use.
type ring struct {
	idx  []int
	head uint64
	tail uint64
}

func newRing(size int) ring {
	return ring{idx: make([]int, size)}
}

func (r *ring) len() int { return int(r.tail - r.head) }

func (r *ring) push(i int, mask uint64) {
	r.idx[r.tail&mask] = i
	r.tail++
}

func (r *ring) pop(mask uint64) int {
	i := r.idx[r.head&mask]
	r.head++
	return i
}

// Stats is a snapshot of slot distribution.
type Stats struct {
	Capacity int
	Free     int
	Audio    int
	Video    int
	InFlight int
}

// Queue is the packet pool. It is safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	size    int
	mask    uint64
	slots   []media.Packet
	state   []slotState
	index   map[*media.Packet]int
	free    ring
	audio   ring
	video   ring
	stopped bool
	timeout time.Duration

	clk *clock.Clock
}

// RoundSize returns size rounded up to a power of two, or DefaultSize when
// size is not positive.
func RoundSize(size int) int {
	if size <= 0 {
		return DefaultSize
	}
	n := 1
	for n < size {
		n <<= 1
	}
	return n
}

// New creates a pool with RoundSize(size) slots. clk may be nil.
func New(size int, clk *clock.Clock) *Queue {
	size = RoundSize(size)
	q := &Queue{
		size:    size,
		mask:    uint64(size - 1),
		slots:   make([]media.Packet, size),
		state:   make([]slotState, size),
		index:   make(map[*media.Packet]int, size),
		free:    newRing(size),
		audio:   newRing(size),
		video:   newRing(size),
		timeout: DefaultTimeout,
		clk:     clk,
	}
	q.cond = sync.NewCond(&q.mu)
	for i := range q.slots {
		q.slots[i].Unref()
		q.index[&q.slots[i]] = i
		q.free.push(i, q.mask)
	}
	q.publish()
	return q
}

// SetTimeout changes the dequeue wait bound.
func (q *Queue) SetTimeout(d time.Duration) {
	q.mu.Lock()
	if d > 0 {
		q.timeout = d
	}
	q.mu.Unlock()
}

// Capacity returns the number of slots in the arena.
func (q *Queue) Capacity() int { return q.size }

// waitFor blocks until ready() holds, the queue stops, or d elapses.
// Called with q.mu held.
func (q *Queue) waitFor(ready func() bool, d time.Duration) bool {
	if ready() {
		return true
	}
	if d <= 0 || q.stopped {
		return false
	}
	expired := false
	t := time.AfterFunc(d, func() {
		q.mu.Lock()
		expired = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer t.Stop()
	for !ready() && !q.stopped && !expired {
		q.cond.Wait()
	}
	return ready()
}

func (q *Queue) publish() {
	if q.clk != nil {
		q.clk.SetPacketCounts(q.audio.len(), q.video.len())
	}
}

// Acquire takes a free slot. It returns nil when the pool is stopped or no
// slot frees up within AcquireTimeout.
func (q *Queue) Acquire() *media.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return nil
	}
	if !q.waitFor(func() bool { return q.free.len() > 0 }, AcquireTimeout) || q.stopped {
		return nil
	}
	i := q.free.pop(q.mask)
	q.state[i] = slotInFlight
	pkt := &q.slots[i]
	pkt.Unref()
	q.cond.Broadcast()
	return pkt
}

// Release returns an in-flight packet to the free list. Packets that are
// not in flight (foreign pointers, double releases) are ignored.
func (q *Queue) Release(pkt *media.Packet) {
	if pkt == nil {
		return
	}
	i, ok := q.index[pkt]
	if !ok {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaseLocked(i)
}

func (q *Queue) releaseLocked(i int) {
	if q.state[i] != slotInFlight {
		return
	}
	q.slots[i].Unref()
	q.state[i] = slotFree
	q.free.push(i, q.mask)
	q.cond.Broadcast()
}

// EnqueueAudio moves an in-flight packet into the audio FIFO.
func (q *Queue) EnqueueAudio(pkt *media.Packet) error {
	return q.enqueue(pkt, &q.audio, slotAudio)
}

// EnqueueVideo moves an in-flight packet into the video FIFO.
func (q *Queue) EnqueueVideo(pkt *media.Packet) error {
	return q.enqueue(pkt, &q.video, slotVideo)
}

func (q *Queue) enqueue(pkt *media.Packet, r *ring, st slotState) error {
	if pkt == nil {
		return nil
	}
	i, ok := q.index[pkt]
	if !ok {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state[i] != slotInFlight {
		return nil
	}
	for r.len() >= q.size && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped {
		q.releaseLocked(i)
		return ErrStopped
	}
	q.state[i] = st
	r.push(i, q.mask)
	q.publish()
	q.cond.Broadcast()
	return nil
}

// DequeueAudio takes the oldest audio packet, waiting up to the configured
// timeout. It returns nil on timeout or stop.
func (q *Queue) DequeueAudio() *media.Packet {
	return q.dequeue(&q.audio)
}

// DequeueVideo takes the oldest video packet, waiting up to the configured
// timeout. It returns nil on timeout or stop.
func (q *Queue) DequeueVideo() *media.Packet {
	return q.dequeue(&q.video)
}

func (q *Queue) dequeue(r *ring) *media.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.waitFor(func() bool { return r.len() > 0 }, q.timeout) {
		return nil
	}
	i := r.pop(q.mask)
	q.state[i] = slotInFlight
	q.publish()
	q.cond.Broadcast()
	return &q.slots[i]
}

// Reset drains both FIFOs back into the free list. Packets held by callers
// stay in flight and come back through Release.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, r := range []*ring{&q.audio, &q.video} {
		for r.len() > 0 {
			i := r.pop(q.mask)
			q.state[i] = slotInFlight
			q.releaseLocked(i)
		}
		r.head, r.tail = 0, 0
	}
	q.publish()
	q.cond.Broadcast()
}

// Stop wakes every waiter; subsequent Acquire calls return nil.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (q *Queue) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// Stats returns the current slot distribution.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Capacity: q.size}
	for _, st := range q.state {
		switch st {
		case slotFree:
			s.Free++
		case slotAudio:
			s.Audio++
		case slotVideo:
			s.Video++
		case slotInFlight:
			s.InFlight++
		}
	}
	return s
}
