package device

import (
	"io"
	"sync"
	"time"

	"github.com/zsiec/playback/internal/clock"
	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
)

const (
	DefaultAudioBufNum = 3
	DefaultAudioBufLen = 2048
)

// AudioOutput is the platform side of an audio sink: it plays one buffer
// and returns when the device can take the next one.
type AudioOutput interface {
	Play(buf []byte) error
	Close() error
}

// AudioBase is a ring of fixed-size buffers drained by one goroutine into
// an AudioOutput. Each drained buffer publishes its pts as the shared
// audio clock.
type AudioBase struct {
	mu   sync.Mutex
	cond *sync.Cond

	bufs   [][]byte
	lens   []int
	pts    []int64
	head   int
	tail   int
	curnum int

	paused bool
	closed bool
	gen    uint64

	out    AudioOutput
	clk    *clock.Clock
	logger logger.Logger
	done   chan struct{}
}

// NewAudioBase starts the drain goroutine. bufnum and buflen fall back to
// the defaults when zero.
func NewAudioBase(out AudioOutput, bufnum, buflen int, clk *clock.Clock, log logger.Logger) *AudioBase {
	if bufnum <= 0 {
		bufnum = DefaultAudioBufNum
	}
	if buflen <= 0 {
		buflen = DefaultAudioBufLen
	}
	a := &AudioBase{
		bufs:   make([][]byte, bufnum),
		lens:   make([]int, bufnum),
		pts:    make([]int64, bufnum),
		out:    out,
		clk:    clk,
		logger: logger.WithComponent(log, "adev"),
		done:   make(chan struct{}),
	}
	for i := range a.bufs {
		a.bufs[i] = make([]byte, buflen)
	}
	a.cond = sync.NewCond(&a.mu)
	go a.drain()
	return a
}

func (a *AudioBase) drain() {
	defer close(a.done)

	var play []byte

	for {
		a.mu.Lock()
		for (a.curnum == 0 || a.paused) && !a.closed {
			a.cond.Wait()
		}
		if a.closed {
			a.mu.Unlock()
			return
		}
		head := a.head
		play = append(play[:0], a.bufs[head][:a.lens[head]]...)
		pts := a.pts[head]
		gen := a.gen
		a.mu.Unlock()

		if err := a.out.Play(play); err != nil {
			a.logger.WithError(err).Warn("Audio output failed")
		}

		a.mu.Lock()
		// Reset may have emptied the ring while the buffer was playing.
		if a.gen == gen {
			if a.clk != nil {
				a.clk.SetAPTS(pts)
			}
			a.head = (a.head + 1) % len(a.bufs)
			a.curnum--
		}
		a.cond.Broadcast()
		a.mu.Unlock()
	}
}

// Write implements AudioSink
func (a *AudioBase) Write(buf []byte, pts int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.curnum == len(a.bufs) && !a.closed {
		a.cond.Wait()
	}
	if a.closed {
		return
	}
	// the render engine's staging buffer may be larger than buflen
	if len(buf) > len(a.bufs[a.tail]) {
		a.bufs[a.tail] = make([]byte, len(buf))
	}
	n := copy(a.bufs[a.tail], buf)
	a.lens[a.tail] = n
	a.pts[a.tail] = pts
	a.tail = (a.tail + 1) % len(a.bufs)
	a.curnum++
	a.cond.Broadcast()
}

// Pause implements AudioSink
func (a *AudioBase) Pause(paused bool) {
	a.mu.Lock()
	a.paused = paused
	a.cond.Broadcast()
	a.mu.Unlock()
}

// Reset implements AudioSink
func (a *AudioBase) Reset() {
	a.mu.Lock()
	a.head, a.tail, a.curnum = 0, 0, 0
	a.gen++
	a.cond.Broadcast()
	a.mu.Unlock()
}

// Queued returns the number of buffers waiting to be played.
func (a *AudioBase) Queued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.curnum
}

// SetParam implements AudioSink
func (a *AudioBase) SetParam(id media.Param, v any) error {
	return ErrUnsupported
}

// GetParam implements AudioSink
func (a *AudioBase) GetParam(id media.Param) (any, error) {
	switch id {
	case media.ParamAdevGetContext:
		return a, nil
	}
	return nil, ErrUnsupported
}

// Close stops the drain goroutine and closes the output. Blocked writers
// return.
func (a *AudioBase) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.cond.Broadcast()
	a.mu.Unlock()

	<-a.done
	return a.out.Close()
}

// NullOutput discards samples, sleeping for their play time so the audio
// clock advances in real time.
type NullOutput struct {
	Realtime bool
}

// Play implements AudioOutput
func (n *NullOutput) Play(buf []byte) error {
	if n.Realtime {
		time.Sleep(BufferDuration(len(buf)))
	}
	return nil
}

// Close implements AudioOutput
func (n *NullOutput) Close() error { return nil }

// WriterOutput streams raw S16LE stereo samples to w, paced in real time.
type WriterOutput struct {
	W        io.Writer
	Realtime bool
}

// Play implements AudioOutput
func (o *WriterOutput) Play(buf []byte) error {
	start := time.Now()
	_, err := o.W.Write(buf)
	if o.Realtime {
		if rest := BufferDuration(len(buf)) - time.Since(start); rest > 0 {
			time.Sleep(rest)
		}
	}
	return err
}

// Close implements AudioOutput
func (o *WriterOutput) Close() error {
	if c, ok := o.W.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// BufferDuration returns the play time of n bytes of device audio.
func BufferDuration(n int) time.Duration {
	return time.Duration(n/BytesPerFrame) * time.Second / SampleRate
}

// NewNullAudio returns an AudioSink that discards samples. When realtime is
// set the audio clock advances at playback speed.
func NewNullAudio(bufnum, buflen int, realtime bool, clk *clock.Clock, log logger.Logger) *AudioBase {
	return NewAudioBase(&NullOutput{Realtime: realtime}, bufnum, buflen, clk, log)
}
