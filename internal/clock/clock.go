// Package clock holds the timeline shared by the player, the render engine
// and the device sinks of one playback session.
//
// Writers are expected to hold the owning player's lock so that related
// fields (start tick and start pts, for example) change together. Readers
// use the atomic accessors without locking; a reader may observe a
// half-published checkpoint, which pacing heuristics tolerate.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/zsiec/playback/internal/config"
)

// Source returns the current wall time in milliseconds.
type Source func() int64

// WallClock is the default Source.
func WallClock() int64 {
	return time.Now().UnixMilli()
}

// Clock is the shared session timeline. All timestamps are milliseconds.
type Clock struct {
	apts      atomic.Int64
	vpts      atomic.Int64
	startTick atomic.Int64
	startPTS  atomic.Int64
	startTime atomic.Int64
	apktn     atomic.Int32
	vpktn     atomic.Int32
	frozen    atomic.Bool

	params *config.PlayerConfig
	now    Source
}

// New creates a clock bound to the session init params.
func New(params *config.PlayerConfig) *Clock {
	return NewWithSource(params, WallClock)
}

// NewWithSource creates a clock reading time from src.
func NewWithSource(params *config.PlayerConfig, src Source) *Clock {
	if params == nil {
		p := config.DefaultPlayerConfig()
		params = &p
	}
	if src == nil {
		src = WallClock
	}
	c := &Clock{params: params, now: src}
	c.apts.Store(-1)
	c.vpts.Store(-1)
	return c
}

// Now returns the clock's notion of wall time in milliseconds.
func (c *Clock) Now() int64 { return c.now() }

// Params returns the session init params. The pointee outlives the clock.
func (c *Clock) Params() *config.PlayerConfig { return c.params }

func (c *Clock) APTS() int64 { return c.apts.Load() }
func (c *Clock) SetAPTS(pts int64) { c.apts.Store(pts) }
func (c *Clock) VPTS() int64 { return c.vpts.Load() }
func (c *Clock) SetVPTS(pts int64) { c.vpts.Store(pts) }
func (c *Clock) StartTick() int64 { return c.startTick.Load() }
func (c *Clock) StartPTS() int64 { return c.startPTS.Load() }
func (c *Clock) StartTime() int64 { return c.startTime.Load() }
func (c *Clock) SetStartTime(t int64) { c.startTime.Store(t) }

// MaxPTS returns the larger of the audio and video presentation times.
func (c *Clock) MaxPTS() int64 {
	a, v := c.apts.Load(), c.vpts.Load()
	if a > v {
		return a
	}
	return v
}

// SetStart records a synchronisation checkpoint.
func (c *Clock) SetStart(tick, pts int64) {
	c.startTick.Store(tick)
	c.startPTS.Store(pts)
}

// Checkpoint records the current wall tick against the furthest
// presentation time seen, so elapsed time can be recomputed after a pause.
func (c *Clock) Checkpoint() {
	c.SetStart(c.now(), c.MaxPTS())
}

// Freeze checkpoints the timeline and stops or restarts the wall clock
// extrapolation. While frozen WallPTS stays at the checkpoint, so a paused
// session without audio does not drift away from its last frame.
func (c *Clock) Freeze(frozen bool) {
	c.Checkpoint()
	c.frozen.Store(frozen)
}

// Frozen reports whether wall clock extrapolation is stopped.
func (c *Clock) Frozen() bool { return c.frozen.Load() }

// Publish sets every timeline field to pts, anchored at the current tick.
// It is used when a seek converges.
func (c *Clock) Publish(pts int64) {
	c.startTick.Store(c.now())
	c.startPTS.Store(pts)
	c.apts.Store(pts)
	c.vpts.Store(pts)
}

// Reset returns the timeline to its unstarted state.
func (c *Clock) Reset() {
	c.apts.Store(-1)
	c.vpts.Store(-1)
	c.SetStart(c.now(), 0)
}

// WallPTS extrapolates the presentation time from the last checkpoint at
// the given speed (percent).
func (c *Clock) WallPTS(speed int) int64 {
	if c.frozen.Load() {
		return c.startPTS.Load()
	}
	if speed <= 0 {
		speed = 100
	}
	return c.startPTS.Load() + (c.now()-c.startTick.Load())*int64(speed)/100
}

// AudioPackets returns the number of packets waiting in the audio queue.
func (c *Clock) AudioPackets() int { return int(c.apktn.Load()) }

// VideoPackets returns the number of packets waiting in the video queue.
func (c *Clock) VideoPackets() int { return int(c.vpktn.Load()) }

// SetPacketCounts publishes queue depths.
func (c *Clock) SetPacketCounts(audio, video int) {
	c.apktn.Store(int32(audio))
	c.vpktn.Store(int32(video))
}
