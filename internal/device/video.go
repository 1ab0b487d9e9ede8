package device

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/playback/internal/clock"
	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
	"github.com/zsiec/playback/internal/metrics"
)

const (
	// DefaultFrameDuration is used until the stream frame rate is known.
	DefaultFrameDuration = 40
	// DefaultDropThreshold is how far video may trail the master clock
	// before frames are dropped.
	DefaultDropThreshold = 500
)

// VideoOptions configures the shared video sink state.
type VideoOptions struct {
	Width         int
	Height        int
	FrameDuration int64 // ms
	DropThreshold int64 // ms
	// AudioMaster selects the audio clock as master when the session has
	// an audio stream; otherwise the wall clock extrapolated from the last
	// checkpoint is used.
	AudioMaster bool
}

// VideoBase carries the geometry and pacing state shared by video sinks.
type VideoBase struct {
	mu sync.Mutex

	vw, vh int
	vm     media.VideoMode
	rrect  media.Rect
	vrect  media.Rect
	pixfmt media.PixelFormat
	clear  bool

	clk           *clock.Clock
	audioMaster   bool
	tickavdiff    int64
	tickframe     int64
	ticksleep     int64
	speed         int
	dropThreshold int64
	lastDrift     int64

	presented atomic.Int64
	dropped   atomic.Int64

	closeOnce sync.Once
	closeCh   chan struct{}
	logger    logger.Logger
}

// NewVideoBase initialises geometry to the video size with an identical
// render rectangle.
func NewVideoBase(opts VideoOptions, clk *clock.Clock, log logger.Logger) *VideoBase {
	w, h := max(opts.Width, 1), max(opts.Height, 1)
	ftime := opts.FrameDuration
	if ftime <= 0 {
		ftime = DefaultFrameDuration
	}
	drop := opts.DropThreshold
	if drop <= 0 {
		drop = DefaultDropThreshold
	}
	if clk == nil {
		clk = clock.New(nil)
	}
	v := &VideoBase{
		vw:            w,
		vh:            h,
		rrect:         media.NewRect(0, 0, w, h),
		vrect:         media.NewRect(0, 0, w, h),
		pixfmt:        media.PixelFormatRGBA,
		clk:           clk,
		audioMaster:   opts.AudioMaster,
		tickframe:     ftime,
		ticksleep:     ftime,
		speed:         100,
		dropThreshold: drop,
		closeCh:       make(chan struct{}),
		logger:        logger.WithComponent(log, "vdev"),
	}
	return v
}

// setupVRect fits the video into the render rectangle. Called with v.mu held.
func (v *VideoBase) setupVRect() {
	rw, rh := v.rrect.Width(), v.rrect.Height()
	vw, vh := rw, rh

	if v.vm == media.VideoModeLetterbox {
		if rw*v.vh < rh*v.vw {
			vw = rw
			vh = vw * v.vh / v.vw
		} else {
			vh = rh
			vw = vh * v.vw / v.vh
		}
	}

	left, top := (rw-vw)/2, (rh-vh)/2
	v.vrect = media.Rect{Left: left, Top: top, Right: left + vw, Bottom: top + vh}
	v.clear = true
}

// SetRect implements VideoSink
func (v *VideoBase) SetRect(x, y, w, h int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rrect = media.NewRect(x, y, max(w, 1), max(h, 1))
	v.setupVRect()
}

// SetVideoSize implements VideoSink
func (v *VideoBase) SetVideoSize(w, h int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	w, h = max(w, 1), max(h, 1)
	if w == v.vw && h == v.vh {
		return
	}
	v.vw, v.vh = w, h
	v.setupVRect()
}

// SetFrameDuration changes the nominal frame duration in ms.
func (v *VideoBase) SetFrameDuration(ms int64) {
	if ms <= 0 {
		return
	}
	v.mu.Lock()
	v.tickframe = ms
	v.mu.Unlock()
}

// RenderRect returns the render rectangle.
func (v *VideoBase) RenderRect() media.Rect {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rrect
}

// VideoRect returns the area of the render rectangle covered by video,
// relative to the render rectangle origin.
func (v *VideoBase) VideoRect() media.Rect {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vrect
}

// takeClear reports and resets the pending clear flag.
func (v *VideoBase) takeClear() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := v.clear
	v.clear = false
	return c
}

func (v *VideoBase) bufferRect() image.Rectangle {
	v.mu.Lock()
	defer v.mu.Unlock()
	return image.Rect(v.vrect.Left, v.vrect.Top, v.vrect.Right, v.vrect.Bottom)
}

// SetParam implements VideoSink
func (v *VideoBase) SetParam(id media.Param, val any) error {
	switch id {
	case media.ParamVideoMode:
		n, err := media.IntValue(val)
		if err != nil {
			return err
		}
		v.mu.Lock()
		v.vm = media.VideoMode(n)
		v.setupVRect()
		v.mu.Unlock()
	case media.ParamPlaySpeedValue:
		n, err := media.IntValue(val)
		if err != nil {
			return err
		}
		v.mu.Lock()
		v.speed = max(n, 1)
		v.mu.Unlock()
	case media.ParamAVSyncTimeDiff:
		n, err := media.IntValue(val)
		if err != nil {
			return err
		}
		v.mu.Lock()
		v.tickavdiff = int64(n)
		v.mu.Unlock()
	default:
		return ErrUnsupported
	}
	return nil
}

// GetParam implements VideoSink
func (v *VideoBase) GetParam(id media.Param) (any, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch id {
	case media.ParamVideoMode:
		return v.vm, nil
	case media.ParamPlaySpeedValue:
		return v.speed, nil
	case media.ParamAVSyncTimeDiff:
		return int(v.tickavdiff), nil
	case media.ParamVdevGetVRect:
		return v.vrect, nil
	}
	return nil, ErrUnsupported
}

// master returns the master clock in ms, or -1 before playback started.
func (v *VideoBase) master() int64 {
	if v.audioMaster {
		if apts := v.clk.APTS(); apts >= 0 {
			return apts
		}
	}
	if v.clk.StartTick() == 0 {
		return -1
	}
	v.mu.Lock()
	speed := v.speed
	v.mu.Unlock()
	return v.clk.WallPTS(speed)
}

func (v *VideoBase) syncDisabled() bool {
	return v.clk.Params().LiveNoSync()
}

// late reports whether a frame trails the master clock by more than the
// drop threshold.
func (v *VideoBase) late(pts int64) bool {
	if v.syncDisabled() {
		return false
	}
	m := v.master()
	if m < 0 {
		return false
	}
	v.mu.Lock()
	drift := pts + v.tickavdiff - m
	v.lastDrift = drift
	threshold := v.dropThreshold
	v.mu.Unlock()

	metrics.SetAVDrift(drift)
	if drift < -threshold {
		v.dropped.Add(1)
		metrics.IncrementFramesDropped("video", "late")
		return true
	}
	return false
}

// presentedFrame publishes pts as the video clock.
func (v *VideoBase) presentedFrame(pts int64) {
	v.clk.SetVPTS(pts)
	v.presented.Add(1)
	metrics.IncrementFramesRendered("video")
}

// avsync sleeps until the next frame is due. The delay is the time from the
// master clock to the end of the frame just shown, scaled by speed and
// clamped to [0, 2*frame].
func (v *VideoBase) avsync(pts int64) {
	if v.syncDisabled() {
		return
	}
	v.mu.Lock()
	frame := v.tickframe
	speed := v.speed
	avdiff := v.tickavdiff
	v.mu.Unlock()

	sleep := frame
	if m := v.master(); m >= 0 {
		sleep = pts + frame + avdiff - m
	}
	sleep = sleep * 100 / int64(speed)
	wallFrame := frame * 100 / int64(speed)
	sleep = min(max(sleep, 0), 2*wallFrame)

	v.mu.Lock()
	v.ticksleep = sleep
	v.mu.Unlock()

	if sleep > 0 {
		select {
		case <-time.After(time.Duration(sleep) * time.Millisecond):
		case <-v.closeCh:
		}
	}
}

// Drift returns the last measured video minus master difference in ms.
func (v *VideoBase) Drift() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastDrift
}

// TickSleep returns the last pacing delay in ms.
func (v *VideoBase) TickSleep() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ticksleep
}

// Presented returns the number of frames shown.
func (v *VideoBase) Presented() int64 { return v.presented.Load() }

// Dropped returns the number of frames dropped for lateness.
func (v *VideoBase) Dropped() int64 { return v.dropped.Load() }

func (v *VideoBase) closeBase() {
	v.closeOnce.Do(func() { close(v.closeCh) })
}

func (v *VideoBase) closed() bool {
	select {
	case <-v.closeCh:
		return true
	default:
		return false
	}
}
