// Package render adapts decoded frames to the device sinks: audio is
// resampled, time-stretched and volume scaled into fixed-size device
// buffers; video is cropped, scaled and rotated into the video sink surface.
// The engine also owns pause/step state and the snapshot and sharpness
// requests made through the player.
package render

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/playback/internal/clock"
	"github.com/zsiec/playback/internal/device"
	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
	"github.com/zsiec/playback/internal/metrics"
)

const (
	statusClose uint32 = 1 << iota
	statusPause
	statusSnapshot
	statusStepForward
	statusDefinitionEval
)

// PauseMode is the argument to Pause.
type PauseMode int

const (
	PauseOff PauseMode = iota
	PauseOn
	PauseClose
)

const pollInterval = 10 * time.Millisecond

var ErrClosed = errors.New("render closed")

// Options describes the session the engine renders for.
type Options struct {
	HasAudio  bool
	HasVideo  bool
	Width     int
	Height    int
	FrameRate media.Rational

	// Audio and Video override the sinks created from the init params.
	Audio device.AudioSink
	Video device.VideoSink

	// OnSnapshot is called from the video goroutine once a requested
	// snapshot has been written or has failed.
	OnSnapshot func(path string, err error)
}

// Engine is the render stage of one playback session.
type Engine struct {
	clk    *clock.Clock
	adev   device.AudioSink
	vdev   device.VideoSink
	logger logger.Logger
	status atomic.Uint32

	// audio goroutine state
	abuf         []byte
	acur         int
	resampler    *Resampler
	stretcher    *Stretcher
	curSpeedType media.SpeedType
	curSpeed     int

	vol      *VolumeTable
	volCur   atomic.Int32
	speed    atomic.Int32
	speedTyp atomic.Int32

	// video goroutine state
	conv      *Converter
	curVideoW int
	curVideoH int
	curSrc    media.Rect
	rotate    int
	swsHint   string

	mu         sync.Mutex
	newSrc     media.Rect
	srcReset   bool
	effect     media.VisualEffect
	effectRect media.Rect
	definition float64
	snap       snapshotRequest
	onSnapshot func(string, error)
}

// New creates the engine and, unless supplied in opts, the device sinks
// named by the init params.
func New(opts Options, clk *clock.Clock, log logger.Logger) (*Engine, error) {
	if clk == nil {
		clk = clock.New(nil)
	}
	params := clk.Params()
	log = logger.WithComponent(log, "render")

	e := &Engine{
		clk:        clk,
		adev:       opts.Audio,
		vdev:       opts.Video,
		logger:     log,
		vol:        NewVolumeTable(VolumeMinDB, VolumeMaxDB),
		rotate:     normalizeRotation(params.VideoRotate),
		swsHint:    params.SwscaleType,
		onSnapshot: opts.OnSnapshot,
		curSpeed:   100,
	}

	fps := 46
	if opts.HasVideo {
		fps = 60
	}
	e.abuf = make([]byte, (device.SampleRate+fps/2)/fps*device.BytesPerFrame)

	var err error
	if e.adev == nil {
		e.adev, err = device.NewAudio(params.AdevRenderType, clk, log)
		if err != nil {
			return nil, fmt.Errorf("create audio sink: %w", err)
		}
	}
	if e.vdev == nil {
		w, h := rotatedSize(opts.Width, opts.Height, e.rotate)
		e.vdev, err = device.NewVideo(params.VdevRenderType, device.VideoOptions{
			Width:         w,
			Height:        h,
			FrameDuration: media.FrameDuration(opts.FrameRate, device.DefaultFrameDuration),
			AudioMaster:   opts.HasAudio,
		}, clk, log)
		if err != nil {
			e.adev.Close()
			return nil, fmt.Errorf("create video sink: %w", err)
		}
	}

	e.volCur.Store(int32(e.vol.ZeroDB()))
	e.setSpeed(100)
	return e, nil
}

// AudioBufferSize returns the staging buffer size in bytes.
func (e *Engine) AudioBufferSize() int { return len(e.abuf) }

func (e *Engine) closing() bool { return e.status.Load()&statusClose != 0 }
func (e *Engine) paused() bool { return e.status.Load()&statusPause != 0 }

func (e *Engine) liveNoSync() bool { return e.clk.Params().LiveNoSync() }

// RenderAudio adapts one decoded audio frame and writes every filled
// staging buffer to the audio sink. frame.PTS is in milliseconds. It skips
// the frame when too many audio packets are queued, waits while paused and
// returns as soon as the engine closes.
func (e *Engine) RenderAudio(frame *media.AudioFrame) {
	if frame == nil || e.closing() {
		return
	}
	params := e.clk.Params()
	if !e.liveNoSync() && e.clk.AudioPackets() > params.AudioBufPktN {
		return
	}

	speed := int(e.speed.Load())
	speedType := media.SpeedType(e.speedTyp.Load())
	rate := outputRate(speedType, speed)
	if e.resampler == nil || !e.resampler.Matches(frame, rate) ||
		e.curSpeed != speed || e.curSpeedType != speedType {
		e.curSpeed, e.curSpeedType = speed, speedType
		e.resampler = NewResampler(frame.Format, frame.SampleRate, frame.Channels, rate)
		if speedType == media.SpeedPitchPreserving {
			tempo := float64(speed) / 100
			if e.stretcher == nil {
				e.stretcher = NewStretcher(tempo)
			} else {
				e.stretcher.SetTempo(tempo)
			}
		}
	}

	pcm := e.resampler.Convert(frame)
	if speedType == media.SpeedPitchPreserving && speed != 100 {
		pcm = e.stretcher.Process(pcm)
	}

	pts := frame.PTS
	for len(pcm) > 0 && !e.closing() {
		n := copy(e.abuf[e.acur:], pcm)
		e.acur += n
		pcm = pcm[n:]

		if e.acur == len(e.abuf) {
			applyVolume(e.abuf, e.vol.Multiplier(int(e.volCur.Load())))
			pts += int64(5 * speed * len(e.abuf) / (2 * device.SampleRate))
			e.adev.Write(e.abuf, pts)
			e.acur = 0
		}

		for e.paused() && !e.closing() {
			time.Sleep(pollInterval)
		}
	}
}

// RenderVideo draws one decoded frame. frame.PTS is in milliseconds. While
// paused it keeps re-presenting the frame until a step forward request lets
// it through; the step request is cleared on return.
func (e *Engine) RenderVideo(frame *media.VideoFrame) {
	defer e.status.And(^statusStepForward)
	if frame == nil || e.closing() {
		return
	}

	if e.status.Load()&statusDefinitionEval != 0 {
		d := Definition(frame)
		e.mu.Lock()
		e.definition = d
		e.mu.Unlock()
		e.status.And(^statusDefinitionEval)
	}

	params := e.clk.Params()
	if !e.liveNoSync() && e.clk.VideoPackets() > params.VideoBufPktN {
		return
	}

	for {
		e.updateSourceRect(frame)

		buf, ready := e.vdev.Lock(frame.PTS)
		if ready && buf != nil && frame.Format != media.PixelFormatNone && frame.PTS != media.NoPTS {
			e.draw(buf, frame)
		}
		e.vdev.Unlock()

		if e.closing() || !e.paused() || e.status.Load()&statusStepForward != 0 {
			return
		}
		time.Sleep(pollInterval)
	}
}

// updateSourceRect tracks frame size changes and applies a pending source
// rectangle, resizing the video sink to the displayed region.
func (e *Engine) updateSourceRect(frame *media.VideoFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.srcReset {
		e.srcReset = false
		e.curVideoW, e.curVideoH = 0, 0
	}
	if e.curVideoW != frame.Width || e.curVideoH != frame.Height {
		e.curVideoW, e.curVideoH = frame.Width, frame.Height
		e.newSrc.Right, e.newSrc.Bottom = frame.Width, frame.Height
	}
	if e.newSrc == e.curSrc {
		return
	}
	e.curSrc = e.newSrc.Clamp(frame.Width, frame.Height)
	e.newSrc = e.curSrc
	w, h := rotatedSize(max(e.curSrc.Width(), 1), max(e.curSrc.Height(), 1), e.rotate)
	e.vdev.SetVideoSize(w, h)
}

func (e *Engine) draw(buf *device.Buffer, frame *media.VideoFrame) {
	e.mu.Lock()
	crop := e.curSrc
	e.mu.Unlock()

	dr := buf.Rect
	if e.conv == nil || !e.conv.Matches(frame.Format, crop.Width(), crop.Height(), dr.Dx(), dr.Dy()) {
		e.conv = NewConverter(frame.Format, crop.Width(), crop.Height(), dr.Dx(), dr.Dy(), e.rotate, e.swsHint)
	}
	if err := e.conv.Convert(buf.Image, dr, frame, crop); err != nil {
		e.logger.WithError(err).Debug("Video conversion failed")
		return
	}

	if e.status.Load()&statusSnapshot != 0 {
		e.takeSnapshot(buf.Image, dr)
	}
}

func (e *Engine) takeSnapshot(img image.Image, r image.Rectangle) {
	e.mu.Lock()
	req := e.snap
	cb := e.onSnapshot
	e.mu.Unlock()

	err := writeSnapshot(req.path, img, r, req.w, req.h)
	if err != nil {
		e.logger.WithError(err).WithField("path", req.path).Warn("Snapshot failed")
	}
	e.status.And(^statusSnapshot)
	if cb != nil {
		cb(req.path, err)
	}
}

// Snapshot asks the video path to save the next presented frame to path,
// scaled to w x h (zero keeps the displayed size). With wait > 0 it blocks
// until the snapshot is written or wait elapses.
func (e *Engine) Snapshot(path string, w, h int, wait time.Duration) error {
	if e.closing() {
		return ErrClosed
	}
	e.mu.Lock()
	if e.status.Load()&statusSnapshot != 0 {
		e.mu.Unlock()
		return ErrSnapshotPending
	}
	e.snap = snapshotRequest{path: path, w: w, h: h}
	e.status.Or(statusSnapshot)
	e.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	deadline := time.Now().Add(wait)
	for e.status.Load()&statusSnapshot != 0 {
		if e.closing() {
			return ErrClosed
		}
		if !time.Now().Before(deadline) {
			return ErrSnapshotTimeout
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// SetRect sets the video render rectangle (kind 0) or the visual-effect
// area (kind 1).
func (e *Engine) SetRect(kind, x, y, w, h int) {
	switch kind {
	case 0:
		e.vdev.SetRect(x, y, w, h)
	case 1:
		e.mu.Lock()
		e.effectRect = media.NewRect(x, y, max(w, 1), max(h, 1))
		e.mu.Unlock()
	}
}

// Pause changes the render status and records a clock checkpoint so that
// elapsed time excludes the paused interval.
func (e *Engine) Pause(mode PauseMode) {
	switch mode {
	case PauseOff:
		e.status.And(^statusPause)
		e.adev.Pause(false)
		e.clk.Freeze(false)
	case PauseOn:
		e.status.Or(statusPause)
		e.adev.Pause(true)
		e.clk.Freeze(true)
	case PauseClose:
		e.status.Store(statusClose)
		// a writer blocked on a paused sink must be able to return
		e.adev.Pause(false)
		e.clk.Checkpoint()
	}
}

// Reset drops staged and queued audio after a seek or reconnect. The audio
// decode goroutine must not be inside RenderAudio.
func (e *Engine) Reset() {
	e.acur = 0
	e.adev.Reset()
}

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool { return e.paused() }

func (e *Engine) setSpeed(speed int) {
	if speed <= 0 {
		return
	}
	e.speed.Store(int32(speed))
	if err := e.vdev.SetParam(media.ParamPlaySpeedValue, speed); err != nil && !errors.Is(err, device.ErrUnsupported) {
		e.logger.WithError(err).Debug("Video sink rejected speed")
	}
	metrics.SetPlaybackSpeed(speed)
}

// SetParam applies a render or device parameter.
func (e *Engine) SetParam(id media.Param, v any) error {
	switch id {
	case media.ParamAudioVolume:
		n, err := media.IntValue(v)
		if err != nil {
			return err
		}
		idx := e.vol.Index(n)
		e.volCur.Store(int32(idx))
		metrics.SetVolume(idx)
	case media.ParamPlaySpeedValue:
		n, err := media.IntValue(v)
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("speed %d: %w", n, media.ErrInvalidValue)
		}
		e.setSpeed(n)
	case media.ParamPlaySpeedType:
		n, err := media.IntValue(v)
		if err != nil {
			return err
		}
		e.speedTyp.Store(int32(n))
	case media.ParamVisualEffect:
		n, err := media.IntValue(v)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.effect = media.VisualEffect(n)
		e.mu.Unlock()
	case media.ParamVideoMode, media.ParamAVSyncTimeDiff, media.ParamVdevPostSurface, media.ParamRenderVdevWin:
		return e.vdev.SetParam(id, v)
	case media.ParamRenderStepForward:
		e.status.Or(statusStepForward)
	case media.ParamRenderSourceRect:
		r, ok := v.(media.Rect)
		if !ok {
			return fmt.Errorf("source rect: %w: unexpected %T", media.ErrInvalidValue, v)
		}
		e.mu.Lock()
		e.newSrc = r
		if r.Right == 0 && r.Bottom == 0 {
			e.srcReset = true
		}
		e.mu.Unlock()
	default:
		return device.ErrUnsupported
	}
	return nil
}

// GetParam reads a render or device parameter.
func (e *Engine) GetParam(id media.Param) (any, error) {
	switch id {
	case media.ParamMediaPosition:
		if apts := e.clk.APTS(); apts != -1 {
			return apts, nil
		}
		return e.clk.VPTS(), nil
	case media.ParamAudioVolume:
		return int(e.volCur.Load()) - e.vol.ZeroDB(), nil
	case media.ParamPlaySpeedValue:
		return int(e.speed.Load()), nil
	case media.ParamPlaySpeedType:
		return media.SpeedType(e.speedTyp.Load()), nil
	case media.ParamVisualEffect:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.effect, nil
	case media.ParamVideoMode, media.ParamAVSyncTimeDiff, media.ParamVdevGetVRect, media.ParamVdevGetContext:
		return e.vdev.GetParam(id)
	case media.ParamAdevGetContext:
		return e.adev, nil
	case media.ParamDefinitionValue:
		e.mu.Lock()
		d := e.definition
		e.mu.Unlock()
		e.status.Or(statusDefinitionEval)
		return d, nil
	case media.ParamRenderSourceRect:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.curSrc, nil
	case media.ParamRenderGetContext:
		return e, nil
	}
	return nil, device.ErrUnsupported
}

// Close stops rendering and closes both sinks.
func (e *Engine) Close() error {
	e.status.Store(statusClose)
	return errors.Join(e.adev.Close(), e.vdev.Close())
}
