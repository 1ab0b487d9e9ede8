package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/zsiec/playback/internal/codec"
	"github.com/zsiec/playback/internal/config"
	"github.com/zsiec/playback/internal/media"
	"github.com/zsiec/playback/internal/metrics"
	"github.com/zsiec/playback/internal/reconnect"
	"github.com/zsiec/playback/internal/render"
	"github.com/zsiec/playback/internal/source"
)

// prepare opens the source and the render engine on the demux goroutine.
func (p *Player) prepare(ctx context.Context) {
	start := time.Now()
	err := p.openSource(ctx)
	if err == nil {
		if err = p.createRender(); err != nil {
			_ = p.closeSource()
		}
	}
	if err != nil {
		if p.closing() {
			return
		}
		p.log.WithError(err).WithField("url", p.url).Error("Failed to open source")
		p.notify(MsgOpenFailed, err)
		return
	}

	p.mu.Lock()
	p.opened.Store(true)
	p.requestResync()
	autoplay := p.autoplay
	if p.status.Load()&statusRenderPause != 0 {
		p.engine().Pause(render.PauseOn)
	}
	p.mu.Unlock()

	p.readLast.Store(time.Now().UnixMilli())
	p.log.WithField("elapsed", time.Since(start)).
		WithField("duration_ms", p.duration).
		WithField("live", p.live).
		Info("Source opened")
	p.notify(MsgOpenDone, p.url)

	if autoplay {
		if err := p.Play(); err != nil && !errors.Is(err, ErrClosed) {
			p.log.WithError(err).Warn("Autoplay failed")
		}
	}
}

// openSource opens the demuxer and the decoders for the selected streams.
// It must only run while the decode goroutines are parked.
func (p *Player) openSource(ctx context.Context) error {
	opts := source.OptionsFromParams(&p.params, p.log)
	d, err := p.opener(ctx, p.url, opts)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.url, err)
	}

	streams := d.Streams()
	ai := source.FirstStream(streams, media.StreamAudio, p.params.AudioStreamCur)
	vi := source.FirstStream(streams, media.StreamVideo, p.params.VideoStreamCur)

	var adec, vdec codec.Decoder
	if ai >= 0 {
		if adec, err = codec.New(streams[ai], &p.params, p.log); err != nil {
			p.log.WithError(err).Warn("Audio stream disabled")
			ai = -1
		}
	}
	if vi >= 0 {
		if vdec, err = codec.New(streams[vi], &p.params, p.log); err != nil {
			p.log.WithError(err).Warn("Video stream disabled")
			vi = -1
		}
	}
	if adec == nil && vdec == nil {
		_ = d.Close()
		return fmt.Errorf("open %s: %w", p.url, source.ErrNoStreams)
	}

	p.srcMu.Lock()
	p.demuxer = d
	p.srcMu.Unlock()

	p.adec, p.vdec = adec, vdec
	p.astream, p.vstream = ai, vi
	p.ainfo, p.vinfo = media.StreamInfo{}, media.StreamInfo{}
	if ai >= 0 {
		p.ainfo = streams[ai]
	}
	if vi >= 0 {
		p.vinfo = streams[vi]
	}
	p.aSeeded = false
	p.eof = false
	p.idleTicks = 0

	p.mu.Lock()
	defer p.mu.Unlock()

	p.live = d.Live()
	p.duration = d.Duration()
	p.hasAudio, p.hasVideo = adec != nil, vdec != nil
	p.frameDur = media.FrameDuration(p.vinfo.FrameRate, 40)
	p.clk.SetStartTime(d.StartTime())
	p.completed.Store(false)

	// the render engine reads the sync mode without locking, so it is
	// only resolved before the engine exists
	if p.engine() == nil && p.params.AVTSSyncMode == config.SyncModeAuto {
		if p.live {
			p.params.AVTSSyncMode = config.SyncModeLiveSync
		} else {
			p.params.AVTSSyncMode = config.SyncModeFile
		}
	}
	p.fillStreamParams(streams)
	return nil
}

// fillStreamParams records the probed stream properties in the read-only
// init params. Called with p.mu held.
func (p *Player) fillStreamParams(streams []media.StreamInfo) {
	pp := &p.params
	pp.VideoStreamTotal = source.CountStreams(streams, media.StreamVideo)
	pp.AudioStreamTotal = source.CountStreams(streams, media.StreamAudio)
	pp.SubtitleStreamTotal = source.CountStreams(streams, media.StreamSubtitle)

	pp.VideoCodec, pp.AudioCodec = "", ""
	if p.hasVideo {
		pp.VideoCodec = p.vinfo.Codec.String()
		pp.VideoWidth, pp.VideoHeight = p.vinfo.Width, p.vinfo.Height
		pp.VideoOutWidth, pp.VideoOutHeight = outputSize(p.vinfo.Width, p.vinfo.Height, pp.VideoRotate)
		pp.VideoFrameRate = p.vinfo.FrameRate.Float64()
	}
	if p.hasAudio {
		pp.AudioCodec = p.ainfo.Codec.String()
		pp.AudioChannels = p.ainfo.Channels
		pp.AudioSampleRate = p.ainfo.SampleRate
	}
}

// outputSize returns the displayed size after rotation.
func outputSize(w, h, rotate int) (int, int) {
	switch ((rotate%360)+360) % 360 {
	case 90, 270:
		return h, w
	}
	return w, h
}

func (p *Player) createRender() error {
	r, err := render.New(render.Options{
		HasAudio:  p.adec != nil,
		HasVideo:  p.vdec != nil,
		Width:     p.vinfo.Width,
		Height:    p.vinfo.Height,
		FrameRate: p.vinfo.FrameRate,
		Audio:     p.audioSink,
		Video:     p.surface,
		OnSnapshot: func(path string, err error) {
			p.notify(MsgSnapshotTaken, SnapshotResult{Path: path, Err: err})
		},
	}, p.clk, p.log)
	if err != nil {
		return fmt.Errorf("create render: %w", err)
	}
	p.render.Store(r)
	return nil
}

// closeSource releases the decoders and the demuxer.
func (p *Player) closeSource() error {
	var errs []error
	if p.adec != nil {
		errs = append(errs, p.adec.Close())
		p.adec = nil
	}
	if p.vdec != nil {
		errs = append(errs, p.vdec.Close())
		p.vdec = nil
	}
	p.srcMu.Lock()
	if p.demuxer != nil {
		errs = append(errs, p.demuxer.Close())
		p.demuxer = nil
	}
	p.srcMu.Unlock()
	return errors.Join(errs...)
}

// requestResync makes each decode goroutine publish the clock from its
// first frame, and still render that frame. Called with p.mu held.
func (p *Player) requestResync() {
	p.seekTarget = 0
	p.seekTolerance = math.MaxInt64
	p.seekRender = true
	var bits uint32
	if p.hasAudio {
		bits |= statusAudioSeek
	}
	if p.hasVideo {
		bits |= statusVideoSeek
	}
	p.status.Or(bits)
}

func (p *Player) demuxLoop() {
	for !p.closing() {
		p.housekeeping()
		if p.closing() {
			return
		}

		d := p.demuxer
		if d == nil {
			time.Sleep(pollInterval)
			continue
		}
		p.publishStats()

		if p.buffered() {
			// not reading by choice is not a stall
			p.readLast.Store(time.Now().UnixMilli())
			p.checkCompletion()
			time.Sleep(pollInterval)
			continue
		}

		pkt := p.pktq.Acquire()
		if pkt == nil {
			continue
		}
		if err := d.ReadPacket(pkt); err != nil {
			p.pktq.Release(pkt)
			p.readFailed(err)
			continue
		}
		p.readLast.Store(time.Now().UnixMilli())
		p.eof = false
		p.route(pkt)
	}
}

// buffered reports whether a selected stream has reached its buffering
// threshold, in which case reading pauses. Stopping at the first full queue
// keeps both below the level at which the render engine starts skipping.
func (p *Player) buffered() bool {
	if p.params.LiveNoSync() {
		return false
	}
	if p.adec != nil && p.clk.AudioPackets() >= p.params.AudioBufPktN {
		return true
	}
	return p.vdec != nil && p.clk.VideoPackets() >= p.params.VideoBufPktN
}

func (p *Player) route(pkt *media.Packet) {
	var err error
	switch {
	case pkt.StreamIndex == p.astream && p.adec != nil:
		p.datarate.addAudio(pkt.Size())
		err = p.pktq.EnqueueAudio(pkt)
	case pkt.StreamIndex == p.vstream && p.vdec != nil:
		p.datarate.addVideo(pkt.Size())
		err = p.pktq.EnqueueVideo(pkt)
	default:
		p.pktq.Release(pkt)
	}
	if err != nil && !p.closing() {
		p.log.WithError(err).Debug("Enqueue failed")
	}
}

// readFailed handles a failed read: end of file starts completion
// detection, anything else on a source that has been silent for longer
// than the reconnect interval requests a reconnection.
func (p *Player) readFailed(err error) {
	if p.closing() {
		return
	}
	if errors.Is(err, source.ErrEOF) && !p.live {
		if !p.eof {
			p.eof = true
			p.log.Debug("End of source")
		}
		p.checkCompletion()
		time.Sleep(pollInterval)
		return
	}

	interval := p.params.AutoReconnect
	silent := time.Duration(time.Now().UnixMilli()-p.readLast.Load()) * time.Millisecond
	if interval > 0 && silent >= interval {
		p.mu.Lock()
		p.status.Or(statusReconnect)
		p.mu.Unlock()
		p.log.WithError(err).WithField("silent", silent).Warn("Source stalled, reconnecting")
		return
	}
	if l, ok := p.readErrLog.Allow(); ok {
		l.WithError(err).Warn("Read failed")
	}
	time.Sleep(pollInterval)
}

// checkCompletion reports MsgPlayCompleted once when the source is
// exhausted, both queues are empty and the clock has stopped moving.
func (p *Player) checkCompletion() {
	if !p.eof || p.completed.Load() || p.status.Load()&statusRenderPause != 0 {
		return
	}
	if p.clk.AudioPackets() > 0 || p.clk.VideoPackets() > 0 {
		p.idleTicks = 0
		return
	}
	if pts := p.clk.MaxPTS(); pts != p.idlePTS {
		p.idlePTS = pts
		p.idleTicks = 0
		return
	}
	p.idleTicks++
	if p.idleTicks >= completeTicks {
		p.completed.Store(true)
		p.log.WithField("position", p.position()).Info("Playback completed")
		p.notify(MsgPlayCompleted, nil)
	}
}

func (p *Player) publishStats() {
	now := time.Now()
	if now.Sub(p.lastStats) < statsInterval {
		return
	}
	p.lastStats = now
	s := p.pktq.Stats()
	metrics.SetPoolStats(s.Free, s.Audio, s.Video, s.InFlight)
	_, _, total := p.datarate.peek()
	metrics.SetDatarate(float64(total))
}

// housekeeping carries out a pending seek or reconnection. The decode
// goroutines are parked first so that decoders, the demuxer and the pool
// can be replaced or reset without them noticing; flags are cleared only
// once the pool and clock are consistent again.
func (p *Player) housekeeping() {
	st := p.status.Load()
	if st&(statusFullSeek|statusReconnect) == 0 {
		return
	}
	reopen := st&statusReconnect != 0 || p.demuxer == nil

	pause := statusAudioPause | statusVideoPause
	if !reopen {
		pause = 0
		if p.adec != nil {
			pause |= statusAudioPause
		}
		if p.vdec != nil {
			pause |= statusVideoPause
		}
	}

	r := p.engine()
	if r != nil {
		r.Pause(render.PauseOff)
	}

	p.mu.Lock()
	p.status.Or(pause)
	p.mu.Unlock()
	for p.status.Load()&ack(pause) != ack(pause) {
		if p.closing() {
			return
		}
		time.Sleep(pollInterval)
	}

	if reopen {
		p.reopen()
		if p.closing() {
			return
		}
	} else {
		p.seekSource()
	}

	if r != nil {
		r.Reset()
	}
	p.pktq.Reset()
	p.datarate.reset()
	p.eof = false
	p.idleTicks = 0

	p.mu.Lock()
	p.status.And(^(statusFullSeek | statusReconnect | pause | ack(pause)))
	st = p.status.Load()
	if r != nil && st&statusRenderPause != 0 && st&(statusAudioSeek|statusVideoSeek) == 0 {
		r.Pause(render.PauseOn)
	}
	p.mu.Unlock()
}

func (p *Player) seekSource() {
	p.mu.Lock()
	target := p.seekTarget
	p.mu.Unlock()

	result := "success"
	if err := p.demuxer.Seek(target); err != nil {
		result = "failure"
		p.log.WithError(err).WithField("target", target).Warn("Seek failed")
	}
	if p.adec != nil {
		p.adec.Flush()
	}
	if p.vdec != nil {
		p.vdec.Flush()
	}
	p.aSeeded = false
	p.completed.Store(false)
	metrics.IncrementSeeks("execute", result)
}

// reopen tears the source down and opens it again, retrying with the
// reconnect strategy until it succeeds or the session closes.
func (p *Player) reopen() {
	p.notify(MsgStreamDisconnect, p.url)
	if err := p.closeSource(); err != nil {
		p.log.WithError(err).Debug("Error closing stalled source")
	}

	err := reconnect.Retry(p.ctx, p.backoff, p.log, p.openSource)
	if err != nil {
		metrics.IncrementReconnects("failure")
		if !p.closing() {
			p.log.WithError(err).Error("Reconnection abandoned, player idle")
		}
		return
	}

	p.mu.Lock()
	p.clk.Reset()
	p.requestResync()
	p.mu.Unlock()

	p.readLast.Store(time.Now().UnixMilli())
	metrics.IncrementReconnects("success")
	p.log.WithField("url", p.url).Info("Source reconnected")
	p.notify(MsgStreamConnected, p.url)
}
