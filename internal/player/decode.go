package player

import (
	"errors"
	"time"

	"github.com/zsiec/playback/internal/codec"
	"github.com/zsiec/playback/internal/media"
	"github.com/zsiec/playback/internal/metrics"
	"github.com/zsiec/playback/internal/render"
)

func (p *Player) audioLoop() {
	p.decodeLoop(statusAudioPause, "audio", p.pktq.DequeueAudio, func() codec.Decoder { return p.adec }, p.handleAudio)
}

func (p *Player) videoLoop() {
	p.decodeLoop(statusVideoPause, "video", p.pktq.DequeueVideo, func() codec.Decoder { return p.vdec }, p.handleVideo)
}

// decodeLoop is the body of a decode goroutine. While its pause request is
// set it acknowledges and idles without touching the queue or the decoder.
func (p *Player) decodeLoop(pause uint32, kind string, dequeue func() *media.Packet, decoder func() codec.Decoder, handle func(media.Frame)) {
	for !p.closing() {
		if p.status.Load()&pause != 0 {
			p.status.Or(ack(pause))
			time.Sleep(pollInterval)
			continue
		}

		pkt := dequeue()
		if pkt == nil {
			continue
		}
		if dec := decoder(); dec != nil {
			p.decode(dec, pkt, pause, kind, handle)
		}
		p.pktq.Release(pkt)
	}
}

// decode drains frames already buffered in dec, then submits pkt, retrying
// while the decoder asks for its output to be drained first.
func (p *Player) decode(dec codec.Decoder, pkt *media.Packet, pause uint32, kind string, handle func(media.Frame)) {
	drain := func() {
		for !p.closing() {
			f, err := dec.Receive()
			if err != nil {
				if !errors.Is(err, codec.ErrAgain) {
					p.decodeFailed(kind, err)
				}
				return
			}
			handle(f)
		}
	}

	for {
		drain()
		err := dec.Send(pkt)
		if err == nil {
			break
		}
		if errors.Is(err, codec.ErrAgain) && !p.closing() && p.status.Load()&pause == 0 {
			continue
		}
		if !errors.Is(err, codec.ErrAgain) {
			p.decodeFailed(kind, err)
		}
		return
	}
	drain()
}

func (p *Player) decodeFailed(kind string, err error) {
	metrics.IncrementDecodeErrors(kind)
	if l, ok := p.decodeLog.Allow(); ok {
		l.WithError(err).WithField("stream", kind).Warn("Decode failed, packet dropped")
	}
}

func (p *Player) handleVideo(f media.Frame) {
	vf, ok := f.(*media.VideoFrame)
	if !ok {
		return
	}
	if vf.Width != p.vw || vf.Height != p.vh {
		p.videoResized(vf.Width, vf.Height)
	}

	pts := media.NoPTS
	if vf.PTS != media.NoPTS {
		pts = media.ToMillis(vf.PTS, p.vinfo.TimeBase)
	}
	if p.seekPending(statusVideoSeek, pts) {
		return
	}

	out := *vf
	out.PTS = pts
	if r := p.engine(); r != nil {
		r.RenderVideo(&out)
	}
}

func (p *Player) videoResized(w, h int) {
	p.vw, p.vh = w, h

	p.mu.Lock()
	p.params.VideoWidth, p.params.VideoHeight = w, h
	ow, oh := outputSize(w, h, p.params.VideoRotate)
	p.params.VideoOutWidth, p.params.VideoOutHeight = ow, oh
	p.mu.Unlock()

	p.log.WithField("width", w).WithField("height", h).Info("Video size changed")
	p.notify(MsgVideoResized, VideoSize{Width: ow, Height: oh})
}

func (p *Player) handleAudio(f media.Frame) {
	af, ok := f.(*media.AudioFrame)
	if !ok || af.SampleRate <= 0 {
		return
	}

	// The timeline follows the sample count from the first frame on, so
	// coarse container timestamps do not make it jitter.
	tb := media.Rational{Num: 1, Den: af.SampleRate}
	if !p.aSeeded || p.aRate != af.SampleRate {
		p.aNext = 0
		if af.PTS != media.NoPTS {
			p.aNext = media.Rescale(af.PTS, p.ainfo.TimeBase, tb)
		}
		p.aRate = af.SampleRate
		p.aSeeded = true
	}
	pts := media.ToMillis(p.aNext, tb)
	p.aNext += int64(af.Samples)

	if p.seekPending(statusAudioSeek, pts) {
		return
	}

	out := *af
	out.PTS = pts
	if r := p.engine(); r != nil {
		r.RenderAudio(&out)
	}
}

// seekPending applies a pending seek to a decoded frame at pts (ms). It
// returns true when the frame must not be rendered: it precedes the seek
// target, or the seek has not been carried out yet. The first frame within
// tolerance of the target publishes the clock and completes the seek for
// its stream.
func (p *Player) seekPending(bit uint32, pts int64) bool {
	if p.status.Load()&bit == 0 {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.status.Load()
	if st&bit == 0 {
		return false
	}
	if st&(statusFullSeek|statusReconnect) != 0 || pts == media.NoPTS {
		return true
	}
	if p.seekTarget-pts > p.seekTolerance {
		return true
	}

	p.clk.Publish(pts)
	p.status.And(^bit)
	if st&statusRenderPause != 0 {
		if r := p.engine(); r != nil {
			r.Pause(render.PauseOn)
		}
	}
	p.log.WithField("pts", pts).WithField("target", p.seekTarget).Debug("Seek converged")
	return !p.seekRender
}
