// Package player runs a playback session: a demux goroutine feeding the
// packet pool, one decode goroutine per media type feeding the render
// engine, and the control surface hosts drive it through.
//
// Cross-goroutine control goes through an atomic status bitmask. The
// controller sets request bits, the decode goroutines answer pause requests
// with acknowledgement bits (request << 16), and only the controller clears
// requests. Seeks and reconnections are carried out by the demux goroutine
// in a housekeeping pass once both decode goroutines have acknowledged.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/playback/internal/clock"
	"github.com/zsiec/playback/internal/codec"
	"github.com/zsiec/playback/internal/config"
	"github.com/zsiec/playback/internal/device"
	"github.com/zsiec/playback/internal/logger"
	"github.com/zsiec/playback/internal/media"
	"github.com/zsiec/playback/internal/metrics"
	"github.com/zsiec/playback/internal/pktqueue"
	"github.com/zsiec/playback/internal/reconnect"
	"github.com/zsiec/playback/internal/render"
	"github.com/zsiec/playback/internal/source"
)

var (
	ErrClosed         = errors.New("player: closed")
	ErrNotOpen        = errors.New("player: source not open")
	ErrSeekInProgress = errors.New("player: seek or reconnect in progress")
	ErrReadOnlyParam  = errors.New("player: parameter is read-only")
)

const (
	pollInterval = 10 * time.Millisecond
	// seekTolerance is how far before the target a decoded frame may be
	// and still end an absolute seek.
	seekTolerance = 100
	// reconnectDelay is the fixed pause between reopen attempts.
	reconnectDelay = 50 * time.Millisecond
	// completeTicks is how many idle polls after end of file, with empty
	// queues and a stalled clock, mark playback complete.
	completeTicks = 50
	statsInterval = time.Second
)

// Option customizes a Player at Open.
type Option func(*Player)

// WithLogger sets the session logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Player) { p.log = l }
}

// WithNotifier sets the receiver of asynchronous events.
func WithNotifier(n Notifier) Option {
	return func(p *Player) { p.notifier = n }
}

// WithOpener replaces source.Open, e.g. to feed packets from the host.
func WithOpener(o source.Opener) Option {
	return func(p *Player) { p.opener = o }
}

// WithAudioSink replaces the audio sink named by the init params.
func WithAudioSink(s device.AudioSink) Option {
	return func(p *Player) { p.audioSink = s }
}

// WithClockSource sets the wall clock used for the session timeline.
func WithClockSource(src clock.Source) Option {
	return func(p *Player) { p.clockSrc = src }
}

// WithReconnectStrategy replaces the fixed reconnect backoff.
func WithReconnectStrategy(s reconnect.Strategy) Option {
	return func(p *Player) { p.backoff = s }
}

// Player is one playback session.
type Player struct {
	id  string
	url string
	log logger.Logger

	// mu serialises writers of status, seek fields, params and the clock.
	mu     sync.Mutex
	status atomic.Uint32
	params config.PlayerConfig

	seekTarget    int64
	seekTolerance int64
	seekRender    bool
	autoplay      bool

	opened    atomic.Bool
	completed atomic.Bool
	live      bool
	hasAudio  bool
	hasVideo  bool
	duration  int64
	frameDur  int64

	clk    *clock.Clock
	pktq   *pktqueue.Queue
	render atomic.Pointer[render.Engine]

	// srcMu guards swaps of demuxer so Close can interrupt a blocked read.
	srcMu   sync.Mutex
	demuxer source.Demuxer

	// Owned by the demux goroutine; decode goroutines read them only while
	// their pause request is clear.
	adec, vdec codec.Decoder
	ainfo      media.StreamInfo
	vinfo      media.StreamInfo
	astream    int
	vstream    int

	// demux goroutine state
	readLast   atomic.Int64
	eof        bool
	idleTicks  int
	idlePTS    int64
	lastStats  time.Time
	datarate   *datarate
	readErrLog *logger.Throttled

	// audio goroutine state
	aSeeded bool
	aRate   int
	aNext   int64

	// video goroutine state
	vw, vh int

	decodeLog *logger.Throttled
	notifier  Notifier
	opener    source.Opener
	backoff   reconnect.Strategy
	audioSink device.AudioSink
	surface   device.VideoSink
	clockSrc  clock.Source

	ctx       context.Context
	cancel    context.CancelFunc
	audioDone chan struct{}
	videoDone chan struct{}
	demuxDone chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open creates a session for url and returns immediately. The source is
// opened and probed on the demux goroutine; the outcome is reported with
// MsgOpenDone or MsgOpenFailed. surface may be nil, in which case the video
// sink named by params is created. A nil params uses the defaults.
//
// Cancelling ctx abandons a source open still in progress; it does not
// close the session.
func Open(ctx context.Context, url string, surface device.VideoSink, params *config.PlayerConfig, opts ...Option) (*Player, error) {
	if url == "" {
		return nil, fmt.Errorf("open: empty url")
	}
	if params == nil {
		def := config.DefaultPlayerConfig()
		params = &def
	}

	p := &Player{
		id:        uuid.NewString(),
		url:       url,
		params:    *params,
		surface:   surface,
		astream:   -1,
		vstream:   -1,
		audioDone: make(chan struct{}),
		videoDone: make(chan struct{}),
		demuxDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.WithSession(logger.WithComponent(logger.OrNull(p.log), "player"), p.id)
	if p.opener == nil {
		p.opener = source.Open
	}
	if p.backoff == nil {
		p.backoff = reconnect.NewLinearBackoff(reconnectDelay, 0)
	}
	p.autoplay = p.params.OpenAutoplay
	p.decodeLog = logger.NewThrottled(p.log, time.Second, 5)
	p.readErrLog = logger.NewThrottled(p.log, time.Second, 3)
	p.datarate = newDatarate(nil)

	p.clk = clock.NewWithSource(&p.params, p.clockSrc)
	p.clk.Reset()

	if size := pktqueue.RoundSize(p.params.PktQueueSize); size != p.params.PktQueueSize {
		p.log.WithField("requested", p.params.PktQueueSize).
			WithField("size", size).
			Info("Packet queue size rounded to a power of two")
		p.params.PktQueueSize = size
	}
	p.pktq = pktqueue.New(p.params.PktQueueSize, p.clk)
	p.pktq.SetTimeout(p.params.QueueTimeout)

	p.status.Store(statusAudioPause | statusVideoPause | statusRenderPause)
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	openCtx, stopOpen := context.WithCancel(p.ctx)
	stopAfter := context.AfterFunc(ctx, stopOpen)

	metrics.IncrementSessions()
	p.log.WithField("url", url).Info("Opening session")

	p.spawn("audio", p.audioDone, p.audioLoop)
	p.spawn("video", p.videoDone, p.videoLoop)
	p.spawn("demux", p.demuxDone, func() {
		p.prepare(openCtx)
		stopAfter()
		stopOpen()
		p.demuxLoop()
	})
	return p, nil
}

func (p *Player) spawn(component string, done chan struct{}, fn func()) {
	metrics.IncrementGoroutine(component)
	go func() {
		defer close(done)
		defer metrics.DecrementGoroutine(component)
		fn()
	}()
}

// ID returns the session id.
func (p *Player) ID() string { return p.id }

// URL returns the location the session was opened with.
func (p *Player) URL() string { return p.url }

func (p *Player) closing() bool { return p.status.Load()&statusClose != 0 }

func (p *Player) notify(msg Msg, payload any) {
	metrics.IncrementNotifications(msg.String())
	p.log.WithField("msg", msg.String()).Debug("Notification")
	if p.notifier != nil {
		p.notifier(msg, payload)
	}
}

// engine returns the render engine, or nil before the source is open.
func (p *Player) engine() *render.Engine { return p.render.Load() }

// Play starts or resumes playback. Before the source is open it only
// records that playback should start once it is.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing() {
		return ErrClosed
	}
	if !p.opened.Load() {
		p.autoplay = true
		return nil
	}

	clear := statusRenderPause
	// A housekeeping pass owns the decode pause bits until it finishes.
	if p.status.Load()&(statusFullSeek|statusReconnect) == 0 {
		clear |= statusAudioPause | statusVideoPause |
			ack(statusAudioPause) | ack(statusVideoPause)
	}
	p.status.And(^clear)
	p.engine().Pause(render.PauseOff)
	p.datarate.reset()
	p.log.Debug("Play")
	return nil
}

// Pause pauses the render stage. Decoding continues until the queues
// reach their buffering thresholds.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing() {
		return ErrClosed
	}
	p.status.Or(statusRenderPause)
	if !p.opened.Load() {
		p.autoplay = false
		return nil
	}
	// a pending housekeeping pass re-pauses the engine once it is done
	if p.status.Load()&(statusFullSeek|statusReconnect) == 0 {
		p.engine().Pause(render.PauseOn)
	}
	p.datarate.reset()
	p.log.Debug("Pause")
	return nil
}

// Seek requests a seek and returns before it is carried out. For
// SeekAbsolute ms is an offset from the start of the source; the other
// modes ignore it.
func (p *Player) Seek(ms int64, mode SeekMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing() {
		return ErrClosed
	}
	if !p.opened.Load() {
		return ErrNotOpen
	}
	st := p.status.Load()
	if st&(statusFullSeek|statusReconnect) != 0 {
		p.log.WithField("target", ms).WithField("mode", mode.String()).Warn("Seek rejected, previous request pending")
		metrics.IncrementSeeks(mode.String(), "rejected")
		return ErrSeekInProgress
	}

	var bits uint32
	switch mode {
	case SeekStepForward:
		metrics.IncrementSeeks(mode.String(), "requested")
		return p.engine().SetParam(media.ParamRenderStepForward, 1)
	case SeekAbsolute:
		if p.live {
			return source.ErrNotSeekable
		}
		p.seekTarget = p.clk.StartTime() + ms
		p.seekTolerance = seekTolerance
		bits = statusFullSeek
		if p.hasAudio {
			bits |= statusAudioSeek
		}
		if p.hasVideo {
			bits |= statusVideoSeek
		}
	case SeekStepBackward:
		if p.live {
			return source.ErrNotSeekable
		}
		if !p.hasVideo {
			return fmt.Errorf("step backward: %w: no video stream", ErrNotOpen)
		}
		p.seekTarget = p.clk.VPTS() - p.frameDur
		p.seekTolerance = 0
		bits = statusFullSeek | statusVideoSeek
	default:
		return fmt.Errorf("unknown seek mode %d", int(mode))
	}
	p.seekRender = false
	p.status.Or(bits)

	metrics.IncrementSeeks(mode.String(), "requested")
	p.log.WithField("target", p.seekTarget).WithField("mode", mode.String()).Debug("Seek requested")
	return nil
}

// SetRect sets the video window (kind 0) or the visual-effect area (kind 1).
func (p *Player) SetRect(kind, x, y, w, h int) error {
	if p.closing() {
		return ErrClosed
	}
	r := p.engine()
	if r == nil {
		return ErrNotOpen
	}
	r.SetRect(kind, x, y, w, h)
	return nil
}

// Snapshot saves the next presented frame to path; see render.Engine.
// Completion is also reported with MsgSnapshotTaken.
func (p *Player) Snapshot(path string, w, h int, wait time.Duration) error {
	if p.closing() {
		return ErrClosed
	}
	r := p.engine()
	if r == nil {
		return ErrNotOpen
	}
	return r.Snapshot(path, w, h, wait)
}

// State returns a snapshot of the session state.
func (p *Player) State() State {
	st := p.status.Load()
	opened := p.opened.Load()

	p.mu.Lock()
	s := State{
		SessionID:    p.id,
		URL:          p.url,
		Opened:       opened,
		Paused:       st&statusRenderPause != 0,
		Seeking:      st&(statusFullSeek|statusAudioSeek|statusVideoSeek) != 0,
		Reconnecting: st&statusReconnect != 0,
		Completed:    p.completed.Load(),
		Closed:       st&statusClose != 0,
		Live:         p.live,
		Duration:     p.duration,
		HasAudio:     p.hasAudio,
		HasVideo:     p.hasVideo,
	}
	p.mu.Unlock()

	s.Playing = opened && !s.Paused && !s.Closed
	s.Position = p.position()
	_, _, s.Datarate = p.datarate.peek()
	return s
}

// Close stops the session and releases everything it owns. It is safe to
// call more than once.
func (p *Player) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.status.Or(statusClose)
		p.mu.Unlock()

		p.cancel()
		if r := p.engine(); r != nil {
			r.Pause(render.PauseClose)
		}
		// unblock a read in progress
		p.srcMu.Lock()
		if p.demuxer != nil {
			_ = p.demuxer.Close()
		}
		p.srcMu.Unlock()

		<-p.audioDone
		<-p.videoDone
		<-p.demuxDone

		errs := []error{p.closeSource()}
		if r := p.engine(); r != nil {
			errs = append(errs, r.Close())
		}
		p.pktq.Stop()
		metrics.DecrementSessions()

		p.closeErr = errors.Join(errs...)
		p.log.Info("Session closed")
	})
	return p.closeErr
}
