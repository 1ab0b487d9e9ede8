package device

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/playback/internal/clock"
	"github.com/zsiec/playback/internal/config"
	"github.com/zsiec/playback/internal/media"
)

type fakeTime struct{ ms atomic.Int64 }

func (f *fakeTime) now() int64 { return f.ms.Load() }

func TestLetterboxGeometry(t *testing.T) {
	tests := []struct {
		name           string
		videoW, videoH int
		rectW, rectH   int
		mode           media.VideoMode
		want           media.Rect
	}{
		{
			name:   "wide video in 4:3 rect",
			videoW: 1920, videoH: 1080,
			rectW: 640, rectH: 480,
			want: media.Rect{Left: 0, Top: 60, Right: 640, Bottom: 420},
		},
		{
			name:   "portrait video in landscape rect",
			videoW: 480, videoH: 640,
			rectW: 640, rectH: 480,
			want: media.Rect{Left: 140, Top: 0, Right: 500, Bottom: 480},
		},
		{
			name:   "same aspect",
			videoW: 320, videoH: 240,
			rectW: 640, rectH: 480,
			want: media.Rect{Left: 0, Top: 0, Right: 640, Bottom: 480},
		},
		{
			name:   "stretched",
			videoW: 1920, videoH: 1080,
			rectW: 640, rectH: 480,
			mode: media.VideoModeStretched,
			want: media.Rect{Left: 0, Top: 0, Right: 640, Bottom: 480},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVideoBase(VideoOptions{Width: tt.videoW, Height: tt.videoH}, nil, nil)
			require.NoError(t, v.SetParam(media.ParamVideoMode, int(tt.mode)))
			v.SetRect(0, 0, tt.rectW, tt.rectH)
			assert.Equal(t, tt.want, v.VideoRect())

			got, err := v.GetParam(media.ParamVdevGetVRect)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, v.takeClear())
			assert.False(t, v.takeClear())
		})
	}
}

func TestSetVideoSizeRecomputes(t *testing.T) {
	v := NewVideoBase(VideoOptions{Width: 640, Height: 480}, nil, nil)
	v.SetRect(0, 0, 640, 480)
	v.takeClear()

	v.SetVideoSize(640, 480)
	assert.False(t, v.takeClear(), "unchanged size keeps geometry")

	v.SetVideoSize(1280, 720)
	assert.Equal(t, media.Rect{Left: 0, Top: 60, Right: 640, Bottom: 420}, v.VideoRect())
	assert.True(t, v.takeClear())
}

func TestSetRectMinimumSize(t *testing.T) {
	v := NewVideoBase(VideoOptions{Width: 16, Height: 16}, nil, nil)
	v.SetRect(0, 0, 0, -5)
	assert.Equal(t, 1, v.RenderRect().Width())
	assert.Equal(t, 1, v.RenderRect().Height())
}

func newPacedVideo(t *testing.T, mode config.SyncMode) (*MemoryVideo, *fakeTime, *clock.Clock) {
	t.Helper()
	p := config.DefaultPlayerConfig()
	p.AVTSSyncMode = mode
	ft := &fakeTime{}
	ft.ms.Store(1000)
	clk := clock.NewWithSource(&p, ft.now)
	clk.Publish(0)
	v := NewMemoryVideo(VideoOptions{Width: 32, Height: 18, FrameDuration: 40}, clk, nil)
	v.SetRect(0, 0, 32, 18)
	t.Cleanup(func() { v.Close() })
	return v, ft, clk
}

func TestLateFramesDropped(t *testing.T) {
	v, ft, clk := newPacedVideo(t, config.SyncModeFile)
	ft.ms.Add(600)

	buf, ok := v.Lock(0)
	assert.False(t, ok)
	assert.Nil(t, buf)
	v.Unlock()
	assert.Equal(t, int64(1), v.Dropped())
	assert.Equal(t, int64(-600), v.Drift())
	assert.Equal(t, int64(0), clk.VPTS(), "dropped frame does not publish vpts")

	buf, ok = v.Lock(580)
	require.True(t, ok)
	require.NotNil(t, buf)
	v.Unlock()
	assert.Equal(t, int64(1), v.Presented())
	assert.Equal(t, int64(580), clk.VPTS())
	// Next frame is due at 620, master is at 600.
	assert.Equal(t, int64(20), v.TickSleep())
}

func TestPacerSleepClamped(t *testing.T) {
	v, _, _ := newPacedVideo(t, config.SyncModeFile)

	_, ok := v.Lock(5000)
	require.True(t, ok)
	v.Unlock()
	assert.Equal(t, int64(80), v.TickSleep(), "capped at two frames")

	require.NoError(t, v.SetParam(media.ParamPlaySpeedValue, 200))
	_, ok = v.Lock(5040)
	require.True(t, ok)
	v.Unlock()
	assert.Equal(t, int64(40), v.TickSleep(), "frame time shrinks with speed")
}

func TestAVSyncTimeDiffShiftsDrift(t *testing.T) {
	v, ft, _ := newPacedVideo(t, config.SyncModeFile)
	ft.ms.Add(600)
	require.NoError(t, v.SetParam(media.ParamAVSyncTimeDiff, 200))

	_, ok := v.Lock(0)
	require.True(t, ok, "offset keeps the frame inside the drop threshold")
	v.Unlock()
	assert.Equal(t, int64(-400), v.Drift())

	got, err := v.GetParam(media.ParamAVSyncTimeDiff)
	require.NoError(t, err)
	assert.Equal(t, 200, got)
}

func TestLiveNoSyncNeverDrops(t *testing.T) {
	v, ft, _ := newPacedVideo(t, config.SyncModeLiveNoSync)
	ft.ms.Add(10000)

	_, ok := v.Lock(0)
	require.True(t, ok)
	v.Unlock()
	assert.Equal(t, int64(0), v.Dropped())
}

func TestAudioMasterClock(t *testing.T) {
	p := config.DefaultPlayerConfig()
	ft := &fakeTime{}
	ft.ms.Store(1000)
	clk := clock.NewWithSource(&p, ft.now)
	clk.Publish(0)
	clk.SetAPTS(-1)
	v := NewVideoBase(VideoOptions{AudioMaster: true}, clk, nil)

	ft.ms.Add(300)
	assert.Equal(t, int64(300), v.master(), "wall clock until audio starts")

	clk.SetAPTS(120)
	assert.Equal(t, int64(120), v.master())
}

func TestMemoryVideoLastFrame(t *testing.T) {
	v, _, _ := newPacedVideo(t, config.SyncModeLiveNoSync)

	img, pts := v.LastFrame()
	assert.Nil(t, img)
	assert.Equal(t, int64(-1), pts)

	buf, ok := v.Lock(40)
	require.True(t, ok)
	assert.Equal(t, 32, buf.Image.Bounds().Dx())
	assert.True(t, buf.Clear)
	buf.Image.Pix[0] = 0xff
	v.Unlock()

	img, pts = v.LastFrame()
	require.NotNil(t, img)
	assert.Equal(t, int64(40), pts)
	assert.Equal(t, uint8(0xff), img.Pix[0])

	ctx, err := v.GetParam(media.ParamVdevGetContext)
	require.NoError(t, err)
	assert.Same(t, v, ctx)
}

func TestMemoryVideoClosed(t *testing.T) {
	v, _, _ := newPacedVideo(t, config.SyncModeFile)
	require.NoError(t, v.Close())

	_, ok := v.Lock(0)
	assert.False(t, ok)
	v.Unlock()
}

func TestFactory(t *testing.T) {
	a, err := NewAudio("null", nil, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	path := t.TempDir() + "/out.pcm"
	a, err = NewAudio("raw:"+path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	_, err = NewAudio("alsa", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownRenderer)

	vs, err := NewVideo("memory", VideoOptions{Width: 4, Height: 4}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, vs.Close())

	_, err = NewVideo("gdi", VideoOptions{}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownRenderer)
}
