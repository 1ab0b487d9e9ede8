package clock

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zsiec/playback/internal/config"
)

type fakeTime struct{ ms atomic.Int64 }

func (f *fakeTime) now() int64 { return f.ms.Load() }
func (f *fakeTime) set(ms int64) { f.ms.Store(ms) }
func (f *fakeTime) advance(d int64) { f.ms.Add(d) }

func TestNewDefaults(t *testing.T) {
	c := New(nil)
	assert.NotNil(t, c.Params())
	assert.Equal(t, int64(-1), c.APTS())
	assert.Equal(t, int64(-1), c.VPTS())
	assert.Equal(t, config.DefaultPlayerConfig().PktQueueSize, c.Params().PktQueueSize)
}

func TestPublish(t *testing.T) {
	ft := &fakeTime{}
	ft.set(1234)
	c := NewWithSource(nil, ft.now)

	c.Publish(30000)
	assert.Equal(t, int64(1234), c.StartTick())
	assert.Equal(t, int64(30000), c.StartPTS())
	assert.Equal(t, int64(30000), c.APTS())
	assert.Equal(t, int64(30000), c.VPTS())
}

func TestPauseResumeExcludesPausedInterval(t *testing.T) {
	ft := &fakeTime{}
	c := NewWithSource(nil, ft.now)
	c.Publish(0)

	ft.set(10000)
	c.SetAPTS(10000)
	c.Checkpoint() // pause
	assert.Equal(t, int64(10000), c.WallPTS(100))

	ft.set(15000)
	c.Checkpoint() // resume: pts did not advance while paused
	assert.Equal(t, int64(10000), c.StartPTS())
	assert.Equal(t, int64(15000), c.StartTick())

	ft.advance(2000)
	assert.Equal(t, int64(12000), c.WallPTS(100))
}

func TestFreezeStopsWallClock(t *testing.T) {
	ft := &fakeTime{}
	c := NewWithSource(nil, ft.now)
	c.Publish(0)

	ft.set(240)
	c.SetVPTS(240)
	c.Freeze(true)
	assert.True(t, c.Frozen())

	ft.advance(800)
	assert.Equal(t, int64(240), c.WallPTS(100), "no progress while frozen")
	assert.Equal(t, int64(240), c.WallPTS(200))

	// a step publishes a new video pts; the frozen clock keeps its checkpoint
	c.SetVPTS(280)
	assert.Equal(t, int64(240), c.WallPTS(100))

	c.Freeze(false)
	assert.False(t, c.Frozen())
	assert.Equal(t, int64(280), c.StartPTS())
	ft.advance(100)
	assert.Equal(t, int64(380), c.WallPTS(100))
}

func TestWallPTSSpeed(t *testing.T) {
	ft := &fakeTime{}
	c := NewWithSource(nil, ft.now)
	c.SetStart(0, 1000)
	ft.set(1000)

	assert.Equal(t, int64(3000), c.WallPTS(200))
	assert.Equal(t, int64(1500), c.WallPTS(50))
	assert.Equal(t, int64(2000), c.WallPTS(0))
}

func TestMaxPTSAndCounts(t *testing.T) {
	c := New(nil)
	c.SetAPTS(500)
	c.SetVPTS(480)
	assert.Equal(t, int64(500), c.MaxPTS())

	c.SetPacketCounts(3, 7)
	assert.Equal(t, 3, c.AudioPackets())
	assert.Equal(t, 7, c.VideoPackets())

	c.Reset()
	assert.Equal(t, int64(-1), c.MaxPTS())
	assert.Equal(t, int64(0), c.StartPTS())
}
