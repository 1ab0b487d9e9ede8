package player

import (
	"sync"
	"time"
)

// datarate estimates the source byte rate. Each reading halves both the
// byte counts and the measurement window, so older traffic decays and the
// figure tracks recent throughput.
type datarate struct {
	mu         sync.Mutex
	now        func() time.Time
	start      time.Time
	audioBytes int64
	videoBytes int64
}

func newDatarate(now func() time.Time) *datarate {
	if now == nil {
		now = time.Now
	}
	d := &datarate{now: now}
	d.reset()
	return d
}

func (d *datarate) reset() {
	d.mu.Lock()
	d.start = d.now()
	d.audioBytes, d.videoBytes = 0, 0
	d.mu.Unlock()
}

func (d *datarate) addAudio(n int) {
	d.mu.Lock()
	d.audioBytes += int64(n)
	d.mu.Unlock()
}

func (d *datarate) addVideo(n int) {
	d.mu.Lock()
	d.videoBytes += int64(n)
	d.mu.Unlock()
}

// result returns audio, video and total bytes per second.
func (d *datarate) result() (arate, vrate, total int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := d.elapsed()
	arate, vrate, total = d.rates(elapsed)

	d.start = d.start.Add(elapsed / 2)
	d.audioBytes /= 2
	d.videoBytes /= 2
	return arate, vrate, total
}

// peek returns the current rates without decaying the window.
func (d *datarate) peek() (arate, vrate, total int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rates(d.elapsed())
}

func (d *datarate) elapsed() time.Duration {
	elapsed := d.now().Sub(d.start)
	if elapsed <= 0 {
		elapsed = time.Microsecond
	}
	return elapsed
}

func (d *datarate) rates(elapsed time.Duration) (arate, vrate, total int) {
	perSec := func(n int64) int {
		return int(float64(n) * float64(time.Second) / float64(elapsed))
	}
	return perSec(d.audioBytes), perSec(d.videoBytes), perSec(d.audioBytes + d.videoBytes)
}
