package logger

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttled gates high-frequency log lines (per-packet decode errors, stall
// warnings) through a token bucket. Suppressed lines are counted and the
// count is attached to the next line that gets through.
type Throttled struct {
	base       Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewThrottled allows burst lines immediately and then one line per interval.
func NewThrottled(base Logger, interval time.Duration, burst int) *Throttled {
	if burst < 1 {
		burst = 1
	}
	return &Throttled{
		base:    OrNull(base),
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Allow reports whether a line may be emitted now and returns a logger
// annotated with the number of lines suppressed since the last one.
func (t *Throttled) Allow() (Logger, bool) {
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return nil, false
	}
	l := t.base
	if n := t.suppressed.Swap(0); n > 0 {
		l = l.WithField("suppressed", n)
	}
	return l, true
}

// Warnf logs at warn level when the bucket allows it.
func (t *Throttled) Warnf(format string, args ...interface{}) {
	if l, ok := t.Allow(); ok {
		l.Warnf(format, args...)
	}
}

// Errorf logs at error level when the bucket allows it.
func (t *Throttled) Errorf(format string, args ...interface{}) {
	if l, ok := t.Allow(); ok {
		l.Errorf(format, args...)
	}
}

// WarnErr logs err at warn level when the bucket allows it.
func (t *Throttled) WarnErr(err error, msg string) {
	if l, ok := t.Allow(); ok {
		l.WithError(err).Warn(msg)
	}
}

// Suppressed returns the number of lines dropped since the last emitted one.
func (t *Throttled) Suppressed() int64 {
	return t.suppressed.Load()
}
