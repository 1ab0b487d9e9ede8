// Package reconnect retries source reconnection with a pluggable delay
// strategy.
package reconnect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zsiec/playback/internal/logger"
)

// ErrGaveUp is returned by Retry when the strategy stops retrying.
var ErrGaveUp = errors.New("reconnect: giving up")

// Strategy defines the reconnection strategy interface
type Strategy interface {
	// NextDelay returns the next delay duration and whether to continue retrying
	NextDelay() (time.Duration, bool)
	// Reset resets the strategy to initial state
	Reset()
}

// LinearBackoff implements a simple linear backoff strategy
type LinearBackoff struct {
	Delay      time.Duration
	MaxRetries int // 0 retries forever

	retryCount int
	mu         sync.Mutex
}

// NewLinearBackoff creates a new linear backoff strategy
func NewLinearBackoff(delay time.Duration, maxRetries int) *LinearBackoff {
	return &LinearBackoff{
		Delay:      delay,
		MaxRetries: maxRetries,
	}
}

// NextDelay returns a fixed delay for linear backoff
func (l *LinearBackoff) NextDelay() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.MaxRetries > 0 && l.retryCount >= l.MaxRetries {
		return 0, false
	}

	l.retryCount++
	return l.Delay, true
}

// Reset resets the backoff strategy
func (l *LinearBackoff) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.retryCount = 0
}

// Attempts returns the number of delays handed out since the last Reset.
func (l *LinearBackoff) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retryCount
}

// Retry calls connect until it succeeds, the strategy gives up or ctx is
// done. It runs on the caller's goroutine. On success the strategy is reset.
func Retry(ctx context.Context, strategy Strategy, log logger.Logger, connect func(context.Context) error) error {
	log = logger.OrNull(log)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := connect(ctx)
		if err == nil {
			strategy.Reset()
			return nil
		}

		delay, shouldRetry := strategy.NextDelay()
		if !shouldRetry {
			log.WithError(err).Error("Maximum reconnection attempts reached")
			return errors.Join(ErrGaveUp, err)
		}

		log.WithError(err).WithField("retry_in", delay).Warn("Connection failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
