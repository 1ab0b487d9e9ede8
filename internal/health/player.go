package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/playback/internal/player"
)

// StateProvider is the part of a playback session the checker reads.
type StateProvider interface {
	State() player.State
}

// PlayerChecker reports the health of a playback session. A playing
// session whose position has not moved for StallAfter is degraded.
type PlayerChecker struct {
	session    StateProvider
	stallAfter time.Duration
	now        func() time.Time

	mu        sync.Mutex
	last      player.State
	lastMoved time.Time
}

// NewPlayerChecker creates a checker for session.
func NewPlayerChecker(session StateProvider, stallAfter time.Duration) *PlayerChecker {
	return &PlayerChecker{
		session:    session,
		stallAfter: stallAfter,
		now:        time.Now,
	}
}

// Name implements Checker
func (c *PlayerChecker) Name() string { return "player" }

// Check implements Checker
func (c *PlayerChecker) Check(ctx context.Context) error {
	s := c.session.State()

	c.mu.Lock()
	now := c.now()
	if c.lastMoved.IsZero() || s.Position != c.last.Position || !s.Playing {
		c.lastMoved = now
	}
	stalled := now.Sub(c.lastMoved)
	c.last = s
	c.mu.Unlock()

	switch {
	case s.Closed:
		return errors.New("session closed")
	case s.Reconnecting:
		return fmt.Errorf("%w: reconnecting to source", ErrDegraded)
	case !s.Opened:
		return fmt.Errorf("%w: source not open", ErrDegraded)
	case s.Playing && !s.Completed && c.stallAfter > 0 && stalled >= c.stallAfter:
		return fmt.Errorf("%w: position stuck at %dms for %s", ErrDegraded, s.Position, stalled.Round(time.Millisecond))
	}
	return nil
}

// Details implements Detailer
func (c *PlayerChecker) Details() map[string]interface{} {
	c.mu.Lock()
	s := c.last
	c.mu.Unlock()
	return map[string]interface{}{
		"session_id":  s.SessionID,
		"url":         s.URL,
		"playing":     s.Playing,
		"paused":      s.Paused,
		"live":        s.Live,
		"completed":   s.Completed,
		"position_ms": s.Position,
		"duration_ms": s.Duration,
		"datarate":    s.Datarate,
	}
}
