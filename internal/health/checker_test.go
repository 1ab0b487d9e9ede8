package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/playback/internal/logger"
)

type mockChecker struct {
	name    string
	err     error
	delay   time.Duration
	details map[string]interface{}
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

type detailedChecker struct {
	mockChecker
}

func (d *detailedChecker) Details() map[string]interface{} { return d.details }

func TestManager(t *testing.T) {
	t.Run("Register and RunChecks", func(t *testing.T) {
		manager := NewManager(logger.NewNullLogger())
		manager.Register(&mockChecker{name: "ok"})
		manager.Register(&mockChecker{name: "down", err: errors.New("down failed")})
		manager.Register(&mockChecker{name: "degraded", err: fmt.Errorf("%w: slow", ErrDegraded)})

		results := manager.RunChecks(context.Background())
		require.Len(t, results, 3)

		assert.Equal(t, StatusOK, results["ok"].Status)
		assert.Empty(t, results["ok"].Message)
		assert.Equal(t, StatusDown, results["down"].Status)
		assert.Contains(t, results["down"].Message, "down failed")
		assert.Equal(t, StatusDegraded, results["degraded"].Status)
		assert.Contains(t, results["degraded"].Message, "slow")
	})

	t.Run("Details", func(t *testing.T) {
		manager := NewManager(nil)
		manager.Register(&detailedChecker{mockChecker{name: "d", details: map[string]interface{}{"k": 1}}})

		results := manager.RunChecks(context.Background())
		assert.Equal(t, map[string]interface{}{"k": 1}, results["d"].Details)
	})

	t.Run("GetResults returns copies", func(t *testing.T) {
		manager := NewManager(nil)
		manager.Register(&mockChecker{name: "test"})
		manager.RunChecks(context.Background())

		results := manager.GetResults()
		require.Contains(t, results, "test")
		results["test"].Status = StatusDown
		assert.Equal(t, StatusOK, manager.GetResults()["test"].Status)
	})

	t.Run("Timeout", func(t *testing.T) {
		manager := NewManager(nil)
		manager.Register(&mockChecker{name: "slow", delay: time.Second})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		results := manager.RunChecks(ctx)

		assert.Equal(t, StatusDown, results["slow"].Status)
		assert.Equal(t, "Health check timed out", results["slow"].Message)
	})
}

func TestGetOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"no checks", nil, StatusDown},
		{"all ok", []Checker{&mockChecker{name: "a"}, &mockChecker{name: "b"}}, StatusOK},
		{"one degraded", []Checker{&mockChecker{name: "a"}, &mockChecker{name: "b", err: ErrDegraded}}, StatusDegraded},
		{"down wins", []Checker{&mockChecker{name: "a", err: ErrDegraded}, &mockChecker{name: "b", err: errors.New("x")}}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(nil)
			for _, c := range tt.checkers {
				manager.Register(c)
			}
			manager.RunChecks(context.Background())
			assert.Equal(t, tt.want, manager.GetOverallStatus())
		})
	}
}

func TestStartPeriodicChecks(t *testing.T) {
	manager := NewManager(nil)
	manager.Register(&mockChecker{name: "periodic"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		manager.StartPeriodicChecks(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(manager.GetResults()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic checks did not stop")
	}
}
