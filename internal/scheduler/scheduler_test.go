package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockPasses counts pass invocations. block, when set, holds the automation
// pass until it is closed.
type mockPasses struct {
	mu         sync.Mutex
	automation int
	overdue    int
	block      chan struct{}
	err        error
}

func (m *mockPasses) RunAutomationPass(ctx context.Context) (int, error) {
	m.mu.Lock()
	m.automation++
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return 2, m.err
}

func (m *mockPasses) RunOverduePass(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overdue++
	return 1, nil
}

func (m *mockPasses) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.automation, m.overdue
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(&mockPasses{}, Config{}, nil)
	assert.Equal(t, DefaultAutomationInterval, s.cfg.AutomationInterval)
	assert.Equal(t, DefaultOverdueInterval, s.cfg.OverdueInterval)
}

func TestRunPassesDirectly(t *testing.T) {
	p := &mockPasses{}
	s := NewScheduler(p, Config{}, testLogger())
	ctx := context.Background()

	n, err := s.RunAutomation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.RunOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, o := p.counts()
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, o)
}

func TestRunAutomation_PropagatesErrors(t *testing.T) {
	p := &mockPasses{err: errors.New("one instance failed")}
	s := NewScheduler(p, Config{}, testLogger())

	n, err := s.RunAutomation(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 2, n, "processed count is still reported")
}

func TestRunAutomation_SkipsWhileInFlight(t *testing.T) {
	p := &mockPasses{block: make(chan struct{})}
	s := NewScheduler(p, Config{}, testLogger())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunAutomation(ctx)
	}()

	require.Eventually(t, func() bool {
		a, _ := p.counts()
		return a == 1
	}, time.Second, 5*time.Millisecond)

	n, err := s.RunAutomation(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "overlapping pass is skipped")

	// The overdue pass is independent.
	n, err = s.RunOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	close(p.block)
	<-done

	a, _ := p.counts()
	assert.Equal(t, 1, a)
}

func TestRun_CancelledContext(t *testing.T) {
	p := &mockPasses{}
	s := NewScheduler(p, Config{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunAutomation(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	a, _ := p.counts()
	assert.Equal(t, 0, a)
}

func TestStartStop(t *testing.T) {
	p := &mockPasses{}
	s := NewScheduler(p, Config{AutomationInterval: time.Second, OverdueInterval: time.Hour}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start fails")

	// The initial tick runs both passes right away; the cron entry repeats automation.
	require.Eventually(t, func() bool {
		a, o := p.counts()
		return a >= 2 && o >= 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")

	a, _ := p.counts()
	time.Sleep(1500 * time.Millisecond)
	after, _ := p.counts()
	assert.Equal(t, a, after, "no passes after stop")
}

func TestStop_CancelsBlockedPass(t *testing.T) {
	p := &mockPasses{block: make(chan struct{})}
	s := NewScheduler(p, Config{AutomationInterval: time.Hour, OverdueInterval: time.Hour}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		a, _ := p.counts()
		return a == 1
	}, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not cancel the blocked pass")
	}
}

func TestStart_RejectsNegativeInterval(t *testing.T) {
	s := NewScheduler(&mockPasses{}, Config{AutomationInterval: -time.Second}, testLogger())
	assert.Error(t, s.Start(context.Background()))
}
