package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbx/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender records deliveries and can be made to fail.
type fakeSender struct {
	mu   sync.Mutex
	name string
	fail bool
	sent []string
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	if s.fail {
		return fmt.Errorf("delivery refused")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, title+": "+message)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{domain.EventUnhedgedExposure}, testLogger())

	require.NoError(t, n.Notify(context.Background(), domain.EventOpportunities, "skip", "skipped"))
	assert.Empty(t, sender.sent)

	require.NoError(t, n.Notify(context.Background(), domain.EventUnhedgedExposure, "alert", "body"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "alert: body", sender.sent[0])

	// NotifyAll bypasses the filter.
	require.NoError(t, n.NotifyAll(context.Background(), "direct", "body"))
	assert.Len(t, sender.sent, 2)
}

func TestNotifyEmptyFilterAllowsEverything(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), domain.EventPerformance, "t", "m"))
	assert.Len(t, sender.sent, 1)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &fakeSender{name: "telegram", fail: true}
	working := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{broken, working}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
	assert.Len(t, working.sent, 1, "healthy sender still delivers")
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	require.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
}

func TestFormatEvent(t *testing.T) {
	now := time.Now().UTC()

	title, msg := formatEvent(domain.Event{
		Type:   domain.EventHighValueAlert,
		Symbol: "BTC/USDT",
		Payload: map[string]any{
			"buy_venue":      "alpha",
			"sell_venue":     "beta",
			"net_spread_pct": 1.25,
			"max_volume":     1500.0,
			"quality":        "excellent",
		},
		At: now,
	})
	assert.Equal(t, "High-value opportunity", title)
	assert.Contains(t, msg, "BTC/USDT")
	assert.Contains(t, msg, "alpha")
	assert.Contains(t, msg, "1.250%")

	title, msg = formatEvent(domain.Event{
		Type: domain.EventExecutionResult,
		Payload: map[string]any{
			"plan_id":         "plan-1",
			"success":         false,
			"realized_profit": -1.5,
			"total_fees":      0.4,
		},
		At: now,
	})
	assert.Equal(t, "Arbitrage execution FAILED", title)
	assert.Contains(t, msg, "plan-1")

	title, msg = formatEvent(domain.Event{
		Type: domain.EventUnhedgedExposure,
		Payload: map[string]any{
			"plan_id": "plan-2",
			"warning": "one-sided fill",
		},
		At: now,
	})
	assert.Equal(t, "UNHEDGED EXPOSURE", title)
	assert.Contains(t, msg, "one-sided fill")

	title, _ = formatEvent(domain.Event{Type: "something_else", At: now})
	assert.Equal(t, "something_else", title)
}
