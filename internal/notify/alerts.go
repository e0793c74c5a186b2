package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// AlertBridge subscribes to the event bus and forwards selected events as
// formatted operator alerts.
type AlertBridge struct {
	bus      domain.EventBus
	notifier *Notifier
	events   []string
	logger   *slog.Logger
}

// NewAlertBridge creates an AlertBridge forwarding the given event types.
func NewAlertBridge(bus domain.EventBus, notifier *Notifier, events []string, logger *slog.Logger) *AlertBridge {
	return &AlertBridge{
		bus:      bus,
		notifier: notifier,
		events:   events,
		logger:   logger.With(slog.String("component", "alert_bridge")),
	}
}

// Run consumes events until ctx is cancelled. Notification failures are
// logged, never propagated; alerting must not affect the trading path.
func (b *AlertBridge) Run(ctx context.Context) error {
	ch, err := b.bus.Subscribe(ctx, b.events...)
	if err != nil {
		return fmt.Errorf("notify: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			title, message := formatEvent(ev)
			if err := b.notifier.Notify(ctx, ev.Type, title, message); err != nil {
				b.logger.WarnContext(ctx, "alert delivery failed",
					slog.String("event", ev.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// formatEvent renders an event as a short alert. Unknown types fall back to
// the raw payload.
func formatEvent(ev domain.Event) (title, message string) {
	switch ev.Type {
	case domain.EventHighValueAlert:
		return "High-value opportunity",
			fmt.Sprintf("%s: buy %v / sell %v, net spread %.3f%%, volume %.0f (%v)",
				ev.Symbol,
				ev.Payload["buy_venue"], ev.Payload["sell_venue"],
				asFloat(ev.Payload["net_spread_pct"]), asFloat(ev.Payload["max_volume"]),
				ev.Payload["quality"])
	case domain.EventExecutionResult:
		status := "completed"
		if ok, isBool := ev.Payload["success"].(bool); isBool && !ok {
			status = "FAILED"
		}
		return "Arbitrage execution " + status,
			fmt.Sprintf("plan %v: profit %.4f, fees %.4f",
				ev.Payload["plan_id"],
				asFloat(ev.Payload["realized_profit"]), asFloat(ev.Payload["total_fees"]))
	case domain.EventUnhedgedExposure:
		return "UNHEDGED EXPOSURE",
			fmt.Sprintf("plan %v: %v", ev.Payload["plan_id"], ev.Payload["warning"])
	case domain.EventVenueHealth:
		return "Venue health",
			fmt.Sprintf("%s: %v", ev.VenueID, ev.Payload["status"])
	default:
		return ev.Type, fmt.Sprintf("%v", ev.Payload)
	}
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
