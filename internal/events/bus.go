// Package events provides the in-process implementation of domain.EventBus.
// It is the default bus; the redis-backed bus in internal/cache/redis serves
// multi-process deployments.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/arbx/internal/domain"
)

const subscriberBuffer = 256

type subscriber struct {
	ch    chan domain.Event
	types map[string]bool // empty = all types
}

// Bus fans events out to subscribers over buffered channels. Publish never
// blocks: when a subscriber's buffer is full the event is dropped for that
// subscriber and counted.
type Bus struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	dropped int64
	logger  *slog.Logger
}

// NewBus creates an empty in-process event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[*subscriber]struct{}),
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Publish delivers ev to every subscriber whose type filter matches.
func (b *Bus) Publish(_ context.Context, ev domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		if len(s.types) > 0 && !s.types[ev.Type] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped++
			if b.dropped%100 == 1 {
				b.logger.Warn("slow subscriber, dropping events",
					slog.String("event_type", ev.Type),
					slog.Int64("total_dropped", b.dropped),
				)
			}
		}
	}
	return nil
}

// Subscribe returns a channel of events filtered to the given types (all
// types when none are given). The subscription ends and the channel closes
// when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, types ...string) (<-chan domain.Event, error) {
	s := &subscriber{
		ch:    make(chan domain.Event, subscriberBuffer),
		types: make(map[string]bool, len(types)),
	}
	for _, t := range types {
		s.types[t] = true
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}()

	return s.ch, nil
}

// Dropped returns how many events were discarded due to full subscriber
// buffers.
func (b *Bus) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

var _ domain.EventBus = (*Bus)(nil)
