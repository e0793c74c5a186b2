package venue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// AggregatedMarketData issues a market-data request to every active venue
// concurrently and returns a map of venue to snapshot containing only the
// venues that responded. A venue failure emits a data_error event and is
// folded into the settle-all result without aborting siblings. Results are
// cached and reused within CacheTTL.
func (r *Registry) AggregatedMarketData(ctx context.Context, symbol string) (map[string]domain.MarketData, error) {
	r.cacheMu.RLock()
	if entry, ok := r.mdCache[symbol]; ok && time.Since(entry.fetchedAt) < r.cfg.CacheTTL {
		out := cloneMarketData(entry.data)
		r.cacheMu.RUnlock()
		return out, nil
	}
	r.cacheMu.RUnlock()

	regs := r.activeRegistrations()
	results := make([]domain.MarketData, len(regs))
	errs := make([]error, len(regs))

	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(i int, reg *domain.VenueRegistration) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
			defer cancel()
			md, err := reg.Connector.MarketData(callCtx, symbol)
			if err != nil {
				errs[i] = &domain.DataError{VenueID: reg.VenueID, Symbol: symbol, Err: err}
				return
			}
			md.VenueID = reg.VenueID
			md.Symbol = symbol
			results[i] = md
		}(i, reg)
	}
	wg.Wait()

	out := make(map[string]domain.MarketData, len(regs))
	for i, reg := range regs {
		if errs[i] != nil {
			r.logger.WarnContext(ctx, "market data request failed",
				slog.String("venue", reg.VenueID),
				slog.String("symbol", symbol),
				slog.String("error", errs[i].Error()),
			)
			_ = r.bus.Publish(ctx, domain.Event{
				Type:    domain.EventDataError,
				VenueID: reg.VenueID,
				Symbol:  symbol,
				Payload: map[string]any{"error": errs[i].Error()},
				At:      time.Now().UTC(),
			})
			continue
		}
		out[reg.VenueID] = results[i]
		if r.mirror != nil {
			// Best effort; the mirror is a convenience for other processes.
			_ = r.mirror.SetSnapshot(ctx, results[i])
		}
	}

	r.cacheMu.Lock()
	r.mdCache[symbol] = &marketDataEntry{data: cloneMarketData(out), fetchedAt: time.Now().UTC()}
	r.cacheMu.Unlock()

	return out, nil
}

// AggregatedOrderBook fans an order-book request out to every active venue
// with the same settle-all semantics as AggregatedMarketData.
func (r *Registry) AggregatedOrderBook(ctx context.Context, symbol string, depth int) (map[string]domain.OrderBook, error) {
	r.cacheMu.RLock()
	if entry, ok := r.bookCache[symbol]; ok && entry.depth >= depth && time.Since(entry.fetchedAt) < r.cfg.CacheTTL {
		out := make(map[string]domain.OrderBook, len(entry.books))
		for k, v := range entry.books {
			out[k] = v
		}
		r.cacheMu.RUnlock()
		return out, nil
	}
	r.cacheMu.RUnlock()

	regs := r.activeRegistrations()
	results := make([]domain.OrderBook, len(regs))
	errs := make([]error, len(regs))

	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(i int, reg *domain.VenueRegistration) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
			defer cancel()
			book, err := reg.Connector.OrderBook(callCtx, symbol, depth)
			if err != nil {
				errs[i] = &domain.DataError{VenueID: reg.VenueID, Symbol: symbol, Err: err}
				return
			}
			book.VenueID = reg.VenueID
			book.Symbol = symbol
			results[i] = book
		}(i, reg)
	}
	wg.Wait()

	out := make(map[string]domain.OrderBook, len(regs))
	for i, reg := range regs {
		if errs[i] != nil {
			_ = r.bus.Publish(ctx, domain.Event{
				Type:    domain.EventDataError,
				VenueID: reg.VenueID,
				Symbol:  symbol,
				Payload: map[string]any{"error": errs[i].Error(), "kind": "order_book"},
				At:      time.Now().UTC(),
			})
			continue
		}
		out[reg.VenueID] = results[i]
	}

	r.cacheMu.Lock()
	books := make(map[string]domain.OrderBook, len(out))
	for k, v := range out {
		books[k] = v
	}
	r.bookCache[symbol] = &orderBookEntry{books: books, depth: depth, fetchedAt: time.Now().UTC()}
	r.cacheMu.Unlock()

	return out, nil
}

// MarkStale tags cached market-data entries older than maxAge with stale
// quality and returns how many entries were newly tagged. Called by the
// cleanup loop; running it twice back-to-back tags nothing the second time.
func (r *Registry) MarkStale(maxAge time.Duration) int {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	tagged := 0
	cutoff := time.Now().UTC().Add(-maxAge)
	for _, entry := range r.mdCache {
		if entry.fetchedAt.After(cutoff) {
			continue
		}
		for venueID, md := range entry.data {
			if md.Quality != domain.QualityStale {
				md.Quality = domain.QualityStale
				entry.data[venueID] = md
				tagged++
			}
		}
	}
	return tagged
}

func cloneMarketData(in map[string]domain.MarketData) map[string]domain.MarketData {
	out := make(map[string]domain.MarketData, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
