package venue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// CrossVenuePortfolio aggregates balances from all active venues with
// settle-all semantics and computes total value, per-asset allocation and
// simple concentration/venue risk scores. Results are cached for
// PortfolioTTL unless forceRefresh is set.
func (r *Registry) CrossVenuePortfolio(ctx context.Context, forceRefresh bool) (domain.Portfolio, error) {
	if !forceRefresh {
		r.pfMu.RLock()
		if r.portfolio != nil && time.Since(r.portfolio.RefreshedAt) < r.cfg.PortfolioTTL {
			p := *r.portfolio
			r.pfMu.RUnlock()
			return p, nil
		}
		r.pfMu.RUnlock()
	}

	regs := r.activeRegistrations()
	balances := make([][]domain.Balance, len(regs))
	errs := make([]error, len(regs))

	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(i int, reg *domain.VenueRegistration) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
			defer cancel()
			bals, err := reg.Connector.Balances(callCtx)
			if err != nil {
				errs[i] = &domain.DataError{VenueID: reg.VenueID, Err: err}
				return
			}
			balances[i] = bals
		}(i, reg)
	}
	wg.Wait()

	type assetAgg struct {
		total  float64
		usd    float64
		venues map[string]bool
	}
	assets := make(map[string]*assetAgg)
	venueValues := make(map[string]float64)

	for i, reg := range regs {
		if errs[i] != nil {
			r.logger.WarnContext(ctx, "balance request failed",
				slog.String("venue", reg.VenueID),
				slog.String("error", errs[i].Error()),
			)
			_ = r.bus.Publish(ctx, domain.Event{
				Type:    domain.EventDataError,
				VenueID: reg.VenueID,
				Payload: map[string]any{"error": errs[i].Error(), "kind": "balances"},
				At:      time.Now().UTC(),
			})
			continue
		}
		for _, b := range balances[i] {
			agg, ok := assets[b.Asset]
			if !ok {
				agg = &assetAgg{venues: make(map[string]bool)}
				assets[b.Asset] = agg
			}
			agg.total += b.Total
			agg.usd += b.USDValue
			agg.venues[reg.VenueID] = true
			venueValues[reg.VenueID] += b.USDValue
		}
	}

	var total float64
	for _, agg := range assets {
		total += agg.usd
	}

	pf := domain.Portfolio{
		VenueValues: venueValues,
		RefreshedAt: time.Now().UTC(),
	}
	pf.TotalValueUSD = total

	for asset, agg := range assets {
		alloc := domain.AssetAllocation{
			Asset:      asset,
			Total:      agg.total,
			USDValue:   agg.usd,
			VenueCount: len(agg.venues),
		}
		if total > 0 {
			alloc.Percent = agg.usd / total * 100
		}
		pf.Allocations = append(pf.Allocations, alloc)
	}
	sort.Slice(pf.Allocations, func(i, j int) bool {
		return pf.Allocations[i].USDValue > pf.Allocations[j].USDValue
	})

	if total > 0 {
		if len(pf.Allocations) > 0 {
			pf.ConcentrationRisk = pf.Allocations[0].USDValue / total
		}
		var maxVenue float64
		for _, v := range venueValues {
			if v > maxVenue {
				maxVenue = v
			}
		}
		pf.VenueRisk = maxVenue / total
	}

	r.pfMu.Lock()
	snapshot := pf
	r.portfolio = &snapshot
	r.pfMu.Unlock()

	return pf, nil
}
