package venue

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbx/internal/domain"
	"github.com/alanyoungcy/arbx/internal/events"
	"github.com/alanyoungcy/arbx/internal/venue/sim"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxVenues:           10,
		HealthCheckInterval: 30 * time.Second,
		PortfolioTTL:        15 * time.Second,
		RequestTimeout:      time.Second,
		CacheTTL:            time.Minute,
	}
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) (*Registry, *events.Bus) {
	t.Helper()
	logger := testLogger()
	bus := events.NewBus(logger)
	return NewRegistry(cfg, bus, nil, logger), bus
}

func simVenue(id string, quotes map[string]sim.Quote) *sim.Connector {
	return sim.New(sim.Config{VenueID: id, FeeBps: 10, Quotes: quotes})
}

func btcQuote(bid, ask float64) map[string]sim.Quote {
	return map[string]sim.Quote{
		"BTC/USDT": {Bid: bid, Ask: ask, BidDepth: 2000, AskDepth: 2000},
	}
}

func waitEvent(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())
	ctx := context.Background()

	conn := simVenue("alpha", btcQuote(99.9, 100))
	require.NoError(t, r.Register(ctx, "alpha", conn, domain.VenueConfig{Name: "Alpha", TakerFeeBps: 10}))
	assert.Equal(t, domain.VenueConnected, conn.Status())

	err := r.Register(ctx, "alpha", simVenue("alpha", nil), domain.VenueConfig{})
	require.ErrorIs(t, err, domain.ErrDuplicateVenue)

	cfg, ok := r.VenueConfig("alpha")
	require.True(t, ok)
	assert.Equal(t, "Alpha", cfg.Name)
	assert.Equal(t, []string{"alpha"}, r.ActiveVenueIDs())

	pool := r.Pool()
	assert.Equal(t, 1, pool.TotalVenues)
	assert.Equal(t, 1, pool.ActiveVenues)

	require.NoError(t, r.Unregister(ctx, "alpha"))
	assert.Equal(t, domain.VenueDisconnected, conn.Status())
	assert.Empty(t, r.ActiveVenueIDs())

	err = r.Unregister(ctx, "alpha")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegisterCapacity(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.MaxVenues = 1
	r, _ := newTestRegistry(t, cfg)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alpha", simVenue("alpha", nil), domain.VenueConfig{}))

	err := r.Register(ctx, "beta", simVenue("beta", nil), domain.VenueConfig{})
	var capErr *domain.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "venues", capErr.Resource)
}

// gateConnector blocks Initialize until its gate closes, pinning concurrent
// Register calls between the capacity pre-check and the insert.
type gateConnector struct {
	gate chan struct{}
}

func (g *gateConnector) Initialize(ctx context.Context) error {
	select {
	case <-g.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
func (g *gateConnector) Cleanup(context.Context) error { return nil }
func (g *gateConnector) Status() domain.VenueStatus    { return domain.VenueConnected }
func (g *gateConnector) Health(context.Context) (domain.VenueHealth, error) {
	return domain.VenueHealth{Status: domain.VenueConnected}, nil
}
func (g *gateConnector) MarketData(context.Context, string) (domain.MarketData, error) {
	return domain.MarketData{}, domain.ErrNotFound
}
func (g *gateConnector) OrderBook(context.Context, string, int) (domain.OrderBook, error) {
	return domain.OrderBook{}, domain.ErrNotFound
}
func (g *gateConnector) PlaceOrder(context.Context, domain.Order) (domain.OrderResult, error) {
	return domain.OrderResult{}, domain.ErrDisabled
}
func (g *gateConnector) Balances(context.Context) ([]domain.Balance, error) { return nil, nil }
func (g *gateConnector) Subscribe(func(domain.VenueEvent))                  {}

func TestRegisterCapacityConcurrent(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.MaxVenues = 1
	r, _ := newTestRegistry(t, cfg)

	gate := make(chan struct{})
	errs := make(chan error, 2)
	for _, id := range []string{"one", "two"} {
		id := id
		go func() {
			errs <- r.Register(context.Background(), id, &gateConnector{gate: gate}, domain.VenueConfig{})
		}()
	}
	// Let both calls clear the pre-check and park in Initialize.
	time.Sleep(50 * time.Millisecond)
	close(gate)

	failures := 0
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			var capErr *domain.CapacityError
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, "venues", capErr.Resource)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one registration must lose the last slot")
	assert.Equal(t, 1, r.Pool().TotalVenues)
}

func TestAggregatedMarketDataSettleAll(t *testing.T) {
	r, bus := newTestRegistry(t, testRegistryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.EventDataError)
	require.NoError(t, err)

	require.NoError(t, r.Register(ctx, "alpha", simVenue("alpha", btcQuote(99.9, 100)), domain.VenueConfig{}))
	// beta has no quote for the symbol and will fail the request.
	require.NoError(t, r.Register(ctx, "beta", simVenue("beta", nil), domain.VenueConfig{}))

	data, err := r.AggregatedMarketData(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, data, 1, "failing venue is excluded, not fatal")

	md := data["alpha"]
	assert.Equal(t, "alpha", md.VenueID)
	assert.Equal(t, 100.0, md.Ask)
	assert.Equal(t, domain.QualityRealtime, md.Quality)

	ev := waitEvent(t, ch)
	assert.Equal(t, domain.EventDataError, ev.Type)
	assert.Equal(t, "beta", ev.VenueID)
	assert.Equal(t, "BTC/USDT", ev.Symbol)
}

func TestAggregatedMarketDataCached(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())
	ctx := context.Background()

	conn := simVenue("alpha", btcQuote(99.9, 100))
	require.NoError(t, r.Register(ctx, "alpha", conn, domain.VenueConfig{}))

	first, err := r.AggregatedMarketData(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Equal(t, 100.0, first["alpha"].Ask)

	// The market moves, but within the TTL the cached snapshot is served.
	conn.SetQuote("BTC/USDT", sim.Quote{Bid: 105, Ask: 106, BidDepth: 2000, AskDepth: 2000})
	second, err := r.AggregatedMarketData(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, second["alpha"].Ask)
}

func TestMarkStaleIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alpha", simVenue("alpha", btcQuote(99.9, 100)), domain.VenueConfig{}))
	require.NoError(t, r.Register(ctx, "beta", simVenue("beta", btcQuote(100.1, 100.2)), domain.VenueConfig{}))

	_, err := r.AggregatedMarketData(ctx, "BTC/USDT")
	require.NoError(t, err)

	assert.Equal(t, 2, r.MarkStale(0))
	assert.Equal(t, 0, r.MarkStale(0))

	data, err := r.AggregatedMarketData(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, domain.QualityStale, data["alpha"].Quality)
}

func TestAggregatedOrderBook(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alpha", simVenue("alpha", btcQuote(99.9, 100)), domain.VenueConfig{}))

	books, err := r.AggregatedOrderBook(ctx, "BTC/USDT", 3)
	require.NoError(t, err)
	require.Len(t, books, 1)

	book := books["alpha"]
	require.Len(t, book.Bids, 3)
	require.Len(t, book.Asks, 3)
	assert.Equal(t, 99.9, book.BestBid())
	assert.Equal(t, 100.0, book.BestAsk())
}

func TestExecuteOrderBestPrice(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alpha", simVenue("alpha", btcQuote(99.9, 100)), domain.VenueConfig{}))
	require.NoError(t, r.Register(ctx, "beta", simVenue("beta", btcQuote(99.95, 100.5)), domain.VenueConfig{}))

	res, err := r.ExecuteOrder(ctx, domain.Order{
		ID:       "ord-1",
		Symbol:   "BTC/USDT",
		Side:     domain.OrderSideBuy,
		Quantity: 5,
		Price:    100.5,
	}, BestPriceRouting{})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "alpha", res.VenueID, "lowest ask wins for a buy")
	assert.Equal(t, 100.0, res.ExecutionPrice)

	res, err = r.ExecuteOrder(ctx, domain.Order{
		ID:       "ord-2",
		Symbol:   "BTC/USDT",
		Side:     domain.OrderSideSell,
		Quantity: 5,
		Price:    99.5,
	}, BestPriceRouting{})
	require.NoError(t, err)
	assert.Equal(t, "beta", res.VenueID, "highest bid wins for a sell")
	assert.Equal(t, 99.95, res.ExecutionPrice)
}

func TestSmartRoutingPrefersReliableVenue(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alpha", simVenue("alpha", btcQuote(99.9, 100)),
		domain.VenueConfig{Reliability: 0.99}))
	require.NoError(t, r.Register(ctx, "beta", simVenue("beta", btcQuote(99.95, 99.9)),
		domain.VenueConfig{Reliability: 0.2}))

	// beta quotes a marginally better ask but is far less dependable.
	venueID, err := SmartRouting{}.SelectVenue(ctx, r, domain.Order{
		Symbol: "BTC/USDT",
		Side:   domain.OrderSideBuy,
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", venueID)
}

func TestSubmitOrderUsesConfiguredRouting(t *testing.T) {
	cfg := testRegistryConfig()
	cfg.Routing = "fixed"
	cfg.FixedVenue = "beta"
	r, _ := newTestRegistry(t, cfg)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alpha", simVenue("alpha", btcQuote(99.9, 100)), domain.VenueConfig{}))
	require.NoError(t, r.Register(ctx, "beta", simVenue("beta", btcQuote(99.95, 100.5)), domain.VenueConfig{}))

	// Fixed routing sends the order to beta even though alpha quotes the
	// better ask.
	res, err := r.SubmitOrder(ctx, domain.Order{
		ID:       "ord-manual",
		Symbol:   "BTC/USDT",
		Side:     domain.OrderSideBuy,
		Quantity: 5,
		Price:    101,
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "beta", res.VenueID)
	assert.Equal(t, 100.5, res.ExecutionPrice)
}

func TestFixedRouting(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alpha", simVenue("alpha", btcQuote(99.9, 100)), domain.VenueConfig{}))

	venueID, err := FixedRouting{VenueID: "alpha"}.SelectVenue(ctx, r, domain.Order{})
	require.NoError(t, err)
	assert.Equal(t, "alpha", venueID)

	_, err = FixedRouting{VenueID: "ghost"}.SelectVenue(ctx, r, domain.Order{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNewRoutingStrategy(t *testing.T) {
	s, err := NewRoutingStrategy("best_price", "")
	require.NoError(t, err)
	assert.Equal(t, "best_price", s.Name())

	s, err = NewRoutingStrategy("smart", "")
	require.NoError(t, err)
	assert.Equal(t, "smart", s.Name())

	s, err = NewRoutingStrategy("fixed", "alpha")
	require.NoError(t, err)
	assert.Equal(t, "fixed", s.Name())

	_, err = NewRoutingStrategy("fixed", "")
	require.Error(t, err)

	_, err = NewRoutingStrategy("roulette", "")
	require.Error(t, err)
}

func TestPlaceLegRequiresVenue(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "alpha", simVenue("alpha", btcQuote(99.9, 100)), domain.VenueConfig{}))

	_, err := r.PlaceLeg(ctx, domain.Order{ID: "ord-1", Symbol: "BTC/USDT", Side: domain.OrderSideBuy, Quantity: 1})
	require.Error(t, err)

	res, err := r.PlaceLeg(ctx, domain.Order{
		ID:       "ord-2",
		Symbol:   "BTC/USDT",
		Side:     domain.OrderSideBuy,
		Quantity: 1,
		VenueID:  "alpha",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "alpha", res.VenueID)
}

func TestExecuteOrderUnknownVenue(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())

	_, err := r.ExecuteOrder(context.Background(), domain.Order{
		ID:      "ord-1",
		Symbol:  "BTC/USDT",
		Side:    domain.OrderSideBuy,
		VenueID: "ghost",
	}, BestPriceRouting{})
	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "ghost", execErr.VenueID)
}

func TestCrossVenuePortfolio(t *testing.T) {
	r, _ := newTestRegistry(t, testRegistryConfig())
	ctx := context.Background()

	alpha := sim.New(sim.Config{
		VenueID:  "alpha",
		Balances: map[string]float64{"USDT": 6000, "BTC": 1000},
	})
	beta := sim.New(sim.Config{
		VenueID:  "beta",
		Balances: map[string]float64{"USDT": 3000},
	})
	require.NoError(t, r.Register(ctx, "alpha", alpha, domain.VenueConfig{}))
	require.NoError(t, r.Register(ctx, "beta", beta, domain.VenueConfig{}))

	pf, err := r.CrossVenuePortfolio(ctx, false)
	require.NoError(t, err)

	assert.InDelta(t, 10_000, pf.TotalValueUSD, 1e-9)
	assert.InDelta(t, 7000, pf.VenueValues["alpha"], 1e-9)
	assert.InDelta(t, 3000, pf.VenueValues["beta"], 1e-9)

	byAsset := make(map[string]domain.AssetAllocation, len(pf.Allocations))
	for _, a := range pf.Allocations {
		byAsset[a.Asset] = a
	}
	require.Contains(t, byAsset, "USDT")
	assert.InDelta(t, 90, byAsset["USDT"].Percent, 1e-9)
	assert.Equal(t, 2, byAsset["USDT"].VenueCount)
	assert.InDelta(t, 9000, byAsset["USDT"].USDValue, 1e-9)

	// USDT dominates at 90% of total value.
	assert.InDelta(t, 0.9, pf.ConcentrationRisk, 1e-9)
	assert.InDelta(t, 0.7, pf.VenueRisk, 1e-9)

	// Cached result is reused until the TTL passes or a refresh is forced.
	again, err := r.CrossVenuePortfolio(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, pf.RefreshedAt, again.RefreshedAt)
}
