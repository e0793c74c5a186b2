package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbx/internal/domain"
)

// snapshotTTL bounds how long a mirrored quote survives without refresh.
// Anything older is useless for arbitrage anyway.
const snapshotTTL = 5 * time.Minute

// MarketMirror implements domain.MarketDataMirror, exposing the aggregator's
// latest per-venue snapshots to other processes.
//
// Key schema:
//
//	arbx:md:{venueID}:{symbol} - string value containing JSON MarketData
type MarketMirror struct {
	rdb *redis.Client
}

var _ domain.MarketDataMirror = (*MarketMirror)(nil)

// NewMarketMirror creates a MarketMirror backed by the given Client.
func NewMarketMirror(c *Client) *MarketMirror {
	return &MarketMirror{rdb: c.Underlying()}
}

func snapshotKey(venueID, symbol string) string {
	return "arbx:md:" + venueID + ":" + symbol
}

// SetSnapshot stores a market-data snapshot with the mirror TTL.
func (m *MarketMirror) SetSnapshot(ctx context.Context, md domain.MarketData) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s/%s: %w", md.VenueID, md.Symbol, err)
	}
	key := snapshotKey(md.VenueID, md.Symbol)
	if err := m.rdb.Set(ctx, key, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", key, err)
	}
	return nil
}

// GetSnapshot retrieves the latest mirrored snapshot for a venue and symbol.
// It returns domain.ErrNotFound when no snapshot exists.
func (m *MarketMirror) GetSnapshot(ctx context.Context, venueID, symbol string) (domain.MarketData, error) {
	data, err := m.rdb.Get(ctx, snapshotKey(venueID, symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketData{}, domain.ErrNotFound
		}
		return domain.MarketData{}, fmt.Errorf("redis: get snapshot %s/%s: %w", venueID, symbol, err)
	}

	var md domain.MarketData
	if err := json.Unmarshal(data, &md); err != nil {
		return domain.MarketData{}, fmt.Errorf("redis: unmarshal snapshot %s/%s: %w", venueID, symbol, err)
	}
	return md, nil
}
