package fetcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/signaldeck/signaldeck/internal/domain"
)

const (
	defaultInterval = 15 * time.Second
	defaultCacheTTL = 90 * time.Second
)

// TickSink receives fetched marks. The reconciler satisfies it.
type TickSink interface {
	ApplyTick(symbol string, price float64)
	ActivePositions() []domain.Position
}

// PriceCache is a warm store for the last good fetch, consulted when every
// source is down. A nil cache disables the fallback.
type PriceCache interface {
	SetPrices(ctx context.Context, prices map[string]float64) error
	GetPrices(ctx context.Context, symbols []string, maxAge time.Duration) (map[string]float64, error)
}

// Fetcher periodically pulls marks for symbols with open positions, applies
// them to the sink, and republishes them on the price feed topic.
type Fetcher struct {
	client   *Client
	sink     TickSink
	bus      domain.SignalBus
	cache    PriceCache
	static   []string
	interval time.Duration
	cacheTTL time.Duration
	logger   *slog.Logger
}

// Config holds the fetch loop settings. Symbols are always fetched; the
// symbols of open positions are added on top.
type Config struct {
	Symbols  []string
	Interval time.Duration
	CacheTTL time.Duration
}

// New creates a Fetcher. bus and cache may be nil; republishing and the
// warm-cache fallback are then skipped.
func New(client *Client, sink TickSink, bus domain.SignalBus, cache PriceCache, cfg Config, logger *slog.Logger) *Fetcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Fetcher{
		client:   client,
		sink:     sink,
		bus:      bus,
		cache:    cache,
		static:   cfg.Symbols,
		interval: interval,
		cacheTTL: ttl,
		logger:   logger.With(slog.String("component", "fetcher")),
	}
}

// Run fetches once immediately and then on every interval tick until the
// context is cancelled.
func (f *Fetcher) Run(ctx context.Context) error {
	f.fetch(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.fetch(ctx)
		}
	}
}

func (f *Fetcher) fetch(ctx context.Context) {
	symbols := f.symbols()
	if len(symbols) == 0 {
		return
	}

	prices, err := f.client.FetchPrices(ctx, symbols)
	if err != nil {
		f.logger.Warn("price fetch failed",
			slog.Int("symbols", len(symbols)),
			slog.String("error", err.Error()))
		prices = f.fromCache(ctx, symbols)
		if len(prices) == 0 {
			return
		}
	} else if f.cache != nil {
		if err := f.cache.SetPrices(ctx, prices); err != nil {
			f.logger.Debug("price cache write failed", slog.String("error", err.Error()))
		}
	}

	for symbol, price := range prices {
		f.sink.ApplyTick(symbol, price)
		f.publish(ctx, symbol, price)
	}
}

// symbols collects the configured symbols plus the distinct symbols of open
// positions.
func (f *Fetcher) symbols() []string {
	open := f.sink.ActivePositions()
	seen := make(map[string]struct{}, len(f.static)+len(open))
	symbols := make([]string, 0, len(f.static)+len(open))
	add := func(s string) {
		s = strings.ToUpper(s)
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	for _, s := range f.static {
		add(s)
	}
	for _, p := range open {
		add(p.Symbol)
	}
	return symbols
}

func (f *Fetcher) fromCache(ctx context.Context, symbols []string) map[string]float64 {
	if f.cache == nil {
		return nil
	}
	prices, err := f.cache.GetPrices(ctx, symbols, f.cacheTTL)
	if err != nil {
		f.logger.Debug("price cache read failed", slog.String("error", err.Error()))
		return nil
	}
	if len(prices) > 0 {
		f.logger.Info("serving prices from cache", slog.Int("count", len(prices)))
	}
	return prices
}

func (f *Fetcher) publish(ctx context.Context, symbol string, price float64) {
	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.PriceTick{Symbol: symbol, Price: price})
	if err != nil {
		return
	}
	if err := f.bus.Publish(ctx, domain.TopicPriceFeed, payload); err != nil {
		f.logger.Debug("price publish failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
	}
}
