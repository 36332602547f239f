// Package prefetch implements the engine's single shared market-data
// front door: cache-first, coalesced across the whole evaluation cycle,
// falling back across an ordered provider chain on a miss.
package prefetch

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"strategy-monitor/internal/cache"
	"strategy-monitor/internal/evaluator"
	"strategy-monitor/internal/providers"
)

// Config tunes the Prefetcher's cache TTLs.
type Config struct {
	PriceTTL  time.Duration
	CandleTTL time.Duration
}

func DefaultConfig() Config {
	return Config{PriceTTL: 30 * time.Second, CandleTTL: 60 * time.Second}
}

// Prefetcher is shared by every strategy evaluation within one scheduler
// cycle. Callers should obtain a fresh Cycle per cycle via NewCycle so
// that repeated lookups for the same key within the cycle do not re-ask
// the Cache.
type Prefetcher struct {
	cache     cache.Cache
	providers []providers.Provider
	config    Config
	group     singleflight.Group
}

func New(c cache.Cache, providerChain []providers.Provider, config Config) *Prefetcher {
	return &Prefetcher{cache: c, providers: providerChain, config: config}
}

// Cycle is a per-evaluation-cycle memo layered over the shared
// Prefetcher, satisfying evaluator.Prefetcher.
type Cycle struct {
	p  *Prefetcher
	mu memoMap
}

type memoMap struct {
	prices  map[string]priceEntry
	candles map[string]candlesEntry
}

type priceEntry struct {
	value   float64
	present bool
}

type candlesEntry struct {
	candles []evaluator.Candle
	present bool
}

// NewCycle returns a fresh per-cycle memo over the shared Prefetcher.
func (p *Prefetcher) NewCycle() *Cycle {
	return &Cycle{
		p: p,
		mu: memoMap{
			prices:  make(map[string]priceEntry),
			candles: make(map[string]candlesEntry),
		},
	}
}

func (c *Cycle) GetPrice(ctx context.Context, asset, quote string) (float64, bool, error) {
	key := cache.PriceKey(asset)
	if entry, ok := c.mu.prices[key]; ok {
		return entry.value, entry.present, nil
	}

	value, present, err := c.p.fetchPrice(ctx, key, asset, quote)
	if err == nil {
		c.mu.prices[key] = priceEntry{value: value, present: present}
	}
	return value, present, err
}

func (c *Cycle) GetCandles(ctx context.Context, asset, interval string, limit int, quote string) ([]evaluator.Candle, bool, error) {
	key := cache.CandleKey(asset, interval, limit, quote)
	if entry, ok := c.mu.candles[key]; ok {
		return entry.candles, entry.present, nil
	}

	candles, present, err := c.p.fetchCandles(ctx, key, asset, interval, limit, quote)
	if err == nil {
		c.mu.candles[key] = candlesEntry{candles: candles, present: present}
	}
	return candles, present, err
}

var _ evaluator.Prefetcher = (*Cycle)(nil)

// fetchPrice resolves one price, coalescing concurrent callers in this
// cycle (and any other concurrently running cycle) onto a single
// upstream call per cache key.
func (p *Prefetcher) fetchPrice(ctx context.Context, key, asset, quote string) (float64, bool, error) {
	result, err, _ := p.group.Do(key, func() (interface{}, error) {
		if raw, hit, err := p.cache.Get(ctx, key); err == nil && hit {
			if v, perr := strconv.ParseFloat(raw, 64); perr == nil {
				return priceEntry{value: v, present: true}, nil
			}
			// Corrupt payload: fall through to refetch.
		}

		for _, prov := range p.providers {
			value, present, err := prov.Price(ctx, asset, quote)
			if err != nil || !present {
				continue
			}
			_ = p.cache.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), p.ttl(p.config.PriceTTL, DefaultConfig().PriceTTL))
			return priceEntry{value: value, present: true}, nil
		}
		return priceEntry{present: false}, nil
	})
	if err != nil {
		return 0, false, err
	}
	entry := result.(priceEntry)
	return entry.value, entry.present, nil
}

func (p *Prefetcher) fetchCandles(ctx context.Context, key, asset, interval string, limit int, quote string) ([]evaluator.Candle, bool, error) {
	result, err, _ := p.group.Do(key, func() (interface{}, error) {
		if raw, hit, err := p.cache.Get(ctx, key); err == nil && hit {
			var cached []cachedCandle
			if jerr := json.Unmarshal([]byte(raw), &cached); jerr == nil {
				return candlesEntry{candles: toEvaluatorCandles(cached), present: true}, nil
			}
			// Corrupt payload: fall through to refetch.
		}

		for _, prov := range p.providers {
			candles, present, err := prov.Candles(ctx, asset, interval, limit, quote)
			if err != nil || !present {
				continue
			}
			cacheable := fromProviderCandles(candles)
			raw, merr := json.Marshal(cacheable)
			if merr == nil {
				_ = p.cache.Set(ctx, key, string(raw), p.ttl(p.config.CandleTTL, DefaultConfig().CandleTTL))
			}
			return candlesEntry{candles: toEvaluatorCandles(cacheable), present: true}, nil
		}
		return candlesEntry{present: false}, nil
	})
	if err != nil {
		return nil, false, err
	}
	entry := result.(candlesEntry)
	return entry.candles, entry.present, nil
}

func (p *Prefetcher) ttl(configured, fallback time.Duration) time.Duration {
	if configured <= 0 {
		return fallback
	}
	return configured
}

// cachedCandle is the length-bounded serialised candle shape written to
// the Cache.
type cachedCandle struct {
	T      int64   `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

func fromProviderCandles(in []providers.Candle) []cachedCandle {
	out := make([]cachedCandle, len(in))
	for i, c := range in {
		out[i] = cachedCandle{T: c.OpenTime, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}
	return out
}

func toEvaluatorCandles(in []cachedCandle) []evaluator.Candle {
	out := make([]evaluator.Candle, len(in))
	for i, c := range in {
		out[i] = evaluator.Candle{T: c.T, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume}
	}
	return out
}

