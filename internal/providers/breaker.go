package providers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the state of a per-provider availability breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes how many consecutive failures open a provider's
// breaker and how long it stays open before a probe is allowed through.
type BreakerConfig struct {
	MaxConsecutiveFailures int
	Cooldown               time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxConsecutiveFailures: 5, Cooldown: 30 * time.Second}
}

// Breaker wraps a Provider and stops calling it for Cooldown once it has
// failed MaxConsecutiveFailures times in a row, so a dead upstream does
// not eat the full fallback-chain timeout on every prefetch.
type Breaker struct {
	mu     sync.Mutex
	inner  Provider
	config BreakerConfig
	log    zerolog.Logger

	state    BreakerState
	failures int
	openedAt time.Time
}

func NewBreaker(inner Provider, config BreakerConfig, log zerolog.Logger) *Breaker {
	return &Breaker{
		inner:  inner,
		config: config,
		log:    log.With().Str("breaker_for", inner.Name()).Logger(),
		state:  BreakerClosed,
	}
}

func (b *Breaker) Name() string { return b.inner.Name() }

// allow reports whether a call should be attempted, transitioning an
// open breaker to half-open once its cooldown has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.config.Cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordResult(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != BreakerClosed {
			b.log.Info().Msg("provider breaker closing after successful probe")
		}
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.config.MaxConsecutiveFailures {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		b.log.Warn().Int("failures", b.failures).Msg("provider breaker opening")
	}
}

// State reports the breaker's current state, for metrics.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Price(ctx context.Context, symbol, quote string) (float64, bool, error) {
	if !b.allow() {
		return 0, false, nil
	}
	v, present, err := b.inner.Price(ctx, symbol, quote)
	b.recordResult(err)
	return v, present, err
}

func (b *Breaker) Candles(ctx context.Context, symbol, interval string, limit int, quote string) ([]Candle, bool, error) {
	if !b.allow() {
		return nil, false, nil
	}
	c, present, err := b.inner.Candles(ctx, symbol, interval, limit, quote)
	b.recordResult(err)
	return c, present, err
}

var _ Provider = (*Breaker)(nil)
