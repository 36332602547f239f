package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"strategy-monitor/config"
	"strategy-monitor/internal/api"
	"strategy-monitor/internal/cache"
	"strategy-monitor/internal/evaluator"
	"strategy-monitor/internal/logging"
	"strategy-monitor/internal/logic"
	"strategy-monitor/internal/prefetch"
	"strategy-monitor/internal/providers"
	"strategy-monitor/internal/scheduler"
	"strategy-monitor/internal/store"
	"strategy-monitor/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	rootLog := logging.Init(logging.Config{
		Level:       cfg.Logging.Level,
		Output:      os.Stdout,
		JSONFormat:  cfg.Logging.JSONFormat,
		IncludeFile: cfg.Logging.IncludeFile,
	})
	log.Logger = rootLog
	rootLog.Info().Msg("strategy monitor starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := buildEngine(ctx, cfg, rootLog)
	if err != nil {
		rootLog.Fatal().Err(err).Msg("failed to build engine")
	}
	defer engine.Close()

	if cfg.EnableScheduler {
		engine.Scheduler.Start(ctx)
		rootLog.Info().Dur("period", cfg.SchedulerPeriodDuration()).Msg("scheduler started")
	} else {
		rootLog.Info().Msg("scheduler disabled, engine boots idle (control plane only)")
	}

	go func() {
		if err := engine.API.Start(); err != nil {
			rootLog.Error().Err(err).Msg("control plane stopped")
		}
	}()

	<-ctx.Done()
	rootLog.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.API.Shutdown(shutdownCtx); err != nil {
		rootLog.Error().Err(err).Msg("control plane shutdown error")
	}

	engine.Scheduler.Stop()
	rootLog.Info().Msg("strategy monitor stopped")
}

// Engine owns every process-wide dependency this binary wires together:
// Store, Cache, provider chain, Prefetcher, Scheduler and control plane.
// It exists so main owns init/teardown explicitly instead of the base
// repo's package-level singletons.
type Engine struct {
	Store      *store.Store
	Cache      *cache.RedisCache
	Vault      *vault.Client
	Prefetcher *prefetch.Prefetcher
	Scheduler  *scheduler.Scheduler
	API        *api.Server
}

func (e *Engine) Close() {
	if e.Store != nil {
		e.Store.Close()
	}
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, rootLog zerolog.Logger) (*Engine, error) {
	st, err := store.New(ctx, store.Config{URL: cfg.StoreURL}, rootLog)
	if err != nil {
		return nil, fmt.Errorf("connecting to strategy store: %w", err)
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("running store migrations: %w", err)
	}

	redisCache, err := cache.NewRedisCache(cache.Config{URL: cfg.CacheURL}, rootLog)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connecting to cache: %w", err)
	}

	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initialising vault client: %w", err)
	}

	providerChain := buildProviderChain(ctx, cfg, vaultClient, rootLog)

	pf := prefetch.New(redisCache, providerChain, prefetch.Config{
		PriceTTL:  time.Duration(cfg.PriceTTL) * time.Second,
		CandleTTL: time.Duration(cfg.CandleTTL) * time.Second,
	})

	newEval := func() logic.ConditionEvaluator {
		return evaluator.New(pf.NewCycle())
	}

	sched := scheduler.New(st, newEval, scheduler.Config{
		Period:       cfg.SchedulerPeriodDuration(),
		DefaultQuote: cfg.DefaultQuote,
	}, rootLog)

	apiServer := api.New(api.Config{
		Addr:   cfg.HTTPAddr,
		APIKey: cfg.MonitoringAPIKey,
	}, st, redisCache, schedulerMetricsAdapter{sched}, newEval, rootLog)

	return &Engine{
		Store:      st,
		Cache:      redisCache,
		Vault:      vaultClient,
		Prefetcher: pf,
		Scheduler:  sched,
		API:        apiServer,
	}, nil
}

// buildProviderChain wires the ordered provider list from configuration,
// wrapping each in an availability breaker so a dead upstream does not
// eat the whole fallback-chain timeout on every prefetch miss, and
// attaching any vault-stored credentials the provider supports.
func buildProviderChain(ctx context.Context, cfg *config.Config, vaultClient *vault.Client, rootLog zerolog.Logger) []providers.Provider {
	names := strings.Split(cfg.ProviderOrder, ",")
	chain := make([]providers.Provider, 0, len(names))

	for _, name := range names {
		name = strings.TrimSpace(strings.ToLower(name))
		switch name {
		case "binance":
			bp := providers.NewBinanceProvider(rootLog)
			if creds, err := vaultClient.GetProviderCredentials(ctx, "binance"); err == nil && creds != nil && creds.APIKey != "" {
				bp.WithAPIKey(creds.APIKey)
			}
			chain = append(chain, providers.NewBreaker(bp, providers.DefaultBreakerConfig(), rootLog))
		case "coingecko":
			chain = append(chain, providers.NewBreaker(providers.NewCoinGeckoProvider(rootLog), providers.DefaultBreakerConfig(), rootLog))
		case "":
			continue
		default:
			rootLog.Warn().Str("provider", name).Msg("unrecognised provider in PROVIDER_ORDER, skipping")
		}
	}
	return chain
}

// schedulerMetricsAdapter adapts scheduler.Scheduler's Metrics shape onto
// api.MetricsSource's, since the two packages intentionally do not share
// a type (the control plane's contract with the scheduler is read-only
// and shouldn't force a shared dependency between them).
type schedulerMetricsAdapter struct {
	s *scheduler.Scheduler
}

func (a schedulerMetricsAdapter) Snapshot() api.Metrics {
	m := a.s.Snapshot()
	return api.Metrics{
		CyclesRun:     m.CyclesRun,
		StrategiesDue: m.StrategiesDue,
		TriggersFired: m.TriggersFired,
		LastCycleAt:   m.LastCycleAt,
	}
}
