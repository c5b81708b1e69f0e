package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rustyeddy/trailguard/config"
	"github.com/rustyeddy/trailguard/exchange"
	"github.com/rustyeddy/trailguard/exchange/bybit"
	"github.com/rustyeddy/trailguard/exchange/paper"
	"github.com/rustyeddy/trailguard/journal"
	"github.com/rustyeddy/trailguard/lock"
	"github.com/rustyeddy/trailguard/metrics"
	"github.com/rustyeddy/trailguard/risk"
	"github.com/rustyeddy/trailguard/state"
)

const lockTTL = 30 * time.Second

// app is everything a command needs, built from one config.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	client  exchange.Client
	paper   *paper.Exchange // nil unless exchange.name is paper
	store   state.Store
	journal journal.Journal
	metrics *metrics.Metrics
	engine  *risk.Engine
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}

	switch cfg.Exchange.Name {
	case "paper":
		px, err := newPaper(cfg.Paper, cfg.Exchange.Quote)
		if err != nil {
			return nil, err
		}
		a.client, a.paper = px, px
	default:
		a.client = newBybit(cfg.Exchange, logger)
	}

	store, err := state.Open(ctx, storeOptions(cfg.State, logger))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	a.store = store

	j, err := journal.Open(cfg.Journal.Type, cfg.Journal.Path)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	a.journal = j

	a.metrics = metrics.New()
	a.engine = risk.New(a.client, store, policyFrom(cfg), logger)
	a.engine.SetJournal(j)
	a.engine.SetRecorder(a.metrics)
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.journal.Close(), a.store.Close())
}

func policyFrom(cfg *config.Config) risk.Policy {
	r := cfg.Risk
	return risk.Policy{
		DefaultThreshold:    r.DefaultThreshold,
		DefaultProfitTarget: r.DefaultProfitTarget,
		BreathThreshold:     r.BreathThreshold,
		BreathStop:          r.BreathStop,
		ReentryCloseness:    r.ReentryCloseness,
		TrailingEnabled:     r.TrailingEnabled,
		ReentryEnabled:      r.ReentryEnabled,
		RearmOnCancel:       r.RearmOnCancel,
		Quote:               cfg.Exchange.Quote,
	}
}

func storeOptions(sc config.StateConfig, logger *slog.Logger) state.Options {
	return state.Options{
		Backend: sc.Backend,
		Dir:     sc.Dir,
		DBPath:  sc.DBPath,
		DSN:     sc.DSN,
		Redis: state.RedisOptions{
			Addr:       sc.Redis.Addr,
			Password:   sc.Redis.Password,
			DB:         sc.Redis.DB,
			TLSEnabled: sc.Redis.TLSEnabled,
			Prefix:     sc.Redis.Prefix,
		},
		Logger: logger,
	}
}

func newBybit(ec config.ExchangeConfig, logger *slog.Logger) *bybit.Client {
	base := ec.BaseURL
	if base == "" && ec.Testnet {
		base = bybit.TestnetURL
	}
	return bybit.New(bybit.Config{
		APIKey:     ec.APIKey,
		Secret:     ec.APISecret,
		BaseURL:    base,
		Category:   ec.Category,
		SettleCoin: ec.Quote,
		Timeout:    ec.RequestTimeout.Duration,
		Logger:     logger,
	})
}

func newPaper(pc config.PaperConfig, quote string) (*paper.Exchange, error) {
	px := paper.New(paper.Config{
		Mode:                    paper.Mode(pc.Mode),
		Currency:                quote,
		Balance:                 pc.Balance,
		MaintenanceMargin:       pc.MaintenanceMargin,
		CancelNeedsPositionSide: pc.CancelNeedsPositionSide,
	})
	for _, m := range pc.Markets {
		q := m.Quote
		if q == "" {
			q = quote
		}
		px.AddMarket(exchange.Market{
			Symbol:          m.Symbol,
			Base:            m.Base,
			Quote:           q,
			Settle:          q,
			AmountIncrement: m.AmountIncrement,
			PriceIncrement:  m.PriceIncrement,
			MinAmount:       m.MinAmount,
			Active:          true,
		})
	}
	for i, p := range pc.Positions {
		side, ok := exchange.ParseSide(p.Side)
		if !ok {
			return nil, fmt.Errorf("paper.positions[%d]: invalid side %q", i, p.Side)
		}
		if err := px.OpenPosition(p.Symbol, side, p.Contracts, p.Entry, p.Leverage); err != nil {
			return nil, fmt.Errorf("paper.positions[%d]: %w", i, err)
		}
	}
	return px, nil
}

// acquireLock takes the single-instance guard matching the state backend.
// Redis-backed state is guarded by a lease in the same Redis; everything
// else by a pid file next to the state.
func acquireLock(ctx context.Context, sc config.StateConfig) (lock.Lock, *lock.Redis, error) {
	if sc.Backend == state.BackendRedis {
		rdb, err := state.DialRedis(ctx, storeOptions(sc, nil).Redis)
		if err != nil {
			return nil, nil, err
		}
		l, err := lock.AcquireRedis(ctx, rdb, redisLockKey(sc.Redis.Prefix), lockTTL)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return closingLock{Lock: l, close: rdb.Close}, l, nil
	}
	l, err := lock.AcquireFile(lockPath(sc))
	return l, nil, err
}

func lockPath(sc config.StateConfig) string {
	switch sc.Backend {
	case state.BackendSQLite:
		return sc.DBPath + ".lock"
	case state.BackendFile, "":
		return filepath.Join(sc.Dir, "trailguard.lock")
	default:
		return "trailguard.lock"
	}
}

// redisLockKey sits outside the state prefix so state scans never see it.
func redisLockKey(prefix string) string {
	return "lock:" + prefix + "run"
}

type closingLock struct {
	lock.Lock
	close func() error
}

func (c closingLock) Release() error {
	return errors.Join(c.Lock.Release(), c.close())
}
