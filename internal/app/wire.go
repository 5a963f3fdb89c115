package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/signaldeck/signaldeck/internal/blob/s3"
	cacheredis "github.com/signaldeck/signaldeck/internal/cache/redis"
	"github.com/signaldeck/signaldeck/internal/config"
	"github.com/signaldeck/signaldeck/internal/domain"
	"github.com/signaldeck/signaldeck/internal/entitlement"
	"github.com/signaldeck/signaldeck/internal/fetcher"
	"github.com/signaldeck/signaldeck/internal/notify"
	"github.com/signaldeck/signaldeck/internal/pubsub"
	"github.com/signaldeck/signaldeck/internal/store/memory"
	"github.com/signaldeck/signaldeck/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store    domain.DataStore
	Profiles domain.ProfileStore
	Feed     domain.ChangeFeed // nil in mock mode
	Bus      domain.SignalBus

	PriceCache fetcher.PriceCache // nil in mock mode
	S3         *s3blob.Client     // nil unless a journal bucket is configured
	Alerter    *notify.Alerter
	Verifier   *entitlement.SessionVerifier
}

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them with a cleanup function to be called on
// shutdown.
//
// When datastore credentials are absent the service runs in mock mode: an
// in-memory store with demo data and an in-process bus, no Postgres and no
// Redis. This keeps local development and CI runnable with zero
// infrastructure, at the cost of state that vanishes on restart.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	if cfg.MockDatastore() {
		logger.Warn("no datastore credentials configured, running in MOCK MODE: " +
			"in-memory store and bus, nothing is persisted")

		mem := memory.NewStore()
		seedDemoData(mem)
		deps.Store = mem
		deps.Profiles = mem
		deps.Bus = pubsub.NewMemoryBus()
	} else {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Datastore.DSN,
			Host:     cfg.Datastore.Host,
			Port:     cfg.Datastore.Port,
			Database: cfg.Datastore.Database,
			User:     cfg.Datastore.User,
			Password: cfg.Datastore.Password,
			SSLMode:  cfg.Datastore.SSLMode,
			MaxConns: cfg.Datastore.PoolMaxConns,
			MinConns: cfg.Datastore.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Datastore.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		store := postgres.NewStore(pgClient.Pool())
		deps.Store = store
		deps.Profiles = store
		deps.Feed = postgres.NewChangeFeed(pgClient, logger)

		bus, err := pubsub.NewBus(ctx, pubsub.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis bus: %w", err)
		}
		closers = append(closers, func() { _ = bus.Close() })
		deps.Bus = bus

		cacheClient, err := cacheredis.New(ctx, cacheredis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis cache: %w", err)
		}
		closers = append(closers, func() { _ = cacheClient.Close() })
		deps.PriceCache = cacheredis.NewPriceCache(cacheClient)
	}

	if cfg.Journal.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Journal.Endpoint,
			Region:         cfg.Journal.Region,
			Bucket:         cfg.Journal.Bucket,
			AccessKey:      cfg.Journal.AccessKey,
			SecretKey:      cfg.Journal.SecretKey,
			ForcePathStyle: cfg.Journal.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Alerter = notify.NewAlerter(senders, 0, logger)

	deps.Verifier = entitlement.NewSessionVerifier(cfg.Auth.SessionSecret)

	return deps, cleanup, nil
}

// seedDemoData populates the mock store so the dashboard has something to
// render out of the box.
func seedDemoData(mem *memory.Store) {
	tp := func(v float64) *float64 { return &v }

	mem.SetBalance(10000)
	mem.SeedPosition(domain.Position{
		ID:         1,
		Symbol:     "BTC",
		EntryPrice: 64200,
		Quantity:   0.25,
		Status:     domain.PositionStatusOpen,
		Leverage:   10,
		TakeProfit: tp(72000),
	})
	mem.SeedPosition(domain.Position{
		ID:         2,
		Symbol:     "ETH",
		EntryPrice: 3350,
		Quantity:   -2,
		Status:     domain.PositionStatusOpen,
		Leverage:   5,
		TakeProfit: tp(2900),
	})
	mem.SeedProfile(domain.Profile{
		UserID:            "demo-vip",
		DisplayName:       "Demo VIP",
		SubscriptionLevel: domain.SubscriptionVIP,
	})
}
