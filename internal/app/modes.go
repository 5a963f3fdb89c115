package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/signaldeck/signaldeck/internal/blob/s3"
	"github.com/signaldeck/signaldeck/internal/domain"
	"github.com/signaldeck/signaldeck/internal/entitlement"
	"github.com/signaldeck/signaldeck/internal/fetcher"
	"github.com/signaldeck/signaldeck/internal/lifecycle"
	"github.com/signaldeck/signaldeck/internal/pubsub"
	"github.com/signaldeck/signaldeck/internal/reconciler"
	"github.com/signaldeck/signaldeck/internal/server"
	"github.com/signaldeck/signaldeck/internal/server/handler"
	"github.com/signaldeck/signaldeck/internal/server/ws"
	"github.com/signaldeck/signaldeck/internal/stream"
)

// shutdownGrace bounds how long in-flight HTTP requests may run after the
// run context is cancelled.
const shutdownGrace = 10 * time.Second

// ServeMode runs the full backend: snapshot poller, change feed, bus
// multiplexer, market-data fetcher, WebSocket hub, HTTP API, and the
// closed-position journal. It blocks until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	scope := lifecycle.NewScope()
	defer scope.Close()

	rec := reconciler.New(a.logger)

	poller := reconciler.NewPoller(
		deps.Store, rec,
		a.cfg.Sync.SnapshotInterval.Duration,
		a.cfg.Sync.FetchTimeout.Duration,
		a.logger,
	)
	g.Go(func() error {
		return poller.Run(ctx)
	})

	if deps.Feed != nil {
		g.Go(func() error {
			return reconciler.Consume(ctx, deps.Feed, rec, a.logger)
		})
	}

	// Bus fan-in: position and price topics reconcile; VIP signals alert.
	mux := pubsub.NewMux(deps.Bus, a.logger)
	mux.Bind(domain.TopicPositions, rec.HandleTopic)
	mux.Bind(domain.TopicPriceFeed, rec.HandleTopic)
	mux.Bind(domain.TopicVIPSignals, deps.Alerter.SignalAlert)
	mux.Start(ctx)
	scope.AddFunc(mux.Close)

	market := fetcher.New(
		fetcher.NewClient(fetcher.ClientConfig{
			PrimaryURL:   a.cfg.Market.PrimaryURL,
			SecondaryURL: a.cfg.Market.SecondaryURL,
			Timeout:      a.cfg.Sync.FetchTimeout.Duration,
			RateLimit:    a.cfg.Market.RatePerSec,
		}),
		rec, deps.Bus, deps.PriceCache,
		fetcher.Config{
			Symbols:  a.cfg.Market.Symbols,
			Interval: a.cfg.Market.FetchInterval.Duration,
			CacheTTL: a.cfg.Market.CacheTTL.Duration,
		},
		a.logger,
	)
	g.Go(func() error {
		return market.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rec)
	}

	if deps.S3 != nil {
		journal := s3blob.NewJournal(
			deps.S3, rec, "journal",
			a.cfg.Journal.ExportInterval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return journal.Run(ctx)
		})
	}

	return g.Wait()
}

// FollowMode runs the client side of the sync core against a remote deck:
// the reconnecting stream manager feeds the local multiplexer, the
// entitlement gate toggles the VIP topic, and the local HTTP API serves the
// reconciled view read-only.
func (a *App) FollowMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting follow mode",
		slog.String("endpoint", a.cfg.Stream.Endpoint),
	)

	g, ctx := errgroup.WithContext(ctx)
	scope := lifecycle.NewScope()
	defer scope.Close()

	rec := reconciler.New(a.logger)

	// The follower still snapshots its own datastore; in mock mode that is
	// the seeded in-memory store.
	poller := reconciler.NewPoller(
		deps.Store, rec,
		a.cfg.Sync.SnapshotInterval.Duration,
		a.cfg.Sync.FetchTimeout.Duration,
		a.logger,
	)
	g.Go(func() error {
		return poller.Run(ctx)
	})

	mux := pubsub.NewMux(deps.Bus, a.logger)
	mux.Bind(domain.TopicPositions, rec.HandleTopic)
	mux.Bind(domain.TopicPriceFeed, rec.HandleTopic)
	mux.BindGated(domain.TopicVIPSignals, deps.Alerter.SignalAlert)
	mux.Start(ctx)
	scope.AddFunc(mux.Close)

	gate := entitlement.New(deps.Profiles, deps.Verifier, a.cfg.Sync.FetchTimeout.Duration, a.logger)
	gate.OnChange(mux.SetEntitled)
	gate.Resolve(ctx, a.cfg.Auth.Token)

	// Remote envelopes republish onto the local bus, so the multiplexer
	// treats both sources identically.
	mgr := stream.Connect(stream.Config{
		Endpoint:       a.cfg.Stream.Endpoint,
		Channels:       a.cfg.Stream.Channels,
		ReconnectDelay: a.cfg.Stream.ReconnectDelay.Duration,
	}, a.logger)
	mgr.OnMessage(func(env stream.Envelope) {
		if err := deps.Bus.Publish(ctx, env.Channel, env.Data); err != nil {
			a.logger.Debug("republish failed",
				slog.String("channel", env.Channel),
				slog.String("error", err.Error()),
			)
		}
	})
	mgr.OnState(func(s domain.ConnState) {
		a.logger.Info("stream state changed", slog.String("state", string(s)))
	})
	scope.AddFunc(mgr.Close)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, rec)
	}

	return g.Wait()
}

// startHTTPServer wires the hub and REST handlers and runs the server until
// the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, rec *reconciler.Reconciler) {
	hub := ws.NewHub(deps.Bus, a.cfg.Auth.ChannelSecret, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Positions: handler.NewPositionHandler(rec, deps.Store, deps.Profiles, a.logger),
		Market:    handler.NewMarketHandler(rec, a.logger),
		Auth:      handler.NewAuthHandler(deps.Verifier, deps.Profiles, []byte(a.cfg.Auth.ChannelSecret), a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
	}, handlers, deps.Verifier, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
