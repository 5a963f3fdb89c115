package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// Poller drives the periodic authoritative resync: a full pull of positions
// and the wallet row that replaces the reconciler's table, healing whatever
// the incremental sources missed while disconnected.
type Poller struct {
	store    domain.DataStore
	rec      *Reconciler
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPoller creates a Poller. interval defaults to 60s and timeout to 10s
// when zero.
func NewPoller(store domain.DataStore, rec *Reconciler, interval, timeout time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Poller{
		store:    store,
		rec:      rec,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "poller")),
	}
}

// Run fetches one snapshot immediately, then repeats on the interval until
// the context is cancelled. Fetch errors are logged and the previous state
// is kept; a failed poll must never wipe good data.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll performs one bounded snapshot fetch and applies it atomically.
func (p *Poller) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	positions, err := p.store.ListPositions(fetchCtx)
	if err != nil {
		p.logger.Warn("snapshot fetch failed, keeping previous state",
			slog.String("error", err.Error()),
		)
		return
	}

	wallet, err := p.store.GetWallet(fetchCtx)
	if err != nil {
		p.logger.Warn("wallet fetch failed, keeping previous state",
			slog.String("error", err.Error()),
		)
		return
	}

	p.rec.ApplySnapshot(positions, wallet)
	p.logger.Debug("snapshot applied",
		slog.Int("positions", len(positions)),
	)
}

// Consume pumps a change feed into the reconciler until the context is
// cancelled or the feed closes. Events missed while the feed is down are
// recovered by the next snapshot, so feed termination is not fatal.
func Consume(ctx context.Context, feed domain.ChangeFeed, rec *Reconciler, logger *slog.Logger) error {
	events, err := feed.Events(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				logger.Warn("change feed closed")
				return nil
			}
			rec.Apply(ev)
		}
	}
}
