package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// notifyChannel is the LISTEN channel fed by the paper_positions trigger.
const notifyChannel = "position_changes"

// reListenDelay is the wait before re-establishing a dropped listen
// connection. Events emitted during the gap are lost by design and
// recovered by the next snapshot poll.
const reListenDelay = 3 * time.Second

// ChangeFeed implements domain.ChangeFeed over PostgreSQL LISTEN/NOTIFY.
// It holds one dedicated connection outside the pool so notifications are
// not lost to connection recycling.
type ChangeFeed struct {
	dsn    string
	logger *slog.Logger
}

// NewChangeFeed creates a ChangeFeed for the client's database.
func NewChangeFeed(c *Client, logger *slog.Logger) *ChangeFeed {
	return &ChangeFeed{
		dsn:    c.dsn,
		logger: logger.With(slog.String("component", "changefeed")),
	}
}

// Events starts listening and returns a channel of validated events. The
// channel closes when the context is cancelled. Connection drops are
// re-established after a fixed delay without surfacing an error.
func (f *ChangeFeed) Events(ctx context.Context) (<-chan domain.Event, error) {
	out := make(chan domain.Event, 64)

	go func() {
		defer close(out)
		for {
			if err := f.listen(ctx, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				f.logger.Warn("listen connection lost",
					slog.String("error", err.Error()),
				)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(reListenDelay):
			}
		}
	}()

	return out, nil
}

// listen holds one connection, LISTENs, and pumps notifications until the
// connection fails or the context ends.
func (f *ChangeFeed) listen(ctx context.Context, out chan<- domain.Event) error {
	conn, err := pgx.Connect(ctx, f.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	f.logger.Info("listening for position changes")

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}

		// Trigger payloads share the wire shape of the positions topic, so
		// the same boundary validation applies.
		ev, err := domain.ParseEvent(domain.TopicPositions, []byte(notification.Payload))
		if err != nil {
			f.logger.Debug("dropping malformed notification",
				slog.String("error", err.Error()),
			)
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ domain.ChangeFeed = (*ChangeFeed)(nil)
