package domain

import "context"

// DataStore is the datastore surface the sync core depends on. The real
// implementation is backed by PostgreSQL; when datastore credentials are
// absent a non-throwing in-memory implementation is substituted at startup
// so the service degrades to empty results instead of crashing.
type DataStore interface {
	// ListPositions returns every position row, open and closed.
	ListPositions(ctx context.Context) ([]Position, error)
	// GetWallet returns the paper-trading wallet row.
	GetWallet(ctx context.Context) (Wallet, error)
	// ClosePosition marks an open position closed with the given realized
	// pnl. It returns ErrNotFound when no open row matches.
	ClosePosition(ctx context.Context, id int64, pnl float64) error
	// PatchPosition applies a partial update to an existing row.
	PatchPosition(ctx context.Context, patch PositionPatch) error
}

// ProfileStore resolves user profiles for the entitlement gate.
type ProfileStore interface {
	// GetProfile returns the profile linked to the given user id, or
	// ErrNotFound when no row exists (treated as not-VIP by callers).
	GetProfile(ctx context.Context, userID string) (Profile, error)
}

// SignalBus is the topic-based pub/sub delivery channel. Delivery is
// at-least-once with no ordering guarantee relative to other sources.
type SignalBus interface {
	// Publish sends a raw payload to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe binds a topic and returns a channel of raw payloads. The
	// subscription closes when the context is cancelled.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}

// ChangeFeed delivers row-mutation notifications from the datastore,
// at-most-once with no replay: mutations missed while disconnected are only
// recovered by the next snapshot poll.
type ChangeFeed interface {
	// Events starts the feed and returns a channel of validated events.
	// The channel closes when the context is cancelled.
	Events(ctx context.Context) (<-chan Event, error)
}

// ConnState is the lifecycle state of a managed transport connection.
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	// ConnUnavailable is reported by the push-messaging client when its
	// underlying transport has given up until its own retry policy fires.
	ConnUnavailable ConnState = "unavailable"
)
