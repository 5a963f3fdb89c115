package reconciler

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signaldeck/signaldeck/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fl(v float64) *float64 { return &v }

func openEvent(t *testing.T, rec *Reconciler, id int64, symbol string, entry, qty float64) {
	t.Helper()
	rec.Apply(domain.Event{
		Kind: domain.EventPositionOpened,
		Position: &domain.Position{
			ID:         id,
			Symbol:     symbol,
			EntryPrice: entry,
			Quantity:   qty,
			Status:     domain.PositionStatusOpen,
		},
	})
}

func TestDuplicateOpenIsNoOp(t *testing.T) {
	rec := New(testLogger())

	openEvent(t, rec, 42, "BTC", 64000, 0.5)

	// The same open arriving again via another source must not clobber
	// state built up since.
	rec.Apply(domain.Event{
		Kind: domain.EventPositionPatched,
		Patch: &domain.PositionPatch{
			ID:       42,
			StopLoss: fl(61000),
		},
	})
	openEvent(t, rec, 42, "BTC", 64000, 0.5)

	positions := rec.Positions()
	require.Len(t, positions, 1)
	require.NotNil(t, positions[0].StopLoss, "duplicate open must not erase the applied patch")
	assert.InDelta(t, 61000, *positions[0].StopLoss, 1e-9)
}

func TestPatchForUnknownIDIsDropped(t *testing.T) {
	rec := New(testLogger())

	rec.Apply(domain.Event{
		Kind:  domain.EventPositionPatched,
		Patch: &domain.PositionPatch{ID: 99, PnL: fl(10)},
	})

	assert.Empty(t, rec.Positions(), "a lost update must not materialize a row")
}

func TestDeleteRemovesPosition(t *testing.T) {
	rec := New(testLogger())
	openEvent(t, rec, 1, "BTC", 64000, 0.5)
	openEvent(t, rec, 2, "ETH", 3300, 2)

	rec.Apply(domain.Event{Kind: domain.EventPositionDeleted, ID: 1})
	rec.Apply(domain.Event{Kind: domain.EventPositionDeleted, ID: 1}) // repeat is a no-op

	positions := rec.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, int64(2), positions[0].ID)
}

func TestSnapshotIsAuthoritative(t *testing.T) {
	rec := New(testLogger())
	openEvent(t, rec, 1, "BTC", 64000, 0.5)
	openEvent(t, rec, 2, "ETH", 3300, 2)

	rec.ApplySnapshot([]domain.Position{
		{ID: 2, Symbol: "ETH", EntryPrice: 3300, Quantity: 2, Status: domain.PositionStatusOpen},
		{ID: 3, Symbol: "SOL", EntryPrice: 150, Quantity: 10, Status: domain.PositionStatusOpen},
	}, domain.Wallet{Balance: 10000})

	positions := rec.Positions()
	require.Len(t, positions, 2)
	assert.Equal(t, int64(2), positions[0].ID)
	assert.Equal(t, int64(3), positions[1].ID)

	wallet, ok := rec.Wallet()
	require.True(t, ok)
	assert.InDelta(t, 10000, wallet.Balance, 1e-9)
}

func TestTickLastWriterWins(t *testing.T) {
	rec := New(testLogger())

	rec.ApplyTick("btc", 100)
	rec.ApplyTick("BTC", 99) // later arrival wins even when lower

	price, ok := rec.Price("BTC")
	require.True(t, ok)
	assert.InDelta(t, 99, price, 1e-9)
	assert.Len(t, rec.Prices(), 1, "case-insensitive symbols collapse to one entry")
}

func TestHandleTopicCountsMalformed(t *testing.T) {
	rec := New(testLogger())

	rec.HandleTopic(domain.TopicPositions, []byte(`{{{`))
	rec.HandleTopic(domain.TopicPriceFeed, []byte(`{"price":1}`))
	rec.HandleTopic(domain.TopicPriceFeed, []byte(`{"symbol":"BTC","price":64000}`))

	assert.Equal(t, int64(2), rec.MalformedCount())
	price, ok := rec.Price("BTC")
	require.True(t, ok)
	assert.InDelta(t, 64000, price, 1e-9)
}

func TestActiveAndClosedViews(t *testing.T) {
	rec := New(testLogger())
	openEvent(t, rec, 1, "BTC", 64000, 0.5)
	openEvent(t, rec, 2, "ETH", 3300, 2)

	closed := domain.PositionStatusClosed
	rec.Apply(domain.Event{
		Kind:  domain.EventPositionPatched,
		Patch: &domain.PositionPatch{ID: 1, Status: &closed, PnL: fl(55)},
	})

	active := rec.ActivePositions()
	require.Len(t, active, 1)
	assert.Equal(t, int64(2), active[0].ID)

	done := rec.ClosedPositions()
	require.Len(t, done, 1)
	assert.Equal(t, int64(1), done[0].ID)
	require.NotNil(t, done[0].PnL)
	assert.InDelta(t, 55, *done[0].PnL, 1e-9)
}

func TestSummary(t *testing.T) {
	rec := New(testLogger())

	rec.ApplySnapshot([]domain.Position{
		// Long 0.5 BTC from 64000, leverage 10: margin 3200.
		{ID: 1, Symbol: "BTC", EntryPrice: 64000, Quantity: 0.5, Status: domain.PositionStatusOpen, Leverage: 10},
		// Short 2 ETH from 3300, leverage 5: margin 1320.
		{ID: 2, Symbol: "ETH", EntryPrice: 3300, Quantity: -2, Status: domain.PositionStatusOpen, Leverage: 5},
		// No mark price for SOL: zero pnl contribution, margin still reserved.
		{ID: 3, Symbol: "SOL", EntryPrice: 150, Quantity: 10, Status: domain.PositionStatusOpen, Leverage: 10},
		// Closed rows contribute nothing.
		{ID: 4, Symbol: "BTC", EntryPrice: 60000, Quantity: 1, Status: domain.PositionStatusClosed},
	}, domain.Wallet{Balance: 10000})

	rec.ApplyTick("BTC", 65000) // long +500
	rec.ApplyTick("ETH", 3200)  // short +200

	s := rec.Summary()
	assert.Equal(t, 3, s.OpenPositions)
	assert.InDelta(t, 10000, s.Balance, 1e-9)
	assert.InDelta(t, 700, s.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10700, s.Equity, 1e-9)
	// 10000 - (3200 + 1320 + 150)
	assert.InDelta(t, 5330, s.AvailableMargin, 1e-9)
}
