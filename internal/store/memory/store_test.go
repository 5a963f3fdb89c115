package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signaldeck/signaldeck/internal/domain"
)

func fl(v float64) *float64 { return &v }

func TestStoreStartsEmpty(t *testing.T) {
	s := NewStore()

	positions, err := s.ListPositions(t.Context())
	require.NoError(t, err)
	assert.Empty(t, positions)

	w, err := s.GetWallet(t.Context())
	require.NoError(t, err)
	assert.Zero(t, w.Balance)

	_, err = s.GetProfile(t.Context(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStoreClosePosition(t *testing.T) {
	s := NewStore()
	s.SeedPosition(domain.Position{ID: 1, Symbol: "BTC", EntryPrice: 60000, Quantity: 1, Status: domain.PositionStatusOpen})

	require.NoError(t, s.ClosePosition(t.Context(), 1, 250))

	positions, err := s.ListPositions(t.Context())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	p := positions[0]
	assert.Equal(t, domain.PositionStatusClosed, p.Status)
	require.NotNil(t, p.PnL)
	assert.Equal(t, 250.0, *p.PnL)
	assert.NotNil(t, p.ClosedAt)

	// Closing again, or closing an unknown row, is ErrNotFound.
	assert.ErrorIs(t, s.ClosePosition(t.Context(), 1, 0), domain.ErrNotFound)
	assert.ErrorIs(t, s.ClosePosition(t.Context(), 42, 0), domain.ErrNotFound)
}

func TestStorePatchPosition(t *testing.T) {
	s := NewStore()
	s.SeedPosition(domain.Position{ID: 1, Symbol: "ETH", EntryPrice: 3000, Quantity: 2, Status: domain.PositionStatusOpen})

	require.NoError(t, s.PatchPosition(t.Context(), domain.PositionPatch{ID: 1, StopLoss: fl(2800)}))

	positions, err := s.ListPositions(t.Context())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.NotNil(t, positions[0].StopLoss)
	assert.Equal(t, 2800.0, *positions[0].StopLoss)
	// Untouched fields survive the patch.
	assert.Equal(t, 3000.0, positions[0].EntryPrice)

	assert.ErrorIs(t, s.PatchPosition(t.Context(), domain.PositionPatch{ID: 9}), domain.ErrNotFound)
}

func TestStoreWalletAndProfiles(t *testing.T) {
	s := NewStore()
	s.SetBalance(10000)
	s.SeedProfile(domain.Profile{UserID: "u1", SubscriptionLevel: domain.SubscriptionVIP})

	w, err := s.GetWallet(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 10000.0, w.Balance)

	p, err := s.GetProfile(t.Context(), "u1")
	require.NoError(t, err)
	assert.True(t, p.VIP())
}
