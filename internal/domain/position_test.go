package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fl(v float64) *float64 { return &v }

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
		want bool
	}{
		{
			name: "negative quantity",
			pos:  Position{EntryPrice: 100, Quantity: -1},
			want: true,
		},
		{
			name: "positive quantity no take profit",
			pos:  Position{EntryPrice: 100, Quantity: 1},
			want: false,
		},
		{
			name: "take profit below entry flags short despite positive quantity",
			pos:  Position{EntryPrice: 100, Quantity: 1, TakeProfit: fl(90)},
			want: true,
		},
		{
			name: "take profit above entry stays long",
			pos:  Position{EntryPrice: 100, Quantity: 1, TakeProfit: fl(110)},
			want: false,
		},
		{
			name: "take profit equal to entry stays long",
			pos:  Position{EntryPrice: 100, Quantity: 1, TakeProfit: fl(100)},
			want: false,
		},
		{
			name: "negative quantity wins even with take profit above entry",
			pos:  Position{EntryPrice: 100, Quantity: -1, TakeProfit: fl(110)},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pos.Short())
		})
	}
}

func TestUnrealizedPnL(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
		mark float64
		want float64
	}{
		{
			name: "long in profit",
			pos:  Position{EntryPrice: 100, Quantity: 2},
			mark: 110,
			want: 20,
		},
		{
			name: "long in loss",
			pos:  Position{EntryPrice: 100, Quantity: 2},
			mark: 95,
			want: -10,
		},
		{
			name: "short by quantity sign in profit",
			pos:  Position{EntryPrice: 100, Quantity: -2},
			mark: 90,
			want: 20,
		},
		{
			name: "short by take-profit heuristic at its target",
			pos:  Position{EntryPrice: 100, Quantity: 1, TakeProfit: fl(90)},
			mark: 90,
			want: 10,
		},
		{
			name: "short in loss",
			pos:  Position{EntryPrice: 100, Quantity: -1},
			mark: 105,
			want: -5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.pos.UnrealizedPnL(tt.mark), 1e-9)
		})
	}
}

func TestMargin(t *testing.T) {
	t.Run("engine-reported initial margin wins", func(t *testing.T) {
		p := Position{EntryPrice: 100, Quantity: 5, Leverage: 10, InitialMargin: fl(77)}
		assert.InDelta(t, 77, p.Margin(), 1e-9)
	})

	t.Run("notional over leverage", func(t *testing.T) {
		p := Position{EntryPrice: 100, Quantity: -5, Leverage: 20}
		assert.InDelta(t, 25, p.Margin(), 1e-9)
	})

	t.Run("default leverage when unset", func(t *testing.T) {
		p := Position{EntryPrice: 100, Quantity: 1}
		assert.InDelta(t, 10, p.Margin(), 1e-9)
	})
}

func TestPositionPatchApply(t *testing.T) {
	opened := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p := Position{
		ID:         7,
		Symbol:     "BTC",
		EntryPrice: 64000,
		Quantity:   0.5,
		Status:     PositionStatusOpen,
		Leverage:   10,
		OpenedAt:   opened,
	}

	closed := PositionStatusClosed
	closedAt := opened.Add(2 * time.Hour)
	patch := PositionPatch{
		ID:       7,
		Status:   &closed,
		PnL:      fl(125.5),
		ClosedAt: &closedAt,
	}
	patch.Apply(&p)

	assert.Equal(t, PositionStatusClosed, p.Status)
	require.NotNil(t, p.PnL)
	assert.InDelta(t, 125.5, *p.PnL, 1e-9)
	require.NotNil(t, p.ClosedAt)
	assert.Equal(t, closedAt, *p.ClosedAt)

	// Untouched fields survive.
	assert.Equal(t, "BTC", p.Symbol)
	assert.InDelta(t, 64000, p.EntryPrice, 1e-9)
	assert.InDelta(t, 0.5, p.Quantity, 1e-9)
	assert.Equal(t, opened, p.OpenedAt)
}
