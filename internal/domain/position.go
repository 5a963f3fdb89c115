// Package domain defines the core entities, events, and store interfaces
// shared by every layer of signaldeck.
package domain

import "time"

// PositionStatus tracks whether a paper position is open or closed.
// Transitions are one-way: OPEN positions close, closed positions never
// reopen.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// DefaultLeverage is assumed when the trading engine did not populate the
// leverage field on a position.
const DefaultLeverage = 10

// Position is a paper-trading position as reported by the external trading
// engine. This service never originates positions; it only mirrors them.
type Position struct {
	ID               int64           `json:"id"`
	Symbol           string          `json:"symbol"`
	EntryPrice       float64         `json:"entry_price"`
	Quantity         float64         `json:"quantity"` // sign encodes long/short, but see Short()
	Status           PositionStatus  `json:"status"`
	Leverage         int             `json:"leverage,omitempty"`
	TakeProfit       *float64        `json:"bot_take_profit,omitempty"`
	StopLoss         *float64        `json:"bot_stop_loss,omitempty"`
	LiquidationPrice *float64        `json:"liquidation_price,omitempty"`
	InitialMargin    *float64        `json:"initial_margin,omitempty"`
	PnL              *float64        `json:"pnl,omitempty"` // realized, set once CLOSED
	OpenedAt         time.Time       `json:"opened_at"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty"`
}

// Short reports whether the position should be treated as a short. The
// quantity sign is not always reliably populated upstream, so a take-profit
// placed below entry is also taken as a short signal. Both checks are
// intentional; do not simplify to the quantity sign alone.
func (p Position) Short() bool {
	if p.Quantity < 0 {
		return true
	}
	return p.TakeProfit != nil && *p.TakeProfit < p.EntryPrice
}

// UnrealizedPnL computes the mark-to-market profit for the position at the
// given mark price.
func (p Position) UnrealizedPnL(mark float64) float64 {
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	if p.Short() {
		return (p.EntryPrice - mark) * qty
	}
	return (mark - p.EntryPrice) * qty
}

// Margin returns the margin allocated to the position: the engine-reported
// initial margin when present, otherwise notional divided by leverage.
func (p Position) Margin() float64 {
	if p.InitialMargin != nil {
		return *p.InitialMargin
	}
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	lev := p.Leverage
	if lev <= 0 {
		lev = DefaultLeverage
	}
	return p.EntryPrice * qty / float64(lev)
}

// PositionPatch is a partial update to a position, keyed by ID. Nil fields
// are left untouched when the patch is applied. A CLOSED push event is a
// patch whose Status is PositionStatusClosed.
type PositionPatch struct {
	ID               int64           `json:"id"`
	Symbol           *string         `json:"symbol,omitempty"`
	EntryPrice       *float64        `json:"entry_price,omitempty"`
	Quantity         *float64        `json:"quantity,omitempty"`
	Status           *PositionStatus `json:"status,omitempty"`
	Leverage         *int            `json:"leverage,omitempty"`
	TakeProfit       *float64        `json:"bot_take_profit,omitempty"`
	StopLoss         *float64        `json:"bot_stop_loss,omitempty"`
	LiquidationPrice *float64        `json:"liquidation_price,omitempty"`
	InitialMargin    *float64        `json:"initial_margin,omitempty"`
	PnL              *float64        `json:"pnl,omitempty"`
	ClosedAt         *time.Time      `json:"closed_at,omitempty"`
}

// Apply merges the non-nil fields of the patch into p.
func (pp PositionPatch) Apply(p *Position) {
	if pp.Symbol != nil {
		p.Symbol = *pp.Symbol
	}
	if pp.EntryPrice != nil {
		p.EntryPrice = *pp.EntryPrice
	}
	if pp.Quantity != nil {
		p.Quantity = *pp.Quantity
	}
	if pp.Status != nil {
		p.Status = *pp.Status
	}
	if pp.Leverage != nil {
		p.Leverage = *pp.Leverage
	}
	if pp.TakeProfit != nil {
		p.TakeProfit = pp.TakeProfit
	}
	if pp.StopLoss != nil {
		p.StopLoss = pp.StopLoss
	}
	if pp.LiquidationPrice != nil {
		p.LiquidationPrice = pp.LiquidationPrice
	}
	if pp.InitialMargin != nil {
		p.InitialMargin = pp.InitialMargin
	}
	if pp.PnL != nil {
		p.PnL = pp.PnL
	}
	if pp.ClosedAt != nil {
		p.ClosedAt = pp.ClosedAt
	}
}
