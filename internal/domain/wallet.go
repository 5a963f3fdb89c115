package domain

import "time"

// Wallet is the paper-trading wallet row backing the equity aggregates.
type Wallet struct {
	ID        int64     `json:"id"`
	Balance   float64   `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubscriptionLevel is the viewer's subscription tier.
type SubscriptionLevel string

const (
	SubscriptionFree SubscriptionLevel = "free"
	SubscriptionVIP  SubscriptionLevel = "vip"
)

// Profile is the user profile row linked to a session. Only the fields the
// entitlement gate needs are modeled here.
type Profile struct {
	UserID            string            `json:"user_id"`
	DisplayName       string            `json:"display_name"`
	SubscriptionLevel SubscriptionLevel `json:"subscription_level"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// VIP reports whether the profile grants access to gated channels.
func (p Profile) VIP() bool {
	return p.SubscriptionLevel == SubscriptionVIP
}

// PriceTick is the latest known mark price for a symbol. Symbols are stored
// uppercased; the newest tick always wins regardless of source.
type PriceTick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// Summary bundles the derived account aggregates computed over the canonical
// position table on every read.
type Summary struct {
	Balance         float64 `json:"balance"`
	Equity          float64 `json:"equity"`
	AvailableMargin float64 `json:"available_margin"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"`
	OpenPositions   int     `json:"open_positions"`
}
