// Package reconciler owns the canonical position table and price map. It
// merges three input sources with different delivery guarantees — periodic
// datastore snapshots, datastore change notifications, and push-messaging
// events — into one consistent view, without duplicate or stale rows.
package reconciler

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// Reconciler is the single writer of the canonical state. Sources deliver
// from their own goroutines; each merge is applied atomically under one
// lock so two merges for the same id can never interleave.
type Reconciler struct {
	mu         sync.RWMutex
	positions  map[int64]domain.Position
	prices     map[string]float64
	wallet     domain.Wallet
	haveWallet bool

	malformed atomic.Int64
	logger    *slog.Logger
}

// New returns an empty Reconciler.
func New(logger *slog.Logger) *Reconciler {
	return &Reconciler{
		positions: make(map[int64]domain.Position),
		prices:    make(map[string]float64),
		logger:    logger.With(slog.String("component", "reconciler")),
	}
}

// Apply merges one validated event into the canonical state.
//
// Merge rules:
//   - opened: duplicate-open is a no-op, never an overwrite. A position can
//     arrive via both the push channel and the change feed; the first one
//     in wins and the second is ignored.
//   - patched: fields merge into the existing row by id. A patch for an
//     unknown id is a lost update, dropped; the next snapshot recovers it.
//   - deleted: removal by id, no-op when absent.
//   - tick: unconditional overwrite, last writer wins by arrival order.
func (r *Reconciler) Apply(ev domain.Event) {
	switch ev.Kind {
	case domain.EventPositionOpened:
		r.applyOpen(*ev.Position)
	case domain.EventPositionPatched:
		r.applyPatch(*ev.Patch)
	case domain.EventPositionDeleted:
		r.applyDelete(ev.ID)
	case domain.EventPriceTick:
		r.ApplyTick(ev.Tick.Symbol, ev.Tick.Price)
	default:
		// Signals, rankings, and market status are routed elsewhere and
		// carry nothing to reconcile.
	}
}

// HandleTopic adapts the reconciler to the push-messaging and stream
// callback shape: it validates the raw payload at the transport boundary
// and applies the result. Malformed payloads are counted and logged, never
// propagated.
func (r *Reconciler) HandleTopic(topic string, payload []byte) {
	ev, err := domain.ParseEvent(topic, payload)
	if err != nil {
		r.malformed.Add(1)
		r.logger.Debug("dropping malformed event",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}
	r.Apply(ev)
}

func (r *Reconciler) applyOpen(p domain.Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.positions[p.ID]; exists {
		return
	}
	if p.Status == "" {
		p.Status = domain.PositionStatusOpen
	}
	r.positions[p.ID] = p
}

func (r *Reconciler) applyPatch(patch domain.PositionPatch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.positions[patch.ID]
	if !exists {
		r.logger.Debug("dropping patch for unknown position",
			slog.Int64("id", patch.ID),
		)
		return
	}
	patch.Apply(&p)
	r.positions[patch.ID] = p
}

func (r *Reconciler) applyDelete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, id)
}

// ApplyTick records the latest mark price for a symbol. No sequence numbers
// are compared across sources, so a stale tick arriving late can regress
// the stored price; the periodic snapshot and the next fresh tick bound the
// damage. Known limitation, kept deliberately.
func (r *Reconciler) ApplyTick(symbol string, price float64) {
	key := strings.ToUpper(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[key] = price
}

// ApplySnapshot replaces the entire position table and wallet with the
// authoritative datastore state. Rows absent from the snapshot are removed;
// rows present overwrite whatever the incremental sources had built up.
func (r *Reconciler) ApplySnapshot(positions []domain.Position, wallet domain.Wallet) {
	table := make(map[int64]domain.Position, len(positions))
	for _, p := range positions {
		table[p.ID] = p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = table
	r.wallet = wallet
	r.haveWallet = true
}

// Positions returns every known position ordered by id.
func (r *Reconciler) Positions() []domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(domain.Position) bool { return true })
}

// ActivePositions returns the open rows ordered by id.
func (r *Reconciler) ActivePositions() []domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(p domain.Position) bool {
		return p.Status == domain.PositionStatusOpen
	})
}

// ClosedPositions returns the closed rows ordered by id.
func (r *Reconciler) ClosedPositions() []domain.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked(func(p domain.Position) bool {
		return p.Status == domain.PositionStatusClosed
	})
}

func (r *Reconciler) sortedLocked(keep func(domain.Position) bool) []domain.Position {
	out := make([]domain.Position, 0, len(r.positions))
	for _, p := range r.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Price returns the latest known mark price for a symbol.
func (r *Reconciler) Price(symbol string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	price, ok := r.prices[strings.ToUpper(symbol)]
	return price, ok
}

// Prices returns a copy of the full price map.
func (r *Reconciler) Prices() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.prices))
	for k, v := range r.prices {
		out[k] = v
	}
	return out
}

// Wallet returns the last snapshotted wallet row.
func (r *Reconciler) Wallet() (domain.Wallet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wallet, r.haveWallet
}

// Summary computes the derived account aggregates on the fly. A position
// whose symbol has no known mark price contributes zero unrealized pnl but
// still reserves its margin.
func (r *Reconciler) Summary() domain.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := domain.Summary{Balance: r.wallet.Balance}
	for _, p := range r.positions {
		if p.Status != domain.PositionStatusOpen {
			continue
		}
		s.OpenPositions++
		if mark, ok := r.prices[strings.ToUpper(p.Symbol)]; ok {
			s.UnrealizedPnL += p.UnrealizedPnL(mark)
		}
		s.AvailableMargin -= p.Margin()
	}
	s.Equity = s.Balance + s.UnrealizedPnL
	s.AvailableMargin += s.Balance
	return s
}

// MalformedCount returns how many invalid payloads have been dropped at the
// transport boundary.
func (r *Reconciler) MalformedCount() int64 {
	return r.malformed.Load()
}
