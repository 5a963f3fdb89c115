// Package memory provides the non-throwing in-memory datastore substituted
// at startup when datastore credentials are absent. Queries return empty
// results instead of errors so the view layer keeps rendering; mutations
// are applied to the in-process state only. Startup logs make mock mode
// unmistakable so empty results are never confused with real empty state.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// Store implements domain.DataStore and domain.ProfileStore in process.
type Store struct {
	mu        sync.RWMutex
	positions map[int64]domain.Position
	profiles  map[string]domain.Profile
	wallet    domain.Wallet
}

// NewStore returns an empty Store with a zero-balance wallet.
func NewStore() *Store {
	return &Store{
		positions: make(map[int64]domain.Position),
		profiles:  make(map[string]domain.Profile),
		wallet:    domain.Wallet{ID: 1, UpdatedAt: time.Now().UTC()},
	}
}

// ListPositions returns all rows. Never errors.
func (s *Store) ListPositions(_ context.Context) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out, nil
}

// GetWallet returns the in-process wallet row. Never errors.
func (s *Store) GetWallet(_ context.Context) (domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallet, nil
}

// ClosePosition closes an open row. ErrNotFound matches the real store's
// contract so callers behave identically in mock mode.
func (s *Store) ClosePosition(_ context.Context, id int64, pnl float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok || p.Status != domain.PositionStatusOpen {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	p.Status = domain.PositionStatusClosed
	p.PnL = &pnl
	p.ClosedAt = &now
	s.positions[id] = p
	return nil
}

// PatchPosition applies a partial update to an existing row.
func (s *Store) PatchPosition(_ context.Context, patch domain.PositionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[patch.ID]
	if !ok {
		return domain.ErrNotFound
	}
	patch.Apply(&p)
	s.positions[patch.ID] = p
	return nil
}

// GetProfile returns a seeded profile or ErrNotFound, which callers treat
// as the free tier.
func (s *Store) GetProfile(_ context.Context, userID string) (domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	return p, nil
}

// SeedPosition inserts a row directly. Test and demo helper.
func (s *Store) SeedPosition(p domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
}

// SeedProfile inserts a profile row directly. Test and demo helper.
func (s *Store) SeedProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = p
}

// SetBalance updates the wallet balance. Test and demo helper.
func (s *Store) SetBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallet.Balance = balance
	s.wallet.UpdatedAt = time.Now().UTC()
}

// Compile-time interface checks.
var (
	_ domain.DataStore    = (*Store)(nil)
	_ domain.ProfileStore = (*Store)(nil)
)
