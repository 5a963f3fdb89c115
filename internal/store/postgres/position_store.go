package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/signaldeck/signaldeck/internal/domain"
)

// Store implements domain.DataStore against PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const positionCols = `id, symbol, entry_price, quantity, status, leverage,
	bot_take_profit, bot_stop_loss, liquidation_price, initial_margin,
	pnl, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.ID, &p.Symbol, &p.EntryPrice, &p.Quantity, &status, &p.Leverage,
		&p.TakeProfit, &p.StopLoss, &p.LiquidationPrice, &p.InitialMargin,
		&p.PnL, &p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// ListPositions returns every position row, open and closed.
func (s *Store) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM paper_positions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetWallet returns the paper-trading wallet row.
func (s *Store) GetWallet(ctx context.Context) (domain.Wallet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, balance, updated_at FROM bot_wallet ORDER BY id LIMIT 1`)

	var w domain.Wallet
	if err := row.Scan(&w.ID, &w.Balance, &w.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Wallet{}, domain.ErrNotFound
		}
		return domain.Wallet{}, fmt.Errorf("postgres: get wallet: %w", err)
	}
	return w, nil
}

// ClosePosition marks an open position closed with the given realized pnl.
// The mutation is observed back through the change feed; the caller does
// not mutate the reconciler directly.
func (s *Store) ClosePosition(ctx context.Context, id int64, pnl float64) error {
	const query = `
		UPDATE paper_positions SET
			status    = 'CLOSED',
			pnl       = $2,
			closed_at = NOW()
		WHERE id = $1 AND status = 'OPEN'`

	tag, err := s.pool.Exec(ctx, query, id, pnl)
	if err != nil {
		return fmt.Errorf("postgres: close position %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PatchPosition applies the non-nil fields of the patch to an existing row.
func (s *Store) PatchPosition(ctx context.Context, patch domain.PositionPatch) error {
	sets := make([]string, 0, 8)
	args := []any{patch.ID}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Symbol != nil {
		add("symbol", *patch.Symbol)
	}
	if patch.EntryPrice != nil {
		add("entry_price", *patch.EntryPrice)
	}
	if patch.Quantity != nil {
		add("quantity", *patch.Quantity)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Leverage != nil {
		add("leverage", *patch.Leverage)
	}
	if patch.TakeProfit != nil {
		add("bot_take_profit", *patch.TakeProfit)
	}
	if patch.StopLoss != nil {
		add("bot_stop_loss", *patch.StopLoss)
	}
	if patch.LiquidationPrice != nil {
		add("liquidation_price", *patch.LiquidationPrice)
	}
	if patch.InitialMargin != nil {
		add("initial_margin", *patch.InitialMargin)
	}
	if patch.PnL != nil {
		add("pnl", *patch.PnL)
	}
	if patch.ClosedAt != nil {
		add("closed_at", *patch.ClosedAt)
	}

	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE paper_positions SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: patch position %d: %w", patch.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetProfile returns the profile row for the given user id.
func (s *Store) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_id, display_name, subscription_level, updated_at
		 FROM profiles WHERE user_id = $1`, userID)

	var p domain.Profile
	var level string
	if err := row.Scan(&p.UserID, &p.DisplayName, &level, &p.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Profile{}, domain.ErrNotFound
		}
		return domain.Profile{}, fmt.Errorf("postgres: get profile %s: %w", userID, err)
	}
	p.SubscriptionLevel = domain.SubscriptionLevel(level)
	return p, nil
}

// Compile-time interface checks.
var (
	_ domain.DataStore    = (*Store)(nil)
	_ domain.ProfileStore = (*Store)(nil)
)
