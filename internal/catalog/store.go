package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mytrader/marketfeed/internal/model"
)

// Store is the persistence boundary for Symbol rows.
type Store interface {
	// ActiveTracked returns active+tracked symbols for an asset class and
	// venue, ordered by broadcast priority descending.
	ActiveTracked(ctx context.Context, assetClass model.AssetClass, venue string) ([]model.Symbol, error)

	// DefaultSymbols returns the default client subscription set.
	DefaultSymbols(ctx context.Context) ([]model.Symbol, error)

	// UserSymbols returns a user's customized subscription set.
	UserSymbols(ctx context.Context, userID uuid.UUID) ([]model.Symbol, error)

	// UpdatePreferences replaces a user's subscription set.
	UpdatePreferences(ctx context.Context, userID uuid.UUID, symbolIDs []uuid.UUID) error

	// SetLastBroadcast persists a symbol's last broadcast time.
	SetLastBroadcast(ctx context.Context, symbolID uuid.UUID, ts time.Time) error
}

const symbolColumns = `id, ticker, venue, asset_class, base_currency, quote_currency,
	price_precision, quantity_precision, is_active, is_tracked, is_default,
	broadcast_priority, last_broadcast_at, created_at, updated_at`

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed symbol store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) ActiveTracked(ctx context.Context, assetClass model.AssetClass, venue string) ([]model.Symbol, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+symbolColumns+`
		FROM symbols
		WHERE is_active AND is_tracked AND asset_class = $1 AND venue = $2
		ORDER BY broadcast_priority DESC, ticker`,
		string(assetClass), venue,
	)
	if err != nil {
		return nil, fmt.Errorf("query active symbols: %w", err)
	}
	return scanSymbols(rows)
}

func (s *PGStore) DefaultSymbols(ctx context.Context) ([]model.Symbol, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+symbolColumns+`
		FROM symbols
		WHERE is_active AND is_default
		ORDER BY broadcast_priority DESC, ticker`,
	)
	if err != nil {
		return nil, fmt.Errorf("query default symbols: %w", err)
	}
	return scanSymbols(rows)
}

func (s *PGStore) UserSymbols(ctx context.Context, userID uuid.UUID) ([]model.Symbol, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+qualifiedSymbolColumns()+`
		FROM symbols s
		JOIN user_symbols us ON us.symbol_id = s.id
		WHERE us.user_id = $1 AND s.is_active
		ORDER BY s.broadcast_priority DESC, s.ticker`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query user symbols: %w", err)
	}
	return scanSymbols(rows)
}

func (s *PGStore) UpdatePreferences(ctx context.Context, userID uuid.UUID, symbolIDs []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin preferences tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_symbols WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear preferences: %w", err)
	}

	for _, id := range symbolIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_symbols (user_id, symbol_id) VALUES ($1, $2)`,
			userID, id,
		); err != nil {
			return fmt.Errorf("insert preference %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit preferences: %w", err)
	}
	return nil
}

func (s *PGStore) SetLastBroadcast(ctx context.Context, symbolID uuid.UUID, ts time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE symbols SET last_broadcast_at = $2, updated_at = now() WHERE id = $1`,
		symbolID, ts,
	)
	if err != nil {
		return fmt.Errorf("update last broadcast: %w", err)
	}
	return nil
}

func qualifiedSymbolColumns() string {
	return `s.id, s.ticker, s.venue, s.asset_class, s.base_currency, s.quote_currency,
	s.price_precision, s.quantity_precision, s.is_active, s.is_tracked, s.is_default,
	s.broadcast_priority, s.last_broadcast_at, s.created_at, s.updated_at`
}

func scanSymbols(rows pgx.Rows) ([]model.Symbol, error) {
	defer rows.Close()

	var out []model.Symbol
	for rows.Next() {
		var sym model.Symbol
		var assetClass string
		var lastBroadcast *time.Time

		if err := rows.Scan(
			&sym.ID, &sym.Ticker, &sym.Venue, &assetClass,
			&sym.BaseCurrency, &sym.QuoteCurrency,
			&sym.PricePrecision, &sym.QuantityPrecision,
			&sym.IsActive, &sym.IsTracked, &sym.IsDefault,
			&sym.BroadcastPriority, &lastBroadcast,
			&sym.CreatedAt, &sym.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}

		sym.AssetClass = model.AssetClass(assetClass)
		if lastBroadcast != nil {
			sym.LastBroadcastAt = *lastBroadcast
		}
		out = append(out, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbols: %w", err)
	}
	return out, nil
}
