package symsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mytrader/marketfeed/internal/model"
)

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PostgreSQL-backed registration store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin symbol tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exists(ctx context.Context, ticker, venue string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM symbols WHERE ticker = $1 AND venue = $2)`,
		ticker, venue,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check symbol %s: %w", ticker, err)
	}
	return exists, nil
}

func (t *pgTx) Insert(ctx context.Context, sym model.Symbol) error {
	if sym.ID == uuid.Nil {
		sym.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO symbols (
			id, ticker, venue, asset_class, base_currency, quote_currency,
			is_active, is_tracked, is_default, broadcast_priority,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (ticker, venue) DO NOTHING`,
		sym.ID, sym.Ticker, sym.Venue, string(sym.AssetClass),
		sym.BaseCurrency, sym.QuoteCurrency,
		sym.IsActive, sym.IsTracked, sym.IsDefault, sym.BroadcastPriority,
		sym.CreatedAt, sym.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert symbol %s: %w", sym.Ticker, err)
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, sym model.Symbol) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE symbols SET
			asset_class = $3, base_currency = $4, quote_currency = $5,
			is_active = $6, is_tracked = $7, updated_at = $8
		WHERE ticker = $1 AND venue = $2`,
		sym.Ticker, sym.Venue, string(sym.AssetClass),
		sym.BaseCurrency, sym.QuoteCurrency,
		sym.IsActive, sym.IsTracked, sym.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update symbol %s: %w", sym.Ticker, err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
