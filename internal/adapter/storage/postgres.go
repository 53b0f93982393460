package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"stockstream/internal/domain/model"
)

// PostgresAdapter archives per-symbol aggregates. It is a best-effort sink,
// not a source of truth for queries.
type PostgresAdapter struct {
	db *sql.DB
}

func NewPostgresAdapter(ctx context.Context, connStr string) (*PostgresAdapter, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresAdapter{db: db}, nil
}

// NewPostgresAdapterFromDB wraps an already opened handle.
func NewPostgresAdapterFromDB(db *sql.DB) *PostgresAdapter {
	return &PostgresAdapter{db: db}
}

func (a *PostgresAdapter) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS aggregated_prices (
		id SERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		average_price DOUBLE PRECISION NOT NULL,
		min_price DOUBLE PRECISION NOT NULL,
		max_price DOUBLE PRECISION NOT NULL,
		sample_count INTEGER NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_aggregated_symbol_timestamp ON aggregated_prices(symbol, timestamp);
	`
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// SaveAggregatedPrices writes the batch with a single multi-row insert in a transaction.
func (a *PostgresAdapter) SaveAggregatedPrices(ctx context.Context, prices []model.AggregatedPrice) error {
	if len(prices) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO aggregated_prices (symbol, timestamp, average_price, min_price, max_price, sample_count) VALUES ")
	args := make([]any, 0, len(prices)*6)
	for i, p := range prices {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, p.Symbol, p.Timestamp, p.AveragePrice, p.MinPrice, p.MaxPrice, p.Count)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert aggregated prices: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit aggregated prices: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) LatestAggregates(ctx context.Context, symbol string, since time.Time) ([]model.AggregatedPrice, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT symbol, timestamp, average_price, min_price, max_price, sample_count
		FROM aggregated_prices
		WHERE symbol = $1 AND timestamp >= $2
		ORDER BY timestamp`, symbol, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var out []model.AggregatedPrice
	for rows.Next() {
		var p model.AggregatedPrice
		if err := rows.Scan(&p.Symbol, &p.Timestamp, &p.AveragePrice, &p.MinPrice, &p.MaxPrice, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (a *PostgresAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *PostgresAdapter) Close() error {
	return a.db.Close()
}
