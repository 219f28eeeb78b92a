package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/pg"
)

//go:embed 001_create_handled_messages.sql
var migrationSQL string

const (
	statusProcessed = "processed"
	statusIgnored   = "ignored"
)

var _ api.Store = (*PostgresStore)(nil)

// PostgresStore keeps message IDs in the handled_messages table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, cfg pg.Config, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pg.Connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx, pool, "handled_messages", migrationSQL, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// IsHandled reports whether id has any status.
func (s *PostgresStore) IsHandled(ctx context.Context, id string) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM handled_messages WHERE message_id = $1`, id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying message %s: %w", id, err)
	}
	return true, nil
}

// MarkProcessed records id as processed. It overrides an earlier ignore.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO handled_messages (message_id, status) VALUES ($1, $2)
		ON CONFLICT (message_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
	`, id, statusProcessed)
	if err != nil {
		return fmt.Errorf("marking %s processed: %w", id, err)
	}
	return nil
}

// MarkIgnored records id as ignored unless it is already processed.
func (s *PostgresStore) MarkIgnored(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO handled_messages (message_id, status) VALUES ($1, $2)
		ON CONFLICT (message_id) DO NOTHING
	`, id, statusIgnored)
	if err != nil {
		return fmt.Errorf("marking %s ignored: %w", id, err)
	}
	return nil
}

// Processed lists processed IDs, oldest first.
func (s *PostgresStore) Processed(ctx context.Context) ([]string, error) {
	return s.list(ctx, statusProcessed)
}

// Ignored lists ignored IDs, oldest first.
func (s *PostgresStore) Ignored(ctx context.Context) ([]string, error) {
	return s.list(ctx, statusIgnored)
}

func (s *PostgresStore) list(ctx context.Context, status string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id FROM handled_messages WHERE status = $1 ORDER BY created_at, message_id`, status)
	if err != nil {
		return nil, fmt.Errorf("listing %s messages: %w", status, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning %s messages: %w", status, err)
	}
	return ids, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
