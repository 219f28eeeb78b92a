// Package postgres provides a PostgreSQL writer that archives vouchers.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/money"
	"github.com/ArionMiles/mailvoucher/pkg/pg"
	"github.com/ArionMiles/mailvoucher/pkg/writer/buffered"
)

//go:embed 001_create_vouchers.sql
var migrationSQL string

// Config holds the PostgreSQL writer configuration.
type Config struct {
	pg.Config

	// BatchSize is the number of vouchers to buffer before writing.
	BatchSize int
	// FlushInterval is the time between automatic flushes.
	FlushInterval time.Duration
}

// Writer writes vouchers and their rows to PostgreSQL.
type Writer struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	buffered *buffered.Writer
}

// New connects, runs the migration and returns a writer.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pg.Connect(ctx, cfg.Config, logger)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx, pool, "vouchers", migrationSQL, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	w := &Writer{pool: pool, logger: logger}
	w.buffered = buffered.New(w.writeBatch, buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, logger.With("component", "postgres_buffer"))
	return w, nil
}

// Write consumes vouchers from the channel and writes them to PostgreSQL.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Voucher, ackChan chan<- string) error {
	defer w.Close()
	return w.buffered.Write(ctx, in, ackChan)
}

// writeBatch stores every voucher of the batch in one transaction. A voucher
// whose message ID already exists replaces the earlier one.
func (w *Writer) writeBatch(ctx context.Context, vouchers []*api.Voucher) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, v := range vouchers {
		if err := insertVoucher(ctx, tx, v); err != nil {
			return fmt.Errorf("inserting voucher %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertVoucher(ctx context.Context, tx pgx.Tx, v *api.Voucher) error {
	var messageID *string
	if v.MessageID != "" {
		messageID = &v.MessageID
		if _, err := tx.Exec(ctx, `DELETE FROM vouchers WHERE message_id = $1`, v.MessageID); err != nil {
			return fmt.Errorf("replacing voucher for %s: %w", v.MessageID, err)
		}
	}

	id := uuid.New()
	_, err := tx.Exec(ctx, `
		INSERT INTO vouchers (id, message_id, rule, series, description, voucher_date, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, messageID, v.Rule, v.Series, v.Description, v.Date, money.Format(v.TotalDebit()))
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, e := range v.Entries {
		batch.Queue(`
			INSERT INTO voucher_rows (voucher_id, position, account, debit, credit)
			VALUES ($1, $2, $3, $4, $5)
		`, id, i, e.Account, money.Format(e.Debit), money.Format(e.Credit))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting rows: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (w *Writer) Close() {
	if w.pool != nil {
		w.pool.Close()
		w.logger.Info("closed PostgreSQL connection pool")
	}
}
