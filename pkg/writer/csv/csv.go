// Package csv implements a Writer that writes voucher rows to a CSV file.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/money"
	"github.com/ArionMiles/mailvoucher/pkg/writer/buffered"
)

// Headers is the header row written to a new file.
var Headers = []string{"Date", "Series", "Description", "Account", "Debit", "Credit", "Rule", "MessageID"}

// Writer writes one CSV row per voucher entry with buffered batching.
type Writer struct {
	filePath string
	file     *os.File
	writer   *csv.Writer
	mu       sync.Mutex
	buffered *buffered.Writer
	logger   *slog.Logger
}

// Config holds configuration for the CSV writer.
type Config struct {
	// FilePath is the path to the CSV output file.
	FilePath string
	// BatchSize is the number of vouchers to buffer before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	FlushInterval int // seconds
}

// New creates a new CSV writer, appending to FilePath.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}

	w := &Writer{
		filePath: cfg.FilePath,
		file:     file,
		writer:   csv.NewWriter(file),
		logger:   logger,
	}

	stat, err := file.Stat()
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return nil, fmt.Errorf("stat csv file: %w (close error: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("stat csv file: %w", err)
	}

	if stat.Size() == 0 {
		if err := w.writeHeaders(); err != nil {
			if closeErr := file.Close(); closeErr != nil {
				return nil, fmt.Errorf("writing headers: %w (close error: %w)", err, closeErr)
			}
			return nil, fmt.Errorf("writing headers: %w", err)
		}
	}

	bufCfg := buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}
	w.buffered = buffered.New(w.flushBatch, bufCfg, logger.With("component", "csv_buffer"))

	logger.Info("csv writer initialized", "file", cfg.FilePath)
	return w, nil
}

func (w *Writer) writeHeaders() error {
	if err := w.writer.Write(Headers); err != nil {
		return err
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Write consumes vouchers from the input channel and writes them to CSV.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Voucher, ackChan chan<- string) error {
	defer w.Close()
	return w.buffered.Write(ctx, in, ackChan)
}

// Rows flattens v into CSV records.
func Rows(v *api.Voucher) [][]string {
	rows := make([][]string, 0, len(v.Entries))
	for _, e := range v.Entries {
		rows = append(rows, []string{
			v.TransactionDate(),
			v.Series,
			v.Description,
			e.Account,
			money.Format(e.Debit),
			money.Format(e.Credit),
			v.Rule,
			v.MessageID,
		})
	}
	return rows
}

func (w *Writer) flushBatch(_ context.Context, vouchers []*api.Voucher) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, v := range vouchers {
		if err := w.writer.WriteAll(Rows(v)); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	w.logger.Debug("wrote vouchers to csv", "count", len(vouchers))
	return nil
}

// Close closes the CSV file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.writer.Flush()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}

	w.logger.Info("csv writer closed", "file", w.filePath)
	return nil
}
