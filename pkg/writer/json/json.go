// Package json implements a Writer that keeps a voucher journal in a JSON file.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/money"
	"github.com/ArionMiles/mailvoucher/pkg/writer/buffered"
)

// Record is the journal form of a voucher.
type Record struct {
	MessageID   string        `json:"message_id,omitempty"`
	Rule        string        `json:"rule,omitempty"`
	Date        string        `json:"date"`
	Series      string        `json:"series"`
	Description string        `json:"description"`
	Entries     []RecordEntry `json:"entries"`
	Attachment  string        `json:"attachment,omitempty"`
}

// RecordEntry is one journal row. Amounts have exactly two decimals.
type RecordEntry struct {
	Account string `json:"account"`
	Debit   string `json:"debit"`
	Credit  string `json:"credit"`
}

// NewRecord converts v to its journal form.
func NewRecord(v *api.Voucher) Record {
	r := Record{
		MessageID:   v.MessageID,
		Rule:        v.Rule,
		Date:        v.TransactionDate(),
		Series:      v.Series,
		Description: v.Description,
		Entries:     make([]RecordEntry, 0, len(v.Entries)),
	}
	for _, e := range v.Entries {
		r.Entries = append(r.Entries, RecordEntry{
			Account: e.Account,
			Debit:   money.Format(e.Debit),
			Credit:  money.Format(e.Credit),
		})
	}
	if v.Attachment != nil {
		r.Attachment = v.Attachment.Name
	}
	return r
}

// Writer writes vouchers to a JSON file with buffered batching.
type Writer struct {
	filePath string
	records  []Record
	mu       sync.Mutex
	buffered *buffered.Writer
	logger   *slog.Logger
}

// Config holds configuration for the JSON writer.
type Config struct {
	// FilePath is the path to the JSON output file.
	FilePath string
	// BatchSize is the number of vouchers to buffer before writing.
	BatchSize int
	// FlushInterval is the interval between automatic flushes (seconds).
	FlushInterval int
}

// New creates a new JSON writer. Existing records in the file are kept.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file path is required")
	}

	w := &Writer{
		filePath: cfg.FilePath,
		records:  make([]Record, 0),
		logger:   logger,
	}

	if err := w.loadExisting(); err != nil {
		logger.Warn("could not load existing vouchers", "error", err)
	}

	bufCfg := buffered.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}
	w.buffered = buffered.New(w.flushBatch, bufCfg, logger.With("component", "json_buffer"))

	logger.Info("json writer initialized", "file", cfg.FilePath, "existing_count", len(w.records))
	return w, nil
}

func (w *Writer) loadExisting() error {
	data, err := os.ReadFile(w.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if len(data) == 0 {
		return nil
	}

	return json.Unmarshal(data, &w.records)
}

// Write consumes vouchers from the input channel and writes them to JSON.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Voucher, ackChan chan<- string) error {
	return w.buffered.Write(ctx, in, ackChan)
}

// flushBatch appends a batch and rewrites the whole file.
func (w *Writer) flushBatch(_ context.Context, vouchers []*api.Voucher) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := w.records
	for _, v := range vouchers {
		next = append(next, NewRecord(v))
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	if dir := filepath.Dir(w.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := os.WriteFile(w.filePath, data, 0o600); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}
	w.records = next

	w.logger.Debug("wrote vouchers to json",
		"batch_count", len(vouchers),
		"total_count", len(w.records),
	)
	return nil
}

// Count returns the number of vouchers in the journal.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}
