// Package buffered provides a buffered writer base for batch writes.
package buffered

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/mailvoucher/pkg/api"
)

// DefaultBatchSize is the default number of vouchers to buffer before flushing.
const DefaultBatchSize = 10

// DefaultFlushInterval is the default interval between automatic flushes.
const DefaultFlushInterval = 30 * time.Second

// Flusher is called when the buffer needs to be flushed. A batch is only
// acknowledged when the flusher returns nil.
type Flusher func(ctx context.Context, vouchers []*api.Voucher) error

// Config holds configuration for buffered writing.
type Config struct {
	// BatchSize is the number of vouchers to buffer before flushing.
	// Defaults to DefaultBatchSize.
	BatchSize int
	// FlushInterval is the interval between automatic flushes.
	// Defaults to DefaultFlushInterval.
	FlushInterval time.Duration
}

// Writer buffers vouchers and flushes them in batches.
type Writer struct {
	buffer  []*api.Voucher
	mu      sync.Mutex
	flusher Flusher
	config  Config
	logger  *slog.Logger
}

// New creates a new buffered writer with the given flusher function.
func New(flusher Flusher, cfg Config, logger *slog.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Writer{
		buffer:  make([]*api.Voucher, 0, cfg.BatchSize),
		flusher: flusher,
		config:  cfg,
		logger:  logger,
	}
}

// Write consumes vouchers from in and buffers them for batch writes. Message
// IDs of flushed vouchers are sent to ackChan, which may be nil.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Voucher, ackChan chan<- string) error {
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	w.logger.Info("buffered writer started",
		"batch_size", w.config.BatchSize,
		"flush_interval", w.config.FlushInterval,
	)

	for {
		select {
		case <-ctx.Done():
			return w.handleShutdown(ackChan)
		case <-ticker.C:
			if err := w.flush(ctx, ackChan); err != nil {
				w.logger.Error("failed to flush on interval", "error", err)
			}
		case v, ok := <-in:
			if !ok {
				w.logger.Info("input channel closed, flushing remaining buffer")
				if err := w.flush(ctx, ackChan); err != nil {
					w.logger.Error("failed to flush on close", "error", err)
					return err
				}
				return nil
			}
			if w.add(v) {
				if err := w.flush(ctx, ackChan); err != nil {
					w.logger.Error("failed to flush on batch size", "error", err)
				}
			}
		}
	}
}

func (w *Writer) handleShutdown(ackChan chan<- string) error {
	w.logger.Info("buffered writer stopping, flushing remaining buffer")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.flush(ctx, ackChan); err != nil {
		w.logger.Error("failed to flush on shutdown", "error", err)
	}
	return context.Canceled
}

// add buffers v and reports whether the batch is full.
func (w *Writer) add(v *api.Voucher) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, v)
	return len(w.buffer) >= w.config.BatchSize
}

// flush writes all buffered vouchers using the flusher function. A failed
// batch is dropped from the buffer; its messages stay unacknowledged and are
// picked up again on the next run.
func (w *Writer) flush(ctx context.Context, ackChan chan<- string) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}

	toFlush := make([]*api.Voucher, len(w.buffer))
	copy(toFlush, w.buffer)
	w.buffer = w.buffer[:0]
	w.mu.Unlock()

	w.logger.Debug("flushing buffer", "count", len(toFlush))

	if err := w.flusher(ctx, toFlush); err != nil {
		return err
	}

	w.logger.Info("flushed vouchers", "count", len(toFlush))
	Ack(ctx, ackChan, toFlush, w.logger)
	return nil
}

// BufferLen returns the current number of buffered vouchers.
func (w *Writer) BufferLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Ack sends the message IDs of vouchers to ackChan. When ctx is done the
// remaining acknowledgments are dropped.
func Ack(ctx context.Context, ackChan chan<- string, vouchers []*api.Voucher, logger *slog.Logger) {
	if ackChan == nil {
		return
	}
	for _, v := range vouchers {
		if v.MessageID == "" {
			continue
		}
		select {
		case ackChan <- v.MessageID:
		case <-ctx.Done():
			logger.Warn("dropping acknowledgment", "message_id", v.MessageID)
			return
		}
	}
}
