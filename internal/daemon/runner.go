// Package daemon provides the core daemon runner for mailvoucher.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ArionMiles/mailvoucher/internal/plugins"
	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
)

const channelSize = 100

// Config selects the plugins and processing options for one run.
type Config struct {
	ReaderPlugin string
	ReaderConfig json.RawMessage
	WriterPlugin string
	WriterConfig json.RawMessage

	Rules []api.Rule
	// IgnoreProcessed disables the store check.
	IgnoreProcessed bool
	// DryRun leaves the store untouched.
	DryRun bool
}

// Runner manages the mailvoucher daemon lifecycle.
type Runner struct {
	registry   *plugins.Registry
	httpClient *http.Client
	store      api.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a new daemon runner. httpClient carries the Google
// credentials and may be nil when no plugin needs them.
func New(registry *plugins.Registry, httpClient *http.Client, store api.Store, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		registry:   registry,
		httpClient: httpClient,
		store:      store,
		metrics:    m,
		logger:     logger,
	}
}

// Run wires reader, processor and writer together. It blocks until the
// reader is exhausted and every voucher is written, or ctx is canceled.
func (r *Runner) Run(ctx context.Context, cfg Config) (Stats, error) {
	if cfg.ReaderPlugin == "" {
		return Stats{}, errors.New("MAILVOUCHER_READER is required")
	}
	if cfg.WriterPlugin == "" {
		return Stats{}, errors.New("MAILVOUCHER_WRITER is required")
	}

	r.logger.Info("starting mailvoucher daemon",
		"reader", cfg.ReaderPlugin,
		"writer", cfg.WriterPlugin,
		"rules", len(cfg.Rules),
		"dry_run", cfg.DryRun,
	)

	reader, err := r.registry.CreateReader(ctx,
		cfg.ReaderPlugin,
		r.httpClient,
		cfg.ReaderConfig,
		r.logger.With("component", "reader", "plugin", cfg.ReaderPlugin),
	)
	if err != nil {
		return Stats{}, fmt.Errorf("creating reader: %w", err)
	}

	writer, err := r.registry.CreateWriter(ctx,
		cfg.WriterPlugin,
		r.httpClient,
		cfg.WriterConfig,
		r.logger.With("component", "writer", "plugin", cfg.WriterPlugin),
	)
	if err != nil {
		return Stats{}, fmt.Errorf("creating writer: %w", err)
	}
	defer closeWriter(writer, r.logger)

	processor := NewProcessor(ProcessorConfig{
		Rules:         cfg.Rules,
		Store:         r.store,
		IgnoreHandled: cfg.IgnoreProcessed,
	}, r.metrics, r.logger.With("component", "processor"))

	err = r.pipe(ctx, reader, processor, writer, cfg.DryRun)
	stats := processor.Stats()
	r.logger.Info("daemon stopped",
		"emails", stats.Emails,
		"vouchers", stats.Vouchers,
		"no_match", stats.NoMatch,
		"already_handled", stats.Handled,
		"failed", stats.Failed,
	)
	return stats, err
}

// pipe runs reader -> processor -> writer. Acknowledgments from the writer
// are recorded in the store and then forwarded to the reader.
func (r *Runner) pipe(ctx context.Context, reader api.Reader, processor *Processor, writer api.Writer, dryRun bool) error {
	emails := make(chan *api.Email, channelSize)
	vouchers := make(chan *api.Voucher, channelSize)
	writerAcks := make(chan string, channelSize)
	readerAcks := make(chan string, channelSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var readErr, processErr, writeErr error

	wg.Add(4)
	go func() {
		defer wg.Done()
		readErr = reader.Read(ctx, emails, readerAcks)
	}()
	go func() {
		defer wg.Done()
		processErr = processor.Run(ctx, emails, vouchers)
	}()
	go func() {
		defer wg.Done()
		defer close(writerAcks)
		writeErr = writer.Write(ctx, vouchers, writerAcks)
		if writeErr != nil {
			// Nothing drains vouchers any more.
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		defer close(readerAcks)
		r.acknowledge(ctx, writerAcks, readerAcks, dryRun)
	}()

	r.logger.Info("daemon started")
	wg.Wait()

	var errs []error
	for _, e := range []struct {
		name string
		err  error
	}{{"reader", readErr}, {"processor", processErr}, {"writer", writeErr}} {
		if e.err != nil && !errors.Is(e.err, context.Canceled) {
			r.logger.Error(e.name+" error", "error", e.err)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, e.err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) acknowledge(ctx context.Context, in <-chan string, out chan<- string, dryRun bool) {
	// The writer flushes after cancellation, so its acks must still be stored.
	storeCtx := context.WithoutCancel(ctx)
	for id := range in {
		if !dryRun && r.store != nil {
			if err := r.store.MarkProcessed(storeCtx, id); err != nil {
				r.metrics.Errors.WithLabelValues(metrics.KindStore).Inc()
				r.logger.Error("failed to record processed message", "message_id", id, "error", err)
			}
		}
		select {
		case out <- id:
		case <-ctx.Done():
		}
	}
}

func closeWriter(w api.Writer, logger *slog.Logger) {
	switch c := w.(type) {
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			logger.Warn("closing writer", "error", err)
		}
	case interface{ Close() }:
		c.Close()
	}
}
