// Package metrics holds the Prometheus instruments of the processing pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Email outcomes.
const (
	OutcomeVoucher   = "voucher"
	OutcomeNoMatch   = "no_match"
	OutcomeHandled   = "already_handled"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

// Error kinds.
const (
	KindFormula = "formula"
	KindBalance = "balance"
	KindStore   = "store"
	KindWrite   = "write"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	Emails             *prometheus.CounterVec
	Vouchers           *prometheus.CounterVec
	ExtractionDefaults *prometheus.CounterVec
	Errors             *prometheus.CounterVec
	LedgerRequests     *prometheus.CounterVec
	LedgerDuration     prometheus.Histogram
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Emails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailvoucher_emails_total",
			Help: "Emails seen by the processor, by outcome",
		}, []string{"outcome"}),
		Vouchers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailvoucher_vouchers_total",
			Help: "Vouchers built, by rule",
		}, []string{"rule"}),
		ExtractionDefaults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailvoucher_extraction_defaults_total",
			Help: "Variables that fell back to their configured default",
		}, []string{"rule", "variable"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailvoucher_errors_total",
			Help: "Processing errors by kind",
		}, []string{"kind"}),
		LedgerRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mailvoucher_ledger_requests_total",
			Help: "Requests sent to the ledger API, by endpoint and status code",
		}, []string{"endpoint", "code"}),
		LedgerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailvoucher_ledger_request_duration_seconds",
			Help:    "Duration of ledger API requests",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// NewNop returns metrics registered on a private registry, for callers that
// do not export them.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
