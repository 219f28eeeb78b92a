package fortnox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
)

// Writer books each voucher as it arrives and acknowledges it once Fortnox
// has accepted it.
type Writer struct {
	client  *Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewWriter returns a Writer using c.
func NewWriter(c *Client, m *metrics.Metrics, logger *slog.Logger) *Writer {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{client: c, metrics: m, logger: logger}
}

// Write implements api.Writer. A voucher Fortnox rejects is logged and left
// unacknowledged so it is tried again on the next run.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Voucher, ackChan chan<- string) error {
	w.logger.Info("fortnox writer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-in:
			if !ok {
				return nil
			}
			created, err := w.Book(ctx, v)
			if err != nil {
				w.metrics.Errors.WithLabelValues(metrics.KindWrite).Inc()
				w.logger.Error("failed to book voucher",
					"rule", v.Rule,
					"message_id", v.MessageID,
					"error", err,
				)
				continue
			}
			w.logger.Info("voucher booked",
				"voucher", fmt.Sprintf("%s%d", created.VoucherSeries, created.VoucherNumber),
				"rule", v.Rule,
				"message_id", v.MessageID,
			)
			if v.MessageID != "" && ackChan != nil {
				select {
				case ackChan <- v.MessageID:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Book uploads the attachment (if any), creates the voucher and links the
// two. Attachment failures do not stop the voucher from being booked.
func (w *Writer) Book(ctx context.Context, v *api.Voucher) (*Created, error) {
	payload, err := NewVoucher(v)
	if err != nil {
		return nil, err
	}

	var fileID string
	if v.Attachment != nil && len(v.Attachment.Data) > 0 {
		fileID, err = w.client.UploadAttachment(ctx, v.Attachment)
		if err != nil {
			w.logger.Warn("attachment upload failed, booking voucher without it",
				"message_id", v.MessageID,
				"attachment", v.Attachment.Name,
				"error", err,
			)
			fileID = ""
		}
	}

	created, err := w.client.CreateVoucher(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("creating voucher: %w", err)
	}

	if fileID != "" {
		if err := w.client.ConnectAttachment(ctx, fileID, created); err != nil {
			w.logger.Warn("voucher booked but attachment could not be linked",
				"voucher_number", created.VoucherNumber,
				"file_id", fileID,
				"error", err,
			)
		}
	}
	return created, nil
}
