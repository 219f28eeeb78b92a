package kleer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
)

// Writer books each voucher as it arrives and acknowledges it once Kleer has
// accepted it.
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

// Write implements api.Writer. Rejected vouchers stay unacknowledged.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Voucher, ackChan chan<- string) error {
	w.logger.Info("kleer writer started")
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
				w.logger.Error("failed to book voucher", "rule", v.Rule, "message_id", v.MessageID, "error", err)
				continue
			}
			w.logger.Info("voucher booked", "voucher_id", created.ID, "number", created.Number, "message_id", v.MessageID)
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

// Book uploads the attachment (if any) and creates the voucher referencing it.
// Kleer links attachments in the voucher request itself, so an upload failure
// only drops the reference.
func (w *Writer) Book(ctx context.Context, v *api.Voucher) (*Created, error) {
	payload, err := NewVoucher(v)
	if err != nil {
		return nil, err
	}

	if v.Attachment != nil && len(v.Attachment.Data) > 0 {
		id, err := w.client.UploadAttachment(ctx, v.Attachment)
		if err != nil {
			w.logger.Warn("attachment upload failed, booking voucher without it",
				"message_id", v.MessageID,
				"attachment", v.Attachment.Name,
				"error", err,
			)
		} else {
			payload.AttachmentIDs = []string{id}
		}
	}

	created, err := w.client.CreateVoucher(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("creating voucher: %w", err)
	}
	return created, nil
}
