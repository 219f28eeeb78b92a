// Package kleer books vouchers in the Kleer ledger.
package kleer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/gabriel-vasile/mimetype"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
	"github.com/ArionMiles/mailvoucher/pkg/money"
)

// DefaultBaseURL is the Kleer REST API root.
const DefaultBaseURL = "https://api.kleer.se/v1"

// APIError is a non-2xx answer from Kleer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("kleer: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("kleer: HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed when repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Row is one voucher row. Kleer accepts the account number as a string.
type Row struct {
	AccountNumber string      `json:"accountNumber"`
	Debit         json.Number `json:"debit"`
	Credit        json.Number `json:"credit"`
}

// Voucher is the Kleer voucher resource.
type Voucher struct {
	Description     string   `json:"description"`
	SeriesID        string   `json:"seriesId"`
	TransactionDate string   `json:"transactionDate"`
	Rows            []Row    `json:"rows"`
	AttachmentIDs   []string `json:"attachmentIds,omitempty"`
}

// Created identifies a booked voucher.
type Created struct {
	ID     string
	Number string
}

// NewVoucher converts v to the Kleer wire form.
func NewVoucher(v *api.Voucher) (Voucher, error) {
	out := Voucher{
		Description:     v.Description,
		SeriesID:        v.Series,
		TransactionDate: v.TransactionDate(),
		Rows:            make([]Row, 0, len(v.Entries)),
	}
	for i, e := range v.Entries {
		account := strings.TrimSpace(e.Account)
		if account == "" {
			return Voucher{}, fmt.Errorf("entry %d: account is empty", i)
		}
		out.Rows = append(out.Rows, Row{
			AccountNumber: account,
			Debit:         json.Number(money.Format(e.Debit)),
			Credit:        json.Number(money.Format(e.Credit)),
		})
	}
	return out, nil
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	// RetryAttempts bounds attempts per request. Vouchers are retried on 429
	// only, attachments on 429/5xx. Defaults to 3.
	RetryAttempts uint
	// RetryDelay is the initial backoff. Defaults to 2s.
	RetryDelay time.Duration
}

// Client talks to the Kleer API over an authorized HTTP client.
type Client struct {
	http     *http.Client
	baseURL  string
	attempts uint
	delay    time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewClient returns a client. httpClient must add the bearer token.
func NewClient(httpClient *http.Client, cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		attempts: cfg.RetryAttempts,
		delay:    cfg.RetryDelay,
		metrics:  m,
		logger:   logger.With("component", "kleer"),
	}
}

// CreateVoucher books v.
func (c *Client) CreateVoucher(ctx context.Context, v Voucher) (*Created, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding voucher: %w", err)
	}

	var resp struct {
		ID     json.RawMessage `json:"id"`
		Number json.RawMessage `json:"number"`
	}
	rateLimited := func(e *APIError) bool { return e.StatusCode == http.StatusTooManyRequests }
	if err := c.do(ctx, "vouchers", rateLimited, "/vouchers", "application/json", body, &resp); err != nil {
		return nil, err
	}
	return &Created{ID: scalar(resp.ID), Number: scalar(resp.Number)}, nil
}

// UploadAttachment uploads a file and returns its attachment ID.
func (c *Client) UploadAttachment(ctx context.Context, a *api.Attachment) (string, error) {
	contentType := a.ContentType
	if contentType == "" {
		contentType = mimetype.Detect(a.Data).String()
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, a.Name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return "", fmt.Errorf("writing attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}

	var resp struct {
		ID json.RawMessage `json:"id"`
	}
	if err := c.do(ctx, "attachments", (*APIError).Temporary, "/attachments", mw.FormDataContentType(), buf.Bytes(), &resp); err != nil {
		return "", err
	}
	id := scalar(resp.ID)
	if id == "" {
		return "", errors.New("kleer: attachment response has no id")
	}
	return id, nil
}

// scalar renders a JSON string or number as text.
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func (c *Client) do(ctx context.Context, endpoint string, retryable func(*APIError) bool, path, contentType string, body []byte, out any) error {
	return retry.Do(
		func() error {
			return c.once(ctx, endpoint, path, contentType, body, out)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var apiErr *APIError
			return errors.As(err, &apiErr) && retryable(apiErr)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("kleer request failed, retrying", "endpoint", endpoint, "attempt", n+1, "error", err)
		}),
	)
}

func (c *Client) once(ctx context.Context, endpoint, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	c.metrics.LedgerDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.LedgerRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("kleer %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.LedgerRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading kleer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var info struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(data, &info) == nil {
			apiErr.Message = info.Message
			if apiErr.Message == "" {
				apiErr.Message = info.Error
			}
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding kleer %s response: %w", endpoint, err)
	}
	return nil
}
