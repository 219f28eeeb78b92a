// Package fortnox books vouchers in the Fortnox ledger.
package fortnox

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
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
	"github.com/ArionMiles/mailvoucher/pkg/money"
)

// DefaultBaseURL is the Fortnox REST API root.
const DefaultBaseURL = "https://api.fortnox.se/3"

// APIError is a non-2xx answer from Fortnox.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("fortnox: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("fortnox: HTTP %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
}

// Temporary reports whether the request may succeed when repeated.
func (e *APIError) Temporary() bool {
	return e.RateLimited() || e.StatusCode >= http.StatusInternalServerError
}

// RateLimited reports whether Fortnox refused the request before handling it.
func (e *APIError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// Amount renders a decimal as a JSON number with two decimals.
type Amount decimal.Decimal

// MarshalJSON implements json.Marshaler.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(money.Format(decimal.Decimal(a))), nil
}

// VoucherRow is one row of a Fortnox voucher.
type VoucherRow struct {
	Account int    `json:"Account"`
	Debit   Amount `json:"Debit"`
	Credit  Amount `json:"Credit"`
}

// Voucher is the Fortnox voucher resource.
type Voucher struct {
	Description     string       `json:"Description"`
	VoucherSeries   string       `json:"VoucherSeries"`
	TransactionDate string       `json:"TransactionDate"`
	VoucherRows     []VoucherRow `json:"VoucherRows"`
}

// Created identifies a booked voucher.
type Created struct {
	VoucherNumber int    `json:"VoucherNumber"`
	VoucherSeries string `json:"VoucherSeries"`
	Year          int    `json:"Year"`
}

// NewVoucher converts v to the Fortnox wire form. Fortnox account numbers
// are integers.
func NewVoucher(v *api.Voucher) (Voucher, error) {
	out := Voucher{
		Description:     v.Description,
		VoucherSeries:   v.Series,
		TransactionDate: v.TransactionDate(),
		VoucherRows:     make([]VoucherRow, 0, len(v.Entries)),
	}
	for i, e := range v.Entries {
		account, err := strconv.Atoi(strings.TrimSpace(e.Account))
		if err != nil {
			return Voucher{}, fmt.Errorf("entry %d: account %q is not a number", i, e.Account)
		}
		out.VoucherRows = append(out.VoucherRows, VoucherRow{
			Account: account,
			Debit:   Amount(e.Debit),
			Credit:  Amount(e.Credit),
		})
	}
	return out, nil
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	// RetryAttempts bounds attempts per request. Vouchers are retried on 429 only,
	// other endpoints on 429/5xx. Defaults to 3.
	RetryAttempts uint
	// RetryDelay is the initial backoff. Defaults to 2s.
	RetryDelay time.Duration
}

// Client talks to the Fortnox API over an authorized HTTP client.
type Client struct {
	http     *http.Client
	baseURL  string
	attempts uint
	delay    time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewClient returns a client. httpClient must add the bearer token, e.g. one
// returned by client.NewWithConfig.
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
		logger:   logger,
	}
}

// CreateVoucher books v.
func (c *Client) CreateVoucher(ctx context.Context, v Voucher) (*Created, error) {
	body, err := json.Marshal(map[string]Voucher{"Voucher": v})
	if err != nil {
		return nil, fmt.Errorf("encoding voucher: %w", err)
	}

	var resp struct {
		Voucher Created `json:"Voucher"`
	}
	// A 5xx may come after the voucher was booked, so only rate limiting is retried.
	if err := c.do(ctx, "vouchers", (*APIError).RateLimited, http.MethodPost, "/vouchers", "application/json", body, &resp); err != nil {
		return nil, err
	}
	return &resp.Voucher, nil
}

// UploadAttachment stores a file in the Fortnox archive and returns its file ID.
// The content type is sniffed when the attachment has none.
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
		File struct {
			ID string `json:"Id"`
		} `json:"File"`
		FileID string `json:"FileId"`
	}
	if err := c.do(ctx, "archive", (*APIError).Temporary, http.MethodPost, "/archive", mw.FormDataContentType(), buf.Bytes(), &resp); err != nil {
		return "", err
	}

	id := resp.File.ID
	if id == "" {
		id = resp.FileID
	}
	if id == "" {
		return "", errors.New("fortnox: archive response has no file id")
	}
	return id, nil
}

// ConnectAttachment links an archived file to a booked voucher.
func (c *Client) ConnectAttachment(ctx context.Context, fileID string, v *Created) error {
	body, err := json.Marshal(map[string]any{
		"VoucherFileConnection": map[string]any{
			"FileId":        fileID,
			"VoucherNumber": strconv.Itoa(v.VoucherNumber),
			"VoucherSeries": v.VoucherSeries,
		},
	})
	if err != nil {
		return fmt.Errorf("encoding file connection: %w", err)
	}
	return c.do(ctx, "voucherfileconnections", (*APIError).Temporary, http.MethodPost, "/voucherfileconnections", "application/json", body, nil)
}

func (c *Client) do(ctx context.Context, endpoint string, retryable func(*APIError) bool, method, path, contentType string, body []byte, out any) error {
	return retry.Do(
		func() error {
			return c.once(ctx, endpoint, method, path, contentType, body, out)
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
			c.logger.Warn("fortnox request failed, retrying", "endpoint", endpoint, "attempt", n+1, "error", err)
		}),
	)
}

func (c *Client) once(ctx context.Context, endpoint, method, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
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
		return fmt.Errorf("fortnox %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.LedgerRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading fortnox response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var info struct {
			ErrorInformation struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"ErrorInformation"`
		}
		if json.Unmarshal(data, &info) == nil {
			apiErr.Code = info.ErrorInformation.Code
			apiErr.Message = info.ErrorInformation.Message
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding fortnox %s response: %w", endpoint, err)
	}
	return nil
}
