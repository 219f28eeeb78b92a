package kleer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/logging"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
)

type fakeKleer struct {
	mu               sync.Mutex
	vouchers         []map[string]any
	uploads          []string
	voucherErrors    []int
	attachmentStatus int
}

func (f *fakeKleer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/v1/vouchers":
		if len(f.voucherErrors) > 0 {
			code := f.voucherErrors[0]
			f.voucherErrors = f.voucherErrors[1:]
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"message":"account 9999 does not exist"}`))
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.vouchers = append(f.vouchers, body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"v-123","number":17}`))
	case "/v1/attachments":
		if f.attachmentStatus != 0 {
			w.WriteHeader(f.attachmentStatus)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		f.uploads = append(f.uploads, header.Filename+"|"+header.Header.Get("Content-Type")+"|"+string(data))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"att-9"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestWriter(t *testing.T, fake *fakeKleer) (*Writer, *metrics.Metrics) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}))
	m := metrics.NewNop()
	c := NewClient(httpClient, ClientConfig{BaseURL: srv.URL + "/v1/", RetryDelay: time.Millisecond}, m, logging.Discard())
	return NewWriter(c, m, logging.Discard()), m
}

func hostingVoucher() *api.Voucher {
	return &api.Voucher{
		Description: "Hosting",
		Series:      "F",
		Date:        time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC),
		Rule:        "Hosting invoice",
		MessageID:   "msg-2",
		Entries: []api.Entry{
			{Account: "6230", Debit: decimal.RequireFromString("100")},
			{Account: "2641", Debit: decimal.RequireFromString("25")},
			{Account: "2440", Credit: decimal.RequireFromString("125")},
		},
	}
}

func TestNewVoucher_Payload(t *testing.T) {
	payload, err := NewVoucher(hostingVoucher())
	require.NoError(t, err)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"description":"Hosting",
		"seriesId":"F",
		"transactionDate":"2026-07-01",
		"rows":[
			{"accountNumber":"6230","debit":100.00,"credit":0.00},
			{"accountNumber":"2641","debit":25.00,"credit":0.00},
			{"accountNumber":"2440","debit":0.00,"credit":125.00}
		]}`, string(data))
	assert.Contains(t, string(data), `"debit":100.00`)
	assert.NotContains(t, string(data), "attachmentIds")
}

func TestNewVoucher_EmptyAccount(t *testing.T) {
	v := hostingVoucher()
	v.Entries[2].Account = " "
	_, err := NewVoucher(v)
	assert.ErrorContains(t, err, "entry 2")
}

func TestWriter_BooksAndAcks(t *testing.T) {
	fake := &fakeKleer{}
	w, m := newTestWriter(t, fake)

	in := make(chan *api.Voucher, 1)
	ack := make(chan string, 1)
	in <- hostingVoucher()
	close(in)

	require.NoError(t, w.Write(context.Background(), in, ack))
	assert.Equal(t, "msg-2", <-ack)
	require.Len(t, fake.vouchers, 1)
	assert.Equal(t, "2026-07-01", fake.vouchers[0]["transactionDate"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerRequests.WithLabelValues("vouchers", "201")))
}

func TestWriter_AttachmentReferencedInVoucher(t *testing.T) {
	fake := &fakeKleer{}
	w, _ := newTestWriter(t, fake)

	v := hostingVoucher()
	v.Attachment = &api.Attachment{Name: "Invoice.html", Data: []byte("<html><body>Invoice</body></html>")}

	created, err := w.Book(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, &Created{ID: "v-123", Number: "17"}, created)

	require.Len(t, fake.uploads, 1)
	assert.Equal(t, "Invoice.html|text/html; charset=utf-8|<html><body>Invoice</body></html>", fake.uploads[0])
	require.Len(t, fake.vouchers, 1)
	assert.Equal(t, []any{"att-9"}, fake.vouchers[0]["attachmentIds"])
}

func TestWriter_UploadFailureStillBooks(t *testing.T) {
	fake := &fakeKleer{attachmentStatus: http.StatusServiceUnavailable}
	w, m := newTestWriter(t, fake)

	v := hostingVoucher()
	v.Attachment = &api.Attachment{Name: "i.html", ContentType: "text/html", Data: []byte("<p>i</p>")}

	_, err := w.Book(context.Background(), v)
	require.NoError(t, err)
	require.Len(t, fake.vouchers, 1)
	assert.NotContains(t, fake.vouchers[0], "attachmentIds")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LedgerRequests.WithLabelValues("attachments", "503")))
}

func TestWriter_VoucherRetries(t *testing.T) {
	t.Run("rate limit is retried", func(t *testing.T) {
		fake := &fakeKleer{voucherErrors: []int{http.StatusTooManyRequests}}
		w, _ := newTestWriter(t, fake)

		_, err := w.Book(context.Background(), hostingVoucher())
		require.NoError(t, err)
		assert.Len(t, fake.vouchers, 1)
	})

	t.Run("server error is not retried", func(t *testing.T) {
		fake := &fakeKleer{voucherErrors: []int{http.StatusGatewayTimeout}}
		w, m := newTestWriter(t, fake)

		_, err := w.Book(context.Background(), hostingVoucher())
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusGatewayTimeout, apiErr.StatusCode)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerRequests.WithLabelValues("vouchers", "504")))
	})
}

func TestWriter_RejectedVoucherIsNotAcked(t *testing.T) {
	fake := &fakeKleer{voucherErrors: []int{http.StatusBadRequest}}
	w, m := newTestWriter(t, fake)

	in := make(chan *api.Voucher, 1)
	ack := make(chan string, 1)
	in <- hostingVoucher()
	close(in)

	require.NoError(t, w.Write(context.Background(), in, ack))
	assert.Empty(t, ack)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(metrics.KindWrite)))
}

func TestAPIError_Message(t *testing.T) {
	fake := &fakeKleer{voucherErrors: []int{http.StatusBadRequest}}
	w, _ := newTestWriter(t, fake)

	_, err := w.Book(context.Background(), hostingVoucher())
	assert.ErrorContains(t, err, "kleer: HTTP 400: account 9999 does not exist")
}
