package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/logging"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

type fakeGmail struct {
	mu       sync.Mutex
	queries  []string
	results  map[string][]string
	messages map[string]*gmail.Message
	modified []string
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/gmail/v1/users/me/messages"
	path := strings.TrimPrefix(r.URL.Path, prefix)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case path == "" && r.Method == http.MethodGet:
		q := r.URL.Query().Get("q")
		f.queries = append(f.queries, q)
		var resp gmail.ListMessagesResponse
		for key, ids := range f.results {
			if strings.Contains(q, key) {
				for _, id := range ids {
					resp.Messages = append(resp.Messages, &gmail.Message{Id: id})
				}
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	case strings.HasSuffix(path, "/modify"):
		f.modified = append(f.modified, strings.Trim(strings.TrimSuffix(path, "/modify"), "/"))
		_ = json.NewEncoder(w).Encode(gmail.Message{})
	case strings.Contains(path, "/attachments/"):
		_ = json.NewEncoder(w).Encode(gmail.MessagePartBody{Data: b64("%PDF-1.4 receipt")})
	default:
		msg, ok := f.messages[strings.Trim(path, "/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(msg)
	}
}

func appleMessage() *gmail.Message {
	return &gmail.Message{
		Id:           "m1",
		InternalDate: time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC).UnixMilli(),
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "Apple <no_reply@email.apple.com>"},
				{Name: "Subject", Value: "=?UTF-8?Q?Ditt_kvitto_fr=C3=A5n_Apple?="},
				{Name: "Date", Value: "Mon, 01 Jun 2026 10:15:00 +0000"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "text/plain",
							Headers:  []*gmail.MessagePartHeader{{Name: "Content-Type", Value: "text/plain; charset=iso-8859-1"}},
							Body:     &gmail.MessagePartBody{Data: b64("M\xe5nadsavgift 399,00 kr iCloud+")},
						},
						{
							MimeType: "text/html",
							Body:     &gmail.MessagePartBody{Data: b64("<p>Total <b>399,00 kr</b></p>")},
						},
					},
				},
				{
					MimeType: "application/pdf",
					Filename: "receipt.pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "a1"},
				},
			},
		},
	}
}

func newTestReader(t *testing.T, fake *fakeGmail, cfg Config) *Reader {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	r, err := New(srv.Client(), cfg, logging.Discard(), option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication())
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC) }
	return r
}

func testRules() []api.Rule {
	return []api.Rule{
		{Name: "Apple iCloud", Enabled: true, Sender: "apple.com"},
		{Name: "Apple receipts", Enabled: true, Subject: "kvitto"},
		{Name: "Everything", Enabled: true},
	}
}

func collect(t *testing.T, r *Reader, acks []string) []*api.Email {
	t.Helper()
	out := make(chan *api.Email, 10)
	ackChan := make(chan string, len(acks))
	for _, id := range acks {
		ackChan <- id
	}
	close(ackChan)

	require.NoError(t, r.Read(context.Background(), out, ackChan))
	var emails []*api.Email
	for e := range out {
		emails = append(emails, e)
	}
	return emails
}

func TestRead_SinglePass(t *testing.T) {
	fake := &fakeGmail{
		results:  map[string][]string{"apple.com": {"m1"}, "kvitto": {"m1"}},
		messages: map[string]*gmail.Message{"m1": appleMessage()},
	}
	r := newTestReader(t, fake, Config{Rules: testRules(), MarkRead: true})

	emails := collect(t, r, []string{"m1"})
	require.Len(t, emails, 1, "message found by two queries is emitted once")

	e := emails[0]
	assert.Equal(t, "m1", e.ID)
	assert.Equal(t, "Apple <no_reply@email.apple.com>", e.Sender)
	assert.Equal(t, "Ditt kvitto från Apple", e.Subject)
	assert.Equal(t, "Månadsavgift 399,00 kr iCloud+", e.BodyPlain)
	assert.Equal(t, "<p>Total <b>399,00 kr</b></p>", e.BodyHTML)
	assert.True(t, e.Date.Equal(time.Date(2026, 6, 1, 10, 15, 0, 0, time.UTC)))
	require.Len(t, e.Attachments, 1)
	assert.Equal(t, "receipt.pdf", e.Attachments[0].Name)
	assert.Equal(t, "%PDF-1.4 receipt", string(e.Attachments[0].Data))

	assert.Equal(t, []string{
		"after:2026/07/16 from:(apple.com)",
		"after:2026/07/16 subject:(kvitto)",
	}, fake.queries)
	assert.Equal(t, []string{"m1"}, fake.modified)
}

func TestRead_NoMarkRead(t *testing.T) {
	fake := &fakeGmail{
		results:  map[string][]string{"apple.com": {"m1"}},
		messages: map[string]*gmail.Message{"m1": appleMessage()},
	}
	r := newTestReader(t, fake, Config{Rules: testRules()[:1]})

	emails := collect(t, r, []string{"m1"})
	assert.Len(t, emails, 1)
	assert.Empty(t, fake.modified)
}

func TestRead_SkipsUnfetchableMessages(t *testing.T) {
	fake := &fakeGmail{
		results:  map[string][]string{"apple.com": {"gone", "m1"}},
		messages: map[string]*gmail.Message{"m1": appleMessage()},
	}
	r := newTestReader(t, fake, Config{Rules: testRules()[:1]})

	emails := collect(t, r, nil)
	require.Len(t, emails, 1)
	assert.Equal(t, "m1", emails[0].ID)
}

func TestRead_SecondPollDoesNotRepeat(t *testing.T) {
	fake := &fakeGmail{
		results:  map[string][]string{"apple.com": {"m1"}},
		messages: map[string]*gmail.Message{"m1": appleMessage()},
	}
	r := newTestReader(t, fake, Config{Rules: testRules()[:1]})

	out := make(chan *api.Email, 10)
	require.NoError(t, r.poll(context.Background(), out))
	require.NoError(t, r.poll(context.Background(), out))
	assert.Len(t, out, 1)
	assert.Len(t, fake.queries, 2)
}

func TestRead_IntervalStopsOnCancel(t *testing.T) {
	fake := &fakeGmail{messages: map[string]*gmail.Message{}}
	r := newTestReader(t, fake, Config{Rules: testRules()[:1], Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *api.Email)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Read(ctx, out, nil) }()

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	_, open := <-out
	assert.False(t, open)
}

func TestDecodeData(t *testing.T) {
	got, err := decodeData(base64.RawURLEncoding.EncodeToString([]byte("å?")))
	require.NoError(t, err)
	assert.Equal(t, "å?", string(got))

	got, err = decodeData(b64("padded"))
	require.NoError(t, err)
	assert.Equal(t, "padded", string(got))

	_, err = decodeData("***")
	assert.Error(t, err)
}

func TestFetch_FallsBackToInternalDate(t *testing.T) {
	msg := appleMessage()
	msg.Payload.Headers = msg.Payload.Headers[:2]
	fake := &fakeGmail{messages: map[string]*gmail.Message{"m1": msg}}
	r := newTestReader(t, fake, Config{})

	e, err := r.fetch(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, e.Date.Equal(time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)))
}
