// Package gmail implements a Reader that fetches rule candidates from Gmail.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/reader/mailtext"
	"github.com/ArionMiles/mailvoucher/pkg/rules"
)

const user = "me"

// Reader reads emails matching the rules' search queries.
type Reader struct {
	client   *gmail.Service
	rules    []api.Rule
	lookback time.Duration
	interval time.Duration
	markRead bool
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]bool
}

// Config holds configuration for the Gmail reader.
type Config struct {
	// Rules provide the search queries. Matching happens downstream.
	Rules []api.Rule
	// Lookback bounds the search window. Defaults to rules.DefaultLookback.
	Lookback time.Duration
	// Interval between polls. Zero means a single pass.
	Interval time.Duration
	// MarkRead removes the UNREAD label once a message's voucher is written.
	MarkRead bool
}

// New creates a new Gmail reader. Extra options are passed to the Gmail client.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	client, err := gmail.NewService(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gmail service: %w", err)
	}

	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = rules.DefaultLookback
	}

	for i := range cfg.Rules {
		rule := &cfg.Rules[i]
		if _, ok := rules.SearchQuery(rule, time.Now()); !ok && rule.Enabled {
			logger.Warn("rule has neither sender nor subject and is not searched in gmail", "rule", rule.Name)
		}
	}

	return &Reader{
		client:   client,
		rules:    cfg.Rules,
		lookback: lookback,
		interval: cfg.Interval,
		markRead: cfg.MarkRead,
		logger:   logger,
		now:      time.Now,
		sent:     make(map[string]bool),
	}, nil
}

// Read searches Gmail and sends each candidate email to out exactly once.
// With no interval it closes out after one pass and returns when ackChan is
// closed, so acknowledgments of that pass are still applied.
func (r *Reader) Read(ctx context.Context, out chan<- *api.Email, ackChan <-chan string) error {
	acksDone := make(chan struct{})
	go func() {
		defer close(acksDone)
		r.handleAcknowledgments(ctx, ackChan)
	}()

	err := r.run(ctx, out)
	close(out)
	if err != nil {
		return err
	}
	<-acksDone
	return nil
}

func (r *Reader) run(ctx context.Context, out chan<- *api.Email) error {
	if err := r.poll(ctx, out); err != nil {
		return err
	}
	if r.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("gmail reader stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if err := r.poll(ctx, out); err != nil {
				return err
			}
		}
	}
}

func (r *Reader) handleAcknowledgments(ctx context.Context, ackChan <-chan string) {
	if ackChan == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msgID, ok := <-ackChan:
			if !ok {
				return
			}
			if r.markRead {
				r.markAsRead(ctx, msgID)
			}
		}
	}
}

func (r *Reader) markAsRead(ctx context.Context, msgID string) {
	_, err := r.client.Users.Messages.Modify(user, msgID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		r.logger.Warn("failed to mark message as read", "message_id", msgID, "error", err)
		return
	}
	r.logger.Debug("marked message as read", "message_id", msgID)
}

// poll runs every rule query and emits messages not sent before.
func (r *Reader) poll(ctx context.Context, out chan<- *api.Email) error {
	since := r.now().Add(-r.lookback)
	queries := rules.SearchQueries(r.rules, since)
	r.logger.Info("searching gmail", "queries", len(queries), "since", since.Format(api.DateLayout))

	ids, err := r.list(ctx, queries)
	if err != nil {
		return err
	}

	emitted := 0
	for _, id := range ids {
		if r.wasSent(id) {
			continue
		}
		email, err := r.fetch(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("failed to fetch message", "message_id", id, "error", err)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- email:
		}
		r.markSent(id)
		emitted++
	}

	r.logger.Info("gmail search complete", "found", len(ids), "emitted", emitted)
	return nil
}

// list returns the message IDs for all queries in first-seen order.
func (r *Reader) list(ctx context.Context, queries []string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, q := range queries {
		err := r.client.Users.Messages.List(user).Q(q).Pages(ctx, func(resp *gmail.ListMessagesResponse) error {
			for _, m := range resp.Messages {
				if !seen[m.Id] {
					seen[m.Id] = true
					ids = append(ids, m.Id)
				}
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Error("failed to list messages", "query", q, "error", err)
		}
	}
	return ids, nil
}

func (r *Reader) wasSent(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[id]
}

func (r *Reader) markSent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[id] = true
}

func (r *Reader) fetch(ctx context.Context, id string) (*api.Email, error) {
	msg, err := r.client.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}

	email := &api.Email{ID: id}
	if msg.Payload == nil {
		email.Date = time.UnixMilli(msg.InternalDate)
		return email, nil
	}

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			email.Sender = mailtext.Sender(h.Value)
		case "subject":
			email.Subject = mailtext.Header(h.Value)
		case "date":
			email.Date = mailtext.Date(h.Value)
		}
	}
	if email.Date.IsZero() && msg.InternalDate > 0 {
		email.Date = time.UnixMilli(msg.InternalDate)
	}

	r.walk(ctx, id, msg.Payload, email)
	return email, nil
}

// walk collects bodies and attachments. The first text/plain and text/html
// parts win.
func (r *Reader) walk(ctx context.Context, msgID string, part *gmail.MessagePart, email *api.Email) {
	if part == nil {
		return
	}

	switch {
	case part.Filename != "":
		att, err := r.attachment(ctx, msgID, part)
		if err != nil {
			r.logger.Warn("skipping attachment", "message_id", msgID, "filename", part.Filename, "error", err)
		} else {
			email.Attachments = append(email.Attachments, *att)
		}
	case part.MimeType == "text/plain" && email.BodyPlain == "":
		email.BodyPlain = partText(part)
	case part.MimeType == "text/html" && email.BodyHTML == "":
		email.BodyHTML = partText(part)
	}

	for _, child := range part.Parts {
		r.walk(ctx, msgID, child, email)
	}
}

func (r *Reader) attachment(ctx context.Context, msgID string, part *gmail.MessagePart) (*api.Attachment, error) {
	if part.Body == nil {
		return nil, fmt.Errorf("attachment has no body")
	}

	encoded := part.Body.Data
	if encoded == "" && part.Body.AttachmentId != "" {
		body, err := r.client.Users.Messages.Attachments.Get(user, msgID, part.Body.AttachmentId).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("getting attachment: %w", err)
		}
		encoded = body.Data
	}

	data, err := decodeData(encoded)
	if err != nil {
		return nil, err
	}
	return &api.Attachment{Name: part.Filename, ContentType: part.MimeType, Data: data}, nil
}

func partText(part *gmail.MessagePart) string {
	if part.Body == nil || part.Body.Data == "" {
		return ""
	}
	data, err := decodeData(part.Body.Data)
	if err != nil {
		return ""
	}
	return mailtext.Text(mailtext.Charset(headerValue(part.Headers, "Content-Type")), data)
}

func headerValue(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// decodeData decodes Gmail's URL-safe base64, padded or not.
func decodeData(s string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	data, rawErr := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if rawErr != nil {
		return nil, fmt.Errorf("decoding body: %w", err)
	}
	return data, nil
}
