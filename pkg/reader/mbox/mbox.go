// Package mbox implements a Reader over mbox files such as Thunderbird exports.
package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"os"
	"strings"

	gombox "github.com/emersion/go-mbox"
	"github.com/google/uuid"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/reader/mailtext"
)

// maxDepth bounds multipart nesting.
const maxDepth = 10

// Config holds configuration for the mbox reader.
type Config struct {
	Paths []string
}

// Reader emits every message of its mbox files once.
type Reader struct {
	paths  []string
	logger *slog.Logger
}

// New creates an mbox reader.
func New(cfg Config, logger *slog.Logger) (*Reader, error) {
	if len(cfg.Paths) == 0 {
		return nil, errors.New("mbox reader needs at least one path")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{paths: cfg.Paths, logger: logger}, nil
}

// Read implements api.Reader. mbox files are never modified, so
// acknowledgments are only drained. Read returns once ackChan is closed.
func (r *Reader) Read(ctx context.Context, out chan<- *api.Email, ackChan <-chan string) error {
	acksDone := make(chan struct{})
	go func() {
		defer close(acksDone)
		drain(ctx, ackChan)
	}()

	err := r.readAll(ctx, out)
	close(out)
	if err != nil {
		return err
	}
	<-acksDone
	return nil
}

func drain(ctx context.Context, ackChan <-chan string) {
	if ackChan == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ackChan:
			if !ok {
				return
			}
		}
	}
}

func (r *Reader) readAll(ctx context.Context, out chan<- *api.Email) error {
	for _, path := range r.paths {
		count, err := r.readFile(ctx, path, out)
		if err != nil {
			return err
		}
		r.logger.Info("mbox file read", "path", path, "messages", count)
	}
	return nil
}

func (r *Reader) readFile(ctx context.Context, path string, out chan<- *api.Email) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening mbox: %w", err)
	}
	defer f.Close()

	mr := gombox.NewReader(f)
	count := 0
	for {
		msgReader, err := mr.NextMessage()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("reading %s: %w", path, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return count, fmt.Errorf("reading %s: %w", path, err)
		}

		email, err := Parse(raw)
		if err != nil {
			r.logger.Warn("skipping unparsable message", "path", path, "index", count, "error", err)
			continue
		}

		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case out <- email:
		}
		count++
	}
}

// Parse converts one RFC 5322 message to an Email. Messages without a
// Message-Id get a stable ID derived from their content.
func Parse(raw []byte) (*api.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	email := &api.Email{
		ID:      strings.Trim(strings.TrimSpace(msg.Header.Get("Message-Id")), "<>"),
		Sender:  mailtext.Sender(msg.Header.Get("From")),
		Subject: mailtext.Header(msg.Header.Get("Subject")),
		Date:    mailtext.Date(msg.Header.Get("Date")),
	}
	if email.ID == "" {
		email.ID = uuid.NewSHA1(uuid.NameSpaceOID, raw).String()
	}

	if err := walk(email, msg.Header, msg.Body, 0); err != nil {
		return nil, err
	}
	return email, nil
}

// header is satisfied by mail.Header and textproto.MIMEHeader.
type header interface {
	Get(key string) string
}

func walk(email *api.Email, h header, body io.Reader, depth int) error {
	if depth > maxDepth {
		return errors.New("multipart nesting too deep")
	}

	contentType := h.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
		params = map[string]string{}
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading multipart: %w", err)
			}
			if err := walk(email, part.Header, part, depth+1); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading part: %w", err)
	}
	data, err = mailtext.Transfer(h.Get("Content-Transfer-Encoding"), data)
	if err != nil {
		return err
	}

	disposition, dparams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	filename := mailtext.Header(dparams["filename"])
	if filename == "" {
		filename = mailtext.Header(params["name"])
	}

	switch {
	case disposition == "attachment" || filename != "":
		email.Attachments = append(email.Attachments, api.Attachment{
			Name:        filename,
			ContentType: mediaType,
			Data:        data,
		})
	case mediaType == "text/plain" && email.BodyPlain == "":
		email.BodyPlain = mailtext.Text(params["charset"], data)
	case mediaType == "text/html" && email.BodyHTML == "":
		email.BodyHTML = mailtext.Text(params["charset"], data)
	}
	return nil
}
