package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/pg"
)

// Open returns the store for backend ("file" or "postgres"). The returned
// close function releases its resources.
func Open(ctx context.Context, backend, dir string, pgCfg pg.Config, logger *slog.Logger) (api.Store, func(), error) {
	switch backend {
	case "", "file":
		s, err := NewFileStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, pgCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// GmailURL links a Gmail message ID to the web client.
func GmailURL(id string) string {
	return "https://mail.google.com/mail/u/0/#inbox/" + id
}
