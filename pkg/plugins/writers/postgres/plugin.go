// Package postgres provides a plugin wrapper for the PostgreSQL writer.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/pg"
	pgwriter "github.com/ArionMiles/mailvoucher/pkg/writer/postgres"
)

// Plugin implements the WriterPlugin interface for PostgreSQL.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "postgres"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Archive vouchers and their rows in PostgreSQL"
}

// RequiredScopes returns the OAuth scopes needed by this plugin.
// PostgreSQL writer doesn't require OAuth scopes.
func (p *Plugin) RequiredScopes() []string {
	return []string{}
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"host": map[string]any{
				"type":        "string",
				"description": "PostgreSQL host address",
				"default":     "localhost",
			},
			"port": map[string]any{
				"type":        "integer",
				"description": "PostgreSQL port",
				"default":     5432,
			},
			"database": map[string]any{
				"type":        "string",
				"description": "Database name",
				"default":     "mailvoucher",
			},
			"user": map[string]any{
				"type":        "string",
				"description": "Database user",
			},
			"password": map[string]any{
				"type":        "string",
				"description": "Database password",
			},
			"sslmode": map[string]any{
				"type":        "string",
				"description": "SSL mode (disable, require, verify-ca, verify-full)",
				"default":     "disable",
				"enum":        []string{"disable", "require", "verify-ca", "verify-full"},
			},
			"url": map[string]any{
				"type":        "string",
				"description": "Connection URL; overrides the individual fields",
			},
			"batchSize": map[string]any{
				"type":        "integer",
				"description": "Number of vouchers to buffer before writing (default: 10)",
				"default":     10,
			},
			"flushInterval": map[string]any{
				"type":        "integer",
				"description": "Interval in seconds between automatic flushes (default: 30)",
				"default":     30,
			},
			"maxPoolSize": map[string]any{
				"type":        "integer",
				"description": "Maximum number of connections in the pool (default: 10)",
				"default":     10,
			},
		},
		"required": []string{"host", "database", "user", "password"},
	}
}

// Config represents the PostgreSQL writer configuration.
type Config struct {
	pg.Config
	BatchSize     int `json:"batchSize,omitempty"`
	FlushInterval int `json:"flushInterval,omitempty"` // in seconds
}

// NewWriter creates a new PostgreSQL writer instance.
// Note: httpClient is ignored as PostgreSQL doesn't need OAuth.
func (p *Plugin) NewWriter(ctx context.Context, _ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling postgres config: %w", err)
	}

	if cfg.URL == "" {
		if cfg.Host == "" {
			return nil, errors.New("host is required")
		}
		if cfg.Database == "" {
			return nil, errors.New("database is required")
		}
		if cfg.User == "" {
			return nil, errors.New("user is required")
		}
	}

	return pgwriter.New(ctx, pgwriter.Config{
		Config:        cfg.Config,
		BatchSize:     cfg.BatchSize,
		FlushInterval: time.Duration(cfg.FlushInterval) * time.Second,
	}, logger)
}
