// Package mbox provides a plugin wrapper for the mbox reader.
package mbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	mboxreader "github.com/ArionMiles/mailvoucher/pkg/reader/mbox"
)

// Plugin implements the ReaderPlugin interface for mbox files.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "mbox"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Read emails from mbox files (e.g. a Thunderbird export)"
}

// RequiredScopes returns nil; mbox files are local.
func (p *Plugin) RequiredScopes() []string {
	return nil
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"paths": map[string]any{
				"type":        "array",
				"description": "mbox files to read, in order",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []string{"paths"},
	}
}

// Config represents the mbox reader configuration.
type Config struct {
	Paths []string `json:"paths"`
}

// NewReader creates a new mbox reader. httpClient is ignored.
func (p *Plugin) NewReader(_ context.Context, _ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Reader, error) {
	var cfg Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling mbox config: %w", err)
	}
	return mboxreader.New(mboxreader.Config{Paths: cfg.Paths}, logger)
}
