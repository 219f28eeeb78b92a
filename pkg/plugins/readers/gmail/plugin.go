// Package gmail provides a plugin wrapper for the Gmail reader.
package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	gmailreader "github.com/ArionMiles/mailvoucher/pkg/reader/gmail"
	"github.com/ArionMiles/mailvoucher/pkg/rules"
)

// Plugin implements the ReaderPlugin interface for Gmail.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "gmail"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Read receipt and invoice emails from Gmail"
}

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *Plugin) RequiredScopes() []string {
	return []string{
		gmailapi.GmailReadonlyScope,
		gmailapi.GmailModifyScope,
	}
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rulesFile": map[string]any{
				"type":        "string",
				"description": "Rules file whose sender/subject filters become Gmail search queries",
			},
			"lookbackDays": map[string]any{
				"type":        "integer",
				"description": "How many days back to search (default: 90)",
				"default":     90,
			},
			"interval": map[string]any{
				"type":        "integer",
				"description": "Seconds between searches; 0 runs a single pass",
				"default":     0,
			},
			"markRead": map[string]any{
				"type":        "boolean",
				"description": "Mark messages as read once their voucher is written",
				"default":     false,
			},
		},
		"required": []string{"rulesFile"},
	}
}

// Config represents the Gmail reader configuration.
type Config struct {
	RulesFile    string `json:"rulesFile"`
	LookbackDays int    `json:"lookbackDays,omitempty"`
	Interval     int    `json:"interval,omitempty"` // in seconds
	MarkRead     bool   `json:"markRead,omitempty"`
}

// NewReader creates a new Gmail reader instance.
func (p *Plugin) NewReader(_ context.Context, httpClient *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Reader, error) {
	if httpClient == nil {
		return nil, errors.New("gmail reader needs an authorized http client")
	}

	var cfg Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling gmail config: %w", err)
	}
	if cfg.RulesFile == "" {
		return nil, errors.New("rulesFile is required")
	}

	ruleSet, err := rules.Load(cfg.RulesFile)
	if err != nil {
		return nil, err
	}

	return gmailreader.New(httpClient, gmailreader.Config{
		Rules:    ruleSet,
		Lookback: time.Duration(cfg.LookbackDays) * 24 * time.Hour,
		Interval: time.Duration(cfg.Interval) * time.Second,
		MarkRead: cfg.MarkRead,
	}, logger)
}
