// Package fortnox provides a plugin wrapper for the Fortnox writer.
package fortnox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/client"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
	fortnoxwriter "github.com/ArionMiles/mailvoucher/pkg/writer/fortnox"
)

// Plugin implements the WriterPlugin interface for Fortnox.
type Plugin struct {
	// Metrics records ledger requests. Optional.
	Metrics *metrics.Metrics
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "fortnox"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Book vouchers in Fortnox and attach the source email"
}

// RequiredScopes returns nil. Fortnox has its own OAuth integration,
// authorized with `mailvoucher setup`.
func (p *Plugin) RequiredScopes() []string {
	return nil
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"clientId": map[string]any{
				"type":        "string",
				"description": "Fortnox integration client ID",
			},
			"clientSecret": map[string]any{
				"type":        "string",
				"description": "Fortnox integration client secret",
			},
			"tokenFile": map[string]any{
				"type":        "string",
				"description": "Where the Fortnox token is cached (default: " + client.FortnoxTokenFile + ")",
				"default":     client.FortnoxTokenFile,
			},
			"baseUrl": map[string]any{
				"type":        "string",
				"description": "Fortnox API root",
				"default":     fortnoxwriter.DefaultBaseURL,
			},
		},
		"required": []string{"clientId", "clientSecret"},
	}
}

// Config represents the Fortnox writer configuration.
type Config struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	TokenFile    string `json:"tokenFile,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty"`
}

// NewWriter creates a Fortnox writer. httpClient is ignored; the writer uses
// the Fortnox token cached by setup.
func (p *Plugin) NewWriter(ctx context.Context, _ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling fortnox config: %w", err)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("clientId and clientSecret are required")
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = client.FortnoxTokenFile
	}

	httpClient, err := client.NewWithConfig(ctx,
		client.FortnoxConfig(cfg.ClientID, cfg.ClientSecret),
		client.Options{TokenFile: cfg.TokenFile},
	)
	if err != nil {
		return nil, fmt.Errorf("fortnox authorization: %w", err)
	}

	c := fortnoxwriter.NewClient(httpClient, fortnoxwriter.ClientConfig{BaseURL: cfg.BaseURL}, p.Metrics, logger)
	return fortnoxwriter.NewWriter(c, p.Metrics, logger), nil
}
