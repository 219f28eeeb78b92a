// Package kleer provides a plugin wrapper for the Kleer writer.
package kleer

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
	kleerwriter "github.com/ArionMiles/mailvoucher/pkg/writer/kleer"
)

// Plugin implements the WriterPlugin interface for Kleer.
type Plugin struct {
	Metrics *metrics.Metrics
}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "kleer"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Book vouchers in Kleer with the source email attached"
}

// RequiredScopes returns nil. Kleer is authorized by `mailvoucher setup`.
func (p *Plugin) RequiredScopes() []string {
	return nil
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"clientId":     map[string]any{"type": "string", "description": "Kleer client ID"},
			"clientSecret": map[string]any{"type": "string", "description": "Kleer client secret"},
			"tokenFile": map[string]any{
				"type":    "string",
				"default": client.KleerTokenFile,
			},
			"baseUrl": map[string]any{
				"type":    "string",
				"default": kleerwriter.DefaultBaseURL,
			},
		},
		"required": []string{"clientId", "clientSecret"},
	}
}

// Config represents the Kleer writer configuration.
type Config struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	TokenFile    string `json:"tokenFile,omitempty"`
	BaseURL      string `json:"baseUrl,omitempty"`
}

// NewWriter creates a Kleer writer from the token cached by setup.
func (p *Plugin) NewWriter(ctx context.Context, _ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling kleer config: %w", err)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("clientId and clientSecret are required")
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = client.KleerTokenFile
	}

	httpClient, err := client.NewWithConfig(ctx,
		client.KleerConfig(cfg.ClientID, cfg.ClientSecret),
		client.Options{TokenFile: cfg.TokenFile},
	)
	if err != nil {
		return nil, fmt.Errorf("kleer authorization: %w", err)
	}

	c := kleerwriter.NewClient(httpClient, kleerwriter.ClientConfig{BaseURL: cfg.BaseURL}, p.Metrics, logger)
	return kleerwriter.NewWriter(c, p.Metrics, logger), nil
}
