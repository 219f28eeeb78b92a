// Package config loads the application configuration: an optional JSON file
// followed by environment variable overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/mailvoucher/pkg/client"
	"github.com/ArionMiles/mailvoucher/pkg/pg"
)

// Default file locations, relative to the working directory.
const (
	ConfigFile       = "config.json"
	ClientSecretFile = "data/client_secret.json"
	RulesFile        = "data/rules.json"
	StoreDir         = "data"
	DryRunFile       = "data/dry_run_vouchers.json"
)

// Store backends.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	// ReaderPlugin is the name of the reader plugin to use.
	// Environment variable: MAILVOUCHER_READER
	ReaderPlugin string `koanf:"MAILVOUCHER_READER"`

	// WriterPlugin is the name of the writer plugin to use.
	// Environment variable: MAILVOUCHER_WRITER
	WriterPlugin string `koanf:"MAILVOUCHER_WRITER"`

	// ReaderConfig is the JSON configuration for the reader plugin. When empty
	// it is built from the other settings.
	// Environment variable: MAILVOUCHER_READER_CONFIG
	ReaderConfig string `koanf:"MAILVOUCHER_READER_CONFIG"`

	// WriterConfig is the JSON configuration for the writer plugin.
	// Environment variable: MAILVOUCHER_WRITER_CONFIG
	WriterConfig string `koanf:"MAILVOUCHER_WRITER_CONFIG"`

	RulesFile        string `koanf:"RULES_FILE"`
	ClientSecretFile string `koanf:"CLIENT_SECRET_FILE"`
	TokenFile        string `koanf:"TOKEN_FILE"`

	// LookbackDays bounds how far back Gmail is searched.
	LookbackDays int `koanf:"LOOKBACK_DAYS"`
	// PollInterval is the Gmail polling interval in seconds. Zero reads once.
	PollInterval int `koanf:"POLL_INTERVAL"`
	// MarkRead marks a Gmail message as read once its voucher is written.
	MarkRead bool `koanf:"GMAIL_MARK_READ"`

	// MboxPaths is a comma separated list of mbox files for the mbox reader.
	MboxPaths string `koanf:"MBOX_PATHS"`

	Fortnox  FortnoxConfig  `koanf:",squash"`
	Kleer    KleerConfig    `koanf:",squash"`
	Sheets   SheetsConfig   `koanf:",squash"`
	Postgres PostgresConfig `koanf:",squash"`

	// StoreBackend selects where processed/ignored message IDs are kept.
	StoreBackend string `koanf:"STORE_BACKEND"`
	StoreDir     string `koanf:"STORE_DIR"`

	// MetricsAddr enables the Prometheus endpoint, e.g. ":9090".
	MetricsAddr string `koanf:"METRICS_ADDR"`
}

// FortnoxConfig holds the Fortnox integration credentials.
type FortnoxConfig struct {
	ClientID     string `koanf:"FORTNOX_CLIENT_ID"`
	ClientSecret string `koanf:"FORTNOX_CLIENT_SECRET"`
	TokenFile    string `koanf:"FORTNOX_TOKEN_FILE"`
	BaseURL      string `koanf:"FORTNOX_BASE_URL"`
}

// KleerConfig holds the Kleer integration credentials.
type KleerConfig struct {
	ClientID     string `koanf:"KLEER_CLIENT_ID"`
	ClientSecret string `koanf:"KLEER_CLIENT_SECRET"`
	TokenFile    string `koanf:"KLEER_TOKEN_FILE"`
	BaseURL      string `koanf:"KLEER_BASE_URL"`
}

// SheetsConfig configures the Google Sheets journal writer.
type SheetsConfig struct {
	Title string `koanf:"GSHEETS_TITLE"`
	ID    string `koanf:"GSHEETS_ID"`
	Name  string `koanf:"GSHEETS_NAME"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}

// ConnString renders the connection settings as a libpq URL.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// PG converts the settings for the pg package.
func (p PostgresConfig) PG() pg.Config {
	return pg.Config{
		Host:     p.Host,
		Port:     p.Port,
		Database: p.Database,
		User:     p.User,
		Password: p.Password,
		SSLMode:  p.SSLMode,
	}
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ReaderPlugin:     "gmail",
		WriterPlugin:     "fortnox",
		RulesFile:        RulesFile,
		ClientSecretFile: ClientSecretFile,
		TokenFile:        client.TokenFile,
		LookbackDays:     90,
		Fortnox: FortnoxConfig{
			TokenFile: client.FortnoxTokenFile,
			BaseURL:   "https://api.fortnox.se/3",
		},
		Kleer: KleerConfig{
			TokenFile: client.KleerTokenFile,
			BaseURL:   "https://api.kleer.se/v1",
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "mailvoucher",
			User:     "mailvoucher",
			SSLMode:  "disable",
		},
		StoreBackend: StoreFile,
		StoreDir:     StoreDir,
	}
}

// Load reads path (when it exists) and then the environment on top of Default().
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
				return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("checking config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading config from environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be fixed by defaults.
func (c Config) Validate() error {
	if c.ReaderPlugin == "" {
		return errors.New("MAILVOUCHER_READER is required")
	}
	if c.WriterPlugin == "" {
		return errors.New("MAILVOUCHER_WRITER is required")
	}
	switch c.StoreBackend {
	case StoreFile, StorePostgres:
	default:
		return fmt.Errorf("STORE_BACKEND: unknown backend %q", c.StoreBackend)
	}
	if c.LookbackDays < 0 {
		return fmt.Errorf("LOOKBACK_DAYS must not be negative, got %d", c.LookbackDays)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("POLL_INTERVAL must not be negative, got %d", c.PollInterval)
	}
	return nil
}

// Lookback returns LookbackDays as a duration.
func (c Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// ReaderJSON returns the reader plugin configuration, building it from the
// flat settings when MAILVOUCHER_READER_CONFIG is unset.
func (c Config) ReaderJSON() (json.RawMessage, error) {
	if c.ReaderConfig != "" {
		return json.RawMessage(c.ReaderConfig), nil
	}

	var cfg map[string]any
	switch c.ReaderPlugin {
	case "gmail":
		cfg = map[string]any{
			"rulesFile":    c.RulesFile,
			"lookbackDays": c.LookbackDays,
			"interval":     c.PollInterval,
			"markRead":     c.MarkRead,
		}
	case "mbox":
		cfg = map[string]any{"paths": splitList(c.MboxPaths)}
	default:
		cfg = map[string]any{}
	}
	return json.Marshal(cfg)
}

// WriterJSON returns the writer plugin configuration, building it from the
// flat settings when MAILVOUCHER_WRITER_CONFIG is unset.
func (c Config) WriterJSON() (json.RawMessage, error) {
	if c.WriterConfig != "" {
		return json.RawMessage(c.WriterConfig), nil
	}

	var cfg map[string]any
	switch c.WriterPlugin {
	case "fortnox":
		if c.Fortnox.ClientID == "" || c.Fortnox.ClientSecret == "" {
			return nil, errors.New("FORTNOX_CLIENT_ID and FORTNOX_CLIENT_SECRET are required")
		}
		cfg = map[string]any{
			"clientId":     c.Fortnox.ClientID,
			"clientSecret": c.Fortnox.ClientSecret,
			"tokenFile":    c.Fortnox.TokenFile,
			"baseUrl":      c.Fortnox.BaseURL,
		}
	case "kleer":
		if c.Kleer.ClientID == "" || c.Kleer.ClientSecret == "" {
			return nil, errors.New("KLEER_CLIENT_ID and KLEER_CLIENT_SECRET are required")
		}
		cfg = map[string]any{
			"clientId":     c.Kleer.ClientID,
			"clientSecret": c.Kleer.ClientSecret,
			"tokenFile":    c.Kleer.TokenFile,
			"baseUrl":      c.Kleer.BaseURL,
		}
	case "json":
		cfg = map[string]any{"filePath": "data/vouchers.json"}
	case "csv":
		cfg = map[string]any{"filePath": "data/vouchers.csv"}
	case "sheets":
		if c.Sheets.Name == "" {
			return nil, errors.New("GSHEETS_NAME is required")
		}
		if c.Sheets.ID == "" && c.Sheets.Title == "" {
			return nil, errors.New("either GSHEETS_ID or GSHEETS_TITLE is required")
		}
		cfg = map[string]any{
			"sheetName":     c.Sheets.Name,
			"batchSize":     10,
			"flushInterval": 30,
		}
		if c.Sheets.Title != "" {
			cfg["sheetTitle"] = c.Sheets.Title
		}
		if c.Sheets.ID != "" {
			cfg["sheetId"] = c.Sheets.ID
		}
	case "postgres":
		cfg = map[string]any{
			"host":     c.Postgres.Host,
			"port":     c.Postgres.Port,
			"database": c.Postgres.Database,
			"user":     c.Postgres.User,
			"password": c.Postgres.Password,
			"sslmode":  c.Postgres.SSLMode,
		}
	default:
		cfg = map[string]any{}
	}
	return json.Marshal(cfg)
}

// DryRunWriterJSON is the json writer configuration used by `run --dry-run`.
func DryRunWriterJSON() json.RawMessage {
	data, _ := json.Marshal(map[string]any{"filePath": DryRunFile, "batchSize": 1})
	return data
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
