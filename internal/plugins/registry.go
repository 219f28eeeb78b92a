// Package plugins maps reader and writer names from the configuration to the
// constructors that build them.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/ArionMiles/mailvoucher/pkg/api"
)

// Plugin is what readers and writers have in common.
type Plugin interface {
	// Name is the value used in MAILVOUCHER_READER / MAILVOUCHER_WRITER.
	Name() string
	Description() string
	// RequiredScopes lists the Google OAuth scopes the plugin needs, if any.
	RequiredScopes() []string
	// ConfigSchema is a JSON schema of the plugin's JSON configuration.
	ConfigSchema() map[string]any
}

// ReaderPlugin builds an api.Reader from its JSON configuration.
type ReaderPlugin interface {
	Plugin
	NewReader(ctx context.Context, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Reader, error)
}

// WriterPlugin builds an api.Writer from its JSON configuration.
type WriterPlugin interface {
	Plugin
	NewWriter(ctx context.Context, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error)
}

// catalog holds plugins of one kind by name.
type catalog[P Plugin] struct {
	kind    string
	mu      sync.RWMutex
	plugins map[string]P
}

func newCatalog[P Plugin](kind string) *catalog[P] {
	return &catalog[P]{kind: kind, plugins: make(map[string]P)}
}

func (c *catalog[P]) add(p P) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := p.Name()
	if _, dup := c.plugins[name]; dup {
		return fmt.Errorf("%s %q registered twice", c.kind, name)
	}
	c.plugins[name] = p
	return nil
}

func (c *catalog[P]) get(name string) (P, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[name]
	if !ok {
		var zero P
		names := slices.Sorted(maps.Keys(c.plugins))
		return zero, fmt.Errorf("unknown %s %q (available: %s)", c.kind, name, strings.Join(names, ", "))
	}
	return p, nil
}

func (c *catalog[P]) sorted() []P {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]P, 0, len(c.plugins))
	for _, name := range slices.Sorted(maps.Keys(c.plugins)) {
		out = append(out, c.plugins[name])
	}
	return out
}

// Registry holds the available readers and writers. It is safe for
// concurrent use.
type Registry struct {
	readers *catalog[ReaderPlugin]
	writers *catalog[WriterPlugin]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers: newCatalog[ReaderPlugin]("reader"),
		writers: newCatalog[WriterPlugin]("writer"),
	}
}

// RegisterReader adds p. Names must be unique.
func (r *Registry) RegisterReader(p ReaderPlugin) error { return r.readers.add(p) }

// RegisterWriter adds p. Names must be unique.
func (r *Registry) RegisterWriter(p WriterPlugin) error { return r.writers.add(p) }

// Reader looks up a reader by name.
func (r *Registry) Reader(name string) (ReaderPlugin, error) { return r.readers.get(name) }

// Writer looks up a writer by name.
func (r *Registry) Writer(name string) (WriterPlugin, error) { return r.writers.get(name) }

// Readers returns the readers sorted by name.
func (r *Registry) Readers() []ReaderPlugin { return r.readers.sorted() }

// Writers returns the writers sorted by name.
func (r *Registry) Writers() []WriterPlugin { return r.writers.sorted() }

// Scopes returns the sorted union of the OAuth scopes the pair needs. An
// empty result means no Google client has to be built.
func (r *Registry) Scopes(readerName, writerName string) ([]string, error) {
	reader, err := r.Reader(readerName)
	if err != nil {
		return nil, err
	}
	writer, err := r.Writer(writerName)
	if err != nil {
		return nil, err
	}

	scopes := slices.Concat(reader.RequiredScopes(), writer.RequiredScopes())
	slices.Sort(scopes)
	return slices.Compact(scopes), nil
}

// CreateReader builds the named reader.
func (r *Registry) CreateReader(ctx context.Context, name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Reader, error) {
	p, err := r.Reader(name)
	if err != nil {
		return nil, err
	}
	return p.NewReader(ctx, httpClient, config, logger.With("reader", name))
}

// CreateWriter builds the named writer.
func (r *Registry) CreateWriter(ctx context.Context, name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	p, err := r.Writer(name)
	if err != nil {
		return nil, err
	}
	return p.NewWriter(ctx, httpClient, config, logger.With("writer", name))
}
