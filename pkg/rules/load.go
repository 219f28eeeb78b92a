package rules

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/mailvoucher/pkg/api"
)

// Load reads a rules file. Files ending in .yaml or .yml are parsed as YAML,
// everything else as JSON.
func Load(path string) ([]api.Rule, error) {
	var parser koanf.Parser = kjson.Parser()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("loading rules file %s: %w", path, err)
	}

	// Round-trip through JSON so the typed decoders (Terms, AmountValue, ...)
	// see the same shapes for JSON and YAML input.
	data, err := json.Marshal(k.Raw())
	if err != nil {
		return nil, fmt.Errorf("encoding rules: %w", err)
	}

	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}
