// Package rules loads email rules from configuration and matches them
// against incoming messages.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/extract"
	"github.com/ArionMiles/mailvoucher/pkg/formula"
	"github.com/ArionMiles/mailvoucher/pkg/money"
)

// DefaultSeries is the voucher series used when a rule does not name one.
const DefaultSeries = "A"

// File is the on-disk shape of a rules file.
type File struct {
	EmailRules []RuleConfig `json:"email_rules"`
}

// RuleConfig represents a single rule as written in configuration.
type RuleConfig struct {
	Name           string                          `json:"name,omitempty"`
	Enabled        *bool                           `json:"enabled,omitempty"`
	Sender         string                          `json:"sender"`
	Subject        string                          `json:"subject"`
	BodyContains   Terms                           `json:"body_contains,omitempty"`
	DataExtraction map[string]ExtractionSpecConfig `json:"data_extraction,omitempty"`
	Accounting     AccountingConfig                `json:"accounting"`
}

// ExtractionSpecConfig is the configured form of an api.ExtractionSpec.
type ExtractionSpecConfig struct {
	Pattern     string           `json:"pattern"`
	HTMLPattern string           `json:"html_pattern,omitempty"`
	Default     *decimal.Decimal `json:"default,omitempty"`
}

// AccountingConfig is the configured voucher template.
type AccountingConfig struct {
	Description string        `json:"description"`
	Series      string        `json:"series"`
	Entries     []EntryConfig `json:"entries"`
}

// EntryConfig is one configured ledger row.
type EntryConfig struct {
	Account AccountID   `json:"account"`
	Debit   AmountValue `json:"debit"`
	Credit  AmountValue `json:"credit"`
}

// Terms accepts either a single string or a list of strings.
type Terms []string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Terms) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*t = nil
		} else {
			*t = Terms{s}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("body_contains: expected string or list of strings: %w", err)
	}
	*t = list
	return nil
}

// AccountID accepts an account number written as a string or a number.
type AccountID string

// UnmarshalJSON implements json.Unmarshaler.
func (a *AccountID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AccountID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("account: expected string or number: %w", err)
	}
	*a = AccountID(n.String())
	return nil
}

// AmountValue is a configured debit or credit: a number, a numeric string
// or a formula string.
type AmountValue struct {
	api.Amount
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *AmountValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		v.Amount = api.Amount{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v.Amount = parseAmount(s)
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("amount: expected number or formula string: %w", err)
	}
	v.Amount = api.Amount{Literal: d}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v AmountValue) MarshalJSON() ([]byte, error) {
	if v.IsFormula() {
		return json.Marshal(v.Formula)
	}
	return []byte(money.Format(v.Literal)), nil
}

func parseAmount(s string) api.Amount {
	s = strings.TrimSpace(s)
	if s == "" {
		return api.Amount{}
	}
	if d, err := decimal.NewFromString(s); err == nil && !strings.ContainsAny(s, "eE") {
		return api.Amount{Literal: d}
	}
	return api.Amount{Formula: s}
}

// Parse decodes a JSON rules document and compiles every rule.
func Parse(data []byte) ([]api.Rule, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules JSON: %w", err)
	}
	return Compile(f.EmailRules)
}

// Compile validates rule configs and converts them into api.Rule values,
// preserving order.
func Compile(configs []RuleConfig) ([]api.Rule, error) {
	rules := make([]api.Rule, 0, len(configs))
	var errs []error
	for i, cfg := range configs {
		rule, err := compileRule(i, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %d (%s): %w", i+1, ruleName(i, cfg), err))
			continue
		}
		rules = append(rules, rule)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rules, nil
}

func ruleName(i int, cfg RuleConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return fmt.Sprintf("Rule %d", i+1)
}

func compileRule(i int, cfg RuleConfig) (api.Rule, error) {
	specs := make(map[string]api.ExtractionSpec, len(cfg.DataExtraction))
	for name, sc := range cfg.DataExtraction {
		spec, err := compileSpec(sc)
		if err != nil {
			return api.Rule{}, fmt.Errorf("data_extraction.%s: %w", name, err)
		}
		specs[name] = spec
	}

	if len(cfg.Accounting.Entries) == 0 {
		return api.Rule{}, errors.New("accounting.entries: at least one entry is required")
	}

	entries := make([]api.EntryTemplate, 0, len(cfg.Accounting.Entries))
	for j, ec := range cfg.Accounting.Entries {
		if ec.Account == "" {
			return api.Rule{}, fmt.Errorf("accounting.entries[%d]: account is required", j)
		}
		if err := checkAmount(ec.Debit.Amount, specs); err != nil {
			return api.Rule{}, fmt.Errorf("accounting.entries[%d].debit: %w", j, err)
		}
		if err := checkAmount(ec.Credit.Amount, specs); err != nil {
			return api.Rule{}, fmt.Errorf("accounting.entries[%d].credit: %w", j, err)
		}
		entries = append(entries, api.EntryTemplate{
			Account: string(ec.Account),
			Debit:   ec.Debit.Amount,
			Credit:  ec.Credit.Amount,
		})
	}

	series := cfg.Accounting.Series
	if series == "" {
		series = DefaultSeries
	}

	enabled := true
	if cfg.Enabled != nil {
		enabled = *cfg.Enabled
	}

	var terms []string
	for _, term := range cfg.BodyContains {
		if term != "" {
			terms = append(terms, term)
		}
	}

	return api.Rule{
		Name:           ruleName(i, cfg),
		Enabled:        enabled,
		Sender:         cfg.Sender,
		Subject:        cfg.Subject,
		BodyContains:   terms,
		DataExtraction: specs,
		Accounting: api.VoucherTemplate{
			Description: cfg.Accounting.Description,
			Series:      series,
			Entries:     entries,
		},
	}, nil
}

func compileSpec(sc ExtractionSpecConfig) (api.ExtractionSpec, error) {
	var spec api.ExtractionSpec
	if sc.Pattern == "" && sc.HTMLPattern == "" {
		return spec, errors.New("pattern or html_pattern is required")
	}
	if sc.Pattern != "" {
		re, err := extract.Compile(sc.Pattern)
		if err != nil {
			return spec, fmt.Errorf("compiling pattern: %w", err)
		}
		if re.NumSubexp() < 1 {
			return spec, errors.New("pattern needs a capturing group")
		}
		spec.Pattern = re
	}
	if sc.HTMLPattern != "" {
		re, err := extract.Compile(sc.HTMLPattern)
		if err != nil {
			return spec, fmt.Errorf("compiling html_pattern: %w", err)
		}
		if re.NumSubexp() < 1 {
			return spec, errors.New("html_pattern needs a capturing group")
		}
		spec.HTMLPattern = re
	}
	if sc.Default != nil {
		spec.Default = *sc.Default
	}
	return spec, nil
}

// checkAmount parses formulas and verifies they only reference declared variables.
func checkAmount(a api.Amount, specs map[string]api.ExtractionSpec) error {
	if !a.IsFormula() {
		return nil
	}
	expr, err := formula.Parse(a.Formula)
	if err != nil {
		return err
	}
	for _, name := range expr.Vars() {
		if _, ok := specs[name]; !ok {
			return &formula.FormulaError{
				Formula: a.Formula,
				Pos:     strings.Index(a.Formula, name),
				Detail:  name + " is not declared in data_extraction",
				Err:     formula.ErrUndefinedVariable,
			}
		}
	}
	return nil
}
