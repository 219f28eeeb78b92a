// Package extract resolves rule variables from email bodies using regex patterns.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/money"
)

// Source identifies where a variable's value came from.
type Source string

// Value sources, in the order they are tried.
const (
	SourceHTML         Source = "html_pattern"
	SourcePlain        Source = "pattern"
	SourceStrippedHTML Source = "pattern_on_html_text"
	SourceDefault      Source = "default"
)

// Result holds the extracted variables.
type Result struct {
	Values map[string]decimal.Decimal
	// Sources records how each variable was resolved.
	Sources map[string]Source
}

// Defaulted returns the sorted names of variables that fell back to their default.
func (r Result) Defaulted() []string {
	var names []string
	for name, src := range r.Sources {
		if src == SourceDefault {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Extract resolves every variable against the message bodies. It never fails:
// a variable whose patterns do not produce a number takes its default.
// html may be empty when the message has no HTML part.
func Extract(specs map[string]api.ExtractionSpec, plain, html string) Result {
	res := Result{
		Values:  make(map[string]decimal.Decimal, len(specs)),
		Sources: make(map[string]Source, len(specs)),
	}

	var stripped string
	strippedDone := false

	for name, spec := range specs {
		res.resolve(name, spec, plain, html, func() string {
			if !strippedDone {
				stripped = StripHTML(html)
				strippedDone = true
			}
			return stripped
		})
	}

	return res
}

// resolve tries each source in order. The first source whose pattern captures
// something decides the value: a capture that is not a number means default,
// not the next source.
func (r Result) resolve(name string, spec api.ExtractionSpec, plain, html string, strippedHTML func() string) {
	type attempt struct {
		re     *regexp.Regexp
		text   func() string
		source Source
	}

	var attempts []attempt
	if spec.HTMLPattern != nil && html != "" {
		attempts = append(attempts, attempt{spec.HTMLPattern, func() string { return html }, SourceHTML})
	}
	if spec.Pattern != nil {
		attempts = append(attempts, attempt{spec.Pattern, func() string { return plain }, SourcePlain})
		if html != "" {
			attempts = append(attempts, attempt{spec.Pattern, strippedHTML, SourceStrippedHTML})
		}
	}

	for _, a := range attempts {
		captured, ok := capture(a.re, a.text())
		if !ok {
			continue
		}
		v, err := money.Parse(captured)
		if err != nil {
			break
		}
		r.set(name, v, a.source)
		return
	}
	r.set(name, spec.Default, SourceDefault)
}

func (r Result) set(name string, v decimal.Decimal, src Source) {
	r.Values[name] = money.Round(v)
	r.Sources[name] = src
}

// capture returns the trimmed first group of re in text. It reports false
// when re does not match or the group is empty.
func capture(re *regexp.Regexp, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return "", false
	}
	captured := strings.TrimSpace(m[1])
	return captured, captured != ""
}

// Compile compiles an extraction pattern with case-insensitive,
// dot-matches-newline semantics.
func Compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?is)" + pattern)
}
