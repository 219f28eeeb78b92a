package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/ArionMiles/mailvoucher/pkg/api"
)

// DefaultLookback is how far back Gmail searches reach.
const DefaultLookback = 90 * 24 * time.Hour

// SearchQuery builds the Gmail search query for a rule. It returns false for
// disabled rules and for rules with neither sender nor subject, which would
// otherwise select the whole mailbox.
func SearchQuery(rule *api.Rule, since time.Time) (string, bool) {
	if !rule.Enabled || (rule.Sender == "" && rule.Subject == "") {
		return "", false
	}

	parts := []string{"after:" + since.Format("2006/01/02")}
	if rule.Sender != "" {
		parts = append(parts, fmt.Sprintf("from:(%s)", rule.Sender))
	}
	if rule.Subject != "" {
		parts = append(parts, fmt.Sprintf("subject:(%s)", rule.Subject))
	}
	return strings.Join(parts, " "), true
}

// SearchQueries returns the queries for every rule that yields one, in rule order,
// without duplicates.
func SearchQueries(rules []api.Rule, since time.Time) []string {
	seen := make(map[string]bool)
	var queries []string
	for i := range rules {
		q, ok := SearchQuery(&rules[i], since)
		if !ok || seen[q] {
			continue
		}
		seen[q] = true
		queries = append(queries, q)
	}
	return queries
}
