package rules

import (
	"strings"

	"github.com/ArionMiles/mailvoucher/pkg/api"
)

// Match returns the first enabled rule that applies to the email, or nil.
// Rule order is significant.
func Match(email *api.Email, rules []api.Rule) *api.Rule {
	for i := range rules {
		if Matches(email, &rules[i]) {
			return &rules[i]
		}
	}
	return nil
}

// Matches reports whether a single rule applies to the email.
func Matches(email *api.Email, rule *api.Rule) bool {
	if !rule.Enabled {
		return false
	}
	if !containsFold(email.Sender, rule.Sender) {
		return false
	}
	if !containsFold(email.Subject, rule.Subject) {
		return false
	}

	plain := strings.ToLower(email.BodyPlain)
	html := strings.ToLower(email.BodyHTML)
	for _, term := range rule.BodyContains {
		t := strings.ToLower(term)
		if !strings.Contains(plain, t) && !strings.Contains(html, t) {
			return false
		}
	}
	return true
}

// containsFold reports whether substr is within s, ignoring case.
// An empty substr always matches.
func containsFold(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
