package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ArionMiles/mailvoucher/pkg/api"
)

func TestSearchQuery(t *testing.T) {
	since := time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		rule   api.Rule
		want   string
		wantOK bool
	}{
		{"sender only", rule("a", "no_reply@email.apple.com", ""), "after:2026/07/16 from:(no_reply@email.apple.com)", true},
		{"sender and subject", rule("b", "billing@", "invoice"), "after:2026/07/16 from:(billing@) subject:(invoice)", true},
		{"subject only", rule("c", "", "Receipt"), "after:2026/07/16 subject:(Receipt)", true},
		{"wildcard rule", rule("d", "", ""), "", false},
		{"disabled", api.Rule{Sender: "x@y"}, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SearchQuery(&tc.rule, since)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSearchQueries_Dedup(t *testing.T) {
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	rules := []api.Rule{
		rule("a", "billing@", "", "foo"),
		rule("b", "billing@", "", "bar"),
		rule("c", "", ""),
		rule("d", "shop@", ""),
	}

	assert.Equal(t, []string{
		"after:2026/01/02 from:(billing@)",
		"after:2026/01/02 from:(shop@)",
	}, SearchQueries(rules, since))
}
