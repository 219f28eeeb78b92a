package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ExampleFile(t *testing.T) {
	rules, err := Load(filepath.Join("..", "..", "data", "rules.example.json"))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, "Apple iCloud", rules[0].Name)
	assert.Equal(t, "F", rules[0].Accounting.Series)
	assert.Equal(t, "399.00", rules[0].DataExtraction["total_amount"].Default.StringFixed(2))
	assert.Equal(t, []string{"Hosting", "Amount due"}, rules[1].BodyContains)
	assert.NotNil(t, rules[1].DataExtraction["base_amount"].HTMLPattern)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
email_rules:
  - name: Hosting
    sender: billing@
    body_contains:
      - Hosting
    data_extraction:
      base_amount:
        pattern: 'Subtotal\s*([0-9.,]+)'
        default: 100
    accounting:
      description: Hosting
      series: F
      entries:
        - account: 6230
          debit: base_amount
          credit: 0
        - account: "2440"
          debit: 0
          credit: base_amount
`), 0o600))

	rules, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	assert.Equal(t, "Hosting", r.Name)
	assert.Equal(t, []string{"Hosting"}, r.BodyContains)
	assert.Equal(t, "6230", r.Accounting.Entries[0].Account)
	assert.Equal(t, "base_amount", r.Accounting.Entries[0].Debit.Formula)
	assert.Equal(t, "base_amount", r.Accounting.Entries[1].Credit.Formula)
	assert.Equal(t, "100.00", r.DataExtraction["base_amount"].Default.StringFixed(2))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading rules file")
}
