package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/mailvoucher/pkg/client"
	"github.com/ArionMiles/mailvoucher/pkg/logging"
)

func names[T interface{ Name() string }](plugins []T) []string {
	out := make([]string, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p.Name())
	}
	return out
}

func TestBuiltin(t *testing.T) {
	r := Builtin(nil)
	assert.Equal(t, []string{"gmail", "mbox"}, names(r.Readers()))
	assert.Equal(t, []string{"csv", "fortnox", "json", "kleer", "postgres", "sheets"}, names(r.Writers()))

	for _, p := range r.Readers() {
		assert.NotEmpty(t, p.Description(), p.Name())
		assert.Equal(t, "object", p.ConfigSchema()["type"], p.Name())
	}
	for _, p := range r.Writers() {
		assert.NotEmpty(t, p.Description(), p.Name())
		assert.Equal(t, "object", p.ConfigSchema()["type"], p.Name())
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := Builtin(nil)
	gmail, err := r.Reader("gmail")
	require.NoError(t, err)
	assert.Error(t, r.RegisterReader(gmail))

	csv, err := r.Writer("csv")
	require.NoError(t, err)
	assert.ErrorContains(t, r.RegisterWriter(csv), `writer "csv" registered twice`)
}

func TestScopes(t *testing.T) {
	r := Builtin(nil)

	scopes, err := r.Scopes("gmail", "sheets")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://www.googleapis.com/auth/gmail.modify",
		"https://www.googleapis.com/auth/gmail.readonly",
		"https://www.googleapis.com/auth/spreadsheets",
	}, scopes)

	scopes, err = r.Scopes("mbox", "fortnox")
	require.NoError(t, err)
	assert.Empty(t, scopes)

	_, err = r.Scopes("imap", "json")
	assert.ErrorContains(t, err, `unknown reader "imap" (available: gmail, mbox)`)
	_, err = r.Scopes("gmail", "xero")
	assert.ErrorContains(t, err, `unknown writer "xero"`)
}

func TestCreateWriter_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	cfg, err := json.Marshal(map[string]any{"filePath": path})
	require.NoError(t, err)

	w, err := Builtin(nil).CreateWriter(context.Background(), "json", nil, cfg, logging.Discard())
	require.NoError(t, err)
	assert.NotNil(t, w)
}

func TestCreateWriter_ConfigErrors(t *testing.T) {
	r := Builtin(nil)
	ctx := context.Background()

	tests := []struct {
		writer string
		config string
		want   string
	}{
		{"json", `{`, "unmarshaling json config"},
		{"sheets", `{"sheetId":"x"}`, "sheetName is required"},
		{"sheets", `{"sheetName":"Vouchers"}`, "either sheetId or sheetTitle is required"},
		{"sheets", `{"sheetName":"Vouchers","sheetId":"x"}`, "authorized http client"},
		{"postgres", `{"database":"d","user":"u"}`, "host is required"},
		{"fortnox", `{"clientId":"id"}`, "clientId and clientSecret are required"},
		{"kleer", `{"clientSecret":"s"}`, "clientId and clientSecret are required"},
	}
	for _, tc := range tests {
		t.Run(tc.writer+" "+tc.want, func(t *testing.T) {
			_, err := r.CreateWriter(ctx, tc.writer, nil, json.RawMessage(tc.config), logging.Discard())
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestCreateWriter_LedgersNeedSetup(t *testing.T) {
	for _, name := range []string{"fortnox", "kleer"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := json.Marshal(map[string]any{
				"clientId":     "id",
				"clientSecret": "secret",
				"tokenFile":    filepath.Join(t.TempDir(), "missing.json"),
			})
			require.NoError(t, err)

			_, err = Builtin(nil).CreateWriter(context.Background(), name, nil, cfg, logging.Discard())
			assert.True(t, errors.Is(err, client.ErrNoToken), "got %v", err)
		})
	}
}

func TestCreateReader(t *testing.T) {
	r := Builtin(nil)
	ctx := context.Background()

	mboxPath := filepath.Join(t.TempDir(), "in.mbox")
	require.NoError(t, os.WriteFile(mboxPath, nil, 0o644))
	reader, err := r.CreateReader(ctx, "mbox", nil, json.RawMessage(`{"paths":["`+mboxPath+`"]}`), logging.Discard())
	require.NoError(t, err)
	assert.NotNil(t, reader)

	_, err = r.CreateReader(ctx, "mbox", nil, json.RawMessage(`{}`), logging.Discard())
	assert.Error(t, err)

	_, err = r.CreateReader(ctx, "gmail", nil, json.RawMessage(`{"rulesFile":"x"}`), logging.Discard())
	assert.ErrorContains(t, err, "authorized http client")
}
