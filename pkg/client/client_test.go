package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestSaveAndLoadToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	tok := &oauth2.Token{AccessToken: "abc", RefreshToken: "r1", TokenType: "Bearer"}

	require.NoError(t, saveToken(path, tok))
	assert.True(t, HasToken(path))

	got, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.AccessToken)
	assert.Equal(t, "r1", got.RefreshToken)
}

func TestTokenSource_NoTokenNonInteractive(t *testing.T) {
	cfg := FortnoxConfig("id", "secret")
	_, err := TokenSource(context.Background(), cfg, Options{TokenFile: filepath.Join(t.TempDir(), "missing.json")})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestTokenSource_UsesCachedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, saveToken(path, &oauth2.Token{
		AccessToken: "cached",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))

	ts, err := TokenSource(context.Background(), FortnoxConfig("id", "secret"), Options{TokenFile: path})
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "cached", tok.AccessToken)
}

func TestTokenSource_PersistsRefreshedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "id", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"bearer","refresh_token":"new-refresh","expires_in":3600}`))
	}))
	defer srv.Close()

	cfg := FortnoxConfig("id", "secret")
	cfg.Endpoint.TokenURL = srv.URL

	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, saveToken(path, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	ts, err := TokenSource(context.Background(), cfg, Options{TokenFile: path, HTTPClient: srv.Client()})
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)

	saved, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "new-refresh", saved.RefreshToken)
}

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode string
		status   int
	}{
		{"ok", "?state=s1&code=xyz", "xyz", http.StatusOK},
		{"bad state", "?state=other&code=xyz", "", http.StatusBadRequest},
		{"provider error", "?state=s1&error=access_denied", "", http.StatusBadRequest},
		{"no code", "?state=s1", "", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			codeChan := make(chan string, 1)
			errChan := make(chan error, 1)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, callbackPath+tc.query, nil)
			callbackHandler("s1", codeChan, errChan).ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.wantCode != "" {
				assert.Equal(t, tc.wantCode, <-codeChan)
				assert.Empty(t, errChan)
			} else {
				assert.Error(t, <-errChan)
				assert.Empty(t, codeChan)
			}
		})
	}
}

func TestFortnoxConfig(t *testing.T) {
	cfg := FortnoxConfig("id", "secret")
	assert.Equal(t, oauth2.AuthStyleInHeader, cfg.Endpoint.AuthStyle)
	assert.Equal(t, []string{"bookkeeping", "archive", "connectfile"}, cfg.Scopes)
	assert.Equal(t, "http://localhost:8085/callback", cfg.RedirectURL)
}

func TestKleerConfig(t *testing.T) {
	cfg := KleerConfig("id", "secret")
	assert.Equal(t, oauth2.AuthStyleInParams, cfg.Endpoint.AuthStyle)
	assert.Equal(t, "https://auth.kleer.se/oauth/token", cfg.Endpoint.TokenURL)
	assert.Contains(t, cfg.Scopes, "vouchers:write")
}

func TestGoogleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	secret := `{"installed":{"client_id":"cid","client_secret":"cs","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`
	require.NoError(t, os.WriteFile(path, []byte(secret), 0o600))

	cfg, err := GoogleConfig(path, "scope-a")
	require.NoError(t, err)
	assert.Equal(t, "cid", cfg.ClientID)
	assert.Equal(t, RedirectURL, cfg.RedirectURL)
	assert.Equal(t, []string{"scope-a"}, cfg.Scopes)

	_, err = GoogleConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadToken_Missing(t *testing.T) {
	_, err := LoadToken(filepath.Join(t.TempDir(), "none.json"))
	assert.Error(t, err)
}
