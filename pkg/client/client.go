// Package client provides OAuth2 HTTP clients for the Google APIs (Gmail,
// Sheets) and for the Fortnox and Kleer ledgers.
package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// callbackPort is the port for the local OAuth callback server.
	callbackPort = 8085
	// callbackPath is the path for the OAuth callback.
	callbackPath = "/callback"
	// serverTimeout is how long to wait for the OAuth callback.
	serverTimeout = 5 * time.Minute
)

// Default token cache locations.
const (
	TokenFile        = "data/token.json"
	FortnoxTokenFile = "data/fortnox_token.json"
	KleerTokenFile   = "data/kleer_token.json"
)

// RedirectURL is the callback address registered with the OAuth providers.
var RedirectURL = fmt.Sprintf("http://localhost:%d%s", callbackPort, callbackPath)

// FortnoxEndpoint is the Fortnox OAuth2 endpoint. Fortnox expects the client
// credentials as HTTP basic auth.
var FortnoxEndpoint = oauth2.Endpoint{
	AuthURL:   "https://apps.fortnox.se/oauth-v1/auth",
	TokenURL:  "https://apps.fortnox.se/oauth-v1/token",
	AuthStyle: oauth2.AuthStyleInHeader,
}

// FortnoxScopes are the scopes needed to book vouchers with attachments.
var FortnoxScopes = []string{"bookkeeping", "archive", "connectfile"}

// KleerEndpoint is the Kleer OAuth2 endpoint. Kleer expects the client
// credentials in the form body.
var KleerEndpoint = oauth2.Endpoint{
	AuthURL:   "https://auth.kleer.se/oauth/authorize",
	TokenURL:  "https://auth.kleer.se/oauth/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// KleerScopes are the scopes needed to book vouchers with attachments.
var KleerScopes = []string{"vouchers:read", "vouchers:write", "accounts:read", "files:write"}

// ErrNoToken is returned when a token is required but none is cached and the
// interactive flow is disabled.
var ErrNoToken = errors.New("no cached oauth token, run `mailvoucher setup`")

// Options controls how a client obtains its token.
type Options struct {
	// TokenFile caches the token between runs. Refreshed tokens are written back.
	TokenFile string
	// Interactive allows the browser flow when no token is cached.
	Interactive bool
	// HTTPClient is used for token requests. Optional.
	HTTPClient *http.Client
}

// New creates a Google API client with OAuth2 credentials from a client secret file.
func New(secretFilePath string, opts Options, scope ...string) (*http.Client, error) {
	b, err := os.ReadFile(secretFilePath)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}

	return NewFromJSON(b, opts, scope...)
}

// NewFromJSON creates a Google API client from client secret JSON content.
func NewFromJSON(secretJSON []byte, opts Options, scope ...string) (*http.Client, error) {
	config, err := google.ConfigFromJSON(secretJSON, scope...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}
	if opts.TokenFile == "" {
		opts.TokenFile = TokenFile
	}

	return NewWithConfig(context.Background(), config, opts)
}

// GoogleConfig reads the OAuth2 config from a Google client secret file.
func GoogleConfig(secretFilePath string, scope ...string) (*oauth2.Config, error) {
	b, err := os.ReadFile(secretFilePath)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, scope...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}
	config.RedirectURL = RedirectURL
	return config, nil
}

// FortnoxConfig builds the OAuth2 config for a Fortnox integration.
func FortnoxConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     FortnoxEndpoint,
		Scopes:       FortnoxScopes,
		RedirectURL:  RedirectURL,
	}
}

// KleerConfig builds the OAuth2 config for a Kleer integration.
func KleerConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     KleerEndpoint,
		Scopes:       KleerScopes,
		RedirectURL:  RedirectURL,
	}
}

// NewWithConfig returns an HTTP client authorized by config. The token is read
// from opts.TokenFile; without one the browser flow runs when opts.Interactive
// is set.
func NewWithConfig(ctx context.Context, config *oauth2.Config, opts Options) (*http.Client, error) {
	ts, err := TokenSource(ctx, config, opts)
	if err != nil {
		return nil, err
	}
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	return oauth2.NewClient(ctx, ts), nil
}

// TokenSource returns a token source that refreshes through config and writes
// every new token back to opts.TokenFile.
func TokenSource(ctx context.Context, config *oauth2.Config, opts Options) (oauth2.TokenSource, error) {
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}

	tok, err := tokenFromFile(opts.TokenFile)
	if err != nil {
		if !opts.Interactive {
			return nil, fmt.Errorf("%w (%s)", ErrNoToken, opts.TokenFile)
		}
		slog.Info("no existing token found, initiating OAuth flow", "token_file", opts.TokenFile)
		tok, err = getTokenFromWeb(ctx, config)
		if err != nil {
			return nil, err
		}
		if err := saveToken(opts.TokenFile, tok); err != nil {
			slog.Error("failed to save token", "error", err)
		}
	}

	return &persistingSource{
		src:  config.TokenSource(ctx, tok),
		path: opts.TokenFile,
		last: tok.AccessToken,
	}, nil
}

// Authorize runs the browser flow unconditionally and stores the token.
func Authorize(ctx context.Context, config *oauth2.Config, tokenFile string) error {
	tok, err := getTokenFromWeb(ctx, config)
	if err != nil {
		return err
	}
	return saveToken(tokenFile, tok)
}

// persistingSource saves refreshed tokens. Fortnox rotates refresh tokens, so
// a token that is not written back is lost.
type persistingSource struct {
	mu   sync.Mutex
	src  oauth2.TokenSource
	path string
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.path, tok); err != nil {
			slog.Warn("failed to persist refreshed token", "path", s.path, "error", err)
		}
	}
	return tok, nil
}

func getTokenFromWeb(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	config.RedirectURL = RedirectURL

	// Generate a random state token for CSRF protection
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server, err := startCallbackServer(ctx, state, codeChan, errChan)
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("error shutting down callback server", "error", err)
		}
	}()

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline)

	fmt.Printf("\nOpening browser for authentication...\n")
	fmt.Printf("If the browser doesn't open automatically, visit this URL:\n%s\n\n", authURL)

	if err := openBrowser(authURL); err != nil {
		slog.Warn("failed to open browser automatically", "error", err)
	}

	select {
	case code := <-codeChan:
		tok, err := config.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("exchanging authorization code for token: %w", err)
		}
		fmt.Println("Authentication successful!")
		return tok, nil
	case err := <-errChan:
		return nil, fmt.Errorf("oauth callback error: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(serverTimeout):
		return nil, fmt.Errorf("oauth flow timed out after %v", serverTimeout)
	}
}

// callbackHandler validates the provider redirect and forwards the code.
func callbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if state := q.Get("state"); state != expectedState {
			errChan <- fmt.Errorf("invalid state parameter")
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		if errMsg := q.Get("error"); errMsg != "" {
			errChan <- fmt.Errorf("%s: %s", errMsg, q.Get("error_description"))
			http.Error(w, fmt.Sprintf("Authentication failed: %s", errMsg), http.StatusBadRequest)
			return
		}

		code := q.Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code received")
			http.Error(w, "No authorization code received", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Authentication Successful</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh;">
<h1>Authentication Successful</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>`)

		codeChan <- code
	})
}

func startCallbackServer(ctx context.Context, expectedState string, codeChan chan<- string, errChan chan<- error) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle(callbackPath, callbackHandler(expectedState, codeChan, errChan))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", callbackPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("port %d unavailable: %w", callbackPort, err)
	}

	go func() {
		slog.Debug("starting OAuth callback server", "port", callbackPort)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("callback server error", "error", err)
			errChan <- err
		}
	}()

	return server, nil
}

func openBrowser(url string) error {
	ctx := context.Background()
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// LoadToken reads a cached token.
func LoadToken(path string) (*oauth2.Token, error) {
	return tokenFromFile(path)
}

// HasToken reports whether a token is cached at path.
func HasToken(path string) bool {
	_, err := tokenFromFile(path)
	return err == nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveToken(path string, token *oauth2.Token) error {
	slog.Debug("saving credential file", "path", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}
