package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// tokenRequestTimeout bounds every call to the token endpoint.
const tokenRequestTimeout = 10 * time.Second

// ErrNoAccessToken is returned by Token when no access token has been obtained.
var ErrNoAccessToken = errors.New("no access token")

// Scopes requested from Spotify.
var Scopes = []string{
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopeUserReadPlaybackState,
}

// NewOAuthConfig builds the OAuth2 client configuration. The token endpoint
// is authenticated with HTTP Basic client credentials.
func NewOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   spotifyauth.AuthURL,
			TokenURL:  spotifyauth.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Authorizer obtains a one-time authorization code from the user.
type Authorizer interface {
	Authorize(ctx context.Context) (string, error)
}

// Manager owns the access token, its expiry and the refresh token.
// All failures are logged and reported as false; nothing is returned as an error
// across the EnsureValid/ExchangeCode/Refresh boundary.
type Manager struct {
	oauth      *oauth2.Config
	store      CredentialStore
	authorizer Authorizer
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	token oauth2.Token
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for token endpoint requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager. Call Load to restore the persisted refresh token.
func NewManager(cfg *oauth2.Config, store CredentialStore, authorizer Authorizer, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		oauth:      cfg,
		store:      store,
		authorizer: authorizer,
		httpClient: &http.Client{Timeout: tokenRequestTimeout},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load restores the refresh token from the store.
func (m *Manager) Load(ctx context.Context) error {
	refreshToken, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading refresh token: %w", err)
	}

	m.mu.Lock()
	m.token.RefreshToken = refreshToken
	m.mu.Unlock()

	if refreshToken != "" {
		m.logger.Debug("loaded stored refresh token")
	}
	return nil
}

// HasRefreshToken reports whether a refresh token is held.
func (m *Manager) HasRefreshToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token.RefreshToken != ""
}

// Token returns the current access token. It implements oauth2.TokenSource
// so API clients can attach the bearer header.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	return &oauth2.Token{
		AccessToken: m.token.AccessToken,
		TokenType:   "Bearer",
		Expiry:      m.token.Expiry,
	}, nil
}

// valid reports whether the access token is present and unexpired.
func (m *Manager) valid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token.AccessToken != "" && m.now().Before(m.token.Expiry)
}

// EnsureValid returns true if a usable access token exists after the call.
// An expired token is refreshed; with no refresh token at all the full
// Authorization Flow runs and its code is exchanged exactly once.
func (m *Manager) EnsureValid(ctx context.Context) bool {
	if m.valid() {
		return true
	}

	if m.HasRefreshToken() {
		return m.Refresh(ctx)
	}

	m.logger.Info("Spotify authorization required")
	code, err := m.authorizer.Authorize(ctx)
	if err != nil {
		m.logger.Error("authorization failed", "error", err)
		return false
	}
	return m.ExchangeCode(ctx, code)
}

// ExchangeCode trades an authorization code for tokens. On failure state is unchanged.
func (m *Manager) ExchangeCode(ctx context.Context, code string) bool {
	if code == "" {
		m.logger.Error("token exchange skipped: empty authorization code")
		return false
	}

	tok, err := m.oauth.Exchange(m.clientContext(ctx), code)
	if err != nil {
		m.logger.Error("token request failed", "error", err)
		return false
	}

	m.persist(ctx, m.apply(tok))
	m.logger.Info("obtained Spotify access token", "expires_at", tok.Expiry)
	return true
}

// Refresh mints a new access token from the refresh token.
// A 4xx answer means the refresh token is dead: it is cleared in memory and on
// disk so the next EnsureValid re-authorizes. 5xx and transport errors keep it.
func (m *Manager) Refresh(ctx context.Context) bool {
	m.mu.Lock()
	refreshToken := m.token.RefreshToken
	m.mu.Unlock()

	if refreshToken == "" {
		m.logger.Error("token refresh skipped: no refresh token")
		return false
	}

	src := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		if isRevoked(err) {
			m.logger.Error("token refresh rejected, re-authorization required", "error", err)
			m.revoke(ctx)
		} else {
			m.logger.Error("token refresh error", "error", err)
		}
		return false
	}

	rotated := m.apply(tok)
	if rotated != refreshToken {
		m.persist(ctx, rotated)
	}
	m.logger.Debug("refreshed Spotify access token", "expires_at", tok.Expiry)
	return true
}

// Logout forgets all tokens and removes the stored record.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.token = oauth2.Token{}
	m.mu.Unlock()
	return m.store.Delete(ctx)
}

// apply stores a freshly issued token and returns the refresh token now held.
// Servers may omit refresh_token on refresh, in which case the old one is kept.
func (m *Manager) apply(tok *oauth2.Token) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.token.AccessToken = tok.AccessToken
	m.token.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		m.token.RefreshToken = tok.RefreshToken
	}
	return m.token.RefreshToken
}

func (m *Manager) revoke(ctx context.Context) {
	m.mu.Lock()
	m.token = oauth2.Token{}
	m.mu.Unlock()

	m.persist(ctx, "")
}

// persist writes the refresh token. A failed write is logged; the in-memory
// token stays usable for this process.
func (m *Manager) persist(ctx context.Context, refreshToken string) {
	if err := m.store.Save(ctx, refreshToken); err != nil {
		m.logger.Error("saving refresh token", "error", err)
	}
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// isRevoked reports whether err is a 4xx answer from the token endpoint.
func isRevoked(err error) bool {
	var rErr *oauth2.RetrieveError
	if !errors.As(err, &rErr) || rErr.Response == nil {
		return false
	}
	code := rErr.Response.StatusCode
	return code >= 400 && code < 500
}
