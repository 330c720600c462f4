package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/justestif/spotify-presence/internal/web"
)

// callbackTimeout bounds how long startup waits for the user on the consent page.
const callbackTimeout = 30 * time.Second

var (
	// ErrAuthTimeout is returned when the OAuth callback is not received in time.
	ErrAuthTimeout = errors.New("authentication timed out waiting for callback")

	// ErrAuthDenied is returned when the callback carries no code or an error.
	ErrAuthDenied = errors.New("authorization denied")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")
)

// FlowState is the Authorization Flow state machine position.
type FlowState int

const (
	StateIdle FlowState = iota
	StateAwaitingRedirect
	StateCodeCaptured
	StateTimedOut
	StateRejected
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateCodeCaptured:
		return "code_captured"
	case StateTimedOut:
		return "timed_out"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// FlowConfig configures a Flow.
type FlowConfig struct {
	OAuth        *oauth2.Config
	ListenAddr   string
	CallbackPath string
	Templates    *web.Templates
	Logger       *slog.Logger

	// OpenBrowser defaults to github.com/pkg/browser.OpenURL.
	OpenBrowser func(url string) error
	// Timeout defaults to 30 seconds.
	Timeout time.Duration
}

// Flow drives the browser consent step and captures the authorization code
// with a transient local listener.
type Flow struct {
	cfg FlowConfig

	mu    sync.Mutex
	state FlowState
}

// NewFlow creates an Authorization Flow.
func NewFlow(cfg FlowConfig) *Flow {
	if cfg.OpenBrowser == nil {
		cfg.OpenBrowser = browser.OpenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = callbackTimeout
	}
	return &Flow{cfg: cfg}
}

// State returns the current flow state.
func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) setState(s FlowState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// AuthURL returns the consent URL for the given state value. Consent is forced
// so the user always sees which account is being connected.
func (f *Flow) AuthURL(state string) string {
	return f.cfg.OAuth.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true"))
}

// Authorize opens the consent page and returns the single captured code.
func (f *Flow) Authorize(ctx context.Context) (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}

	server := web.NewCallbackServer(web.CallbackConfig{
		Addr:  f.cfg.ListenAddr,
		Path:  f.cfg.CallbackPath,
		State: state,
	}, f.cfg.Templates, f.cfg.Logger)

	if err := server.Start(); err != nil {
		f.setState(StateRejected)
		return "", err
	}
	f.setState(StateAwaitingRedirect)

	authURL := f.AuthURL(state)
	f.cfg.Logger.Info("opening browser for Spotify authorization", "url", authURL)
	if err := f.cfg.OpenBrowser(authURL); err != nil {
		f.cfg.Logger.Warn("could not open browser, open the URL manually", "url", authURL, "error", err)
	}

	code, err := server.Wait(ctx, f.cfg.Timeout)
	switch {
	case err == nil:
		f.setState(StateCodeCaptured)
		return code, nil
	case errors.Is(err, web.ErrTimeout):
		f.setState(StateTimedOut)
		return "", ErrAuthTimeout
	case errors.Is(err, web.ErrStateMismatch):
		f.setState(StateRejected)
		return "", ErrStateMismatch
	case errors.Is(err, web.ErrDenied):
		f.setState(StateRejected)
		return "", fmt.Errorf("%w: %v", ErrAuthDenied, err)
	default:
		f.setState(StateRejected)
		return "", err
	}
}

// generateState creates a random state string for OAuth.
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
