// Package spotify polls the Spotify Web API for the user's current track.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// requestTimeout is far shorter than the poll interval so a hung request
// never delays the next cycle.
const requestTimeout = 5 * time.Second

// ErrNoCredentials is reported when no valid access token could be obtained.
var ErrNoCredentials = errors.New("no valid Spotify credentials")

// TokenProvider supplies access tokens. auth.Manager implements it.
type TokenProvider interface {
	oauth2.TokenSource
	EnsureValid(ctx context.Context) bool
}

// Poller fetches the currently playing track.
type Poller struct {
	tokens  TokenProvider
	logger  *slog.Logger
	baseURL string
	timeout time.Duration
	api     *spotify.Client
}

// Option configures a Poller.
type Option func(*Poller)

// WithBaseURL points the poller at a different API root. It must end in a slash.
func WithBaseURL(url string) Option {
	return func(p *Poller) {
		p.baseURL = url
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) {
		p.timeout = d
	}
}

// NewPoller creates a Poller that authenticates with tokens.
func NewPoller(tokens TokenProvider, logger *slog.Logger, opts ...Option) *Poller {
	p := &Poller{
		tokens:  tokens,
		logger:  logger,
		timeout: requestTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	httpClient := &http.Client{
		Timeout:   p.timeout,
		Transport: &oauth2.Transport{Source: tokens, Base: http.DefaultTransport},
	}
	var clientOpts []spotify.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, spotify.WithBaseURL(p.baseURL))
	}
	p.api = spotify.New(httpClient, clientOpts...)
	return p
}

// Fetch asks Spotify what is playing. It never returns an error directly:
// failures come back as a KindError result.
func (p *Poller) Fetch(ctx context.Context) Result {
	if !p.tokens.EnsureValid(ctx) {
		return ErrorResult(ErrNoCredentials)
	}

	cp, err := p.api.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		p.logger.Warn("fetching currently playing track", "error", err)
		return ErrorResult(fmt.Errorf("fetching currently playing: %w", err))
	}

	track, ok := snapshotFrom(cp)
	if !ok {
		p.logger.Debug("nothing playing")
		return NoTrackResult()
	}
	p.logger.Debug("currently playing", "track_id", track.TrackID, "title", track.Title, "progress_ms", track.ProgressMs)
	return TrackResult(track)
}
