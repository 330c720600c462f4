// Package app runs the poll and sync loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/justestif/spotify-presence/internal/spotify"
)

const (
	// DefaultInterval is the pause between normal poll cycles.
	DefaultInterval = 10 * time.Second
	// DefaultCooldown is the pause after a failed cycle.
	DefaultCooldown = 30 * time.Second
)

// ErrAuthorizationFailed is returned when startup cannot obtain Spotify credentials.
var ErrAuthorizationFailed = errors.New("spotify authorization failed")

// Phase is the runner lifecycle position.
type Phase int

const (
	PhaseStartup Phase = iota
	PhaseAuthorizing
	PhasePolling
	PhaseShuttingDown
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseStartup:
		return "startup"
	case PhaseAuthorizing:
		return "authorizing"
	case PhasePolling:
		return "polling"
	case PhaseShuttingDown:
		return "shutting_down"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Credentials is the part of auth.Manager the runner needs.
type Credentials interface {
	HasRefreshToken() bool
	EnsureValid(ctx context.Context) bool
}

// Fetcher returns the current playback. spotify.Poller implements it.
type Fetcher interface {
	Fetch(ctx context.Context) spotify.Result
}

// Synchronizer applies poll results. sync.Service implements it.
type Synchronizer interface {
	Sync(res spotify.Result)
}

// Presence is the connection lifecycle of the presence channel.
type Presence interface {
	Connect() error
	Clear() error
	Close() error
}

// Runner composes the components into the long-running loop.
type Runner struct {
	creds    Credentials
	fetcher  Fetcher
	syncer   Synchronizer
	presence Presence
	logger   *slog.Logger
	interval time.Duration
	cooldown time.Duration

	mu    sync.Mutex
	phase Phase
}

// Option configures a Runner.
type Option func(*Runner)

// WithInterval sets the pause between poll cycles.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) {
		r.interval = d
	}
}

// WithCooldown sets the pause after a failed cycle.
func WithCooldown(d time.Duration) Option {
	return func(r *Runner) {
		r.cooldown = d
	}
}

// NewRunner creates a Runner.
func NewRunner(creds Credentials, fetcher Fetcher, syncer Synchronizer, presence Presence, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		creds:    creds,
		fetcher:  fetcher,
		syncer:   syncer,
		presence: presence,
		logger:   logger,
		interval: DefaultInterval,
		cooldown: DefaultCooldown,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Phase returns the current lifecycle phase.
func (r *Runner) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *Runner) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
	r.logger.Debug("runner phase", "phase", p.String())
}

// Run blocks until ctx is cancelled or startup authorization fails.
// The presence is cleared and closed before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.setPhase(PhaseStartup)
	defer r.shutdown()

	if err := r.presence.Connect(); err != nil {
		r.logger.Warn("Discord not available, will retry", "error", err)
	}

	if !r.creds.HasRefreshToken() {
		r.setPhase(PhaseAuthorizing)
		if !r.creds.EnsureValid(ctx) {
			if ctx.Err() != nil {
				return nil
			}
			return ErrAuthorizationFailed
		}
	}

	r.setPhase(PhasePolling)
	r.logger.Info("polling Spotify", "interval", r.interval)

	for {
		wait := r.interval
		if err := r.cycle(ctx); err != nil {
			r.logger.Error("poll cycle failed", "error", err, "retry_in", r.cooldown)
			wait = r.cooldown
		}
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

// cycle runs one fetch and sync. A panic is turned into an error so one bad
// cycle cannot end the process.
func (r *Runner) cycle(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in poll cycle: %v", p)
		}
	}()

	res := r.fetcher.Fetch(ctx)
	r.syncer.Sync(res)
	if res.Kind == spotify.KindError {
		return res.Err
	}
	return nil
}

func (r *Runner) shutdown() {
	r.setPhase(PhaseShuttingDown)
	if err := r.presence.Clear(); err != nil {
		r.logger.Warn("clearing presence on shutdown", "error", err)
	}
	if err := r.presence.Close(); err != nil {
		r.logger.Warn("closing Discord connection", "error", err)
	}
	r.setPhase(PhaseStopped)
	r.logger.Info("stopped")
}

// sleep waits for d or until ctx is done. It reports whether the loop should continue.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
