// Package sync mirrors Spotify playback onto the Discord presence.
package sync

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/justestif/spotify-presence/internal/discord"
	"github.com/justestif/spotify-presence/internal/spotify"
)

const (
	// maxFieldLength is Discord's limit for presence text fields.
	maxFieldLength = 128

	smallImageKey  = "spotify"
	smallImageText = "Listening on Spotify"
	buttonLabel    = "Listen on Spotify"
)

// Presence is the channel that displays the activity. discord.Client implements it.
type Presence interface {
	SetActivity(activity *discord.Activity) error
	Clear() error
}

// State is what the presence currently shows. The zero value means nothing.
type State struct {
	CurrentTrackID string
	TrackStart     time.Time
}

// Service turns poll results into presence updates.
type Service struct {
	presence Presence
	logger   *slog.Logger
	now      func() time.Time

	state State
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a new sync service.
func New(presence Presence, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		presence: presence,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current sync state.
func (s *Service) State() State {
	return s.state
}

// Sync applies one poll result.
//
// A failed poll changes nothing so a transient error never blanks the presence.
// NoTrack always clears, even if the last cycle already did.
// For a track, the start instant is anchored on the first poll of that track
// and kept for every later poll of the same id.
func (s *Service) Sync(res spotify.Result) {
	switch res.Kind {
	case spotify.KindError:
		s.logger.Debug("poll failed, keeping presence", "error", res.Err)
	case spotify.KindNoTrack:
		s.clear()
	case spotify.KindTrack:
		s.show(res.Track)
	}
}

func (s *Service) clear() {
	if s.state.CurrentTrackID != "" {
		s.logger.Info("playback stopped", "track_id", s.state.CurrentTrackID)
	}
	s.state = State{}
	if err := s.presence.Clear(); err != nil {
		s.logger.Error("clearing presence", "error", err)
	}
}

func (s *Service) show(track spotify.TrackSnapshot) {
	if track.TrackID != s.state.CurrentTrackID {
		progress := time.Duration(track.ProgressMs) * time.Millisecond
		s.state = State{
			CurrentTrackID: track.TrackID,
			TrackStart:     s.now().Add(-progress),
		}
		s.logger.Info("now playing",
			"track_id", track.TrackID,
			"title", track.Title,
			"artists", strings.Join(track.Artists, ", "),
		)
	}

	if err := s.presence.SetActivity(buildActivity(track, s.state.TrackStart)); err != nil {
		s.logger.Error("updating presence", "track_id", track.TrackID, "error", err)
	}
}

func buildActivity(track spotify.TrackSnapshot, start time.Time) *discord.Activity {
	end := start.Add(time.Duration(track.DurationMs) * time.Millisecond)

	activity := &discord.Activity{
		Type:    discord.ActivityListening,
		Details: truncate(track.Title),
		State:   truncate(strings.Join(track.Artists, ", ")),
		Timestamps: &discord.Timestamps{
			Start: start.Unix(),
			End:   end.Unix(),
		},
		Assets: &discord.Assets{
			LargeImage: track.AlbumArtURL,
			LargeText:  truncate(track.AlbumName),
			SmallImage: smallImageKey,
			SmallText:  smallImageText,
		},
	}
	if track.ExternalURL != "" {
		activity.Buttons = []discord.Button{{Label: buttonLabel, URL: track.ExternalURL}}
	}
	return activity
}

// truncate cuts s to maxFieldLength characters.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxFieldLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxFieldLength])
}
