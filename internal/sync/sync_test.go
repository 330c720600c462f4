package sync

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/justestif/spotify-presence/internal/discord"
	"github.com/justestif/spotify-presence/internal/logging"
	"github.com/justestif/spotify-presence/internal/spotify"
)

// mockPresence records presence calls.
type mockPresence struct {
	updates []*discord.Activity
	clears  int
	err     error
}

func (m *mockPresence) SetActivity(a *discord.Activity) error {
	m.updates = append(m.updates, a)
	return m.err
}

func (m *mockPresence) Clear() error {
	m.clears++
	return m.err
}

func (m *mockPresence) last() *discord.Activity {
	if len(m.updates) == 0 {
		return nil
	}
	return m.updates[len(m.updates)-1]
}

// testClock is a settable clock.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(p Presence) (*Service, *testClock) {
	clock := &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(p, logging.Discard(), WithClock(clock.now)), clock
}

func track(id string, progressMs, durationMs int) spotify.Result {
	return spotify.TrackResult(spotify.TrackSnapshot{
		TrackID:     id,
		Title:       "Title " + id,
		Artists:     []string{"Artist A", "Artist B"},
		AlbumName:   "Album " + id,
		AlbumArtURL: "https://i.scdn.co/image/" + id,
		ProgressMs:  progressMs,
		DurationMs:  durationMs,
		ExternalURL: "https://open.spotify.com/track/" + id,
	})
}

func TestService_TrackTransitionScenario(t *testing.T) {
	p := &mockPresence{}
	s, clock := newTestService(p)
	t0 := clock.now()

	// Poll 1: T1 five seconds in.
	s.Sync(track("T1", 5000, 200000))
	wantStart := t0.Add(-5 * time.Second)
	if got := s.State(); got.CurrentTrackID != "T1" || !got.TrackStart.Equal(wantStart) {
		t.Fatalf("State() = %+v, want T1 starting %v", got, wantStart)
	}
	a := p.last()
	if a.Timestamps.Start != wantStart.Unix() {
		t.Errorf("start = %d, want %d", a.Timestamps.Start, wantStart.Unix())
	}
	if a.Timestamps.End != wantStart.Add(200*time.Second).Unix() {
		t.Errorf("end = %d, want start+200s", a.Timestamps.End)
	}

	// Poll 2: same track ten seconds later; the anchor holds.
	clock.advance(10 * time.Second)
	s.Sync(track("T1", 15000, 200000))
	if got := s.State().TrackStart; !got.Equal(wantStart) {
		t.Errorf("TrackStart after repeat poll = %v, want %v", got, wantStart)
	}
	if p.last().Timestamps.Start != wantStart.Unix() {
		t.Errorf("start moved on repeat poll: %d", p.last().Timestamps.Start)
	}

	// Poll 3: T2 at 3 seconds.
	clock.advance(10 * time.Second)
	s.Sync(track("T2", 3000, 180000))
	wantT2 := clock.now().Add(-3 * time.Second)
	if got := s.State(); got.CurrentTrackID != "T2" || !got.TrackStart.Equal(wantT2) {
		t.Errorf("State() = %+v, want T2 starting %v", got, wantT2)
	}
	if p.last().Timestamps.End != wantT2.Add(180*time.Second).Unix() {
		t.Errorf("T2 end = %d", p.last().Timestamps.End)
	}

	if len(p.updates) != 3 {
		t.Errorf("updates = %d, want 3 (one per track poll)", len(p.updates))
	}
	if p.clears != 0 {
		t.Errorf("clears = %d, want 0", p.clears)
	}
}

func TestService_AnchorIgnoresProgressDrift(t *testing.T) {
	p := &mockPresence{}
	s, clock := newTestService(p)

	s.Sync(track("T1", 1000, 60000))
	anchor := s.State().TrackStart

	// Reported progress jitters and even goes backwards (seek); same id keeps the anchor.
	for _, progress := range []int{11500, 20000, 2000, 59000} {
		clock.advance(10 * time.Second)
		s.Sync(track("T1", progress, 60000))
		if got := s.State().TrackStart; !got.Equal(anchor) {
			t.Fatalf("TrackStart = %v after progress %d, want %v", got, progress, anchor)
		}
	}
}

func TestService_NoTrackClears(t *testing.T) {
	p := &mockPresence{}
	s, _ := newTestService(p)

	s.Sync(track("T1", 0, 1000))
	s.Sync(spotify.NoTrackResult())

	if p.clears != 1 {
		t.Errorf("clears = %d, want 1", p.clears)
	}
	if got := s.State(); got != (State{}) {
		t.Errorf("State() = %+v, want empty", got)
	}

	// Repeated NoTrack polls stay harmless.
	s.Sync(spotify.NoTrackResult())
	s.Sync(spotify.NoTrackResult())
	if got := s.State(); got != (State{}) {
		t.Errorf("State() = %+v, want empty", got)
	}
	if len(p.updates) != 1 {
		t.Errorf("updates = %d, want 1", len(p.updates))
	}
}

func TestService_ReplayAfterClearReanchors(t *testing.T) {
	p := &mockPresence{}
	s, clock := newTestService(p)

	s.Sync(track("T1", 5000, 200000))
	s.Sync(spotify.NoTrackResult())

	clock.advance(time.Minute)
	s.Sync(track("T1", 2000, 200000))
	want := clock.now().Add(-2 * time.Second)
	if got := s.State().TrackStart; !got.Equal(want) {
		t.Errorf("TrackStart = %v, want %v", got, want)
	}
}

func TestService_PollErrorChangesNothing(t *testing.T) {
	p := &mockPresence{}
	s, clock := newTestService(p)

	s.Sync(track("T1", 5000, 200000))
	before := s.State()

	clock.advance(10 * time.Second)
	s.Sync(spotify.ErrorResult(errors.New("connection reset")))

	if got := s.State(); got != before {
		t.Errorf("State() = %+v, want %+v", got, before)
	}
	if p.clears != 0 {
		t.Errorf("clears = %d, want 0", p.clears)
	}
	if len(p.updates) != 1 {
		t.Errorf("updates = %d, want 1", len(p.updates))
	}
}

func TestService_PresenceErrorKeepsState(t *testing.T) {
	p := &mockPresence{err: errors.New("broken pipe")}
	s, clock := newTestService(p)

	s.Sync(track("T1", 5000, 200000))
	anchor := s.State()
	if anchor.CurrentTrackID != "T1" {
		t.Fatalf("CurrentTrackID = %q, want T1", anchor.CurrentTrackID)
	}

	// The next poll retries the same update with the same anchor.
	clock.advance(10 * time.Second)
	p.err = nil
	s.Sync(track("T1", 15000, 200000))
	if got := s.State(); got != anchor {
		t.Errorf("State() = %+v, want %+v", got, anchor)
	}
	if len(p.updates) != 2 {
		t.Errorf("updates = %d, want 2", len(p.updates))
	}
}

func TestBuildActivity(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	long := strings.Repeat("é", 200)

	tests := []struct {
		name  string
		track spotify.TrackSnapshot
		check func(t *testing.T, a *discord.Activity)
	}{
		{
			name: "full track",
			track: spotify.TrackSnapshot{
				TrackID:     "T1",
				Title:       "Song",
				Artists:     []string{"A", "B", "C"},
				AlbumName:   "Album",
				AlbumArtURL: "https://img/1",
				DurationMs:  200500,
				ExternalURL: "https://open.spotify.com/track/T1",
			},
			check: func(t *testing.T, a *discord.Activity) {
				if a.Type != discord.ActivityListening {
					t.Errorf("Type = %d, want listening", a.Type)
				}
				if a.Details != "Song" || a.State != "A, B, C" {
					t.Errorf("Details/State = %q/%q", a.Details, a.State)
				}
				if a.Assets.LargeImage != "https://img/1" || a.Assets.LargeText != "Album" {
					t.Errorf("Assets = %+v", a.Assets)
				}
				if a.Assets.SmallImage != "spotify" || a.Assets.SmallText != "Listening on Spotify" {
					t.Errorf("small assets = %+v", a.Assets)
				}
				if a.Timestamps.Start != 1_700_000_000 || a.Timestamps.End != 1_700_000_200 {
					t.Errorf("Timestamps = %+v", a.Timestamps)
				}
				if len(a.Buttons) != 1 || a.Buttons[0].Label != "Listen on Spotify" ||
					a.Buttons[0].URL != "https://open.spotify.com/track/T1" {
					t.Errorf("Buttons = %+v", a.Buttons)
				}
			},
		},
		{
			name:  "no album art or link",
			track: spotify.TrackSnapshot{TrackID: "T2", Title: "Bare", Artists: []string{"Solo"}},
			check: func(t *testing.T, a *discord.Activity) {
				if a.Assets.LargeImage != "" {
					t.Errorf("LargeImage = %q, want empty", a.Assets.LargeImage)
				}
				if a.Buttons != nil {
					t.Errorf("Buttons = %+v, want none", a.Buttons)
				}
			},
		},
		{
			name: "long fields truncated",
			track: spotify.TrackSnapshot{
				TrackID:   "T3",
				Title:     long,
				Artists:   []string{long, long},
				AlbumName: long,
			},
			check: func(t *testing.T, a *discord.Activity) {
				for field, v := range map[string]string{
					"Details":   a.Details,
					"State":     a.State,
					"LargeText": a.Assets.LargeText,
				} {
					if n := len([]rune(v)); n != maxFieldLength {
						t.Errorf("%s has %d characters, want %d", field, n, maxFieldLength)
					}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, buildActivity(tt.track, start))
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"short", 5},
		{strings.Repeat("a", 128), 128},
		{strings.Repeat("a", 129), 128},
		{strings.Repeat("日本", 100), 128},
	}
	for _, tt := range tests {
		got := truncate(tt.in)
		if n := len([]rune(got)); n != tt.want {
			t.Errorf("truncate(%d chars) has %d chars, want %d", len([]rune(tt.in)), n, tt.want)
		}
		if !strings.HasPrefix(tt.in, got) {
			t.Errorf("truncate() = %q is not a prefix of the input", got)
		}
	}
}
