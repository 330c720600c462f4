package spotify

import "fmt"

// TrackSnapshot is the playback state reported by one successful poll.
type TrackSnapshot struct {
	TrackID     string
	Title       string
	Artists     []string
	AlbumName   string
	AlbumArtURL string // empty when the album has no images
	ProgressMs  int
	DurationMs  int
	ExternalURL string
}

// Kind classifies a poll result.
type Kind int

const (
	KindError Kind = iota
	KindNoTrack
	KindTrack
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindNoTrack:
		return "no_track"
	case KindTrack:
		return "track"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Result is the outcome of Fetch. Track is set only for KindTrack and Err only
// for KindError.
type Result struct {
	Kind  Kind
	Track TrackSnapshot
	Err   error
}

// TrackResult wraps a snapshot.
func TrackResult(t TrackSnapshot) Result {
	return Result{Kind: KindTrack, Track: t}
}

// NoTrackResult reports that nothing is playing.
func NoTrackResult() Result {
	return Result{Kind: KindNoTrack}
}

// ErrorResult reports a failed poll.
func ErrorResult(err error) Result {
	return Result{Kind: KindError, Err: err}
}
