package spotify

import (
	"github.com/zmb3/spotify/v2"
)

// snapshotFrom converts the currently playing item into a TrackSnapshot.
// It returns false when no track item is present (podcast episodes, ads and
// private sessions come back with a null item).
func snapshotFrom(cp *spotify.CurrentlyPlaying) (TrackSnapshot, bool) {
	if cp == nil || cp.Item == nil || cp.Item.ID == "" {
		return TrackSnapshot{}, false
	}
	item := cp.Item

	artists := make([]string, 0, len(item.Artists))
	for _, a := range item.Artists {
		artists = append(artists, a.Name)
	}

	var artURL string
	if len(item.Album.Images) > 0 {
		artURL = item.Album.Images[0].URL
	}

	return TrackSnapshot{
		TrackID:     item.ID.String(),
		Title:       item.Name,
		Artists:     artists,
		AlbumName:   item.Album.Name,
		AlbumArtURL: artURL,
		ProgressMs:  int(cp.Progress),
		DurationMs:  int(item.Duration),
		ExternalURL: item.ExternalURLs["spotify"],
	}, true
}
