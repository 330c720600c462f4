package discord

// ActivityType values understood by Discord.
const (
	ActivityPlaying   = 0
	ActivityListening = 2
	ActivityWatching  = 3
)

// Activity is the rich presence payload sent with SET_ACTIVITY.
type Activity struct {
	Type       int         `json:"type"`
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
	Buttons    []Button    `json:"buttons,omitempty"`
}

// Timestamps are unix seconds. Discord renders a progress bar when both are set.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// Assets reference either uploaded art keys or external image URLs.
type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Button is a clickable link shown under the presence. Discord allows two.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}
