package lastfm

// Token is a request token obtained from auth.getToken. The user must
// authorize it in a browser before it can be exchanged for a session.
type Token struct {
	Token string `json:"token"`
}

// Session is an authenticated Last.fm session returned by auth.getSession.
// The key does not expire and should be stored.
type Session struct {
	Name       string `json:"name"`
	Key        string `json:"key"`
	Subscriber int    `json:"subscriber"`
}

// Track describes the track named in a now-playing update.
type Track struct {
	Artist      string  // Required: artist name
	Track       string  // Required: track title
	Album       string  // Optional: album name
	AlbumArtist string  // Optional: album artist, if different from Artist
	MBID        string  // Optional: MusicBrainz track ID
	Duration    float64 // Optional: track length in seconds
}

// Scrobble describes one listened track submission.
type Scrobble struct {
	Artist      string  // Required: artist name
	Track       string  // Required: track title
	Timestamp   int64   // Required: unix time playback started
	Album       string  // Optional: album name
	AlbumArtist string  // Optional: album artist, if different from Artist
	MBID        string  // Optional: MusicBrainz track ID
	Duration    float64 // Optional: track length in seconds
}

// ScrobbleResult reports how the service disposed of a submission.
type ScrobbleResult struct {
	Accepted int
	Ignored  int

	// IgnoredCode and IgnoredMessage carry the service's reason when the
	// submission was accepted at the protocol level but not counted.
	IgnoredCode    string
	IgnoredMessage string
}

// textField is the JSON API's {"corrected": "...", "#text": "..."} shape.
type textField struct {
	Code string `json:"code"`
	Text string `json:"#text"`
}
