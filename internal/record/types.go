// Package record holds the typed source records of both data families and the
// pure transformations that derive dimension and fact rows from them.
//
// Nothing in this package touches storage: every function is a deterministic
// mapping of its input, so running it twice on the same bytes yields the same
// rows.
package record

import "time"

// PageNextSong is the page action that marks a qualifying activity event.
const PageNextSong = "NextSong"

// CatalogRecord is the single object of a song ("catalog") file.
type CatalogRecord struct {
	SongID          string
	Title           string
	ArtistID        string
	ArtistName      string
	ArtistLocation  *string
	ArtistLatitude  *float64
	ArtistLongitude *float64
	Year            int
	Duration        *float64
	NumSongs        int
}

// SongDim is a row of the song dimension keyed by SongID.
type SongDim struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int
	Duration *float64
}

// ArtistDim is a row of the artist dimension keyed by ArtistID.
type ArtistDim struct {
	ArtistID  string
	Name      string
	Location  *string
	Latitude  *float64
	Longitude *float64
}

// ActivityEvent is one line of a log file.
type ActivityEvent struct {
	Line int

	Page      string
	Timestamp int64 // epoch milliseconds
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     string
	Song      string
	Artist    string
	Length    float64
	SessionID int64
	Location  string
	UserAgent string
}

// Qualifies reports whether the event contributes rows to the load.
func (e ActivityEvent) Qualifies() bool { return e.Page == PageNextSong }

// TimeDim is a calendar breakdown of one event instant (UTC).
//
// Weekday follows the Monday=0 convention.
type TimeDim struct {
	StartTime time.Time
	TimeOfDay string
	Hour      int
	Day       int
	Week      int // ISO 8601 week number
	Month     int
	Year      int
	Weekday   int
}

// UserDim is a row of the user dimension. Later rows for the same UserID
// supersede earlier ones when persisted.
type UserDim struct {
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

// LookupKey carries the descriptive fields used to resolve a play to its song
// and artist dimension rows.
type LookupKey struct {
	Title      string
	ArtistName string
	Duration   float64
}

// DimRef is a resolved (song, artist) identifier pair.
type DimRef struct {
	SongID   string
	ArtistID string
}

// FactCandidate is a songplay awaiting dimension resolution.
type FactCandidate struct {
	Key       LookupKey
	StartTime time.Time
	UserID    string
	Level     string
	SessionID int64
	Location  string
	UserAgent string
}

// SongplayFact is a row of the songplay fact table. SongID and ArtistID are
// both set or both nil.
type SongplayFact struct {
	StartTime time.Time
	UserID    string
	Level     string
	SongID    *string
	ArtistID  *string
	SessionID int64
	Location  string
	UserAgent string
}

// ActivityRows is the output of TransformActivity. The three slices are
// index-aligned: element i of each derives from the i-th qualifying event.
type ActivityRows struct {
	Times []TimeDim
	Users []UserDim
	Facts []FactCandidate
}
