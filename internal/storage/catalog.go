package storage

import (
	"fmt"
	"strings"
)

// Op names a logical statement of the load. The positional parameter
// contract of each op is fixed; only the SQL text varies per backend.
type Op string

const (
	// OpInsertSong: (song_id, title, artist_id, year, duration)
	OpInsertSong Op = "insert_song"
	// OpInsertArtist: (artist_id, name, location, latitude, longitude)
	OpInsertArtist Op = "insert_artist"
	// OpInsertTime: (start_time, time_of_day, hour, day, week, month, year, weekday)
	OpInsertTime Op = "insert_time"
	// OpInsertUser: (user_id, first_name, last_name, gender, level); upsert.
	OpInsertUser Op = "insert_user"
	// OpSelectSongArtist: (title, artist_name, duration) -> (song_id, artist_id)
	OpSelectSongArtist Op = "select_song_artist"
	// OpInsertSongplay: (start_time, user_id, level, song_id, artist_id, session_id, location, user_agent)
	OpInsertSongplay Op = "insert_songplay"
)

// Ops lists every statement a backend catalog must provide.
var Ops = []Op{
	OpInsertSong,
	OpInsertArtist,
	OpInsertTime,
	OpInsertUser,
	OpSelectSongArtist,
	OpInsertSongplay,
}

// Catalog maps each Op to the backend's SQL text.
type Catalog map[Op]string

// Validate reports the ops that have no (or blank) SQL text.
func (c Catalog) Validate() error {
	var missing []string
	for _, op := range Ops {
		if strings.TrimSpace(c[op]) == "" {
			missing = append(missing, string(op))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("storage: catalog missing statements: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Statement returns the SQL text for op.
func (c Catalog) Statement(op Op) (string, error) {
	q, ok := c[op]
	if !ok || strings.TrimSpace(q) == "" {
		return "", fmt.Errorf("storage: no statement for op %q", op)
	}
	return q, nil
}

// Table names of the star schema, shared by every backend's DDL and catalog.
const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableTime      = "time"
	TableUsers     = "users"
	TableSongplays = "songplays"
)
