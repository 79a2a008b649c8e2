// To keep DDL generic, the TableSpec types live where every backend package can
// import them; each backend maps the portable column types onto its dialect.
package storage

// Portable column types understood by every backend's DDL builder.
const (
	TypeText      = "text"
	TypeInt       = "int"
	TypeBigInt    = "bigint"
	TypeFloat     = "float"
	TypeTimestamp = "timestamp"
)

type TableSpec struct {
	Name string

	// Surrogate key generated by the database (fact tables).
	PrimaryKey *PrimaryKeySpec

	// Natural key columns (dimension tables); conflict target of inserts.
	Key []string

	Columns []ColumnSpec
}

type PrimaryKeySpec struct {
	Name string
	Type string // serial | bigserial
}

type ColumnSpec struct {
	Name     string
	Type     string
	Nullable bool
}

// IsKey reports whether column is part of the natural key.
func (t TableSpec) IsKey(column string) bool {
	for _, k := range t.Key {
		if k == column {
			return true
		}
	}
	return false
}

// Schema is the star schema loaded by the engine: four dimensions and the
// songplay fact.
var Schema = []TableSpec{
	{
		Name: TableSongs,
		Key:  []string{"song_id"},
		Columns: []ColumnSpec{
			{Name: "song_id", Type: TypeText},
			{Name: "title", Type: TypeText},
			{Name: "artist_id", Type: TypeText},
			{Name: "year", Type: TypeInt, Nullable: true},
			{Name: "duration", Type: TypeFloat, Nullable: true},
		},
	},
	{
		Name: TableArtists,
		Key:  []string{"artist_id"},
		Columns: []ColumnSpec{
			{Name: "artist_id", Type: TypeText},
			{Name: "name", Type: TypeText},
			{Name: "location", Type: TypeText, Nullable: true},
			{Name: "latitude", Type: TypeFloat, Nullable: true},
			{Name: "longitude", Type: TypeFloat, Nullable: true},
		},
	},
	{
		Name: TableTime,
		Key:  []string{"start_time"},
		Columns: []ColumnSpec{
			{Name: "start_time", Type: TypeTimestamp},
			{Name: "time_of_day", Type: TypeText},
			{Name: "hour", Type: TypeInt},
			{Name: "day", Type: TypeInt},
			{Name: "week", Type: TypeInt},
			{Name: "month", Type: TypeInt},
			{Name: "year", Type: TypeInt},
			{Name: "weekday", Type: TypeInt},
		},
	},
	{
		Name: TableUsers,
		Key:  []string{"user_id"},
		Columns: []ColumnSpec{
			{Name: "user_id", Type: TypeText},
			{Name: "first_name", Type: TypeText, Nullable: true},
			{Name: "last_name", Type: TypeText, Nullable: true},
			{Name: "gender", Type: TypeText, Nullable: true},
			{Name: "level", Type: TypeText},
		},
	},
	{
		Name:       TableSongplays,
		PrimaryKey: &PrimaryKeySpec{Name: "songplay_id", Type: "bigserial"},
		Columns: []ColumnSpec{
			{Name: "start_time", Type: TypeTimestamp},
			{Name: "user_id", Type: TypeText},
			{Name: "level", Type: TypeText},
			{Name: "song_id", Type: TypeText, Nullable: true},
			{Name: "artist_id", Type: TypeText, Nullable: true},
			{Name: "session_id", Type: TypeBigInt},
			{Name: "location", Type: TypeText, Nullable: true},
			{Name: "user_agent", Type: TypeText, Nullable: true},
		},
	},
}
