package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sparkify/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native timestamp type. modernc.org/sqlite stores time.Time
//     with TEXT affinity in a Go-specific layout unless told otherwise, so this
//     backend binds every time.Time as an RFC3339Nano UTC string for reliable
//     round-trips and lexical ordering.
//   - Upserts use "ON CONFLICT (...) DO ..." which SQLite supports since 3.24.
type Repo struct {
	*storage.SQLRepository
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN and verifies connectivity.
//
// The pool is capped at one connection: SQLite serialises writers anyway and
// an in-memory DSN is private to the connection that created it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	ddl, err := buildSchemaSQL(storage.Schema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	base, err := storage.NewSQLRepository(db, Catalog, ddl, bindArg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{SQLRepository: base}, nil
}

// Catalog holds the SQLite text of every load statement.
var Catalog = storage.Catalog{
	storage.OpInsertSong: `INSERT INTO songs (song_id, title, artist_id, year, duration)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (song_id) DO NOTHING`,

	storage.OpInsertArtist: `INSERT INTO artists (artist_id, name, location, latitude, longitude)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (artist_id) DO NOTHING`,

	storage.OpInsertTime: `INSERT INTO "time" (start_time, time_of_day, hour, day, week, month, year, weekday)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (start_time) DO NOTHING`,

	storage.OpInsertUser: `INSERT INTO users (user_id, first_name, last_name, gender, level)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
  first_name = excluded.first_name,
  last_name = excluded.last_name,
  gender = excluded.gender,
  level = excluded.level`,

	storage.OpSelectSongArtist: `SELECT s.song_id, s.artist_id
FROM songs s
JOIN artists a ON a.artist_id = s.artist_id
WHERE s.title = ? AND a.name = ? AND s.duration = ?
LIMIT 1`,

	storage.OpInsertSongplay: `INSERT INTO songplays (start_time, user_id, level, song_id, artist_id, session_id, location, user_agent)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
}

func bindArg(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatSQLiteTime(t)
	}
	return v
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func buildSchemaSQL(tables []storage.TableSpec) ([]string, error) {
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		q, err := buildCreateTableSQL(t)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		// INTEGER PRIMARY KEY aliases rowid and is auto-generated.
		parts = append(parts, fmt.Sprintf("%s INTEGER PRIMARY KEY AUTOINCREMENT", sqlIdent(t.PrimaryKey.Name)))
	}

	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return "", fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
		}
		def := sqlIdent(c.Name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		parts = append(parts, def)
	}

	if len(t.Key) > 0 {
		keys := make([]string, len(t.Key))
		for i, k := range t.Key {
			keys[i] = sqlIdent(k)
		}
		parts = append(parts, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sqlIdent(t.Name), strings.Join(parts, ", ")), nil
}

func sqliteType(portable string) (string, error) {
	switch portable {
	case storage.TypeText, storage.TypeTimestamp:
		return "TEXT", nil
	case storage.TypeInt, storage.TypeBigInt:
		return "INTEGER", nil
	case storage.TypeFloat:
		return "REAL", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", portable)
	}
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
// We store timestamps as TEXT for reliable scanning/parsing with modernc.org/sqlite.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
