package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sparkify/internal/storage"
)

// pool is the subset of *pgxpool.Pool used by Repo; pgxmock satisfies it in tests.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

/*
Repo implements storage.Repository for Postgres.

It provides:
  - Idempotent dimension inserts (ON CONFLICT DO NOTHING)
  - A last-write-wins user upsert (ON CONFLICT DO UPDATE)
  - One pgx transaction per storage.Tx
*/
type Repo struct {
	pool    pool
	catalog storage.Catalog
}

func init() {
	// registers the backend factory
	storage.Register("postgres", New)
}

// New creates a new Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	p, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return newRepo(p), nil
}

func newRepo(p pool) *Repo {
	return &Repo{pool: p, catalog: Catalog}
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureSchema creates the star schema tables if they do not exist.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.Schema {
		q, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// Begin starts a transaction.
func (r *Repo) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx, catalog: r.catalog}, nil
}

type pgTx struct {
	tx      pgx.Tx
	catalog storage.Catalog
	done    bool
}

func (t *pgTx) Exec(ctx context.Context, op storage.Op, args ...any) error {
	q, err := t.catalog.Statement(op)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, q, args...)
	return err
}

func (t *pgTx) QueryRow(ctx context.Context, op storage.Op, args ...any) storage.Row {
	q, err := t.catalog.Statement(op)
	if err != nil {
		return storage.ErrRow(err)
	}
	return pgRow{row: t.tx.QueryRow(ctx, q, args...)}
}

func (t *pgTx) Commit(ctx context.Context) error {
	t.done = true
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

type pgRow struct {
	row pgx.Row
}

func (r pgRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNoRows
	}
	return err
}

// Catalog holds the Postgres text of every load statement.
var Catalog = storage.Catalog{
	storage.OpInsertSong: `INSERT INTO songs (song_id, title, artist_id, year, duration)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (song_id) DO NOTHING`,

	storage.OpInsertArtist: `INSERT INTO artists (artist_id, name, location, latitude, longitude)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (artist_id) DO NOTHING`,

	storage.OpInsertTime: `INSERT INTO "time" (start_time, time_of_day, hour, day, week, month, year, weekday)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (start_time) DO NOTHING`,

	storage.OpInsertUser: `INSERT INTO users (user_id, first_name, last_name, gender, level)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
  first_name = EXCLUDED.first_name,
  last_name = EXCLUDED.last_name,
  gender = EXCLUDED.gender,
  level = EXCLUDED.level`,

	storage.OpSelectSongArtist: `SELECT s.song_id, s.artist_id
FROM songs s
JOIN artists a ON a.artist_id = s.artist_id
WHERE s.title = $1 AND a.name = $2 AND s.duration = $3
LIMIT 1`,

	storage.OpInsertSongplay: `INSERT INTO songplays (start_time, user_id, level, song_id, artist_id, session_id, location, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
}

// buildCreateSQL builds CREATE TABLE IF NOT EXISTS DDL for one table.
//
// It is pure and deterministic, so it can be unit tested without a database.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("table name is empty")
	}

	var defs []string
	if t.PrimaryKey != nil {
		typ := "BIGSERIAL"
		if strings.EqualFold(t.PrimaryKey.Type, "serial") {
			typ = "SERIAL"
		}
		defs = append(defs, fmt.Sprintf("%s %s PRIMARY KEY", pgIdent(t.PrimaryKey.Name), typ))
	}

	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}

	if len(t.Key) > 0 {
		keys := make([]string, len(t.Key))
		for i, k := range t.Key {
			keys[i] = pgIdent(k)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", pgIdent(t.Name), strings.Join(defs, ", ")), nil
}

func buildColumnDef(c storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("column name is empty")
	}
	var typ string
	switch c.Type {
	case storage.TypeText:
		typ = "TEXT"
	case storage.TypeInt:
		typ = "INTEGER"
	case storage.TypeBigInt:
		typ = "BIGINT"
	case storage.TypeFloat:
		typ = "DOUBLE PRECISION"
	case storage.TypeTimestamp:
		typ = "TIMESTAMPTZ"
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
	def := pgIdent(c.Name) + " " + typ
	if !c.Nullable {
		def += " NOT NULL"
	}
	return def, nil
}

// pgIdent double-quotes an identifier, escaping embedded quotes.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
