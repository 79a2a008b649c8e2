package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"sparkify/internal/storage"
)

// Repo implements storage.Repository for Microsoft SQL Server.
//
// SQL Server has no ON CONFLICT clause, so:
//   - Dimension inserts are guarded with IF NOT EXISTS on the natural key.
//   - The user upsert is a MERGE keyed by user_id (last write wins).
//   - DDL is wrapped in an OBJECT_ID guard to stay idempotent.
type Repo struct {
	*storage.SQLRepository
}

func init() {
	storage.Register("mssql", New)
}

// New opens a connection pool using the "sqlserver" driver and validates
// connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// One file is loaded at a time; a small pool is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	ddl, err := buildSchemaSQL(storage.Schema)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	base, err := storage.NewSQLRepository(db, Catalog, ddl, nil)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{SQLRepository: base}, nil
}

// Catalog holds the T-SQL text of every load statement. Parameters are
// positional (@p1..@pN) and may be referenced more than once.
var Catalog = storage.Catalog{
	storage.OpInsertSong: `IF NOT EXISTS (SELECT 1 FROM [songs] WHERE [song_id] = @p1)
INSERT INTO [songs] ([song_id], [title], [artist_id], [year], [duration])
VALUES (@p1, @p2, @p3, @p4, @p5);`,

	storage.OpInsertArtist: `IF NOT EXISTS (SELECT 1 FROM [artists] WHERE [artist_id] = @p1)
INSERT INTO [artists] ([artist_id], [name], [location], [latitude], [longitude])
VALUES (@p1, @p2, @p3, @p4, @p5);`,

	storage.OpInsertTime: `IF NOT EXISTS (SELECT 1 FROM [time] WHERE [start_time] = @p1)
INSERT INTO [time] ([start_time], [time_of_day], [hour], [day], [week], [month], [year], [weekday])
VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8);`,

	storage.OpInsertUser: `MERGE [users] WITH (HOLDLOCK) AS tgt
USING (VALUES (@p1, @p2, @p3, @p4, @p5)) AS src ([user_id], [first_name], [last_name], [gender], [level])
ON tgt.[user_id] = src.[user_id]
WHEN MATCHED THEN UPDATE SET
  tgt.[first_name] = src.[first_name],
  tgt.[last_name] = src.[last_name],
  tgt.[gender] = src.[gender],
  tgt.[level] = src.[level]
WHEN NOT MATCHED THEN INSERT ([user_id], [first_name], [last_name], [gender], [level])
  VALUES (src.[user_id], src.[first_name], src.[last_name], src.[gender], src.[level]);`,

	storage.OpSelectSongArtist: `SELECT TOP 1 s.[song_id], s.[artist_id]
FROM [songs] s
JOIN [artists] a ON a.[artist_id] = s.[artist_id]
WHERE s.[title] = @p1 AND a.[name] = @p2 AND s.[duration] = @p3;`,

	storage.OpInsertSongplay: `INSERT INTO [songplays] ([start_time], [user_id], [level], [song_id], [artist_id], [session_id], [location], [user_agent])
VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8);`,
}

func buildSchemaSQL(tables []storage.TableSpec) ([]string, error) {
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		q, err := buildCreateSQL(t)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// buildCreateSQL builds idempotent CREATE TABLE SQL for one table.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		pkDef, err := mssqlPrimaryKeyDef(*t.PrimaryKey)
		if err != nil {
			return "", err
		}
		parts = append(parts, pkDef)
	}

	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c, t.IsKey(c.Name))
		if err != nil {
			return "", fmt.Errorf("mssql: table %s: %w", t.Name, err)
		}
		parts = append(parts, def)
	}

	if len(t.Key) > 0 {
		cols := make([]string, len(t.Key))
		for i, k := range t.Key {
			cols[i] = mssqlIdent(k)
		}
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(cols, ", ")))
	}

	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		tableName,
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlPrimaryKeyDef returns a column definition for an identity primary key.
//
//   - "serial" -> INT IDENTITY(1,1) PRIMARY KEY
//   - "bigserial" -> BIGINT IDENTITY(1,1) PRIMARY KEY
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) (string, error) {
	if strings.TrimSpace(pk.Name) == "" {
		return "", fmt.Errorf("mssql: primary key name is empty")
	}
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "serial":
		return fmt.Sprintf("%s INT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	case "bigserial":
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	default:
		return "", fmt.Errorf("mssql: unsupported primary key type %q", pk.Type)
	}
}

// mssqlColumnDef maps a portable column onto T-SQL. Key text columns get a
// bounded NVARCHAR so they can participate in an index.
func mssqlColumnDef(c storage.ColumnSpec, key bool) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("column name is empty")
	}

	var typ string
	switch c.Type {
	case storage.TypeText:
		typ = "NVARCHAR(MAX)"
		if key {
			typ = "NVARCHAR(450)"
		}
	case storage.TypeInt:
		typ = "INT"
	case storage.TypeBigInt:
		typ = "BIGINT"
	case storage.TypeFloat:
		typ = "FLOAT"
	case storage.TypeTimestamp:
		typ = "DATETIME2"
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}

	def := mssqlIdent(c.Name) + " " + typ
	if c.Nullable {
		def += " NULL"
	} else {
		def += " NOT NULL"
	}
	return def, nil
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.songs" -> [dbo].[songs]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
