package multitable

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sparkify/internal/etlerr"
	"sparkify/internal/storage"
	"sparkify/internal/storage/sqlite"
)

const (
	catalogCasual = `{"num_songs": 1, "artist_id": "ARD7TVE1187B99BFB1", "artist_latitude": null, "artist_longitude": null, "artist_location": "California - LA", "artist_name": "Casual", "song_id": "SOMZWCG12A8C13C480", "title": "I Didn't Mean To", "duration": 218.93179, "year": 0}`
	catalogElena  = `{"num_songs": 1, "artist_id": "AR5KOSW1187FB35FF4", "artist_latitude": 49.80388, "artist_longitude": 15.47491, "artist_location": "Dubai UAE", "artist_name": "Elena", "song_id": "SOZCTXZ12AB0182364", "title": "Setanta matins", "duration": 269.58322, "year": 0}`

	eventHit   = `{"artist":"Casual","auth":"Logged In","firstName":"Lily","gender":"F","itemInSession":0,"lastName":"Koch","length":218.93179,"level":"free","location":"Chicago-Naperville-Elgin, IL-IN-WI","method":"PUT","page":"NextSong","registration":1.541048010796E12,"sessionId":818,"song":"I Didn't Mean To","status":200,"ts":1542837407796,"userAgent":"Mozilla/5.0","userId":"15"}`
	eventMiss  = `{"artist":"Nobody","auth":"Logged In","firstName":"Lily","gender":"F","itemInSession":1,"lastName":"Koch","length":1.0,"level":"paid","location":"Chicago-Naperville-Elgin, IL-IN-WI","method":"PUT","page":"NextSong","registration":1.541048010796E12,"sessionId":818,"song":"Nonexistent Song","status":200,"ts":1542837600000,"userAgent":"Mozilla/5.0","userId":"15"}`
	eventOther = `{"artist":"Des'ree","auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":1,"lastName":"Summers","length":246.30812,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"PUT","page":"NextSong","registration":1540344794796.0,"sessionId":139,"song":"You Gotta Be","status":200,"ts":1541106106796,"userAgent":"Mozilla/5.0","userId":"8"}`
	eventHome  = `{"artist":null,"auth":"Logged In","firstName":"Kaylee","gender":"F","itemInSession":0,"lastName":"Summers","length":null,"level":"free","location":"Phoenix-Mesa-Scottsdale, AZ","method":"GET","page":"Home","registration":1540344794796.0,"sessionId":139,"song":null,"status":200,"ts":1541106106000,"userAgent":"Mozilla/5.0","userId":"8"}`
	eventOut   = `{"artist":null,"auth":"Logged Out","firstName":null,"gender":null,"itemInSession":2,"lastName":null,"length":null,"level":"free","location":null,"method":"PUT","page":"Login","registration":null,"sessionId":139,"song":null,"status":307,"ts":1541106107000,"userAgent":null,"userId":""}`
)

func writeFile(t *testing.T, dir, rel string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return p
}

func openSQLite(t *testing.T) *sqlite.Repo {
	t.Helper()
	ctx := context.Background()
	repo, err := sqlite.New(ctx, storage.Config{Kind: "sqlite", DSN: filepath.Join(t.TempDir(), "sparkify.db")})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	require.NoError(t, repo.EnsureSchema(ctx))
	return repo.(*sqlite.Repo)
}

func countRows(t *testing.T, r *sqlite.Repo, query string) int {
	t.Helper()
	var n int
	require.NoError(t, r.DB().QueryRow(query).Scan(&n))
	return n
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestEngine_Run_EndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	songDir := t.TempDir()
	writeFile(t, songDir, "A/A/A/TRAAAAW128F429D538.json", catalogCasual)
	writeFile(t, songDir, "A/B/C/TRABCEI128F424C983.json", catalogElena)
	writeFile(t, songDir, ".ipynb_checkpoints/TRAAAAW128F429D538-checkpoint.json", catalogCasual)

	logDir := t.TempDir()
	writeFile(t, logDir, "2018/11/2018-11-01-events.json", eventHome, eventOther, eventOut)
	writeFile(t, logDir, "2018/11/2018-11-21-events.json", eventHit, eventMiss)

	repo := openSQLite(t)
	logger, logs := observedLogger()
	e := &Engine{Repo: repo, Logger: logger}

	require.NoError(t, e.Run(ctx, []Root{{Kind: CatalogFile, Dir: songDir}, {Kind: LogFile, Dir: logDir}}))
	assert.Equal(t, Done, e.State())

	// The checkpoint copy re-inserts an existing song; conflicts are ignored.
	assert.Equal(t, 2, countRows(t, repo, `SELECT COUNT(*) FROM songs`))
	assert.Equal(t, 2, countRows(t, repo, `SELECT COUNT(*) FROM artists`))
	assert.Equal(t, 3, countRows(t, repo, `SELECT COUNT(*) FROM "time"`))
	assert.Equal(t, 2, countRows(t, repo, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 3, countRows(t, repo, `SELECT COUNT(*) FROM songplays`))

	// Exactly one play resolves, and references are both set or both null.
	assert.Equal(t, 1, countRows(t, repo, `SELECT COUNT(*) FROM songplays WHERE song_id IS NOT NULL AND artist_id IS NOT NULL`))
	assert.Equal(t, 2, countRows(t, repo, `SELECT COUNT(*) FROM songplays WHERE song_id IS NULL AND artist_id IS NULL`))

	var songID, artistID string
	require.NoError(t, repo.DB().QueryRow(`SELECT song_id, artist_id FROM songplays WHERE song_id IS NOT NULL`).Scan(&songID, &artistID))
	assert.Equal(t, "SOMZWCG12A8C13C480", songID)
	assert.Equal(t, "ARD7TVE1187B99BFB1", artistID)

	// Last write wins for the user's level.
	var level string
	require.NoError(t, repo.DB().QueryRow(`SELECT level FROM users WHERE user_id = '15'`).Scan(&level))
	assert.Equal(t, "paid", level)

	var hour, weekday, week int
	require.NoError(t, repo.DB().QueryRow(`SELECT hour, weekday, week FROM "time" WHERE time_of_day = '21:56:47.796000'`).Scan(&hour, &weekday, &week))
	assert.Equal(t, []int{21, 2, 47}, []int{hour, weekday, week})

	assert.Equal(t, 1, logs.FilterMessage("3 files found in "+songDir).Len())
	assert.Equal(t, 1, logs.FilterMessage("2 files found in "+logDir).Len())
	assert.Equal(t, 1, logs.FilterMessage("3/3 files processed.").Len())
	assert.Equal(t, 1, logs.FilterMessage("2/2 files processed.").Len())
}

func TestEngine_Run_RerunIsIdempotentForDimensions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	songDir := t.TempDir()
	writeFile(t, songDir, "a.json", catalogCasual)
	logDir := t.TempDir()
	writeFile(t, logDir, "events.json", eventHit)

	repo := openSQLite(t)
	roots := []Root{{Kind: CatalogFile, Dir: songDir}, {Kind: LogFile, Dir: logDir}}
	for i := 0; i < 2; i++ {
		require.NoError(t, (&Engine{Repo: repo}).Run(ctx, roots))
	}

	assert.Equal(t, 1, countRows(t, repo, `SELECT COUNT(*) FROM songs`))
	assert.Equal(t, 1, countRows(t, repo, `SELECT COUNT(*) FROM "time"`))
	assert.Equal(t, 1, countRows(t, repo, `SELECT COUNT(*) FROM users`))
	// Facts carry a surrogate key and are appended on every run.
	assert.Equal(t, 2, countRows(t, repo, `SELECT COUNT(*) FROM songplays`))
}

func TestEngine_Run_ParseErrorHaltsAndKeepsEarlierCommits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	logDir := t.TempDir()
	writeFile(t, logDir, "a-events.json", eventHit)
	bad := writeFile(t, logDir, "b-events.json", eventMiss, `{"page": "NextSong",`)
	writeFile(t, logDir, "c-events.json", eventOther)

	repo := openSQLite(t)
	logger, logs := observedLogger()
	e := &Engine{Repo: repo, Logger: logger}

	err := e.Run(ctx, []Root{{Kind: LogFile, Dir: logDir}})
	require.Error(t, err)

	var pe *etlerr.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bad, pe.Path)
	assert.Equal(t, 2, pe.Line)
	assert.Equal(t, Failed, e.State())

	// Only the first file survived; the bad file left nothing behind and the
	// third was never attempted.
	assert.Equal(t, 1, countRows(t, repo, `SELECT COUNT(*) FROM songplays`))
	assert.Equal(t, 1, countRows(t, repo, `SELECT COUNT(*) FROM "time"`))
	assert.Equal(t, 1, logs.FilterMessage("1/3 files processed.").Len())
	assert.Equal(t, 0, logs.FilterMessage("2/3 files processed.").Len())
}

func TestEngine_Run_TransformErrorRollsBackFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	logDir := t.TempDir()
	missingTS := strings.Replace(eventMiss, `"ts":1542837600000,`, "", 1)
	p := writeFile(t, logDir, "events.json", eventHit, missingTS)

	repo := openSQLite(t)
	e := &Engine{Repo: repo}
	err := e.Run(ctx, []Root{{Kind: LogFile, Dir: logDir}})

	var te *etlerr.TransformError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, p, te.Path)
	assert.Equal(t, "ts", te.Field)
	assert.Equal(t, 2, te.Line)

	assert.Equal(t, 0, countRows(t, repo, `SELECT COUNT(*) FROM "time"`))
	assert.Equal(t, 0, countRows(t, repo, `SELECT COUNT(*) FROM songplays`))
}

func TestEngine_Run_DiscoveryError(t *testing.T) {
	t.Parallel()

	repo := openSQLite(t)
	e := &Engine{Repo: repo}
	err := e.Run(context.Background(), []Root{{Kind: CatalogFile, Dir: filepath.Join(t.TempDir(), "nope")}})

	var de *etlerr.DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, Failed, e.State())
}

func TestEngine_Run_EmptyRootIsNotAnError(t *testing.T) {
	t.Parallel()

	logger, logs := observedLogger()
	dir := t.TempDir()
	e := &Engine{Repo: openSQLite(t), Logger: logger}
	require.NoError(t, e.Run(context.Background(), []Root{{Kind: LogFile, Dir: dir}}))
	assert.Equal(t, 1, logs.FilterMessage("0 files found in "+dir).Len())
	assert.Equal(t, Done, e.State())
}

func TestEngine_LoadFile_EmptyCatalogFile(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "empty.json", "")
	e := &Engine{Repo: openSQLite(t)}
	err := e.LoadFile(context.Background(), DataFile{Kind: CatalogFile, Path: p})

	var te *etlerr.TransformError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, p, te.Path)
	assert.Equal(t, Failed, e.State())
}

func TestEngine_LoadFile_UnknownKind(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	e := &Engine{Repo: repo}
	err := e.LoadFile(context.Background(), DataFile{Kind: FileKind(99), Path: "x.json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FileKind(99)")
	assert.Zero(t, repo.begins)
	assert.Equal(t, Failed, e.State())
}

func TestEngine_Run_RequiresRepo(t *testing.T) {
	t.Parallel()
	assert.Error(t, (&Engine{}).Run(context.Background(), nil))
}

func TestEngine_Run_Cancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.json", catalogCasual)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo := &fakeRepo{}
	err := (&Engine{Repo: repo}).Run(ctx, []Root{{Kind: CatalogFile, Dir: dir}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.begins)
}

func TestEngine_States(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.json", catalogCasual)
	writeFile(t, dir, "b.json", eventHit)

	var seen []State
	repo := &fakeRepo{}
	e := &Engine{Repo: repo}
	repo.onBegin = func() { seen = append(seen, e.State()) }
	e.Discover = func(root, pattern string) ([]string, error) {
		seen = append(seen, e.State())
		if strings.HasSuffix(root, "songs") {
			return []string{filepath.Join(dir, "a.json")}, nil
		}
		return []string{filepath.Join(dir, "b.json")}, nil
	}

	require.NoError(t, e.Run(context.Background(), []Root{
		{Kind: CatalogFile, Dir: "songs"},
		{Kind: LogFile, Dir: "logs"},
	}))
	assert.Equal(t, []State{Discovering, ProcessingCatalogFile, Discovering, ProcessingLogFile}, seen)
	assert.Equal(t, Done, e.State())
	assert.Equal(t, "processing_log_file", ProcessingLogFile.String())
}

func TestEngine_LoadFile_PersistenceErrorRollsBack(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "events.json", eventHome, eventHit)
	boom := errors.New("constraint violation")
	repo := &fakeRepo{failOn: storage.OpInsertUser, failErr: boom}
	e := &Engine{Repo: repo}

	err := e.LoadFile(context.Background(), DataFile{Kind: LogFile, Path: p})

	var perr *etlerr.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, string(storage.OpInsertUser), perr.Op)
	assert.Equal(t, p, perr.Path)
	assert.ErrorIs(t, err, boom)

	tx := repo.txs[0]
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
	assert.Equal(t, []storage.Op{storage.OpInsertTime, storage.OpInsertUser}, tx.ops)
	assert.Equal(t, Failed, e.State())
}

func TestEngine_LoadFile_LookupErrorIsPersistenceError(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "events.json", eventHit)
	repo := &fakeRepo{queryErr: errors.New("connection reset")}
	e := &Engine{Repo: repo}

	err := e.LoadFile(context.Background(), DataFile{Kind: LogFile, Path: p})

	var perr *etlerr.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, string(storage.OpSelectSongArtist), perr.Op)
	assert.False(t, repo.txs[0].committed)
}

func TestEngine_LoadFile_StatementOrderAndArgs(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "events.json", eventHit, eventHome, eventMiss)
	repo := &fakeRepo{}
	e := &Engine{Repo: repo}

	require.NoError(t, e.LoadFile(context.Background(), DataFile{Kind: LogFile, Path: p}))

	assert.Equal(t, ProcessingLogFile, e.State(), "only Run moves to Done")

	tx := repo.txs[0]
	assert.True(t, tx.committed)
	assert.Equal(t, []storage.Op{
		storage.OpInsertTime, storage.OpInsertTime,
		storage.OpInsertUser, storage.OpInsertUser,
		storage.OpInsertSongplay, storage.OpInsertSongplay,
	}, tx.ops)
	assert.Len(t, tx.queries, 2)

	// Misses bind untyped NULLs for both references.
	play := tx.args[len(tx.args)-1]
	require.Len(t, play, 8)
	assert.Nil(t, play[3])
	assert.Nil(t, play[4])
	assert.Equal(t, int64(818), play[5])
}
