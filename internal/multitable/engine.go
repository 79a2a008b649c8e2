package multitable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"sparkify/internal/discover"
	"sparkify/internal/etlerr"
	"sparkify/internal/metrics"
	pjson "sparkify/internal/parser/json"
	"sparkify/internal/record"
	"sparkify/internal/resolve"
	"sparkify/internal/storage"
)

// FileKind is the record family of a data file. It decides which transformer
// and which statements a file goes through.
type FileKind int

const (
	// CatalogFile holds exactly one song/artist record.
	CatalogFile FileKind = iota + 1
	// LogFile holds a stream of user activity events.
	LogFile
)

func (k FileKind) String() string {
	switch k {
	case CatalogFile:
		return "catalog"
	case LogFile:
		return "log"
	default:
		return fmt.Sprintf("FileKind(%d)", int(k))
	}
}

// State is the load driver's position in a run.
type State int

const (
	Idle State = iota
	Discovering
	ProcessingCatalogFile
	ProcessingLogFile
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Discovering:
		return "discovering"
	case ProcessingCatalogFile:
		return "processing_catalog_file"
	case ProcessingLogFile:
		return "processing_log_file"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Root is one source tree and the family of every file under it.
type Root struct {
	Kind FileKind
	Dir  string
}

// DataFile is one discovered file awaiting load.
type DataFile struct {
	Kind FileKind
	Path string
}

// Engine loads data files into the star schema, strictly one file at a time
// and one transaction per file.
//
// A failure aborts the current file's transaction and halts the run; files
// committed before it stay committed.
type Engine struct {
	Repo   storage.Repository
	Logger *zap.Logger

	// Pattern filters file base names; empty means discover.DefaultPattern.
	Pattern string

	// Discover is a seam for tests; nil uses discover.Files.
	Discover func(root, pattern string) ([]string, error)

	mu    sync.Mutex
	state State
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		e.logger().Debug("state", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Engine) discover(root string) ([]string, error) {
	if e.Discover != nil {
		return e.Discover(root, e.Pattern)
	}
	return discover.Files(root, e.Pattern)
}

// Run processes roots in order. Each root is discovered, then its files are
// loaded in discovery order; the next root is only discovered once the
// previous one is fully loaded.
//
// Progress:
//   - "<N> files found in <dir>" once per root
//   - "<i>/<N> files processed." after each committed file
func (e *Engine) Run(ctx context.Context, roots []Root) (err error) {
	if e.Repo == nil {
		return eris.New("engine: Repo is required")
	}

	log := e.logger()
	runStart := time.Now()
	defer func() {
		if err != nil {
			e.setState(Failed)
			log.Error("stage=run failed", zap.Error(err), zap.Duration("duration", durMS(runStart)))
			return
		}
		e.setState(Done)
		log.Info("stage=run ok", zap.Duration("duration", durMS(runStart)))
	}()

	for _, root := range roots {
		e.setState(Discovering)
		paths, err := e.discover(root.Dir)
		if err != nil {
			return err
		}
		log.Info(fmt.Sprintf("%d files found in %s", len(paths), root.Dir),
			zap.Stringer("kind", root.Kind), zap.Int("files", len(paths)))

		for i, p := range paths {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "engine: run cancelled")
			}
			if err := e.LoadFile(ctx, DataFile{Kind: root.Kind, Path: p}); err != nil {
				return err
			}
			log.Info(fmt.Sprintf("%d/%d files processed.", i+1, len(paths)))
		}
	}
	return nil
}

// LoadFile extracts, transforms and persists one file inside its own
// transaction. Nothing from the file is committed unless every row succeeds.
// A failure moves the engine to Failed; Done is only set by Run.
//
// Errors:
//   - *etlerr.ParseError if the file is not valid JSON-lines.
//   - *etlerr.TransformError if a record lacks a required field.
//   - *etlerr.PersistenceError if any storage call fails.
func (e *Engine) LoadFile(ctx context.Context, f DataFile) (err error) {
	start := time.Now()
	log := e.logger().With(zap.String("path", f.Path), zap.Stringer("kind", f.Kind))
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			e.setState(Failed)
		}
		metrics.IncCounter(metrics.FilesTotal, 1, metrics.Labels{"kind": f.Kind.String(), "status": status})
		metrics.RecordStep("load_file", start, err)
	}()

	switch f.Kind {
	case CatalogFile:
		e.setState(ProcessingCatalogFile)
	case LogFile:
		e.setState(ProcessingLogFile)
	default:
		return eris.Errorf("engine: unknown file kind %v for %s", f.Kind, f.Path)
	}

	rows, err := pjson.ReadFile(f.Path)
	if err != nil {
		return err
	}

	tx, err := e.Repo.Begin(ctx)
	if err != nil {
		return &etlerr.PersistenceError{Op: "begin", Path: f.Path, Err: err}
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	var counts loadCounts
	switch f.Kind {
	case CatalogFile:
		counts, err = loadCatalog(ctx, tx, f.Path, rows)
	case LogFile:
		counts, err = loadLog(ctx, tx, f.Path, rows)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return &etlerr.PersistenceError{Op: "commit", Path: f.Path, Err: err}
	}

	counts.report()
	log.Debug("stage=load_file ok",
		zap.Int("rows", len(rows)),
		zap.Int("songplays", counts.songplays),
		zap.Int("unresolved", counts.songplays-counts.resolved),
		zap.Duration("duration", durMS(start)))
	return nil
}

// loadCounts tallies the rows one file wrote.
type loadCounts struct {
	songs, artists, times, users, songplays, resolved int
}

func (c loadCounts) report() {
	for kind, n := range map[string]int{
		"song":     c.songs,
		"artist":   c.artists,
		"time":     c.times,
		"user":     c.users,
		"songplay": c.songplays,
	} {
		if n > 0 {
			metrics.IncCounter(metrics.RecordsTotal, float64(n), metrics.Labels{"kind": kind})
		}
	}
}

// loadCatalog persists the song and artist derived from the file's first
// record. Any further records are ignored.
func loadCatalog(ctx context.Context, tx storage.Tx, path string, rows []pjson.Row) (loadCounts, error) {
	var c loadCounts
	if len(rows) == 0 {
		return c, &etlerr.TransformError{Path: path, Err: eris.New("catalog file has no records")}
	}

	rec, err := record.DecodeCatalog(rows[0])
	if err != nil {
		return c, etlerr.WithPath(err, path)
	}
	song, artist := record.TransformCatalog(rec)

	if err := exec(ctx, tx, path, storage.OpInsertSong, songArgs(song)); err != nil {
		return c, err
	}
	c.songs++
	if err := exec(ctx, tx, path, storage.OpInsertArtist, artistArgs(artist)); err != nil {
		return c, err
	}
	c.artists++
	return c, nil
}

// loadLog persists time rows, then users, then one songplay per qualifying
// event, each group in file order. Lookups run inside tx so they see songs
// written earlier in the run.
func loadLog(ctx context.Context, tx storage.Tx, path string, rows []pjson.Row) (loadCounts, error) {
	var c loadCounts

	events, err := record.DecodeActivities(rows)
	if err != nil {
		return c, etlerr.WithPath(err, path)
	}
	out := record.TransformActivity(events)

	for _, t := range out.Times {
		if err := exec(ctx, tx, path, storage.OpInsertTime, timeArgs(t)); err != nil {
			return c, err
		}
		c.times++
	}

	for _, u := range out.Users {
		if err := exec(ctx, tx, path, storage.OpInsertUser, userArgs(u)); err != nil {
			return c, err
		}
		c.users++
	}

	for _, fc := range out.Facts {
		ref, ok, err := resolve.Resolve(ctx, tx, fc.Key)
		if err != nil {
			return c, &etlerr.PersistenceError{Op: string(storage.OpSelectSongArtist), Path: path, Err: err}
		}
		if ok {
			c.resolved++
		}
		if err := exec(ctx, tx, path, storage.OpInsertSongplay, songplayArgs(fc.Resolve(ref, ok))); err != nil {
			return c, err
		}
		c.songplays++
	}
	return c, nil
}

func exec(ctx context.Context, tx storage.Tx, path string, op storage.Op, args []any) error {
	if err := tx.Exec(ctx, op, args...); err != nil {
		return &etlerr.PersistenceError{Op: string(op), Path: path, Err: err}
	}
	return nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
