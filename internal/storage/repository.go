package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNoRows is returned by Row.Scan when a query matched nothing. Backends
// translate their driver-specific sentinel into this one.
var ErrNoRows = errors.New("storage: no rows")

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Row is a single-row query result.
type Row interface {
	Scan(dest ...any) error
}

// Tx is one unit of work. Statements are addressed by Op; the backend owns the
// SQL text and placeholder dialect.
//
// Rollback after Commit is a no-op, so callers may always defer Rollback.
type Tx interface {
	Exec(ctx context.Context, op Op, args ...any) error
	QueryRow(ctx context.Context, op Op, args ...any) Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository is a backend-agnostic handle on the star schema.
//
// Each backend implements conflict handling in its own dialect (Postgres
// ON CONFLICT, SQLite upsert, SQL Server MERGE).
type Repository interface {
	// Begin opens a transaction for one data file.
	Begin(ctx context.Context) (Tx, error)

	// EnsureSchema creates the five tables if they do not exist.
	EnsureSchema(ctx context.Context) error

	// Close releases backend resources. Call once.
	Close()
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, f is nil, or kind is already registered.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// Kinds returns the registered backend kinds.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
