package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLRepository implements Repository over database/sql. Backends whose
// driver registers with database/sql (SQLite, SQL Server) supply their
// catalog, DDL and an optional argument binder.
type SQLRepository struct {
	db      *sql.DB
	catalog Catalog
	ddl     []string
	bind    func(any) any
}

// NewSQLRepository wraps an open *sql.DB.
//
// bind, when non-nil, is applied to every statement argument before it reaches
// the driver (e.g. to encode time.Time the way a backend stores it).
//
// Errors:
//   - Returns an error if catalog is incomplete.
func NewSQLRepository(db *sql.DB, catalog Catalog, ddl []string, bind func(any) any) (*SQLRepository, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return &SQLRepository{db: db, catalog: catalog, ddl: ddl, bind: bind}, nil
}

// DB exposes the underlying handle for read-side queries and tests.
func (r *SQLRepository) DB() *sql.DB { return r.db }

// Close releases database resources held by this repository.
func (r *SQLRepository) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureSchema executes each DDL statement in order.
func (r *SQLRepository) EnsureSchema(ctx context.Context) error {
	for i, stmt := range r.ddl {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema (statement %d): %w", i+1, err)
		}
	}
	return nil
}

// Begin starts a transaction.
func (r *SQLRepository) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, catalog: r.catalog, bind: r.bind}, nil
}

type sqlTx struct {
	tx      *sql.Tx
	catalog Catalog
	bind    func(any) any
	done    bool
}

func (t *sqlTx) args(in []any) []any {
	if t.bind == nil {
		return in
	}
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = t.bind(v)
	}
	return out
}

func (t *sqlTx) Exec(ctx context.Context, op Op, args ...any) error {
	q, err := t.catalog.Statement(op)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, q, t.args(args)...)
	return err
}

func (t *sqlTx) QueryRow(ctx context.Context, op Op, args ...any) Row {
	q, err := t.catalog.Statement(op)
	if err != nil {
		return errRow{err: err}
	}
	return sqlRow{row: t.tx.QueryRowContext(ctx, q, t.args(args)...)}
}

func (t *sqlTx) Commit(_ context.Context) error {
	t.done = true
	return t.tx.Commit()
}

func (t *sqlTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

// errRow defers a statement lookup failure to Scan, matching *sql.Row.
type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }

// ErrRow returns a Row whose Scan reports err.
func ErrRow(err error) Row { return errRow{err: err} }
