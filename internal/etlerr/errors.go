// Package etlerr defines the failure taxonomy of a load run.
//
// Every type wraps its cause and supports errors.As / errors.Is through Unwrap.
// A lookup miss has no type here: an unresolved song/artist pair is an
// expected outcome and is never reported as an error.
package etlerr

import (
	"errors"
	"fmt"
)

// ErrMissingField is the cause of a TransformError raised for an absent key.
var ErrMissingField = errors.New("missing field")

// DiscoveryError reports a root directory that could not be walked.
type DiscoveryError struct {
	Root string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Root, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ParseError reports a data file whose content is not valid JSON-lines.
// Line is 1-based; 0 means the failure is not tied to a line (e.g. open/read).
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransformError reports a record that lacks a field (or holds a value of the
// wrong shape) required to derive its rows.
type TransformError struct {
	Path  string
	Line  int
	Field string
	Err   error
}

func (e *TransformError) Error() string {
	loc := e.Path
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
	}
	if e.Field == "" {
		return fmt.Sprintf("transform %s: %v", loc, e.Err)
	}
	return fmt.Sprintf("transform %s: field %q: %v", loc, e.Field, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// PersistenceError reports a failed storage call. Op is the logical statement
// name (or "begin"/"commit") and Path the file whose transaction was aborted.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s (%s): %v", e.Path, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// WithPath stamps path onto a ParseError or TransformError found in err's chain
// that has none yet, and returns err itself. Only the typed error's own
// message gains the path; text already formatted by an outer wrapper does not
// change. Other errors are returned unchanged.
func WithPath(err error, path string) error {
	var pe *ParseError
	if errors.As(err, &pe) && pe.Path == "" {
		pe.Path = path
	}
	var te *TransformError
	if errors.As(err, &te) && te.Path == "" {
		te.Path = path
	}
	return err
}
