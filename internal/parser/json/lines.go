package json

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"sparkify/internal/etlerr"
)

// Row is one JSON object from a JSON-lines file, keyed by field name.
//
// Values are kept as raw JSON so typed decoding happens downstream by name and
// numbers keep their exact textual form (no float round-trip here).
type Row struct {
	Line   int // 1-based physical line number
	Fields map[string]json.RawMessage
}

// Has reports whether the field key is present (a JSON null counts as present).
func (r Row) Has(name string) bool {
	_, ok := r.Fields[name]
	return ok
}

// ReadFile opens path and parses it with ReadLines.
//
// Errors:
//   - Returns *etlerr.ParseError (with Path set) for open/read failures and for
//     the first malformed line. No partial rows are returned on error.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &etlerr.ParseError{Path: path, Err: eris.Wrap(err, "json: open")}
	}
	defer f.Close()

	rows, err := ReadLines(f)
	if err != nil {
		return nil, etlerr.WithPath(err, path)
	}
	return rows, nil
}

// ReadLines parses newline-delimited JSON objects from r, one Row per
// non-blank line, in file order.
//
// Edge cases:
//   - A leading UTF-8/UTF-16 byte order mark is honoured and stripped.
//   - Blank (whitespace-only) lines are skipped but still counted for Line.
//   - The last line does not need a trailing newline.
//
// Errors:
//   - Any line that is not a single JSON object fails the whole input with
//     *etlerr.ParseError carrying that line number.
func ReadLines(r io.Reader) ([]Row, error) {
	br := bufio.NewReader(transform.NewReader(r, unicode.BOMOverride(encoding.Nop.NewDecoder())))

	var rows []Row
	line := 0
	for {
		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
				fields, err := decodeObject(trimmed)
				if err != nil {
					return nil, &etlerr.ParseError{Line: line, Err: err}
				}
				rows = append(rows, Row{Line: line, Fields: fields})
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return rows, nil
			}
			return nil, &etlerr.ParseError{Line: line, Err: eris.Wrap(readErr, "json: read")}
		}
	}
}

func decodeObject(b []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	if fields == nil {
		return nil, eris.New("json: line is null, want object")
	}
	// Exactly one value per line.
	if dec.More() {
		return nil, eris.New("json: trailing data after object")
	}
	return fields, nil
}
