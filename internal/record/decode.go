package record

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"

	"sparkify/internal/etlerr"
	pjson "sparkify/internal/parser/json"
)

// fieldReader decodes named fields of one row and remembers the first failure,
// so a decoder reads like a flat list of assignments.
type fieldReader struct {
	row pjson.Row
	err error
}

func (f *fieldReader) fail(name string, cause error) {
	if f.err == nil {
		f.err = &etlerr.TransformError{Line: f.row.Line, Field: name, Err: cause}
	}
}

// required decodes field name into dst; an absent key is a TransformError.
// A JSON null leaves dst unchanged (nil for pointers, zero otherwise).
func (f *fieldReader) required(name string, dst any) {
	if f.err != nil {
		return
	}
	raw, ok := f.row.Fields[name]
	if !ok {
		f.fail(name, etlerr.ErrMissingField)
		return
	}
	f.decode(name, raw, dst)
}

// optional decodes field name into dst when present.
func (f *fieldReader) optional(name string, dst any) {
	if f.err != nil {
		return
	}
	if raw, ok := f.row.Fields[name]; ok {
		f.decode(name, raw, dst)
	}
}

func (f *fieldReader) decode(name string, raw json.RawMessage, dst any) {
	if err := json.Unmarshal(raw, dst); err != nil {
		f.fail(name, eris.Wrap(err, "decode"))
	}
}

// text accepts a JSON string or number and keeps its literal form.
// Log producers are inconsistent about quoting identifiers such as userId.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '"':
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*t = text(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*t = text(n.String())
		return nil
	}
}

// DecodeCatalog maps a catalog row onto CatalogRecord by field name.
//
// Errors:
//   - Returns *etlerr.TransformError naming the first field that is absent or
//     cannot be decoded. num_songs is optional.
func DecodeCatalog(row pjson.Row) (CatalogRecord, error) {
	var rec CatalogRecord
	f := fieldReader{row: row}

	f.required("song_id", &rec.SongID)
	f.required("title", &rec.Title)
	f.required("artist_id", &rec.ArtistID)
	f.required("artist_name", &rec.ArtistName)
	f.required("artist_location", &rec.ArtistLocation)
	f.required("artist_latitude", &rec.ArtistLatitude)
	f.required("artist_longitude", &rec.ArtistLongitude)
	f.required("year", &rec.Year)
	f.required("duration", &rec.Duration)
	f.optional("num_songs", &rec.NumSongs)

	if f.err != nil {
		return CatalogRecord{}, f.err
	}
	return rec, nil
}

// DecodeActivity maps a log row onto ActivityEvent by field name.
//
// Only "page" is required on every row. Rows that do not qualify
// (page != NextSong) contribute nothing downstream, so their other fields are
// not read at all; for qualifying rows every field is required.
func DecodeActivity(row pjson.Row) (ActivityEvent, error) {
	ev := ActivityEvent{Line: row.Line}
	f := fieldReader{row: row}

	var page text
	f.required("page", &page)
	ev.Page = string(page)
	if f.err != nil {
		return ActivityEvent{}, f.err
	}

	if !ev.Qualifies() {
		return ev, nil
	}

	var userID text
	f.required("ts", &ev.Timestamp)
	f.required("userId", &userID)
	f.required("firstName", &ev.FirstName)
	f.required("lastName", &ev.LastName)
	f.required("gender", &ev.Gender)
	f.required("level", &ev.Level)
	f.required("song", &ev.Song)
	f.required("artist", &ev.Artist)
	f.required("length", &ev.Length)
	f.required("sessionId", &ev.SessionID)
	f.required("location", &ev.Location)
	f.required("userAgent", &ev.UserAgent)
	ev.UserID = string(userID)

	if f.err != nil {
		return ActivityEvent{}, f.err
	}
	return ev, nil
}

// DecodeActivities decodes rows in order, failing on the first bad row.
func DecodeActivities(rows []pjson.Row) ([]ActivityEvent, error) {
	out := make([]ActivityEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := DecodeActivity(r)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
