// Package resolve maps a play's descriptive fields onto already-persisted
// song and artist identifiers.
package resolve

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"sparkify/internal/metrics"
	"sparkify/internal/record"
	"sparkify/internal/storage"
)

// Querier runs a single-row lookup. storage.Tx satisfies it, so lookups see
// rows written earlier in the same transaction.
type Querier interface {
	QueryRow(ctx context.Context, op storage.Op, args ...any) storage.Row
}

// Resolve looks up the (song_id, artist_id) pair whose song title, artist name
// and duration all equal key exactly.
//
// A miss is not an error: it returns ok == false and a nil error. When several
// rows match, the first one the backend delivers wins.
func Resolve(ctx context.Context, q Querier, key record.LookupKey) (record.DimRef, bool, error) {
	var ref record.DimRef
	err := q.QueryRow(ctx, storage.OpSelectSongArtist, key.Title, key.ArtistName, key.Duration).
		Scan(&ref.SongID, &ref.ArtistID)

	switch {
	case err == nil:
		metrics.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "hit"})
		return ref, true, nil
	case errors.Is(err, storage.ErrNoRows):
		metrics.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "miss"})
		return record.DimRef{}, false, nil
	default:
		metrics.IncCounter(metrics.LookupsTotal, 1, metrics.Labels{"result": "error"})
		return record.DimRef{}, false, eris.Wrapf(err, "resolve %q by %q", key.Title, key.ArtistName)
	}
}
