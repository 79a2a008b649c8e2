package record

import "time"

// TransformCatalog projects a catalog record onto its song and artist rows.
// Nullable values pass through unchanged.
func TransformCatalog(rec CatalogRecord) (SongDim, ArtistDim) {
	song := SongDim{
		SongID:   rec.SongID,
		Title:    rec.Title,
		ArtistID: rec.ArtistID,
		Year:     rec.Year,
		Duration: rec.Duration,
	}
	artist := ArtistDim{
		ArtistID:  rec.ArtistID,
		Name:      rec.ArtistName,
		Location:  rec.ArtistLocation,
		Latitude:  rec.ArtistLatitude,
		Longitude: rec.ArtistLongitude,
	}
	return song, artist
}

// TransformActivity derives time rows, user rows and fact candidates from the
// qualifying events, one of each per event and in event order.
//
// No deduplication happens here: repeated timestamps and users are emitted
// as-is and reconciled by the storage upserts.
func TransformActivity(events []ActivityEvent) ActivityRows {
	var out ActivityRows
	for _, ev := range events {
		if !ev.Qualifies() {
			continue
		}
		td := NewTimeDim(ev.Timestamp)

		out.Times = append(out.Times, td)
		out.Users = append(out.Users, UserDim{
			UserID:    ev.UserID,
			FirstName: ev.FirstName,
			LastName:  ev.LastName,
			Gender:    ev.Gender,
			Level:     ev.Level,
		})
		out.Facts = append(out.Facts, FactCandidate{
			Key: LookupKey{
				Title:      ev.Song,
				ArtistName: ev.Artist,
				Duration:   ev.Length,
			},
			StartTime: td.StartTime,
			UserID:    ev.UserID,
			Level:     ev.Level,
			SessionID: ev.SessionID,
			Location:  ev.Location,
			UserAgent: ev.UserAgent,
		})
	}
	return out
}

// NewTimeDim breaks an epoch-millisecond instant down in UTC.
//
// TimeOfDay is "15:04:05", with a ".000000" microsecond suffix only when the
// instant has a sub-second part.
func NewTimeDim(ms int64) TimeDim {
	t := time.UnixMilli(ms).UTC()
	_, week := t.ISOWeek()

	layout := "15:04:05"
	if t.Nanosecond() != 0 {
		layout = "15:04:05.000000"
	}

	return TimeDim{
		StartTime: t,
		TimeOfDay: t.Format(layout),
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   (int(t.Weekday()) + 6) % 7,
	}
}

// Resolve completes the candidate. When ok is false both dimension references
// stay nil; the fact is still produced.
func (c FactCandidate) Resolve(ref DimRef, ok bool) SongplayFact {
	f := SongplayFact{
		StartTime: c.StartTime,
		UserID:    c.UserID,
		Level:     c.Level,
		SessionID: c.SessionID,
		Location:  c.Location,
		UserAgent: c.UserAgent,
	}
	if ok {
		songID, artistID := ref.SongID, ref.ArtistID
		f.SongID = &songID
		f.ArtistID = &artistID
	}
	return f
}
