package multitable

import "sparkify/internal/record"

// Positional argument builders, one per statement. Column order follows the
// storage.Op parameter contracts.

func songArgs(s record.SongDim) []any {
	return []any{s.SongID, s.Title, s.ArtistID, s.Year, nullable(s.Duration)}
}

func artistArgs(a record.ArtistDim) []any {
	return []any{a.ArtistID, a.Name, nullable(a.Location), nullable(a.Latitude), nullable(a.Longitude)}
}

func timeArgs(t record.TimeDim) []any {
	return []any{t.StartTime, t.TimeOfDay, t.Hour, t.Day, t.Week, t.Month, t.Year, t.Weekday}
}

func userArgs(u record.UserDim) []any {
	return []any{u.UserID, u.FirstName, u.LastName, u.Gender, u.Level}
}

func songplayArgs(f record.SongplayFact) []any {
	return []any{f.StartTime, f.UserID, f.Level, nullable(f.SongID), nullable(f.ArtistID), f.SessionID, f.Location, f.UserAgent}
}

// nullable turns a nil pointer into an untyped nil so every driver binds SQL
// NULL, and dereferences anything else.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
