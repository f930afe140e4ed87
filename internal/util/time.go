package util

import "time"

// NextDailyReset returns the next midnight in loc after now. The YouTube Data
// API resets its daily quota at midnight Pacific Time, but the tracker keeps
// the location configurable and defaults to UTC.
func NextDailyReset(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// LoadLocationOrUTC resolves an IANA timezone name, falling back to UTC.
func LoadLocationOrUTC(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
