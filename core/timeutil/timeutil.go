package timeutil

import (
	"fmt"
	"time"

	"clinicsync/core/errors"
)

// WallClock is a zone-free local time. It exists only at the edges:
// provider payloads carrying a zone hint and display formatting. All
// storage and comparison happens on absolute instants (UTC).
type WallClock struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// ToAbsolute resolves a wall-clock time in the named zone to an absolute
// instant. Unknown zone identifiers fail closed: silently defaulting has
// caused real double bookings, so the caller gets an error instead.
func ToAbsolute(wall WallClock, zone string) (time.Time, *errors.AppError) {
	loc, err := loadZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	t := time.Date(wall.Year, wall.Month, wall.Day, wall.Hour, wall.Minute, wall.Second, 0, loc)
	return t.UTC(), nil
}

// ToLocal converts an absolute instant to the wall clock observed in the
// named zone.
func ToLocal(instant time.Time, zone string) (WallClock, *errors.AppError) {
	loc, err := loadZone(zone)
	if err != nil {
		return WallClock{}, err
	}
	t := instant.In(loc)
	return WallClock{
		Year:   t.Year(),
		Month:  t.Month(),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}, nil
}

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// IsNewerThan reports whether a is strictly after b.
func IsNewerThan(a, b time.Time) bool {
	return a.After(b)
}

// AllDayRange normalizes a provider all-day date (YYYY-MM-DD, no time)
// to the full-day range [startOfDay, nextMidnight) in the stated zone.
// Next-midnight arithmetic is zone-aware so a DST transition day is 23
// or 25 hours long rather than a naive 24.
func AllDayRange(date string, zone string) (time.Time, time.Time, *errors.AppError) {
	loc, appErr := loadZone(zone)
	if appErr != nil {
		return time.Time{}, time.Time{}, appErr
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errors.NewAppError(errors.ErrInvalidInput,
			fmt.Sprintf("invalid all-day date %q", date), err)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	return start.UTC(), end.UTC(), nil
}

// ParseInstant parses an ISO-8601 timestamp as exchanged with the
// provider into an absolute instant.
func ParseInstant(value string) (time.Time, *errors.AppError) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.NewAppError(errors.ErrInvalidInput,
			fmt.Sprintf("invalid timestamp %q", value), err)
	}
	return t.UTC(), nil
}

func loadZone(zone string) (*time.Location, *errors.AppError) {
	if zone == "" {
		return nil, errors.NewAppErrorWithHint(errors.ErrInvalidZone,
			"timezone identifier is empty",
			"set a timezone on the calendar connection", nil)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, errors.NewAppErrorWithHint(errors.ErrInvalidZone,
			fmt.Sprintf("unrecognized timezone identifier %q", zone),
			"check the connection's stored timezone against the IANA database", err)
	}
	return loc, nil
}
