package timeutil

import (
	"testing"
	"time"

	"clinicsync/core/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToAbsoluteRoundTrip(t *testing.T) {
	zones := []string{"America/Chicago", "Europe/Berlin", "Asia/Ho_Chi_Minh", "UTC"}
	wall := WallClock{Year: 2025, Month: time.June, Day: 15, Hour: 9, Minute: 30}

	for _, zone := range zones {
		instant, appErr := ToAbsolute(wall, zone)
		require.Nil(t, appErr, "zone %s", zone)

		back, appErr := ToLocal(instant, zone)
		require.Nil(t, appErr, "zone %s", zone)
		assert.Equal(t, wall, back, "round trip through %s", zone)
	}
}

func TestToAbsoluteInvalidZoneFailsClosed(t *testing.T) {
	wall := WallClock{Year: 2025, Month: time.June, Day: 15, Hour: 9}

	_, appErr := ToAbsolute(wall, "Mars/Olympus_Mons")
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrInvalidZone, appErr.Code)
	assert.NotEmpty(t, appErr.Hint)

	_, appErr = ToAbsolute(wall, "")
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrInvalidZone, appErr.Code)
}

func TestToAbsoluteSpringForward(t *testing.T) {
	// 2025-03-09 02:00 does not exist in America/Chicago: clocks jump
	// from 01:59:59 CST to 03:00:00 CDT. An appointment starting at
	// 01:30 and running 90 wall-clock minutes to 03:00 spans only 30
	// absolute minutes.
	start, appErr := ToAbsolute(WallClock{Year: 2025, Month: time.March, Day: 9, Hour: 1, Minute: 30}, "America/Chicago")
	require.Nil(t, appErr)
	end, appErr := ToAbsolute(WallClock{Year: 2025, Month: time.March, Day: 9, Hour: 3}, "America/Chicago")
	require.Nil(t, appErr)

	assert.Equal(t, 30*time.Minute, end.Sub(start))
}

func TestAllDayRange(t *testing.T) {
	start, end, appErr := AllDayRange("2025-06-15", "America/Chicago")
	require.Nil(t, appErr)
	assert.Equal(t, 24*time.Hour, end.Sub(start))

	// DST transition day is 23 hours long in absolute time.
	start, end, appErr = AllDayRange("2025-03-09", "America/Chicago")
	require.Nil(t, appErr)
	assert.Equal(t, 23*time.Hour, end.Sub(start))

	// Fall-back day is 25 hours.
	start, end, appErr = AllDayRange("2025-11-02", "America/Chicago")
	require.Nil(t, appErr)
	assert.Equal(t, 25*time.Hour, end.Sub(start))
}

func TestAllDayRangeInvalidInput(t *testing.T) {
	_, _, appErr := AllDayRange("2025-06-15", "Not/AZone")
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrInvalidZone, appErr.Code)

	_, _, appErr = AllDayRange("June 15", "UTC")
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrInvalidInput, appErr.Code)
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	h := func(hours int) time.Time { return base.Add(time.Duration(hours) * time.Hour) }

	assert.True(t, Overlaps(h(0), h(2), h(1), h(3)))
	assert.True(t, Overlaps(h(1), h(3), h(0), h(2)))
	assert.True(t, Overlaps(h(0), h(4), h(1), h(2)))
	// Half-open ranges: touching endpoints do not overlap.
	assert.False(t, Overlaps(h(0), h(1), h(1), h(2)))
	assert.False(t, Overlaps(h(0), h(1), h(2), h(3)))
}

func TestIsNewerThan(t *testing.T) {
	a := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

	assert.True(t, IsNewerThan(a.Add(time.Second), a))
	assert.False(t, IsNewerThan(a, a))
	assert.False(t, IsNewerThan(a.Add(-time.Second), a))
}

func TestParseInstant(t *testing.T) {
	got, appErr := ParseInstant("2025-06-15T09:00:00-05:00")
	require.Nil(t, appErr)
	assert.Equal(t, time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())

	_, appErr = ParseInstant("tomorrow")
	require.NotNil(t, appErr)
	assert.Equal(t, errors.ErrInvalidInput, appErr.Code)
}
