package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrack(t *testing.T) {
	t.Run("full SPC record", func(t *testing.T) {
		rec := RawTrackRecord{
			"om": "445", "yr": "2011", "mo": "4", "dy": "27", "date": "2011-04-27",
			"st": "al", "mag": "4", "slat": "33.0297", "slon": "-88.2390",
			"elat": "33.5403", "elon": "-86.9956", "len": "80.68", "wid": "2600",
		}
		got, err := ParseTrack(rec, nil)
		require.NoError(t, err)

		assert.Equal(t, "2011-445", got.ID)
		assert.Equal(t, 445, got.Number)
		assert.Equal(t, 2011, got.Year)
		assert.Equal(t, 4, got.Month)
		assert.Equal(t, 117, got.DayOfYear)
		assert.Equal(t, 4, got.Magnitude)
		assert.Equal(t, "AL", got.State)
		assert.Equal(t, orb.Point{-88.2390, 33.0297}, got.Start)
		assert.Equal(t, orb.Point{-86.9956, 33.5403}, got.End)
		assert.InDelta(t, 80.68, got.LengthMi, 1e-9)
		require.Len(t, got.Path, 2)
		assert.InDelta(t, 124, got.PathLengthKm(), 10)
	})

	t.Run("falls back to yr mo dy", func(t *testing.T) {
		rec := RawTrackRecord{"om": "1", "yr": "2000", "mo": "3", "dy": "1", "mag": "1"}
		got, err := ParseTrack(rec, nil)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2000, 3, 1, 0, 0, 0, 0, time.UTC), got.Date)
		assert.Equal(t, 61, got.DayOfYear, "leap year March 1")
		assert.Empty(t, got.Path)
	})

	t.Run("keeps supplied geometry", func(t *testing.T) {
		path := orb.LineString{{-97, 35}, {-96.9, 35.05}, {-96.8, 35.1}}
		rec := RawTrackRecord{"date": "2013-05-20", "mag": "5", "slat": "35", "slon": "-97"}
		got, err := ParseTrack(rec, path)
		require.NoError(t, err)
		assert.Len(t, got.Path, 3)
		assert.Equal(t, got.Start, got.End, "no end point recorded")
	})

	t.Run("missing date", func(t *testing.T) {
		_, err := ParseTrack(RawTrackRecord{"yr": "2001", "mo": "2", "dy": "30"}, nil)
		require.ErrorIs(t, err, ErrMissingDate)
	})
}

func TestParseMagnitude(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"0", 0},
		{"3", 3},
		{" 2 ", 2},
		{"EF4", 4},
		{"F1", 1},
		{"-9", UnknownMagnitude},
		{"UNK", UnknownMagnitude},
		{"", UnknownMagnitude},
		{"x", UnknownMagnitude},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMagnitude(tt.in))
		})
	}
}

func TestNewSeasonSummary_UsesClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC))
	SetClock(fake)
	t.Cleanup(func() { SetClock(nil) })

	s := NewSeasonSummary("run-1", "nls", 2011, 1690)
	assert.Equal(t, fake.Now(), s.GeneratedAt)
	assert.Equal(t, "nls", s.Model)
	assert.Equal(t, 1690, s.Total)
}
