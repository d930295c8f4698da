package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// UnknownMagnitude is the SPC sentinel for an unrated tornado.
const UnknownMagnitude = -9

// ErrMissingDate is returned when neither the date column nor yr/mo/dy
// yield a valid calendar date.
var ErrMissingDate = errors.New("track has no usable date")

// RawTrackRecord is one DBF attribute row keyed by lower-case field name.
type RawTrackRecord map[string]string

// Track is a single tornado track after parsing.
type Track struct {
	ID        string         `json:"id"`
	Number    int            `json:"om"`
	Date      time.Time      `json:"date"`
	Year      int            `json:"yr"`
	Month     int            `json:"mo"`
	DayOfYear int            `json:"doy"`
	Magnitude int            `json:"mag"`
	State     string         `json:"st"`
	Start     orb.Point      `json:"-"`
	End       orb.Point      `json:"-"`
	LengthMi  float64        `json:"len"`
	WidthYd   float64        `json:"wid"`
	Path      orb.LineString `json:"-"`
}

// PathLengthKm returns the geodesic length of the track geometry.
func (t Track) PathLengthKm() float64 {
	if len(t.Path) < 2 {
		return 0
	}
	return geo.Length(t.Path) / 1000
}

// ParseTrack converts a DBF attribute row and its polyline into a Track.
// Path may be nil; a two-point path is then derived from slat/slon/elat/elon.
func ParseTrack(rec RawTrackRecord, path orb.LineString) (Track, error) {
	date, err := parseTrackDate(rec)
	if err != nil {
		return Track{}, fmt.Errorf("parse track %s: %w", rec["om"], err)
	}

	start := orb.Point{parseFloatOrZero(rec["slon"]), parseFloatOrZero(rec["slat"])}
	end := orb.Point{parseFloatOrZero(rec["elon"]), parseFloatOrZero(rec["elat"])}
	if end[0] == 0 && end[1] == 0 {
		end = start
	}
	if len(path) == 0 && (start[0] != 0 || start[1] != 0) {
		path = orb.LineString{start, end}
	}

	number := int(parseFloatOrZero(rec["om"]))

	return Track{
		ID:        fmt.Sprintf("%d-%d", date.Year(), number),
		Number:    number,
		Date:      date,
		Year:      date.Year(),
		Month:     int(date.Month()),
		DayOfYear: date.YearDay(),
		Magnitude: parseMagnitude(rec["mag"]),
		State:     strings.ToUpper(strings.TrimSpace(rec["st"])),
		Start:     start,
		End:       end,
		LengthMi:  parseFloatOrZero(rec["len"]),
		WidthYd:   parseFloatOrZero(rec["wid"]),
		Path:      path,
	}, nil
}

// parseTrackDate prefers the "date" column and falls back to yr/mo/dy.
func parseTrackDate(rec RawTrackRecord) (time.Time, error) {
	if s := strings.TrimSpace(rec["date"]); s != "" {
		for _, layout := range []string{"2006-01-02", "2006/01/02", "01/02/2006", "20060102"} {
			if d, err := time.Parse(layout, s); err == nil {
				return d, nil
			}
		}
	}

	yr, errY := strconv.Atoi(strings.TrimSpace(rec["yr"]))
	mo, errM := strconv.Atoi(strings.TrimSpace(rec["mo"]))
	dy, errD := strconv.Atoi(strings.TrimSpace(rec["dy"]))
	if errY != nil || errM != nil || errD != nil || mo < 1 || mo > 12 || dy < 1 || dy > 31 {
		return time.Time{}, ErrMissingDate
	}
	d := time.Date(yr, time.Month(mo), dy, 0, 0, 0, 0, time.UTC)
	if d.Day() != dy {
		// time.Date normalizes Feb 30 into March.
		return time.Time{}, ErrMissingDate
	}
	return d, nil
}

// parseMagnitude reads an (E)F rating, returning UnknownMagnitude for
// empty, "UNK", or unparseable values.
func parseMagnitude(s string) int {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "UNK" {
		return UnknownMagnitude
	}
	s = strings.TrimPrefix(s, "EF")
	s = strings.TrimPrefix(s, "F")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return UnknownMagnitude
	}
	return int(v)
}

// parseFloatOrZero parses a string as float64, returning 0 on failure.
func parseFloatOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
