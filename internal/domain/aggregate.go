package domain

import (
	"errors"
	"fmt"
	"sort"
)

// DaysInDomain is the fixed size of the day-of-year factor, 1..366.
const DaysInDomain = 366

// dfDenominator normalizes D to a year fraction.
const dfDenominator = 365.0

// ErrEmptyTable is returned when an operation needs at least one row.
var ErrEmptyTable = errors.New("count table is empty")

// DayCount is the number of qualifying tornadoes on one (Year, D) cell.
type DayCount struct {
	Year int `json:"year"`
	D    int `json:"d"`
	NT   int `json:"nt"`
}

// CumulativeCount extends DayCount with the running yearly total.
type CumulativeCount struct {
	Year int     `json:"year"`
	D    int     `json:"d"`
	NT   int     `json:"nt"`
	C    int     `json:"c"`
	TY   int     `json:"ty"`
	Df   float64 `json:"df"`
}

// Filter keeps tracks at or after minYear with magnitude >= minMagnitude.
// Unrated tracks (magnitude -9) never pass a non-negative threshold.
func Filter(tracks []Track, minYear, minMagnitude int) []Track {
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if t.Year < minYear || t.Magnitude < minMagnitude {
			continue
		}
		out = append(out, t)
	}
	return out
}

// DailyCounts groups tracks by (Year, D) over the full 1..366 domain for
// every year that has at least one track. Rows are ordered by year, then D.
func DailyCounts(tracks []Track) []DayCount {
	byYear := make(map[int]*[DaysInDomain]int)
	for _, t := range tracks {
		if t.DayOfYear < 1 || t.DayOfYear > DaysInDomain {
			continue
		}
		counts, ok := byYear[t.Year]
		if !ok {
			counts = new([DaysInDomain]int)
			byYear[t.Year] = counts
		}
		counts[t.DayOfYear-1]++
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]DayCount, 0, len(years)*DaysInDomain)
	for _, y := range years {
		counts := byYear[y]
		for d := 1; d <= DaysInDomain; d++ {
			out = append(out, DayCount{Year: y, D: d, NT: counts[d-1]})
		}
	}
	return out
}

// Cumulate adds the running sum C, the year total TY and the day fraction
// Df. Input must be ordered by year, then D, as produced by DailyCounts.
func Cumulate(daily []DayCount) []CumulativeCount {
	out := make([]CumulativeCount, len(daily))

	start := 0
	for start < len(daily) {
		year := daily[start].Year
		end := start
		running := 0
		for end < len(daily) && daily[end].Year == year {
			running += daily[end].NT
			out[end] = CumulativeCount{
				Year: year,
				D:    daily[end].D,
				NT:   daily[end].NT,
				C:    running,
				Df:   DayFraction(daily[end].D),
			}
			end++
		}
		for i := start; i < end; i++ {
			out[i].TY = running
		}
		start = end
	}
	return out
}

// DayFraction maps D to D/365, capped at 1.
func DayFraction(d int) float64 {
	f := float64(d) / dfDenominator
	if f > 1 {
		return 1
	}
	return f
}

// Years returns the distinct years of a cumulative table in order.
func Years(rows []CumulativeCount) []int {
	var years []int
	for i, r := range rows {
		if i == 0 || r.Year != rows[i-1].Year {
			years = append(years, r.Year)
		}
	}
	return years
}

// YearTotals maps each year to its TY.
func YearTotals(rows []CumulativeCount) map[int]int {
	totals := make(map[int]int)
	for _, r := range rows {
		totals[r.Year] = r.TY
	}
	return totals
}

// ForYear returns the rows of one year, or nil.
func ForYear(rows []CumulativeCount, year int) []CumulativeCount {
	var out []CumulativeCount
	for _, r := range rows {
		if r.Year == year {
			out = append(out, r)
		}
	}
	return out
}

// CheckCumulative verifies the table invariants and returns every
// violation found, joined.
func CheckCumulative(rows []CumulativeCount) error {
	if len(rows) == 0 {
		return ErrEmptyTable
	}

	var errs []error
	perYear := make(map[int]int)
	sums := make(map[int]int)

	for i, r := range rows {
		perYear[r.Year]++
		sums[r.Year] += r.NT

		first := i == 0 || rows[i-1].Year != r.Year
		switch {
		case first && r.D != 1:
			errs = append(errs, fmt.Errorf("year %d: first row has D=%d, want 1", r.Year, r.D))
		case first && r.C != r.NT:
			errs = append(errs, fmt.Errorf("year %d: C at D=1 is %d, want NT=%d", r.Year, r.C, r.NT))
		case !first && r.D != rows[i-1].D+1:
			errs = append(errs, fmt.Errorf("year %d: D jumps from %d to %d", r.Year, rows[i-1].D, r.D))
		case !first && r.C < rows[i-1].C:
			errs = append(errs, fmt.Errorf("year %d D=%d: C decreased from %d to %d", r.Year, r.D, rows[i-1].C, r.C))
		case !first && r.C != rows[i-1].C+r.NT:
			errs = append(errs, fmt.Errorf("year %d D=%d: C=%d is not previous C plus NT", r.Year, r.D, r.C))
		}
		if r.Df <= 0 || r.Df > 1 {
			errs = append(errs, fmt.Errorf("year %d D=%d: Df=%g outside (0, 1]", r.Year, r.D, r.Df))
		}
	}

	for _, r := range rows {
		if r.TY != sums[r.Year] {
			errs = append(errs, fmt.Errorf("year %d D=%d: TY=%d, want %d", r.Year, r.D, r.TY, sums[r.Year]))
			break
		}
	}
	for _, y := range Years(rows) {
		if perYear[y] != DaysInDomain {
			errs = append(errs, fmt.Errorf("year %d: %d rows, want %d", y, perYear[y], DaysInDomain))
		}
	}

	return errors.Join(errs...)
}
