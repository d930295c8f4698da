// Package report writes run artifacts: count tables, fit summaries and
// track geometry.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/couchcryptid/tornado-season/internal/domain"
)

var (
	dailyHeader      = []string{"year", "d", "nt"}
	cumulativeHeader = []string{"year", "d", "nt", "c", "ty", "df"}
)

// ErrBadHeader is returned when a CSV does not start with the expected
// column names.
var ErrBadHeader = errors.New("unexpected csv header")

// WriteDaily writes the zero-filled daily count table.
func WriteDaily(w io.Writer, rows []domain.DayCount) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(dailyHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{strconv.Itoa(r.Year), strconv.Itoa(r.D), strconv.Itoa(r.NT)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCumulative writes the cumulative table.
func WriteCumulative(w io.Writer, rows []domain.CumulativeCount) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(cumulativeHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.Year),
			strconv.Itoa(r.D),
			strconv.Itoa(r.NT),
			strconv.Itoa(r.C),
			strconv.Itoa(r.TY),
			strconv.FormatFloat(r.Df, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCumulative parses a table written by WriteCumulative.
func ReadCumulative(r io.Reader) ([]domain.CumulativeCount, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(cumulativeHeader)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, domain.ErrEmptyTable
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range cumulativeHeader {
		if header[i] != h {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i+1, header[i], h)
		}
	}

	var rows []domain.CumulativeCount
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row, err := parseCumulative(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCumulative(rec []string) (domain.CumulativeCount, error) {
	var ints [5]int
	for i := range ints {
		v, err := strconv.Atoi(rec[i])
		if err != nil {
			return domain.CumulativeCount{}, fmt.Errorf("%s: %w", cumulativeHeader[i], err)
		}
		ints[i] = v
	}
	df, err := strconv.ParseFloat(rec[5], 64)
	if err != nil {
		return domain.CumulativeCount{}, fmt.Errorf("df: %w", err)
	}
	return domain.CumulativeCount{Year: ints[0], D: ints[1], NT: ints[2], C: ints[3], TY: ints[4], Df: df}, nil
}
