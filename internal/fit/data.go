package fit

import (
	"errors"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/tornado-season/internal/domain"
)

// ErrNoConvergence is returned when an optimizer stops without meeting
// its convergence criterion.
var ErrNoConvergence = errors.New("fit did not converge")

// Data is the cumulative table in column form, grouped by year.
type Data struct {
	X     []float64 // Df
	Y     []float64 // C
	Group []int     // index into Years
	Years []int
	Total []float64 // TY per group

	// rows[g] holds the observation indexes of group g.
	rows [][]int
}

// NewData builds fitting data from a cumulative table.
func NewData(rows []domain.CumulativeCount) (*Data, error) {
	if len(rows) == 0 {
		return nil, domain.ErrEmptyTable
	}

	d := &Data{
		X:     make([]float64, len(rows)),
		Y:     make([]float64, len(rows)),
		Group: make([]int, len(rows)),
	}
	index := make(map[int]int)
	for i, r := range rows {
		g, ok := index[r.Year]
		if !ok {
			g = len(d.Years)
			index[r.Year] = g
			d.Years = append(d.Years, r.Year)
			d.Total = append(d.Total, float64(r.TY))
			d.rows = append(d.rows, nil)
		}
		d.X[i] = r.Df
		d.Y[i] = float64(r.C)
		d.Group[i] = g
		d.rows[g] = append(d.rows[g], i)
	}
	return d, nil
}

// Len is the number of observations.
func (d *Data) Len() int { return len(d.X) }

// Groups is the number of years.
func (d *Data) Groups() int { return len(d.Years) }

// GroupOf returns the group index of a year, or -1.
func (d *Data) GroupOf(year int) int {
	for g, y := range d.Years {
		if y == year {
			return g
		}
	}
	return -1
}

// MeanTotal is the average yearly total.
func (d *Data) MeanTotal() float64 {
	if len(d.Total) == 0 {
		return 0
	}
	return stat.Mean(d.Total, nil)
}
