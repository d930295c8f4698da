package report

import (
	"encoding/json"
	"io"
	"math"
	"time"

	"github.com/couchcryptid/tornado-season/internal/curve"
	"github.com/couchcryptid/tornado-season/internal/domain"
	"github.com/couchcryptid/tornado-season/internal/fit"
)

// FitsReport is the fits.json document.
type FitsReport struct {
	RunID        string        `json:"run_id"`
	GeneratedAt  time.Time     `json:"generated_at"`
	Source       string        `json:"source"`
	MinYear      int           `json:"min_year"`
	MinMagnitude int           `json:"min_magnitude"`
	Years        []int         `json:"years"`
	Tracks       int           `json:"tracks"`
	Models       []ModelReport `json:"models"`
}

// ModelReport is the outcome of one model. Failed models carry Error and
// no estimates.
type ModelReport struct {
	Model     string                 `json:"model"`
	Kind      string                 `json:"kind"`
	Form      curve.Form             `json:"form,omitempty"`
	Params    []domain.ParamEstimate `json:"params,omitempty"`
	Stats     map[string]float64     `json:"stats,omitempty"`
	Landmarks *curve.Landmarks       `json:"landmarks,omitempty"`
	Posterior []fit.ParamSummary     `json:"posterior,omitempty"`
	Duration  string                 `json:"duration"`
	Error     string                 `json:"error,omitempty"`
}

// WriteFits encodes r as indented JSON. Non-finite numbers, which JSON
// cannot represent, are dropped from Stats and zeroed elsewhere.
func WriteFits(w io.Writer, r FitsReport) error {
	clean := r
	clean.Models = make([]ModelReport, len(r.Models))
	for i, m := range r.Models {
		clean.Models[i] = sanitize(m)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(clean)
}

// ReadFits decodes a fits.json document.
func ReadFits(r io.Reader) (FitsReport, error) {
	var out FitsReport
	err := json.NewDecoder(r).Decode(&out)
	return out, err
}

func sanitize(m ModelReport) ModelReport {
	if m.Stats != nil {
		stats := make(map[string]float64, len(m.Stats))
		for k, v := range m.Stats {
			if finite(v) {
				stats[k] = v
			}
		}
		m.Stats = stats
	}
	if m.Params != nil {
		params := make([]domain.ParamEstimate, len(m.Params))
		for i, p := range m.Params {
			params[i] = domain.ParamEstimate{
				Name:  p.Name,
				Value: orZero(p.Value),
				SD:    orZero(p.SD),
				Lower: orZero(p.Lower),
				Upper: orZero(p.Upper),
			}
		}
		m.Params = params
	}
	if m.Posterior != nil {
		post := make([]fit.ParamSummary, len(m.Posterior))
		for i, s := range m.Posterior {
			post[i] = fit.ParamSummary{
				Name:   s.Name,
				Mean:   orZero(s.Mean),
				SD:     orZero(s.SD),
				Q025:   orZero(s.Q025),
				Median: orZero(s.Median),
				Q975:   orZero(s.Q975),
				Rhat:   orZero(s.Rhat),
			}
		}
		m.Posterior = post
	}
	return m
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func orZero(v float64) float64 {
	if finite(v) {
		return v
	}
	return 0
}
