package domain

import "time"

// ParamEstimate is a point estimate with an optional interval.
type ParamEstimate struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	SD    float64 `json:"sd,omitempty"`
	Lower float64 `json:"lower,omitempty"`
	Upper float64 `json:"upper,omitempty"`
}

// SeasonSummary is the per-(model, year) record published downstream.
// Year is 0 for pooled fits that do not resolve individual years.
type SeasonSummary struct {
	RunID       string          `json:"run_id"`
	Model       string          `json:"model"`
	Year        int             `json:"year"`
	Total       int             `json:"total"`
	Onset       float64         `json:"onset_doy"`
	Peak        float64         `json:"peak_doy"`
	Decline     float64         `json:"decline_doy"`
	Params      []ParamEstimate `json:"params"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// NewSeasonSummary stamps a summary with the package clock.
func NewSeasonSummary(runID, model string, year, total int) SeasonSummary {
	return SeasonSummary{
		RunID:       runID,
		Model:       model,
		Year:        year,
		Total:       total,
		GeneratedAt: Now(),
	}
}
