package curve

// Landmarks are the season shape read off a fitted curve, in day-of-year.
type Landmarks struct {
	Onset   float64 `json:"onset_doy"`   // curve reaches 10% of A
	Peak    float64 `json:"peak_doy"`    // maximum daily rate
	Decline float64 `json:"decline_doy"` // curve reaches 90% of A
}

const (
	onsetShare   = 0.10
	declineShare = 0.90
	daysPerYear  = 365.0
	scanSteps    = 3650
)

// SeasonLandmarks scans the curve over (0, 1] and converts the landmark
// fractions to day-of-year.
func (f Form) SeasonLandmarks(p []float64) Landmarks {
	a := Asymptote(p)
	var lm Landmarks
	onsetDone, declineDone := false, false
	bestRate := -1.0

	for i := 1; i <= scanSteps; i++ {
		x := float64(i) / scanSteps
		share := f.Eval(p, x) / a
		if !onsetDone && share >= onsetShare {
			lm.Onset = x * daysPerYear
			onsetDone = true
		}
		if !declineDone && share >= declineShare {
			lm.Decline = x * daysPerYear
			declineDone = true
		}
		if rate := f.Density(p, x); rate > bestRate {
			bestRate = rate
			lm.Peak = x * daysPerYear
		}
	}
	if !declineDone {
		lm.Decline = daysPerYear
	}
	return lm
}
