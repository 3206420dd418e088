package domain

import "math"

// FinishedThreshold is the percent at which a book counts as finished.
const FinishedThreshold = 99

// PercentFromFraction converts a locations-index fraction into a whole
// percent clamped to [0,100]. NaN yields ok=false.
func PercentFromFraction(f float64) (pct int, ok bool) {
	if math.IsNaN(f) {
		return 0, false
	}
	v := math.Round(f * 100)
	switch {
	case v < 0:
		return 0, true
	case v > 100:
		return 100, true
	}
	return int(v), true
}

// ClampPercent bounds p to [0,100].
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ApplyRelocation records a new reading position on r. When translated is
// true the fraction is converted to a percent and finished is latched once it
// reaches FinishedThreshold. An untranslatable position leaves the stored
// percent untouched. Finished is never cleared here.
func (r *BookRecord) ApplyRelocation(position string, fraction float64, translated bool) {
	pos := position
	r.ReadingPosition = &pos
	if !translated {
		return
	}
	pct, ok := PercentFromFraction(fraction)
	if !ok {
		return
	}
	r.ReadingProgressPercent = &pct
	if pct >= FinishedThreshold {
		r.Finished = true
	}
}

// ClearPosition forgets the stored reading position. Percent and finished
// are kept.
func (r *BookRecord) ClearPosition() { r.ReadingPosition = nil }
