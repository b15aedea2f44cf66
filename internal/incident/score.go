package incident

import "math"

// Clamp01 forces v into [0,1]. NaN maps to 0 so a broken score can never read as
// high confidence.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Round4 rounds v to four decimal places. Scores are rounded before they leave a
// stage so repeated runs serialize byte-identically.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Score clamps and rounds v.
func Score(v float64) float64 {
	return Round4(Clamp01(v))
}
