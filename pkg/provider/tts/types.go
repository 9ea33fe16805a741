package tts

// Speaking-rate bounds accepted by [Voice.Rate].
const (
	MinRate = 0.5
	MaxRate = 2.0
)

// Voice selects and tunes the voice used for one synthesis request.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Rate is the speaking-rate multiplier; 1.0 is the voice's natural pace
	// and 0 means 1.0. Corrections are spoken slightly slower (0.9).
	Rate float64
}

// NormalizedRate returns Rate clamped to [MinRate, MaxRate], with 0 mapped
// to 1.0.
func (v Voice) NormalizedRate() float64 {
	if v.Rate == 0 {
		return 1.0
	}
	return min(max(v.Rate, MinRate), MaxRate)
}
