package feedback

import "github.com/chewxy/math32"

// GainController is a proportional amplifier gain corrector.
type GainController struct {
	Tolerance float32 // V
}

// Adjust returns the corrected gain and whether it differs from gain.
// The gain is left alone while the measured voltage is within tolerance of
// the target, otherwise it is scaled by measured/target and floored at MinGain.
func (g GainController) Adjust(gain, measured, target float32) (float32, bool) {
	if target <= 0 || math32.Abs(measured-target) <= g.Tolerance {
		return gain, false
	}
	gain = gain * measured / target
	if gain < MinGain {
		gain = MinGain
	}
	return gain, true
}
