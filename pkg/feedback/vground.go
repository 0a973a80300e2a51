package feedback

import "github.com/chewxy/math32"

// VirtualGround tracks the DC baseline of a channel.
//
// The baseline is an exponential moving average over the mean of the last
// two windows. The integer level is what the accumulator subtracts before
// squaring.
type VirtualGround struct {
	level    uint16
	filtered float32
	prevSum  uint32
}

// Seed sets the baseline from a single reading.
func (v *VirtualGround) Seed(level uint16) {
	v.level = level
	v.filtered = float32(level)
	v.prevSum = 0
}

// Filter folds a raw baseline estimate into the filtered value.
func (v *VirtualGround) Filter(raw float32) {
	v.filtered = VirtualGroundAlpha*raw + (1-VirtualGroundAlpha)*v.filtered
	switch level := math32.Round(v.filtered); {
	case level <= 0:
		v.level = 0
	case level >= FullScale:
		v.level = FullScale
	default:
		v.level = uint16(level)
	}
}

// Update feeds the raw sum of one window of perChannel requested samples. The
// first window of a request only primes the two-window average.
func (v *VirtualGround) Update(window int, sum, perChannel uint32) {
	if window > 0 && perChannel > 0 {
		v.Filter(float32(sum+v.prevSum) / float32(2*perChannel))
	}
	v.prevSum = sum
}

func (v *VirtualGround) Level() uint16 {
	return v.level
}

func (v *VirtualGround) Filtered() float32 {
	return v.filtered
}
