package feedback

import (
	"math"

	"github.com/chewxy/math32"
)

// accumulator holds the running statistics of one channel over one window.
type accumulator struct {
	saturated uint8 // saturation events, capped at math.MaxInt8
	ignore    uint8 // samples still to discard after a saturation event
	count     uint32
	sum       uint32
	sum2      uint64
	min       uint16
	max       uint16
}

func (a *accumulator) reset() {
	*a = accumulator{min: FullScale}
}

// add records an in-band sample.
func (a *accumulator) add(value, ground uint16, rms bool) {
	a.count++
	if rms {
		d := int64(value) - int64(ground)
		a.sum += uint32(value)
		a.sum2 += uint64(d * d)
		return
	}
	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}
}

// saturate records a saturation event and arms the ignore counter.
func (a *accumulator) saturate(ignore uint8) {
	if a.saturated < math.MaxInt8 {
		a.saturated++
	}
	a.ignore = ignore
}

// rms returns the RMS deviation from the virtual ground in ADC counts over n
// requested samples. Discarded samples count as zero deviation.
func (a *accumulator) rms(n uint32) float32 {
	if n == 0 {
		return 0
	}
	return math32.Sqrt(float32(a.sum2) / float32(n))
}

// peakToPeak returns max-min scaled by PeakToPeakScale.
func (a *accumulator) peakToPeak() uint16 {
	if a.count == 0 || a.max < a.min {
		return 0
	}
	return uint16(min(uint32(a.max-a.min)*PeakToPeakScale, math.MaxUint16))
}

func inBand(value uint16) bool {
	return value >= SaturationThresholdLow && value <= SaturationThresholdHigh
}

// toFixed truncates a scaled amplitude into the reported range.
func toFixed(x float32) uint16 {
	switch {
	case x <= 0:
		return 0
	case x >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(x)
}
