// Package feedback implements the impedance measurement and amplifier gain
// control loop of the DMF control board.
//
// The Controller samples the high voltage (HV) and feedback (FB) channels in
// windows, re-ranges the series resistor of each channel so the signal stays
// inside the ADC window, tracks the DC baseline of every channel and corrects
// the amplifier gain so the drive voltage stays on target.
package feedback

import (
	"errors"
	"strconv"

	"github.com/itohio/godmf/pkg/config"
)

// Channel identifies an analog input.
type Channel uint8

const (
	HV Channel = iota // high voltage drive signal
	FB                // feedback signal
)

// NumChannels is the number of analog channels sampled by the board.
const NumChannels = 2

const (
	// FullScale is the largest ADC reading.
	FullScale = 1023
	// SaturationThresholdLow and SaturationThresholdHigh bound the usable ADC window.
	SaturationThresholdLow  = 63
	SaturationThresholdHigh = 960
	// PeakToPeakScale is the fixed-point scale of reported amplitudes.
	PeakToPeakScale = 64
	// LowSignalFloor is the amplitude below which the next larger resistor is selected.
	LowSignalFloor = PeakToPeakScale * FullScale / 20
	// MaxResistors is the largest series resistor bank.
	MaxResistors = config.MaxResistors
	// VirtualGroundAlpha is the smoothing factor of the baseline filter.
	VirtualGroundAlpha = 0.01
	// MinGain is the lowest amplifier gain the controller will set.
	MinGain = 1.0

	DefaultSamplingRate = 35e3
	DefaultPrescaler    = 3
	// DefaultIgnoreAfterSaturation is the number of samples discarded after a saturation event.
	DefaultIgnoreAfterSaturation = 3
)

var (
	ErrBadIndex           = errors.New("bad resistor index")
	ErrBusy               = errors.New("measurement in progress")
	ErrInvalidRequest     = errors.New("invalid measurement request")
	ErrAcquisitionTimeout = errors.New("acquisition did not complete in time")
)

func (c Channel) String() string {
	switch c {
	case HV:
		return "hv"
	case FB:
		return "fb"
	}
	return "ch" + strconv.Itoa(int(c))
}

// WindowResult is the outcome of one window on one channel.
type WindowResult struct {
	Window    int
	Channel   Channel
	Amplitude uint16 // peak-to-peak in ADC counts, scaled by PeakToPeakScale
	Resistor  int8   // series resistor index, or minus the saturation count
}

// Saturated reports whether the channel left the ADC window during the window.
func (r WindowResult) Saturated() bool {
	return r.Resistor < 0
}

// SaturationCount returns the number of saturation events in the window.
func (r WindowResult) SaturationCount() int {
	if r.Resistor < 0 {
		return -int(r.Resistor)
	}
	return 0
}
