// Package sim simulates the analog side of a DMF control board: the series
// resistor banks, the HV amplifier driving a capacitive device, and the ADC.
package sim

import (
	"math"
	"sync"

	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/feedback"
	"github.com/itohio/godmf/pkg/sample"
)

// FrontEnd models the board pins and the signals seen by the ADC.
// The selected resistor of each channel is decoded from the select pin
// levels written by the controller.
type FrontEnd struct {
	cfg   *config.Config
	board feedback.Board

	mu     sync.Mutex
	pins   map[uint8]bool
	writes int
	ticks  [feedback.NumChannels]uint64
}

var _ feedback.IO = (*FrontEnd)(nil)

// NewFrontEnd creates a front end for the configured banks. board supplies
// the amplifier gain and waveform used to synthesize the signals.
func NewFrontEnd(cfg *config.Config, board feedback.Board) *FrontEnd {
	return &FrontEnd{
		cfg:   cfg,
		board: board,
		pins:  make(map[uint8]bool),
	}
}

func (f *FrontEnd) DigitalWrite(pin uint8, high bool) {
	f.mu.Lock()
	f.pins[pin] = high
	f.writes++
	f.mu.Unlock()
}

// AnalogRead returns the idle level of a channel.
func (f *FrontEnd) AnalogRead(ch feedback.Channel) uint16 {
	return f.cfg.Mock.VirtualGround
}

// Pin returns the last level written to a pin.
func (f *FrontEnd) Pin(pin uint8) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pins[pin]
}

// Writes returns the number of digital writes so far.
func (f *FrontEnd) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// ResistorIndex decodes the selected resistor of a channel from the pin levels.
func (f *FrontEnd) ResistorIndex(ch feedback.Channel) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decode(ch)
}

func (f *FrontEnd) bank(ch feedback.Channel) config.ChannelConfig {
	if ch == feedback.HV {
		return f.cfg.Channels.HV
	}
	return f.cfg.Channels.FB
}

func (f *FrontEnd) decode(ch feedback.Channel) int {
	pins := f.bank(ch).SelectPins
	for i, p := range pins {
		if f.pins[uint8(p)] {
			return i
		}
	}
	return len(pins)
}

// Sample returns the next ADC reading of a channel.
func (f *FrontEnd) Sample(ch feedback.Channel) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := f.ticks[ch]
	f.ticks[ch]++

	freq := float64(f.board.WaveformFrequency())
	t := float64(k) / f.cfg.Acquisition.SamplingRate
	v := float64(f.cfg.Mock.VirtualGround) +
		math.Sqrt2*f.rmsCounts(ch)*math.Sin(2*math.Pi*freq*t) +
		f.cfg.Mock.Noise*math.Sin(float64(k)*12.9898+float64(ch))

	return clamp(v)
}

// HVVoltage returns the RMS voltage actually produced by the amplifier.
func (f *FrontEnd) HVVoltage() float64 {
	gain := float64(f.board.AmplifierGain())
	if gain <= 0 {
		return 0
	}
	return float64(f.board.WaveformVoltage()) * f.cfg.Mock.TrueGain / gain
}

// rmsCounts returns the RMS amplitude of a channel in ADC counts for the
// currently selected resistors.
func (f *FrontEnd) rmsCounts(ch feedback.Channel) float64 {
	hv := f.HVVoltage()
	if ch == feedback.HV {
		freq := f.board.WaveformFrequency()
		factor := feedback.TransferTableFromConfig(f.cfg, freq).At(f.decode(ch))
		if factor <= 0 {
			return 0
		}
		return hv / float64(factor)
	}

	w := 2 * math.Pi * float64(f.board.WaveformFrequency())
	bank := f.cfg.Channels.FB.Resistors
	idx := f.decode(ch)
	if idx >= len(bank) || w == 0 || f.cfg.Mock.DeviceCapacitance <= 0 {
		return 0
	}
	zfb := sample.FeedbackImpedance(bank[idx].Resistance, bank[idx].Capacitance, w)
	zdev := 1 / (w * f.cfg.Mock.DeviceCapacitance)
	vfb := hv * zfb / (zfb + zdev)
	return vfb * feedback.FullScale / f.cfg.Board.ARef
}

func clamp(v float64) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= feedback.FullScale:
		return feedback.FullScale
	}
	return uint16(math.Round(v))
}
