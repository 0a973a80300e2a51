package feedback

import (
	"github.com/chewxy/math32"

	"github.com/itohio/godmf/pkg/config"
)

// TransferModel selects how the HV attenuator impedance is modelled.
type TransferModel uint8

const (
	// TransferDivider models the attenuator as 10 MΩ over the series resistor.
	TransferDivider TransferModel = iota
	// TransferWithUnity adds the unity term of the first board revision.
	TransferWithUnity
)

const attenuatorResistance = 10e6

// ModelFor returns the transfer model of a hardware revision.
func ModelFor(majorVersion int) TransferModel {
	if majorVersion == 1 {
		return TransferWithUnity
	}
	return TransferDivider
}

// TransferTable maps an HV series resistor index to the factor converting
// RMS ADC counts into RMS volts on the drive signal.
type TransferTable struct {
	factors [MaxResistors]float32
	n       int
}

// NewTransferTable computes the factors for every resistor of a bank at the given waveform frequency.
func NewTransferTable(model TransferModel, vref, frequency float32, resistance, capacitance []float32) TransferTable {
	var t TransferTable
	t.n = min(len(resistance), len(capacitance), MaxResistors)
	conv := vref / FullScale
	w := 2 * math32.Pi * frequency
	for i := 0; i < t.n; i++ {
		z := attenuatorResistance / resistance[i]
		if model == TransferWithUnity {
			z++
		}
		x := attenuatorResistance * capacitance[i] * w
		t.factors[i] = conv * math32.Sqrt(z*z+x*x)
	}
	return t
}

// TransferTableFromConfig builds the HV transfer table of a board configuration.
func TransferTableFromConfig(cfg *config.Config, frequency float32) TransferTable {
	var r, c [MaxResistors]float32
	bank := cfg.Channels.HV.Resistors
	n := min(len(bank), MaxResistors)
	for i := 0; i < n; i++ {
		r[i] = float32(bank[i].Resistance)
		c[i] = float32(bank[i].Capacitance)
	}
	return NewTransferTable(ModelFor(cfg.Board.MajorVersion), float32(cfg.Board.ARef), frequency, r[:n], c[:n])
}

// At returns the factor of resistor i, or 0 if i is outside the table.
func (t TransferTable) At(i int) float32 {
	if i < 0 || i >= t.n {
		return 0
	}
	return t.factors[i]
}

func (t TransferTable) Len() int {
	return t.n
}
