package sample

import (
	"log"
	"math"
	"time"

	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/feedback"
	"github.com/itohio/godmf/pkg/wire"
)

// Sample is one measurement window converted to physical values.
type Sample struct {
	Timestamp   time.Time
	Window      int
	HV          feedback.WindowResult
	FB          feedback.WindowResult
	HVVoltage   float64 // drive voltage (V RMS)
	FBVoltage   float64 // voltage across the feedback resistor (V RMS)
	Impedance   float64 // device impedance (Ω), 0 if unknown
	Capacitance float64 // device capacitance (F), 0 if unknown
	Saturated   bool    // either channel left the ADC window
}

// Valid reports whether the device impedance could be computed.
func (s Sample) Valid() bool {
	return !s.Saturated && s.Impedance > 0
}

// Converter is a function type that converts a message channel to a Sample channel.
type Converter func(in <-chan wire.Message) <-chan Sample

// NewConverter creates a converter that pairs the HV and FB results of each
// window and converts them to a Sample.
func NewConverter(cfg *config.Config, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan wire.Message) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			var pairs Pairer
			for msg := range in {
				hv, fb, ok := pairs.Add(msg)
				if !ok {
					continue
				}

				sample := Convert(hv, fb, cfg)
				sample.Timestamp = msg.Received
				if sample.Timestamp.IsZero() {
					sample.Timestamp = time.Now()
				}

				select {
				case out <- sample:
				case <-time.After(time.Second):
					log.Printf("Converter output channel full, dropping sample")
				}
			}
		}()

		return out
	}
}

// Pairer matches the HV and FB results of each window in a message stream.
type Pairer struct {
	hv      feedback.WindowResult
	pending bool
}

// Add consumes one message and returns the results of a window once its FB
// result follows the HV one. An end of measurement notice clears a dangling
// HV result.
func (p *Pairer) Add(msg wire.Message) (hv, fb feedback.WindowResult, ok bool) {
	switch msg.Kind {
	case wire.KindDone:
		p.pending = false
		return hv, fb, false
	case wire.KindResult:
	default:
		return hv, fb, false
	}

	r := msg.Result
	if r.Channel == feedback.HV {
		p.hv, p.pending = r, true
		return hv, fb, false
	}
	if !p.pending || p.hv.Window != r.Window {
		log.Printf("Dropping unpaired %s result of window %d", r.Channel, r.Window)
		p.pending = false
		return hv, fb, false
	}
	p.pending = false
	return p.hv, r, true
}

// Convert computes the physical values of one window.
func Convert(hv, fb feedback.WindowResult, cfg *config.Config) Sample {
	s := Sample{
		Window:    hv.Window,
		HV:        hv,
		FB:        fb,
		Saturated: hv.Saturated() || fb.Saturated(),
	}
	if s.Saturated {
		return s
	}

	freq := cfg.Waveform.Frequency
	transfer := feedback.TransferTableFromConfig(cfg, float32(freq))
	s.HVVoltage = AmplitudeToRMS(hv.Amplitude) * float64(transfer.At(int(hv.Resistor)))
	s.FBVoltage = AmplitudeToRMS(fb.Amplitude) * cfg.Board.ARef / feedback.FullScale

	bank := cfg.Channels.FB.Resistors
	idx := int(fb.Resistor)
	if idx >= len(bank) || s.FBVoltage <= 0 || s.HVVoltage <= s.FBVoltage || freq <= 0 {
		return s
	}

	w := 2 * math.Pi * freq
	zfb := FeedbackImpedance(bank[idx].Resistance, bank[idx].Capacitance, w)
	s.Impedance = DeviceImpedance(zfb, s.HVVoltage, s.FBVoltage)
	s.Capacitance = 1 / (w * s.Impedance)
	return s
}

// AmplitudeToRMS converts a fixed-point peak-to-peak amplitude into RMS ADC counts.
func AmplitudeToRMS(amplitude uint16) float64 {
	return float64(amplitude) / (feedback.PeakToPeakScale * 2 * math.Sqrt2)
}

// FeedbackImpedance returns |Z| of a feedback resistor r in parallel with its
// capacitance c at angular frequency w.
func FeedbackImpedance(r, c, w float64) float64 {
	return 1 / math.Sqrt(1/(r*r)+(w*c)*(w*c))
}

// DeviceImpedance returns the impedance of the device in series with the
// feedback impedance zfb. Formula: Z = Z_fb * (V_hv / V_fb - 1)
func DeviceImpedance(zfb, vhv, vfb float64) float64 {
	return zfb * (vhv/vfb - 1)
}
