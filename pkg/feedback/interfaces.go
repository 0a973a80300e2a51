package feedback

import "time"

// SampleFunc receives one ADC conversion. index is the position of the
// channel in the active channel set.
type SampleFunc func(index uint8, value uint16)

// Acquisition is the ADC peripheral delivering samples asynchronously.
type Acquisition interface {
	SetSamplingRate(hz float32)
	SetPrescaler(prescaler uint8)
	// SetBufferLen sets the number of conversions per acquisition across all channels.
	SetBufferLen(n int)
	SetChannels(channels []Channel)
	RegisterCallback(fn SampleFunc)
	// Begin starts an acquisition without blocking. The returned channel is
	// closed after the last sample has been delivered.
	Begin() <-chan struct{}
	// Abort stops the acquisition in progress. The channel returned by Begin
	// is still closed once no further sample will be delivered.
	Abort()
}

// IO is the digital and analog pin access of the board.
type IO interface {
	DigitalWrite(pin uint8, high bool)
	AnalogRead(ch Channel) uint16
}

// Board exposes the mutable board settings consulted during a measurement.
type Board interface {
	AmplifierGain() float32
	SetAmplifierGain(gain float32)
	WaveformVoltage() float32
	WaveformFrequency() float32
	AutoAdjustGain() bool
	// PendingRequest reports whether a new request arrived on the command link.
	PendingRequest() bool
}

// ResultSink receives window results in order.
type ResultSink interface {
	Emit(r WindowResult) error
}

// SinkFunc adapts a function to a ResultSink.
type SinkFunc func(r WindowResult) error

func (f SinkFunc) Emit(r WindowResult) error {
	return f(r)
}

// Request describes one impedance measurement.
type Request struct {
	SamplesPerWindow int           // conversions per window across both channels
	Windows          int           // number of windows
	Delay            time.Duration // from the end of one window to the start of the next
	Interleaved      bool          // sample both channels in a single pass
	RMS              bool          // RMS amplitude instead of peak-to-peak
}
