package feedback

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/godmf/pkg/config"
)

var (
	bothChannels = []Channel{HV, FB}
	hvOnly       = []Channel{HV}
	fbOnly       = []Channel{FB}
)

// Controller runs impedance measurements on one board.
//
// Samples are delivered by the Acquisition from its own context. Exactly one
// window is in flight at a time: the sample callback owns the accumulators
// until the completion signal fires, after which only the measurement loop
// touches them.
type Controller struct {
	acq   Acquisition
	io    IO
	board Board
	sink  ResultSink

	banks      [NumChannels]bank
	resistor   [NumChannels]uint8
	acc        [NumChannels]accumulator
	vgnd       [NumChannels]VirtualGround
	transfer   TransferTable
	model      TransferModel
	fbInTarget bool
	gain       GainController
	vref       float32

	samplingRate float32
	prescaler    uint8
	ignore       uint8
	timeout      time.Duration

	rms        bool
	perChannel uint32
	abandoned  <-chan struct{}
	busy       atomic.Bool
	inFlight   atomic.Bool
	dropped    atomic.Uint32

	interleavedFn SampleFunc
	hvFn          SampleFunc
	fbFn          SampleFunc
}

// New creates a controller for the board described by cfg.
func New(cfg *config.Config, acq Acquisition, io IO, board Board, sink ResultSink) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid board configuration: %w", err)
	}

	c := &Controller{
		acq:          acq,
		io:           io,
		board:        board,
		sink:         sink,
		model:        ModelFor(cfg.Board.MajorVersion),
		fbInTarget:   cfg.Board.MajorVersion == 1,
		gain:         GainController{Tolerance: float32(cfg.Amplifier.VoltageTolerance)},
		vref:         float32(cfg.Board.ARef),
		samplingRate: float32(cfg.Acquisition.SamplingRate),
		prescaler:    cfg.Acquisition.Prescaler,
		ignore:       cfg.Acquisition.IgnoreAfterSaturation,
		timeout:      cfg.Acquisition.Timeout,
	}
	if c.samplingRate <= 0 {
		c.samplingRate = DefaultSamplingRate
	}
	if c.prescaler == 0 {
		c.prescaler = DefaultPrescaler
	}
	c.banks[HV] = newBank(cfg.Channels.HV)
	c.banks[FB] = newBank(cfg.Channels.FB)

	c.interleavedFn = func(index uint8, value uint16) {
		if index < NumChannels {
			c.onSample(Channel(index), value)
		}
	}
	c.hvFn = func(_ uint8, value uint16) { c.onSample(HV, value) }
	c.fbFn = func(_ uint8, value uint16) { c.onSample(FB, value) }

	return c, nil
}

// Initialize configures the acquisition, selects the smallest resistor on both
// channels and seeds the virtual ground from one analog read per channel.
func (c *Controller) Initialize() {
	c.acq.SetSamplingRate(c.samplingRate)
	c.acq.SetPrescaler(c.prescaler)
	for ch := range Channel(NumChannels) {
		c.applyResistor(ch, 0)
		c.vgnd[ch].Seed(c.io.AnalogRead(ch))
	}
}

// VirtualGround returns the baseline tracker state of a channel.
func (c *Controller) VirtualGround(ch Channel) VirtualGround {
	return c.vgnd[ch]
}

// Transfer returns the transfer table of the last measurement.
func (c *Controller) Transfer() TransferTable {
	return c.transfer
}

// Busy reports whether a measurement is running.
func (c *Controller) Busy() bool {
	return c.busy.Load()
}

// onSample is the sample path. It runs in the acquisition context and must
// not block or allocate.
func (c *Controller) onSample(ch Channel, value uint16) {
	if !c.inFlight.Load() {
		c.dropped.Add(1)
		return
	}
	a := &c.acc[ch]
	if !inBand(value) {
		// out of band readings right after a switch belong to the settling resistor
		if a.ignore > 0 {
			a.ignore--
			return
		}
		a.saturate(c.ignore)
		if r := c.resistor[ch]; r > 0 {
			c.applyResistor(ch, r-1)
		}
		return
	}
	a.add(value, c.vgnd[ch].level, c.rms)
}

// MeasureImpedance runs req and emits two results per completed window, HV
// first. It returns the number of completed windows.
//
// The loop stops early, without error, once the board reports a pending
// request. The resistor selection in place before the call is always
// restored. ctx is checked between windows only.
func (c *Controller) MeasureImpedance(ctx context.Context, req Request) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if !c.busy.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer c.busy.Store(false)

	saved := c.resistor
	defer c.teardown(saved)
	c.setup(req)

	completed := 0
	for i := 0; i < req.Windows; i++ {
		if err := c.acquire(req.Interleaved); err != nil {
			log.Printf("Window %d: %v", i, err)
			return completed, fmt.Errorf("window %d: %w", i, err)
		}
		finished := time.Now()

		results := c.completeWindow(i)
		for _, r := range results {
			if err := c.sink.Emit(r); err != nil {
				return completed, fmt.Errorf("failed to emit window %d: %w", i, err)
			}
		}
		completed++

		if c.board.PendingRequest() {
			break
		}
		if err := ctx.Err(); err != nil {
			return completed, err
		}
		// no delay after the last window
		if req.Delay > 0 && i+1 < req.Windows {
			waitUntil(finished.Add(req.Delay))
		}
	}
	return completed, nil
}

func (c *Controller) setup(req Request) {
	for ch := range Channel(NumChannels) {
		c.applyResistor(ch, c.banks[ch].count-1)
	}
	c.rms = req.RMS

	perChannel := req.SamplesPerChannel()
	c.perChannel = uint32(perChannel)
	if req.Interleaved {
		c.acq.SetChannels(bothChannels)
		c.acq.RegisterCallback(c.interleavedFn)
		c.acq.SetBufferLen(perChannel * NumChannels)
	} else {
		c.acq.SetBufferLen(perChannel)
	}

	b := &c.banks[HV]
	c.transfer = NewTransferTable(c.model, c.vref, c.board.WaveformFrequency(), b.resistance[:b.count], b.capacitance[:b.count])
}

func (c *Controller) teardown(saved [NumChannels]uint8) {
	c.inFlight.Store(false)
	if c.abandoned != nil {
		<-c.abandoned
		c.abandoned = nil
	}
	for ch := range Channel(NumChannels) {
		c.applyResistor(ch, saved[ch])
	}
	if n := c.dropped.Swap(0); n > 0 {
		log.Printf("Dropped %d samples delivered outside a window", n)
	}
}

// acquire resets the accumulators and blocks until the window is sampled.
func (c *Controller) acquire(interleaved bool) error {
	for ch := range Channel(NumChannels) {
		c.acc[ch].reset()
	}
	if interleaved {
		return c.pass()
	}

	c.acq.SetChannels(hvOnly)
	c.acq.RegisterCallback(c.hvFn)
	if err := c.pass(); err != nil {
		return err
	}
	c.acq.SetChannels(fbOnly)
	c.acq.RegisterCallback(c.fbFn)
	return c.pass()
}

func (c *Controller) pass() error {
	c.inFlight.Store(true)
	done := c.acq.Begin()
	if c.timeout <= 0 {
		<-done
		c.inFlight.Store(false)
		return nil
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-done:
		c.inFlight.Store(false)
		return nil
	case <-timer.C:
		c.inFlight.Store(false)
		c.acq.Abort()
		c.abandoned = done
		return ErrAcquisitionTimeout
	}
}

// completeWindow turns the accumulators into results and runs the per-window
// control: baseline tracking, gain correction and low-signal step-up.
func (c *Controller) completeWindow(window int) [NumChannels]WindowResult {
	var (
		results [NumChannels]WindowResult
		rms     [NumChannels]float32
	)
	for ch := range Channel(NumChannels) {
		a := &c.acc[ch]
		var amplitude uint16
		if c.rms {
			rms[ch] = a.rms(c.perChannel)
			amplitude = toFixed(rms[ch] * PeakToPeakScale * 2 * math32.Sqrt2)
			c.vgnd[ch].Update(window, a.sum, c.perChannel)
		} else {
			amplitude = a.peakToPeak()
			rms[ch] = float32(amplitude) / math32.Sqrt2 / (2 * PeakToPeakScale)
		}

		resistor := int8(c.resistor[ch])
		if a.saturated > 0 {
			resistor = -int8(a.saturated)
		}
		results[ch] = WindowResult{
			Window:    window,
			Channel:   ch,
			Amplitude: amplitude,
			Resistor:  resistor,
		}
	}

	c.adjustGain(rms)

	for ch := range Channel(NumChannels) {
		if results[ch].Amplitude < LowSignalFloor && c.resistor[ch]+1 < c.banks[ch].count {
			c.applyResistor(ch, c.resistor[ch]+1)
		}
	}
	return results
}

func (c *Controller) adjustGain(rms [NumChannels]float32) {
	if !c.board.AutoAdjustGain() || c.acc[HV].saturated > 0 {
		return
	}
	target := c.board.WaveformVoltage()
	if target <= 0 {
		return
	}

	measured := rms[HV] * c.transfer.At(int(c.resistor[HV]))
	if c.fbInTarget && c.acc[FB].saturated == 0 {
		target += rms[FB] * c.vref / FullScale
	}
	if gain, ok := c.gain.Adjust(c.board.AmplifierGain(), measured, target); ok {
		c.board.SetAmplifierGain(gain)
	}
}

// waitUntil blocks until the deadline has passed.
func waitUntil(deadline time.Time) {
	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
}
