// Package sweep runs multi-step measurements from the host: frequency and
// voltage sweeps, and repeating a measurement at rising voltage until the
// device capacitance reaches a threshold.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/feedback"
	"github.com/itohio/godmf/pkg/sample"
	"github.com/itohio/godmf/pkg/wire"
)

// DefaultStepTimeout bounds the wait for the end of one measurement.
const DefaultStepTimeout = 10 * time.Second

var (
	ErrInvalidSweep = errors.New("invalid sweep")
	ErrIncomplete   = errors.New("measurement did not complete")
)

// Device is the board link a sweep drives.
type Device interface {
	Measure(req feedback.Request) error
	SetWaveform(w wire.Waveform) error
	Messages() <-chan wire.Message
}

// Step holds the windows measured at one waveform setting.
type Step struct {
	Waveform wire.Waveform
	Samples  []sample.Sample
}

// Impedance returns the mean device impedance over the valid windows, 0
// without one.
func (s Step) Impedance() float64 {
	var (
		sum float64
		n   int
	)
	for _, smp := range s.Samples {
		if smp.Valid() {
			sum += smp.Impedance
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// MaxCapacitance returns the largest device capacitance of the step.
func (s Step) MaxCapacitance() float64 {
	var c float64
	for _, smp := range s.Samples {
		if smp.Valid() && smp.Capacitance > c {
			c = smp.Capacitance
		}
	}
	return c
}

// Runner executes multi-step measurements on a device. While it runs it must
// be the only reader of the device messages. The configured waveform is
// restored after every run.
type Runner struct {
	dev Device
	cfg *config.Config

	StepTimeout time.Duration
}

// New creates a runner. cfg supplies the resistor banks used for conversion
// and the waveform restored after a run.
func New(dev Device, cfg *config.Config) *Runner {
	return &Runner{dev: dev, cfg: cfg, StepTimeout: DefaultStepTimeout}
}

// Measure applies w, runs req and returns the converted windows.
func (r *Runner) Measure(ctx context.Context, req feedback.Request, w wire.Waveform) (Step, error) {
	step := Step{Waveform: w}
	if err := r.dev.SetWaveform(w); err != nil {
		return step, fmt.Errorf("failed to set waveform: %w", err)
	}
	if err := r.dev.Measure(req); err != nil {
		return step, fmt.Errorf("failed to start measurement: %w", err)
	}

	cfg := *r.cfg
	cfg.Waveform = config.WaveformConfig{Frequency: w.Frequency, Voltage: w.Voltage}

	samples, err := r.collect(ctx, &cfg)
	step.Samples = samples
	return step, err
}

func (r *Runner) collect(ctx context.Context, cfg *config.Config) ([]sample.Sample, error) {
	timer := time.NewTimer(r.StepTimeout)
	defer timer.Stop()

	var (
		pairs   sample.Pairer
		samples []sample.Sample
	)
	msgs := r.dev.Messages()
	for {
		select {
		case <-ctx.Done():
			return samples, ctx.Err()
		case <-timer.C:
			return samples, fmt.Errorf("%w: no end of measurement after %v", ErrIncomplete, r.StepTimeout)
		case msg, ok := <-msgs:
			if !ok {
				return samples, fmt.Errorf("%w: device closed", ErrIncomplete)
			}
			if msg.Kind == wire.KindDone {
				return samples, nil
			}
			hv, fb, ok := pairs.Add(msg)
			if !ok {
				continue
			}
			s := sample.Convert(hv, fb, cfg)
			s.Timestamp = msg.Received
			samples = append(samples, s)
		}
	}
}

func (r *Runner) restore() {
	w := wire.Waveform{Frequency: r.cfg.Waveform.Frequency, Voltage: r.cfg.Waveform.Voltage}
	if err := r.dev.SetWaveform(w); err != nil {
		log.Printf("Failed to restore waveform: %v", err)
	}
}

// run measures every waveform in turn.
func (r *Runner) run(ctx context.Context, req feedback.Request, waveforms []wire.Waveform) ([]Step, error) {
	defer r.restore()

	steps := make([]Step, 0, len(waveforms))
	for i, w := range waveforms {
		step, err := r.Measure(ctx, req, w)
		if err != nil {
			return steps, fmt.Errorf("step %d at %g Hz, %g V: %w", i, w.Frequency, w.Voltage, err)
		}
		log.Printf("Step %d/%d: %g Hz, %g V, %d windows, %.3e F", i+1, len(waveforms), w.Frequency, w.Voltage, len(step.Samples), step.MaxCapacitance())
		steps = append(steps, step)
	}
	return steps, nil
}

// FrequencySweep measures at logarithmically spaced frequencies.
type FrequencySweep struct {
	Start float64 // Hz
	End   float64 // Hz
	Steps int
}

func DefaultFrequencySweep() FrequencySweep {
	return FrequencySweep{Start: 100, End: 30e3, Steps: 30}
}

func (s FrequencySweep) Validate() error {
	if s.Steps < 1 || s.Start <= 0 || s.End <= 0 {
		return fmt.Errorf("%w: frequencies %g..%g Hz in %d steps", ErrInvalidSweep, s.Start, s.End, s.Steps)
	}
	return nil
}

// Frequencies returns the frequency of every step, Start and End included.
func (s FrequencySweep) Frequencies() []float64 {
	if s.Steps <= 1 {
		return []float64{s.Start}
	}
	out := make([]float64, s.Steps)
	ratio := math.Log(s.End / s.Start)
	for i := range out {
		out[i] = s.Start * math.Exp(ratio*float64(i)/float64(s.Steps-1))
	}
	out[len(out)-1] = s.End
	return out
}

// SweepFrequency runs req once per frequency at the configured voltage.
func (r *Runner) SweepFrequency(ctx context.Context, req feedback.Request, s FrequencySweep) ([]Step, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	freqs := s.Frequencies()
	waveforms := make([]wire.Waveform, len(freqs))
	for i, f := range freqs {
		waveforms[i] = wire.Waveform{Frequency: f, Voltage: r.cfg.Waveform.Voltage}
	}
	return r.run(ctx, req, waveforms)
}

// VoltageSweep measures at evenly spaced voltages.
type VoltageSweep struct {
	Start float64 // V RMS
	End   float64 // V RMS
	Steps int
}

func DefaultVoltageSweep() VoltageSweep {
	return VoltageSweep{Start: 5, End: 100, Steps: 20}
}

func (s VoltageSweep) Validate() error {
	if s.Steps < 1 || s.Start < 0 || s.End < 0 {
		return fmt.Errorf("%w: voltages %g..%g V in %d steps", ErrInvalidSweep, s.Start, s.End, s.Steps)
	}
	return nil
}

// Voltages returns the voltage of every step, Start and End included.
func (s VoltageSweep) Voltages() []float64 {
	if s.Steps <= 1 {
		return []float64{s.Start}
	}
	out := make([]float64, s.Steps)
	step := (s.End - s.Start) / float64(s.Steps-1)
	for i := range out {
		out[i] = s.Start + step*float64(i)
	}
	out[len(out)-1] = s.End
	return out
}

// SweepVoltage runs req once per voltage at the configured frequency.
func (r *Runner) SweepVoltage(ctx context.Context, req feedback.Request, s VoltageSweep) ([]Step, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	volts := s.Voltages()
	waveforms := make([]wire.Waveform, len(volts))
	for i, v := range volts {
		waveforms[i] = wire.Waveform{Frequency: r.cfg.Waveform.Frequency, Voltage: v}
	}
	return r.run(ctx, req, waveforms)
}

// Retry repeats a measurement until the device capacitance reaches a
// threshold, raising the voltage before every repeat.
type Retry struct {
	CapacitanceThreshold float64 // F
	IncreaseVoltage      float64 // V RMS added per repeat
	MaxRepeats           int
}

func DefaultRetry() Retry {
	return Retry{MaxRepeats: 3}
}

func (a Retry) Validate() error {
	if a.MaxRepeats < 0 || a.IncreaseVoltage < 0 || a.CapacitanceThreshold < 0 {
		return fmt.Errorf("%w: retry %+v", ErrInvalidSweep, a)
	}
	return nil
}

// RetryResult lists every attempt, the first one included.
type RetryResult struct {
	Attempts []Step
	Reached  bool
}

// Retry runs req at the configured waveform and repeats it while the maximum
// capacitance stays below the threshold.
func (r *Runner) Retry(ctx context.Context, req feedback.Request, a Retry) (RetryResult, error) {
	var res RetryResult
	if err := a.Validate(); err != nil {
		return res, err
	}
	defer r.restore()

	w := wire.Waveform{Frequency: r.cfg.Waveform.Frequency, Voltage: r.cfg.Waveform.Voltage}
	for attempt := 0; attempt <= a.MaxRepeats; attempt++ {
		step, err := r.Measure(ctx, req, w)
		if err != nil {
			return res, fmt.Errorf("attempt %d at %g V: %w", attempt, w.Voltage, err)
		}
		res.Attempts = append(res.Attempts, step)

		c := step.MaxCapacitance()
		if c >= a.CapacitanceThreshold {
			res.Reached = true
			return res, nil
		}
		log.Printf("Attempt %d: %.3e F below %.3e F at %g V", attempt, c, a.CapacitanceThreshold, w.Voltage)
		w.Voltage += a.IncreaseVoltage
	}
	return res, nil
}
