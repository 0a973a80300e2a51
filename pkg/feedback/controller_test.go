package feedback_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godmf/pkg/board"
	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/feedback"
	"github.com/itohio/godmf/pkg/sim"
)

type recorder struct {
	mu      sync.Mutex
	results []feedback.WindowResult
	err     error
}

func (r *recorder) Emit(res feedback.WindowResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.results = append(r.results, res)
	return nil
}

func (r *recorder) Results() []feedback.WindowResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feedback.WindowResult(nil), r.results...)
}

type rig struct {
	cfg   *config.Config
	board *board.State
	front *sim.FrontEnd
	adc   *sim.ADC
	sink  *recorder
	ctrl  *feedback.Controller
}

// newRig wires a controller to the simulated front end. A nil src samples the
// front end itself.
func newRig(t *testing.T, cfg *config.Config, src sim.Source) *rig {
	t.Helper()
	r := &rig{cfg: cfg, board: board.New(cfg), sink: &recorder{}}
	r.front = sim.NewFrontEnd(cfg, r.board)
	if src == nil {
		src = r.front
	}
	r.adc = sim.NewADC(src)

	ctrl, err := feedback.New(cfg, r.adc, r.front, r.board, r.sink)
	require.NoError(t, err)
	ctrl.Initialize()
	r.ctrl = ctrl
	return r
}

func sineSource(peak float64) sim.Source {
	return sim.NewSequence(sim.Sine(50, 1, 512, peak), sim.Sine(50, 1, 512, peak))
}

func TestMeasureImpedance_Interleaved(t *testing.T) {
	cfg := config.Default()
	cfg.Amplifier.AutoAdjustGain = false
	r := newRig(t, cfg, sineSource(300))
	require.NoError(t, r.ctrl.SetResistorIndex(feedback.HV, 1))

	n, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 100,
		Windows:          3,
		Interleaved:      true,
		RMS:              true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results := r.sink.Results()
	require.Len(t, results, 6)
	for i, res := range results {
		assert.Equal(t, i/2, res.Window)
		assert.Equal(t, feedback.Channel(i%2), res.Channel)
		assert.False(t, res.Saturated())
		// setup selects the largest resistor
		assert.Equal(t, int8(r.ctrl.ResistorCount(res.Channel)-1), res.Resistor)
		// 300 counts peak is 300*64*2 fixed point peak-to-peak
		assert.InEpsilon(t, 300*128, float64(res.Amplitude), 0.01)
	}

	assert.Equal(t, 1, r.ctrl.ResistorIndex(feedback.HV))
	assert.Equal(t, 0, r.ctrl.ResistorIndex(feedback.FB))
	assert.Equal(t, 1, r.front.ResistorIndex(feedback.HV))
	assert.Equal(t, 0, r.front.ResistorIndex(feedback.FB))
	assert.Equal(t, 3, r.adc.Passes())
	assert.Equal(t, 100, r.adc.BufferLen())
	assert.Equal(t, float32(300), r.board.AmplifierGain())
	assert.False(t, r.ctrl.Busy())
}

func TestMeasureImpedance_Sequential(t *testing.T) {
	cfg := config.Default()
	cfg.Amplifier.AutoAdjustGain = false
	r := newRig(t, cfg, sineSource(200))

	n, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 100,
		Windows:          2,
		RMS:              true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results := r.sink.Results()
	require.Len(t, results, 4)
	for _, res := range results {
		assert.InEpsilon(t, 200*128, float64(res.Amplitude), 0.01)
	}
	assert.Equal(t, 4, r.adc.Passes())
	assert.Equal(t, 50, r.adc.BufferLen())
	assert.Equal(t, []feedback.Channel{feedback.FB}, r.adc.Channels())
}

func TestMeasureImpedance_PeakToPeak(t *testing.T) {
	cfg := config.Default()
	cfg.Amplifier.AutoAdjustGain = false
	hv := []uint16{400, 600, 500, 450}
	fb := []uint16{100, 900, 512, 512}
	r := newRig(t, cfg, sim.NewSequence(hv, fb))

	_, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 8,
		Windows:          1,
		Interleaved:      true,
	})
	require.NoError(t, err)

	results := r.sink.Results()
	require.Len(t, results, 2)
	assert.Equal(t, uint16(200*feedback.PeakToPeakScale), results[0].Amplitude)
	assert.Equal(t, uint16(800*feedback.PeakToPeakScale), results[1].Amplitude)
}

func TestMeasureImpedance_RMSConvergence(t *testing.T) {
	cfg := config.Default()
	cfg.Amplifier.AutoAdjustGain = false

	for _, peak := range []float64{100, 250, 400} {
		src := sim.NewSequence(sim.Sine(400, 4, 512, peak), sim.Sine(400, 4, 512, peak))
		r := newRig(t, cfg, src)

		_, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{
			SamplesPerWindow: 800,
			Windows:          1,
			Interleaved:      true,
			RMS:              true,
		})
		require.NoError(t, err)

		for _, res := range r.sink.Results() {
			assert.InEpsilon(t, peak*2*feedback.PeakToPeakScale, float64(res.Amplitude), 0.005, "peak %v", peak)
		}
	}
}

func TestMeasureImpedance_EarlyExit(t *testing.T) {
	cfg := config.Default()
	r := newRig(t, cfg, sineSource(300))
	require.NoError(t, r.ctrl.SetResistorIndex(feedback.FB, 3))
	// a new request shows up while the first window is being reported
	r.board.SetPending(func() bool { return len(r.sink.Results()) >= 2 })

	n, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 100,
		Windows:          3,
		Interleaved:      true,
		RMS:              true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, r.sink.Results(), 2)
	assert.Equal(t, 1, r.adc.Passes())
	assert.Equal(t, 0, r.ctrl.ResistorIndex(feedback.HV))
	assert.Equal(t, 3, r.ctrl.ResistorIndex(feedback.FB))
	assert.Equal(t, 3, r.front.ResistorIndex(feedback.FB))
}

func TestMeasureImpedance_Saturation(t *testing.T) {
	cfg := config.Default()
	hv := sim.Sine(50, 1, 512, 300)
	hv[10] = 1010
	r := newRig(t, cfg, sim.NewSequence(hv, sim.Sine(50, 1, 512, 300)))

	_, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 100,
		Windows:          3,
		Interleaved:      true,
		RMS:              true,
	})
	require.NoError(t, err)

	results := r.sink.Results()
	require.Len(t, results, 6)
	for _, res := range results {
		if res.Channel == feedback.HV {
			assert.Equal(t, int8(-1), res.Resistor, "window %d", res.Window)
		} else {
			assert.False(t, res.Saturated())
		}
	}
	// every window saturated the drive channel, so the gain never moved
	assert.Equal(t, float32(300), r.board.AmplifierGain())
	assert.Equal(t, 0, r.ctrl.ResistorIndex(feedback.HV))
}

func TestMeasureImpedance_Autorange(t *testing.T) {
	cfg := config.Default()
	// one waveform period per 50 conversions
	cfg.Waveform.Frequency = cfg.Acquisition.SamplingRate / 50
	cfg.Mock.Noise = 0
	r := newRig(t, cfg, nil)

	n, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 100,
		Windows:          4,
		Interleaved:      true,
		RMS:              true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	results := r.sink.Results()
	require.Len(t, results, 8)
	assert.True(t, results[0].Saturated(), "largest hv resistor must saturate")
	for _, res := range results[2:] {
		if res.Channel == feedback.HV {
			assert.Equal(t, int8(0), res.Resistor, "window %d", res.Window)
		}
		assert.False(t, res.Saturated(), "window %d %s", res.Window, res.Channel)
	}

	// gain converges on the simulated amplifier
	assert.InEpsilon(t, cfg.Mock.TrueGain, float64(r.board.AmplifierGain()), 0.02)
	assert.InEpsilon(t, cfg.Waveform.Voltage, r.front.HVVoltage(), 0.02)
	assert.Equal(t, 0, r.front.ResistorIndex(feedback.HV))
	assert.Equal(t, 0, r.front.ResistorIndex(feedback.FB))
}

func TestMeasureImpedance_Delay(t *testing.T) {
	cfg := config.Default()
	r := newRig(t, cfg, sineSource(300))

	start := time.Now()
	n, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 10,
		Windows:          3,
		Delay:            20 * time.Millisecond,
		Interleaved:      true,
		RMS:              true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestMeasureImpedance_InvalidRequest(t *testing.T) {
	r := newRig(t, config.Default(), sineSource(300))

	n, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{SamplesPerWindow: 100})
	assert.ErrorIs(t, err, feedback.ErrInvalidRequest)
	assert.Zero(t, n)
	assert.Zero(t, r.adc.Passes())
}

func TestMeasureImpedance_SinkError(t *testing.T) {
	r := newRig(t, config.Default(), sineSource(300))
	require.NoError(t, r.ctrl.SetResistorIndex(feedback.HV, 1))
	sinkErr := errors.New("link down")
	r.sink.err = sinkErr

	n, err := r.ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 10,
		Windows:          3,
		Interleaved:      true,
	})
	assert.ErrorIs(t, err, sinkErr)
	assert.Zero(t, n)
	assert.Equal(t, 1, r.ctrl.ResistorIndex(feedback.HV))
}

func TestMeasureImpedance_ContextCanceled(t *testing.T) {
	r := newRig(t, config.Default(), sineSource(300))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := r.ctrl.MeasureImpedance(ctx, feedback.Request{
		SamplesPerWindow: 10,
		Windows:          3,
		Interleaved:      true,
	})
	assert.ErrorIs(t, err, context.Canceled)
	// the window in flight always completes
	assert.Equal(t, 1, n)
	assert.Len(t, r.sink.Results(), 2)
}

// stalledADC never completes an acquisition on its own.
type stalledADC struct {
	*sim.ADC
	mu   sync.Mutex
	done chan struct{}
}

func (a *stalledADC) Begin() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.done = make(chan struct{})
	return a.done
}

func (a *stalledADC) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		close(a.done)
		a.done = nil
	}
}

// slowADC keeps delivering out of band conversions at a slow pace until
// aborted, long after the controller gave up on the pass.
type slowADC struct {
	*sim.ADC
	mu        sync.Mutex
	callback  feedback.SampleFunc
	stop      chan struct{}
	delivered atomic.Int32
}

func (a *slowADC) RegisterCallback(fn feedback.SampleFunc) {
	a.mu.Lock()
	a.callback = fn
	a.mu.Unlock()
}

func (a *slowADC) Begin() <-chan struct{} {
	a.mu.Lock()
	cb := a.callback
	stop := make(chan struct{})
	a.stop = stop
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
			}
			cb(0, feedback.FullScale)
			a.delivered.Add(1)
		}
	}()
	return done
}

func (a *slowADC) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
}

func TestMeasureImpedance_Timeout(t *testing.T) {
	cfg := config.Default()
	cfg.Acquisition.Timeout = 20 * time.Millisecond
	b := board.New(cfg)
	front := sim.NewFrontEnd(cfg, b)
	ctrl, err := feedback.New(cfg, &stalledADC{ADC: sim.NewADC(front)}, front, b, &recorder{})
	require.NoError(t, err)
	ctrl.Initialize()

	n, err := ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 10,
		Windows:          3,
		Interleaved:      true,
	})
	assert.ErrorIs(t, err, feedback.ErrAcquisitionTimeout)
	assert.Zero(t, n)
	assert.Equal(t, 0, ctrl.ResistorIndex(feedback.HV))
	assert.Equal(t, 0, front.ResistorIndex(feedback.FB))
	assert.False(t, ctrl.Busy())
}

func TestMeasureImpedance_TimeoutLateSamples(t *testing.T) {
	cfg := config.Default()
	cfg.Acquisition.Timeout = 10 * time.Millisecond
	b := board.New(cfg)
	front := sim.NewFrontEnd(cfg, b)
	adc := &slowADC{ADC: sim.NewADC(front)}
	ctrl, err := feedback.New(cfg, adc, front, b, &recorder{})
	require.NoError(t, err)
	ctrl.Initialize()
	require.NoError(t, ctrl.SetResistorIndex(feedback.HV, 1))
	require.NoError(t, ctrl.SetResistorIndex(feedback.FB, 3))

	n, err := ctrl.MeasureImpedance(context.Background(), feedback.Request{
		SamplesPerWindow: 10,
		Windows:          2,
		Interleaved:      true,
	})
	require.ErrorIs(t, err, feedback.ErrAcquisitionTimeout)
	assert.Zero(t, n)
	assert.Positive(t, adc.delivered.Load())

	// the abandoned pass is over once the measurement returns
	delivered := adc.delivered.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, delivered, adc.delivered.Load())

	assert.Equal(t, 1, ctrl.ResistorIndex(feedback.HV))
	assert.Equal(t, 1, front.ResistorIndex(feedback.HV))
	assert.Equal(t, 3, ctrl.ResistorIndex(feedback.FB))
	assert.Equal(t, 3, front.ResistorIndex(feedback.FB))
	assert.False(t, ctrl.Busy())
}

func TestMeasureImpedance_Concurrent(t *testing.T) {
	cfg := config.Default()
	r := newRig(t, cfg, sineSource(300))
	r.adc.SetPaced(true)

	req := feedback.Request{SamplesPerWindow: 700, Windows: 5, Interleaved: true, RMS: true}
	var (
		wg   sync.WaitGroup
		busy atomic.Int32
		ok   atomic.Int32
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ctrl.MeasureImpedance(context.Background(), req)
			switch {
			case errors.Is(err, feedback.ErrBusy):
				busy.Add(1)
			case err == nil:
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, ok.Load(), int32(1))
	assert.Equal(t, int32(4), ok.Load()+busy.Load())
	assert.Len(t, r.sink.Results(), int(ok.Load())*10)
}
