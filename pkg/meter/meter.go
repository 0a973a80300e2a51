package meter

import (
	"sync"
	"time"

	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/sample"
)

var _ ImpedanceMeter = (*Meter)(nil)

// Stats summarizes the samples in the history window.
type Stats struct {
	Windows          int     // samples in the window
	SaturatedWindows int     // samples with a saturated channel
	MinImpedance     float64 // Ω, 0 without a valid sample
	MaxCapacitance   float64 // F
	MeanCapacitance  float64 // F, over valid samples
	Latest           sample.Sample
}

// ImpedanceMeter keeps a time window of samples and their statistics.
type ImpedanceMeter interface {
	ProcessSamples(input <-chan sample.Sample)
	Samples() []sample.Sample                              // Get current samples buffer (ordered first to last)
	Stats() Stats                                          // Get statistics over the current buffer
	OnUpdate(func(samples []sample.Sample, stats Stats)) // Register callback for updates
}

// Meter implements ImpedanceMeter.
// Samples are removed by timestamp (time window), not number of samples.
type Meter struct {
	samples []sample.Sample
	stats   Stats
	mu      sync.RWMutex

	callbacks []func(samples []sample.Sample, stats Stats)
	cbMu      sync.RWMutex

	windowDuration time.Duration

	// Set when the input channel closes, prevents further callbacks
	shutdown bool
}

// New creates a new Meter with the history length of the configuration.
func New(cfg *config.Config) *Meter {
	return &Meter{
		samples:        make([]sample.Sample, 0),
		windowDuration: time.Duration(cfg.Measurement.HistorySeconds * float64(time.Second)),
	}
}

// ProcessSamples processes samples from the input channel until it closes.
// When the input channel closes, it sets shutdown flag to prevent further callbacks.
func (m *Meter) ProcessSamples(input <-chan sample.Sample) {
	for s := range input {
		m.processSample(s)
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

// processSample adds a sample to the buffer, trims the window and updates the statistics.
func (m *Meter) processSample(s sample.Sample) {
	m.mu.Lock()

	m.samples = append(m.samples, s)

	cutoff := s.Timestamp.Add(-m.windowDuration)
	drop := 0
	for drop < len(m.samples)-1 && !m.samples[drop].Timestamp.After(cutoff) {
		drop++
	}
	if drop > 0 {
		m.samples = append(m.samples[:0], m.samples[drop:]...)
	}

	m.stats = computeStats(m.samples)
	notify := !m.shutdown
	m.mu.Unlock()

	if notify {
		m.notifyCallbacks()
	}
}

func computeStats(samples []sample.Sample) Stats {
	var (
		st    Stats
		sumC  float64
		valid int
	)
	st.Windows = len(samples)
	for _, s := range samples {
		if s.Saturated {
			st.SaturatedWindows++
		}
		if !s.Valid() {
			continue
		}
		if valid == 0 || s.Impedance < st.MinImpedance {
			st.MinImpedance = s.Impedance
		}
		if s.Capacitance > st.MaxCapacitance {
			st.MaxCapacitance = s.Capacitance
		}
		sumC += s.Capacitance
		valid++
	}
	if valid > 0 {
		st.MeanCapacitance = sumC / float64(valid)
	}
	if len(samples) > 0 {
		st.Latest = samples[len(samples)-1]
	}
	return st
}

// Samples returns a copy of the current samples buffer.
func (m *Meter) Samples() []sample.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]sample.Sample, len(m.samples))
	copy(result, m.samples)
	return result
}

// Stats returns the statistics of the current samples buffer.
func (m *Meter) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// OnUpdate registers a callback function that will be called when samples are updated.
// The callback should copy data quickly and return as fast as possible.
func (m *Meter) OnUpdate(callback func(samples []sample.Sample, stats Stats)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// ResetShutdown resets the shutdown flag, allowing callbacks to be sent again.
// This should be called before starting a new measurement chain.
func (m *Meter) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

// Clear drops the history.
func (m *Meter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = m.samples[:0]
	m.stats = Stats{}
}

// notifyCallbacks invokes all registered callbacks with current data.
func (m *Meter) notifyCallbacks() {
	m.mu.RLock()
	samplesCopy := make([]sample.Sample, len(m.samples))
	copy(samplesCopy, m.samples)
	stats := m.stats
	m.mu.RUnlock()

	m.cbMu.RLock()
	callbacks := make([]func(samples []sample.Sample, stats Stats), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	// Invoke callbacks without holding any locks
	for _, cb := range callbacks {
		if cb != nil {
			cb(samplesCopy, stats)
		}
	}
}
