package sim

import (
	"sync"
	"time"

	"github.com/itohio/godmf/pkg/feedback"
)

// Source produces ADC readings for a channel.
type Source interface {
	Sample(ch feedback.Channel) uint16
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ch feedback.Channel) uint16

func (f SourceFunc) Sample(ch feedback.Channel) uint16 {
	return f(ch)
}

// ADC is a simulated acquisition peripheral. Each Begin delivers the
// configured number of conversions from a separate goroutine, cycling
// through the channel set, and then signals completion.
type ADC struct {
	src Source

	mu        sync.Mutex
	rate      float32
	prescaler uint8
	bufLen    int
	channels  []feedback.Channel
	callback  feedback.SampleFunc
	passes    int
	paced     bool
	stop      chan struct{}
}

var _ feedback.Acquisition = (*ADC)(nil)

// NewADC creates an ADC reading from src.
func NewADC(src Source) *ADC {
	return &ADC{src: src}
}

// SetPaced makes each pass take as long as the conversions would at the
// configured sampling rate.
func (a *ADC) SetPaced(paced bool) {
	a.mu.Lock()
	a.paced = paced
	a.mu.Unlock()
}

func (a *ADC) SetSamplingRate(hz float32) {
	a.mu.Lock()
	a.rate = hz
	a.mu.Unlock()
}

func (a *ADC) SetPrescaler(prescaler uint8) {
	a.mu.Lock()
	a.prescaler = prescaler
	a.mu.Unlock()
}

func (a *ADC) SetBufferLen(n int) {
	a.mu.Lock()
	a.bufLen = n
	a.mu.Unlock()
}

func (a *ADC) SetChannels(channels []feedback.Channel) {
	a.mu.Lock()
	a.channels = append(a.channels[:0], channels...)
	a.mu.Unlock()
}

func (a *ADC) RegisterCallback(fn feedback.SampleFunc) {
	a.mu.Lock()
	a.callback = fn
	a.mu.Unlock()
}

// Begin starts one acquisition pass.
func (a *ADC) Begin() <-chan struct{} {
	a.mu.Lock()
	n, cb := a.bufLen, a.callback
	channels := append([]feedback.Channel(nil), a.channels...)
	var pace time.Duration
	if a.paced && a.rate > 0 {
		pace = time.Duration(float64(n) / float64(a.rate) * float64(time.Second))
	}
	a.passes++
	stop := make(chan struct{})
	a.stop = stop
	a.mu.Unlock()

	done := make(chan struct{})
	if cb == nil || len(channels) == 0 || n <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		start := time.Now()
		for i := 0; i < n; i++ {
			select {
			case <-stop:
				return
			default:
			}
			idx := i % len(channels)
			cb(uint8(idx), a.src.Sample(channels[idx]))
		}
		if d := pace - time.Since(start); d > 0 {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-stop:
			case <-timer.C:
			}
		}
	}()
	return done
}

// Abort stops the running pass. The pass signals completion without
// delivering the remaining conversions.
func (a *ADC) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stop != nil {
		close(a.stop)
		a.stop = nil
	}
}

func (a *ADC) SamplingRate() float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate
}

func (a *ADC) Prescaler() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prescaler
}

func (a *ADC) BufferLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bufLen
}

// Channels returns the active channel set.
func (a *ADC) Channels() []feedback.Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]feedback.Channel(nil), a.channels...)
}

// Passes returns the number of acquisition passes started.
func (a *ADC) Passes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.passes
}
