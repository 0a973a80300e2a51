package feedback

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/itohio/godmf/pkg/config"
)

type pinWrite struct {
	pin  uint8
	high bool
}

type fakeIO struct {
	mu     sync.Mutex
	writes []pinWrite
	level  uint16
}

func (f *fakeIO) DigitalWrite(pin uint8, high bool) {
	f.mu.Lock()
	f.writes = append(f.writes, pinWrite{pin, high})
	f.mu.Unlock()
}

func (f *fakeIO) AnalogRead(Channel) uint16 {
	return f.level
}

func (f *fakeIO) reset() {
	f.mu.Lock()
	f.writes = nil
	f.mu.Unlock()
}

type fakeBoard struct {
	gain     float32
	voltage  float32
	freq     float32
	autoGain bool
	pending  bool
}

func (b *fakeBoard) AmplifierGain() float32 { return b.gain }
func (b *fakeBoard) SetAmplifierGain(g float32) { b.gain = g }
func (b *fakeBoard) WaveformVoltage() float32 { return b.voltage }
func (b *fakeBoard) WaveformFrequency() float32 { return b.freq }
func (b *fakeBoard) AutoAdjustGain() bool { return b.autoGain }
func (b *fakeBoard) PendingRequest() bool { return b.pending }
func (b *fakeBoard) SetPendingRequest(pending bool) { b.pending = pending }

// fakeAcq completes every pass immediately without delivering samples.
type fakeAcq struct {
	rate      float32
	prescaler uint8
	bufLen    int
	channels  []Channel
	callback  SampleFunc
}

func (a *fakeAcq) SetSamplingRate(hz float32) { a.rate = hz }
func (a *fakeAcq) SetPrescaler(p uint8) { a.prescaler = p }
func (a *fakeAcq) SetBufferLen(n int) { a.bufLen = n }
func (a *fakeAcq) SetChannels(channels []Channel) { a.channels = channels }
func (a *fakeAcq) RegisterCallback(fn SampleFunc) { a.callback = fn }
func (a *fakeAcq) Begin() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

func (a *fakeAcq) Abort() {}

func newTestController(t *testing.T, cfg *config.Config) (*Controller, *fakeIO, *fakeBoard) {
	t.Helper()
	io := &fakeIO{level: 512}
	board := &fakeBoard{
		gain:     float32(cfg.Amplifier.Gain),
		voltage:  float32(cfg.Waveform.Voltage),
		freq:     float32(cfg.Waveform.Frequency),
		autoGain: cfg.Amplifier.AutoAdjustGain,
	}
	c, err := New(cfg, &fakeAcq{}, io, board, SinkFunc(func(WindowResult) error { return nil }))
	require.NoError(t, err)
	c.Initialize()
	io.reset()
	return c, io, board
}
