package board

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/godmf/pkg/config"
)

func TestNew(t *testing.T) {
	cfg := config.Default()
	s := New(cfg)

	assert.Equal(t, float32(300), s.AmplifierGain())
	assert.Equal(t, float32(100), s.WaveformVoltage())
	assert.Equal(t, float32(1000), s.WaveformFrequency())
	assert.True(t, s.AutoAdjustGain())
	assert.False(t, s.PendingRequest())
}

func TestState_Setters(t *testing.T) {
	s := New(config.Default())

	s.SetAmplifierGain(12.5)
	s.SetWaveformVoltage(80)
	s.SetWaveformFrequency(500)
	s.SetAutoAdjustGain(false)

	assert.Equal(t, float32(12.5), s.AmplifierGain())
	assert.Equal(t, float32(80), s.WaveformVoltage())
	assert.Equal(t, float32(500), s.WaveformFrequency())
	assert.False(t, s.AutoAdjustGain())
}

func TestState_Pending(t *testing.T) {
	s := New(config.Default())
	var flag atomic.Bool
	s.SetPending(flag.Load)

	assert.False(t, s.PendingRequest())
	flag.Store(true)
	assert.True(t, s.PendingRequest())

	s.SetPending(nil)
	assert.False(t, s.PendingRequest())
}

func TestState_ApplyStore(t *testing.T) {
	cfg := config.Default()
	s := New(cfg)
	s.SetAmplifierGain(42)

	s.Store(cfg)
	assert.Equal(t, float64(42), cfg.Amplifier.Gain)

	cfg.Waveform.Voltage = 150
	cfg.Amplifier.AutoAdjustGain = false
	s.Apply(cfg)
	assert.Equal(t, float32(150), s.WaveformVoltage())
	assert.False(t, s.AutoAdjustGain())
}

func TestState_Concurrent(t *testing.T) {
	s := New(config.Default())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetAmplifierGain(float32(i*100 + j))
				_ = s.AmplifierGain()
				_ = s.PendingRequest()
			}
		}(i)
	}
	wg.Wait()
	assert.GreaterOrEqual(t, s.AmplifierGain(), float32(0))
}
