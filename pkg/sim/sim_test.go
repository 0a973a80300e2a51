package sim

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godmf/pkg/board"
	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/feedback"
)

func TestSequence(t *testing.T) {
	s := NewSequence([]uint16{1, 2, 3}, nil)

	var got []uint16
	for range 5 {
		got = append(got, s.Sample(feedback.HV))
	}
	assert.Equal(t, []uint16{1, 2, 3, 1, 2}, got)
	assert.Equal(t, uint16(512), s.Sample(feedback.FB))
}

func TestSine(t *testing.T) {
	v := Sine(4, 1, 512, 100)
	assert.Equal(t, []uint16{512, 612, 512, 412}, v)

	// clamped to the ADC range
	v = Sine(4, 1, 512, 1000)
	assert.Equal(t, uint16(feedback.FullScale), v[1])
	assert.Equal(t, uint16(0), v[3])
}

func TestConstant(t *testing.T) {
	assert.Equal(t, []uint16{7, 7, 7}, Constant(3, 7))
}

func TestADC_Begin(t *testing.T) {
	adc := NewADC(NewSequence(Constant(1, 100), Constant(1, 200)))
	adc.SetChannels([]feedback.Channel{feedback.HV, feedback.FB})
	adc.SetBufferLen(6)

	var (
		mu      sync.Mutex
		indices []uint8
		values  []uint16
	)
	adc.RegisterCallback(func(index uint8, value uint16) {
		mu.Lock()
		indices = append(indices, index)
		values = append(values, value)
		mu.Unlock()
	})

	select {
	case <-adc.Begin():
	case <-time.After(time.Second):
		t.Fatal("acquisition did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint8{0, 1, 0, 1, 0, 1}, indices)
	assert.Equal(t, []uint16{100, 200, 100, 200, 100, 200}, values)
	assert.Equal(t, 1, adc.Passes())
}

func TestADC_BeginWithoutCallback(t *testing.T) {
	adc := NewADC(NewSequence(nil, nil))
	adc.SetChannels([]feedback.Channel{feedback.HV})
	adc.SetBufferLen(10)

	select {
	case <-adc.Begin():
	default:
		t.Fatal("pass without a callback should complete immediately")
	}
}

func TestADC_Paced(t *testing.T) {
	adc := NewADC(NewSequence(nil, nil))
	adc.SetChannels([]feedback.Channel{feedback.HV})
	adc.SetSamplingRate(1000)
	adc.SetBufferLen(20)
	adc.SetPaced(true)
	adc.RegisterCallback(func(uint8, uint16) {})

	start := time.Now()
	<-adc.Begin()
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestADC_Abort(t *testing.T) {
	adc := NewADC(NewSequence(nil, nil))
	adc.SetChannels([]feedback.Channel{feedback.HV})
	adc.SetSamplingRate(100)
	adc.SetBufferLen(100)
	adc.SetPaced(true)
	var delivered atomic.Int32
	adc.RegisterCallback(func(uint8, uint16) { delivered.Add(1) })

	done := adc.Begin()
	adc.Abort()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("aborted pass did not complete")
	}
	n := delivered.Load()
	assert.LessOrEqual(t, n, int32(100))

	// a second Abort is harmless and nothing arrives after completion
	adc.Abort()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, n, delivered.Load())
}

func TestFrontEnd_ResistorIndex(t *testing.T) {
	cfg := config.Default()
	fe := NewFrontEnd(cfg, board.New(cfg))

	// no pin high selects the last resistor
	assert.Equal(t, len(cfg.Channels.HV.Resistors)-1, fe.ResistorIndex(feedback.HV))

	pin := uint8(cfg.Channels.HV.SelectPins[1])
	fe.DigitalWrite(pin, true)
	assert.True(t, fe.Pin(pin))
	assert.Equal(t, 1, fe.ResistorIndex(feedback.HV))
	assert.Equal(t, 1, fe.Writes())
}

func TestFrontEnd_Signal(t *testing.T) {
	cfg := config.Default()
	cfg.Mock.Noise = 0
	fe := NewFrontEnd(cfg, board.New(cfg))
	require.Equal(t, cfg.Mock.VirtualGround, fe.AnalogRead(feedback.HV))

	lo, hi := uint16(feedback.FullScale), uint16(0)
	for range 1000 {
		v := fe.Sample(feedback.HV)
		lo, hi = min(lo, v), max(hi, v)
	}
	assert.Less(t, lo, cfg.Mock.VirtualGround)
	assert.Greater(t, hi, cfg.Mock.VirtualGround)
}
