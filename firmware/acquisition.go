//go:build tinygo

package main

import (
	"machine"
	"time"

	"github.com/itohio/godmf/pkg/feedback"
)

// closed is returned by Begin, conversions run synchronously.
var closed = make(chan struct{})

func init() {
	close(closed)
}

// adcAcquisition polls the ADC at the configured sampling rate.
type adcAcquisition struct {
	adcs      [feedback.NumChannels]machine.ADC
	period    time.Duration
	prescaler uint8
	n         int
	channels  []feedback.Channel
	fn        feedback.SampleFunc
}

func newAcquisition() *adcAcquisition {
	a := &adcAcquisition{
		channels: []feedback.Channel{feedback.HV},
	}
	for i, pin := range adcPins {
		pin.Configure(machine.PinConfig{Mode: machine.PinInput})
		a.adcs[i] = machine.ADC{Pin: pin}
		a.adcs[i].Configure(machine.ADCConfig{Resolution: ADC_RESOLUTION})
	}
	return a
}

func (a *adcAcquisition) SetSamplingRate(hz float32) {
	if hz <= 0 {
		a.period = 0
		return
	}
	a.period = time.Duration(float32(time.Second) / hz)
}

// SetPrescaler records the prescaler. The polled ADC converts at its own clock.
func (a *adcAcquisition) SetPrescaler(prescaler uint8) { a.prescaler = prescaler }

func (a *adcAcquisition) SetBufferLen(n int) { a.n = n }

func (a *adcAcquisition) SetChannels(channels []feedback.Channel) {
	a.channels = append(a.channels[:0], channels...)
}

func (a *adcAcquisition) RegisterCallback(fn feedback.SampleFunc) { a.fn = fn }

// Begin converts the whole buffer before returning.
func (a *adcAcquisition) Begin() <-chan struct{} {
	if a.fn == nil || len(a.channels) == 0 {
		return closed
	}
	next := time.Now()
	for i := 0; i < a.n; i++ {
		idx := i % len(a.channels)
		v := a.adcs[a.channels[idx]].Get() >> ADC_SHIFT
		a.fn(uint8(idx), v)

		next = next.Add(a.period)
		for time.Now().Before(next) {
		}
	}
	return closed
}

// Abort has nothing to stop, Begin returns after the last conversion.
func (a *adcAcquisition) Abort() {}

// pinIO drives the resistor select pins and reads the idle analog level.
type pinIO struct {
	acq *adcAcquisition
}

func newPinIO(acq *adcAcquisition) *pinIO {
	for _, pin := range digitalPins {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	return &pinIO{acq: acq}
}

func (p *pinIO) DigitalWrite(pin uint8, high bool) {
	if int(pin) >= len(digitalPins) {
		return
	}
	digitalPins[pin].Set(high)
}

func (p *pinIO) AnalogRead(ch feedback.Channel) uint16 {
	return p.acq.adcs[ch].Get() >> ADC_SHIFT
}
