//go:build tinygo

package main

import "machine"

const (
	// ADC configuration
	ADC_RESOLUTION = 10 // bits, matches feedback.FullScale
	ADC_SHIFT      = 16 - ADC_RESOLUTION

	// Serial configuration
	// Result lines look like "R,65535,1,65535,-128\n", ~24 bytes each.
	// Two lines per window at 100 windows/sec is 4,800 bytes/sec, which
	// 115200 baud (11,520 bytes/sec) carries with ~2.4x headroom.
	UART_BAUD_RATE = 115200

	// Longest accepted command line
	LINE_BUFFER = 64
)

// Analog inputs of the high voltage and feedback channels, indexed by feedback.Channel.
var adcPins = [...]machine.Pin{machine.ADC0, machine.ADC1}

// Digital pins addressable by the resistor bank select pins of the configuration.
var digitalPins = [...]machine.Pin{
	machine.D0, machine.D1, machine.D2, machine.D3, machine.D4,
	machine.D5, machine.D6, machine.D7, machine.D8, machine.D9,
	machine.D10, machine.D11, machine.D12, machine.D13,
}
