// Package link connects the host to a DMF control board, either over a
// serial port or to an in-process simulated board.
package link

import (
	"errors"

	"github.com/itohio/godmf/pkg/feedback"
	"github.com/itohio/godmf/pkg/wire"
)

const (
	// DefaultBaudRate is the baud rate of the board firmware.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size of the messages channel buffer.
	DefaultBufferSize = 256
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
)

// Device defines the interface for boards (real or mocked).
type Device interface {
	Connect() error
	Close() error
	// Messages delivers results and end of measurement notices. It is
	// closed by Close.
	Messages() <-chan wire.Message
	// Measure sends a measurement request. A request sent while a
	// measurement runs cuts that measurement short.
	Measure(req feedback.Request) error
	// SetWaveform changes the waveform the board targets. It applies to
	// measurements started afterwards.
	SetWaveform(w wire.Waveform) error
	IsConnected() bool
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
