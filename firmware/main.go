//go:build tinygo

//go:generate tinygo flash -target=arduino-mega2560

package main

import (
	"context"
	"machine"

	"github.com/itohio/godmf/pkg/board"
	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/feedback"
	"github.com/itohio/godmf/pkg/wire"
)

var (
	uart = machine.Serial

	// Serial buffer for reading lines
	lineBuffer [LINE_BUFFER]byte
	linePos    int
)

func main() {
	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	cfg := config.Default()
	state := board.New(cfg)
	state.SetPending(func() bool {
		return uart.Buffered() > 0
	})

	acq := newAcquisition()
	out := wire.NewWriter(uart)
	ctrl, err := feedback.New(cfg, acq, newPinIO(acq), state, out)
	if err != nil {
		println("config:", err.Error())
		return
	}
	ctrl.Initialize()

	ctx := context.Background()
	for {
		line, ok := readLine()
		if !ok {
			continue
		}

		if wire.IsWaveform(line) {
			w, err := wire.ParseWaveform(line)
			if err != nil {
				println("waveform:", err.Error())
				continue
			}
			state.SetWaveformFrequency(float32(w.Frequency))
			state.SetWaveformVoltage(float32(w.Voltage))
			continue
		}

		req, err := wire.ParseCommand(line)
		if err != nil {
			println("command:", err.Error())
			continue
		}

		completed, err := ctrl.MeasureImpedance(ctx, req)
		if err != nil {
			println("measure:", err.Error())
		}
		if err := out.Done(completed); err != nil {
			println("done:", err.Error())
		}
	}
}

// readLine collects bytes until a line ending. It returns false while the
// line is incomplete.
func readLine() (string, bool) {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if linePos == 0 {
				continue
			}
			line := string(lineBuffer[:linePos])
			linePos = 0
			return line, true
		}

		if linePos < len(lineBuffer) {
			lineBuffer[linePos] = data
			linePos++
		} else {
			// Overlong line, drop it
			linePos = 0
		}
	}
	return "", false
}
