// Package wire encodes measurement commands and window results as text lines.
//
//	M,<samples_per_window>,<windows>,<delay_ms>,<interleave 0|1>,<rms 0|1>
//	W,<frequency_hz>,<voltage_rms>
//	R,<window>,<channel>,<amplitude>,<resistor>
//	D,<windows_completed>
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/godmf/pkg/feedback"
)

const (
	tagMeasure  = 'M'
	tagWaveform = 'W'
	tagResult   = 'R'
	tagDone     = 'D'
)

// ErrMalformed is returned for lines that do not follow the protocol.
var ErrMalformed = errors.New("malformed line")

// Kind identifies a device message.
type Kind uint8

const (
	KindResult Kind = iota + 1
	KindDone
)

// Message is a line received from the device.
type Message struct {
	Kind      Kind
	Received  time.Time
	Result    feedback.WindowResult // KindResult
	Completed int                   // KindDone
}

// FormatCommand encodes a measurement request.
func FormatCommand(req feedback.Request) string {
	ms := float64(req.Delay) / float64(time.Millisecond)
	return fmt.Sprintf("%c,%d,%d,%s,%d,%d",
		tagMeasure,
		req.SamplesPerWindow,
		req.Windows,
		strconv.FormatFloat(ms, 'f', -1, 64),
		boolDigit(req.Interleaved),
		boolDigit(req.RMS),
	)
}

// ParseCommand decodes a measurement request line.
func ParseCommand(line string) (feedback.Request, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 6 || parts[0] != string(tagMeasure) {
		return feedback.Request{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}

	samples, err := strconv.Atoi(parts[1])
	if err != nil {
		return feedback.Request{}, fmt.Errorf("%w: samples per window: %w", ErrMalformed, err)
	}
	windows, err := strconv.Atoi(parts[2])
	if err != nil {
		return feedback.Request{}, fmt.Errorf("%w: windows: %w", ErrMalformed, err)
	}
	ms, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return feedback.Request{}, fmt.Errorf("%w: delay: %w", ErrMalformed, err)
	}
	interleaved, err := parseBool(parts[4])
	if err != nil {
		return feedback.Request{}, fmt.Errorf("%w: interleave: %w", ErrMalformed, err)
	}
	rms, err := parseBool(parts[5])
	if err != nil {
		return feedback.Request{}, fmt.Errorf("%w: rms: %w", ErrMalformed, err)
	}

	return feedback.Request{
		SamplesPerWindow: samples,
		Windows:          windows,
		Delay:            time.Duration(ms * float64(time.Millisecond)),
		Interleaved:      interleaved,
		RMS:              rms,
	}, nil
}

// Waveform is the actuation waveform the board targets.
type Waveform struct {
	Frequency float64 // Hz
	Voltage   float64 // V RMS
}

// FormatWaveform encodes a waveform command.
func FormatWaveform(w Waveform) string {
	return fmt.Sprintf("%c,%s,%s",
		tagWaveform,
		strconv.FormatFloat(w.Frequency, 'f', -1, 64),
		strconv.FormatFloat(w.Voltage, 'f', -1, 64),
	)
}

// IsWaveform reports whether a command line carries a waveform setting.
func IsWaveform(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) > 1 && line[0] == tagWaveform && line[1] == ','
}

// ParseWaveform decodes a waveform command line.
func ParseWaveform(line string) (Waveform, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 || parts[0] != string(tagWaveform) {
		return Waveform{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	freq, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || freq <= 0 {
		return Waveform{}, fmt.Errorf("%w: frequency %q", ErrMalformed, parts[1])
	}
	voltage, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || voltage < 0 {
		return Waveform{}, fmt.Errorf("%w: voltage %q", ErrMalformed, parts[2])
	}
	return Waveform{Frequency: freq, Voltage: voltage}, nil
}

// AppendResult appends the line of a window result without the line terminator.
func AppendResult(dst []byte, r feedback.WindowResult) []byte {
	dst = append(dst, tagResult, ',')
	dst = strconv.AppendInt(dst, int64(r.Window), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(r.Channel), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(r.Amplitude), 10)
	dst = append(dst, ',')
	return strconv.AppendInt(dst, int64(r.Resistor), 10)
}

// FormatResult encodes a window result.
func FormatResult(r feedback.WindowResult) string {
	return string(AppendResult(make([]byte, 0, 32), r))
}

// AppendDone appends the end of measurement line without the line terminator.
func AppendDone(dst []byte, completed int) []byte {
	dst = append(dst, tagDone, ',')
	return strconv.AppendInt(dst, int64(completed), 10)
}

// FormatDone encodes the end of a measurement.
func FormatDone(completed int) string {
	return string(AppendDone(nil, completed))
}

// ParseMessage decodes a device line.
func ParseMessage(line string) (Message, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Message{}, fmt.Errorf("%w: empty", ErrMalformed)
	}
	parts := strings.Split(line, ",")

	switch parts[0] {
	case string(tagResult):
		if len(parts) != 5 {
			return Message{}, fmt.Errorf("%w: expected 5 fields, got %d", ErrMalformed, len(parts))
		}
		window, err := strconv.Atoi(parts[1])
		if err != nil || window < 0 {
			return Message{}, fmt.Errorf("%w: window %q", ErrMalformed, parts[1])
		}
		ch, err := strconv.ParseUint(parts[2], 10, 8)
		if err != nil || ch >= feedback.NumChannels {
			return Message{}, fmt.Errorf("%w: channel %q", ErrMalformed, parts[2])
		}
		amplitude, err := strconv.ParseUint(parts[3], 10, 16)
		if err != nil {
			return Message{}, fmt.Errorf("%w: amplitude: %w", ErrMalformed, err)
		}
		resistor, err := strconv.ParseInt(parts[4], 10, 8)
		if err != nil {
			return Message{}, fmt.Errorf("%w: resistor: %w", ErrMalformed, err)
		}
		return Message{
			Kind: KindResult,
			Result: feedback.WindowResult{
				Window:    window,
				Channel:   feedback.Channel(ch),
				Amplitude: uint16(amplitude),
				Resistor:  int8(resistor),
			},
		}, nil

	case string(tagDone):
		if len(parts) != 2 {
			return Message{}, fmt.Errorf("%w: expected 2 fields, got %d", ErrMalformed, len(parts))
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil || n < 0 {
			return Message{}, fmt.Errorf("%w: completed %q", ErrMalformed, parts[1])
		}
		return Message{Kind: KindDone, Completed: n}, nil
	}

	return Message{}, fmt.Errorf("%w: unknown tag %q", ErrMalformed, parts[0])
}

func boolDigit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseBool(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("expected 0 or 1, got %q", s)
}
