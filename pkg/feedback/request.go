package feedback

import (
	"fmt"

	"github.com/itohio/godmf/pkg/config"
)

// MaxWindows bounds the window count of a single request.
const MaxWindows = 1 << 16

// RequestFromConfig returns the default measurement request of the configuration.
func RequestFromConfig(cfg *config.Config) Request {
	return Request{
		SamplesPerWindow: cfg.Measurement.SamplesPerWindow,
		Windows:          cfg.Measurement.Windows,
		Delay:            cfg.Measurement.WindowDelay,
		Interleaved:      cfg.Measurement.Interleaved,
		RMS:              cfg.Measurement.RMS,
	}
}

// Validate checks the request bounds.
func (r Request) Validate() error {
	if r.SamplesPerWindow < NumChannels {
		return fmt.Errorf("%w: %d samples per window, need at least %d", ErrInvalidRequest, r.SamplesPerWindow, NumChannels)
	}
	if r.Windows <= 0 || r.Windows > MaxWindows {
		return fmt.Errorf("%w: %d windows", ErrInvalidRequest, r.Windows)
	}
	if r.Delay < 0 {
		return fmt.Errorf("%w: negative window delay %v", ErrInvalidRequest, r.Delay)
	}
	return nil
}

// SamplesPerChannel returns the number of conversions each channel gets per window.
func (r Request) SamplesPerChannel() int {
	return r.SamplesPerWindow / NumChannels
}
