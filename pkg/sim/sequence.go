package sim

import (
	"math"
	"sync"

	"github.com/itohio/godmf/pkg/feedback"
)

// Sequence replays fixed readings per channel, wrapping around at the end.
type Sequence struct {
	mu     sync.Mutex
	values [feedback.NumChannels][]uint16
	pos    [feedback.NumChannels]int
}

// NewSequence creates a sequence source from HV and FB readings.
// An empty slice yields a constant mid-scale reading.
func NewSequence(hv, fb []uint16) *Sequence {
	return &Sequence{values: [feedback.NumChannels][]uint16{hv, fb}}
}

func (s *Sequence) Sample(ch feedback.Channel) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(ch) >= len(s.values) || len(s.values[ch]) == 0 {
		return (feedback.FullScale + 1) / 2
	}
	v := s.values[ch][s.pos[ch]]
	s.pos[ch] = (s.pos[ch] + 1) % len(s.values[ch])
	return v
}

// Sine returns n readings of one or more whole sine periods around ground.
// peak is the amplitude in ADC counts.
func Sine(n, periods int, ground uint16, peak float64) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		phase := 2 * math.Pi * float64(periods) * float64(i) / float64(n)
		out[i] = clamp(float64(ground) + peak*math.Sin(phase))
	}
	return out
}

// Constant returns n identical readings.
func Constant(n int, value uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = value
	}
	return out
}
