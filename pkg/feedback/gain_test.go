package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGainController_Adjust(t *testing.T) {
	g := GainController{Tolerance: 5}

	tests := []struct {
		name     string
		gain     float32
		measured float32
		target   float32
		want     float32
		changed  bool
	}{
		{"within tolerance", 300, 104, 100, 300, false},
		{"at tolerance", 300, 95, 100, 300, false},
		{"too high", 300, 110, 100, 330, true},
		{"too low", 300, 50, 100, 150, true},
		{"floored", 1.5, 10, 100, 1, true},
		{"zero target", 300, 50, 0, 300, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := g.Adjust(tt.gain, tt.measured, tt.target)
			assert.Equal(t, tt.changed, changed)
			assert.InDelta(t, tt.want, got, 1e-4)
			assert.GreaterOrEqual(t, got, float32(MinGain))
		})
	}
}
