package feedback

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/godmf/pkg/config"
)

func TestTransferTable(t *testing.T) {
	r := []float32{8.7e4, 6.4e5, 2.4e6}
	c := []float32{50e-12, 10e-12, 10e-12}

	div := NewTransferTable(TransferDivider, 5, 1000, r, c)
	unity := NewTransferTable(TransferWithUnity, 5, 1000, r, c)

	assert.Equal(t, 3, div.Len())
	for i := range r {
		z := 10e6 / float64(r[i])
		x := 10e6 * float64(c[i]) * 2 * math.Pi * 1000
		want := 5.0 / 1023 * math.Sqrt(z*z+x*x)
		assert.InEpsilon(t, want, div.At(i), 1e-5, "resistor %d", i)

		z++
		want = 5.0 / 1023 * math.Sqrt(z*z+x*x)
		assert.InEpsilon(t, want, unity.At(i), 1e-5, "resistor %d", i)
	}

	// larger series resistors attenuate less
	assert.Greater(t, div.At(0), div.At(1))
	assert.Greater(t, div.At(1), div.At(2))

	assert.Zero(t, div.At(-1))
	assert.Zero(t, div.At(3))
}

func TestTransferTableFromConfig(t *testing.T) {
	cfg := config.Default()
	tt := TransferTableFromConfig(cfg, 1000)
	assert.Equal(t, len(cfg.Channels.HV.Resistors), tt.Len())
	assert.InEpsilon(t, 0.562, tt.At(0), 1e-2)

	cfg.Board.MajorVersion = 1
	assert.Greater(t, TransferTableFromConfig(cfg, 1000).At(0), tt.At(0))
}

func TestModelFor(t *testing.T) {
	assert.Equal(t, TransferWithUnity, ModelFor(1))
	assert.Equal(t, TransferDivider, ModelFor(2))
}
