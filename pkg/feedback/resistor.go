package feedback

import (
	"fmt"

	"github.com/itohio/godmf/pkg/config"
)

// bank is the series resistor bank of one channel.
// Resistor i drives pins[i] high and every other pin low; the last resistor
// drives all pins low.
type bank struct {
	pins        [MaxResistors - 1]uint8
	count       uint8
	resistance  [MaxResistors]float32
	capacitance [MaxResistors]float32
}

func newBank(cfg config.ChannelConfig) bank {
	var b bank
	b.count = uint8(min(len(cfg.Resistors), MaxResistors))
	for i := uint8(0); i < b.count; i++ {
		b.resistance[i] = float32(cfg.Resistors[i].Resistance)
		b.capacitance[i] = float32(cfg.Resistors[i].Capacitance)
	}
	for i := 0; i < len(cfg.SelectPins) && i < len(b.pins); i++ {
		b.pins[i] = uint8(cfg.SelectPins[i])
	}
	return b
}

func (b *bank) npins() uint8 {
	if b.count == 0 {
		return 0
	}
	return b.count - 1
}

// applyResistor drives the select pins of ch for index and records it.
// index must be valid.
func (c *Controller) applyResistor(ch Channel, index uint8) {
	b := &c.banks[ch]
	for p := uint8(0); p < b.npins(); p++ {
		c.io.DigitalWrite(b.pins[p], p == index)
	}
	c.resistor[ch] = index
}

func (c *Controller) setResistorIndex(ch Channel, index int) error {
	if ch >= NumChannels {
		return fmt.Errorf("%w: unknown channel %d", ErrBadIndex, ch)
	}
	if index < 0 || index >= int(c.banks[ch].count) {
		return fmt.Errorf("%w: %s index %d, bank has %d resistors", ErrBadIndex, ch, index, c.banks[ch].count)
	}
	c.applyResistor(ch, uint8(index))
	return nil
}

// SetResistorIndex selects the series resistor of a channel.
// An invalid index leaves the selection unchanged and returns ErrBadIndex.
func (c *Controller) SetResistorIndex(ch Channel, index int) error {
	if c.busy.Load() {
		return ErrBusy
	}
	return c.setResistorIndex(ch, index)
}

// ResistorIndex returns the selected series resistor of a channel.
func (c *Controller) ResistorIndex(ch Channel) int {
	if ch >= NumChannels {
		return -1
	}
	return int(c.resistor[ch])
}

// ResistorCount returns the size of the resistor bank of a channel.
func (c *Controller) ResistorCount(ch Channel) int {
	if ch >= NumChannels {
		return 0
	}
	return int(c.banks[ch].count)
}
