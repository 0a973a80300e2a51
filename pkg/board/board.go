// Package board holds the mutable settings of a DMF control board.
package board

import (
	"sync"

	"github.com/itohio/godmf/pkg/config"
)

// State is the live board state consulted by the feedback controller.
// It is safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	gain      float32
	voltage   float32
	frequency float32
	autoGain  bool
	pending   func() bool
}

// New creates a board state from the configuration.
func New(cfg *config.Config) *State {
	return &State{
		gain:      float32(cfg.Amplifier.Gain),
		voltage:   float32(cfg.Waveform.Voltage),
		frequency: float32(cfg.Waveform.Frequency),
		autoGain:  cfg.Amplifier.AutoAdjustGain,
	}
}

func (s *State) AmplifierGain() float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gain
}

func (s *State) SetAmplifierGain(gain float32) {
	s.mu.Lock()
	s.gain = gain
	s.mu.Unlock()
}

func (s *State) WaveformVoltage() float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voltage
}

func (s *State) SetWaveformVoltage(v float32) {
	s.mu.Lock()
	s.voltage = v
	s.mu.Unlock()
}

func (s *State) WaveformFrequency() float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frequency
}

func (s *State) SetWaveformFrequency(hz float32) {
	s.mu.Lock()
	s.frequency = hz
	s.mu.Unlock()
}

func (s *State) AutoAdjustGain() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoGain
}

func (s *State) SetAutoAdjustGain(on bool) {
	s.mu.Lock()
	s.autoGain = on
	s.mu.Unlock()
}

// SetPending installs the function reporting a pending command.
func (s *State) SetPending(fn func() bool) {
	s.mu.Lock()
	s.pending = fn
	s.mu.Unlock()
}

// PendingRequest reports whether a new request is waiting.
func (s *State) PendingRequest() bool {
	s.mu.RLock()
	fn := s.pending
	s.mu.RUnlock()
	return fn != nil && fn()
}

// Apply copies the configuration settings into the state.
func (s *State) Apply(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = float32(cfg.Amplifier.Gain)
	s.voltage = float32(cfg.Waveform.Voltage)
	s.frequency = float32(cfg.Waveform.Frequency)
	s.autoGain = cfg.Amplifier.AutoAdjustGain
}

// Store writes the amplifier gain back into the configuration so it survives a save.
func (s *State) Store(cfg *config.Config) {
	cfg.Amplifier.Gain = float64(s.AmplifierGain())
}
