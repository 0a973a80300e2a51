package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxResistors is the largest resistor bank a channel may carry.
const MaxResistors = 8

// Config represents the board configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Board       BoardConfig       `yaml:"board"`
	Channels    ChannelsConfig    `yaml:"channels"`
	Amplifier   AmplifierConfig   `yaml:"amplifier"`
	Waveform    WaveformConfig    `yaml:"waveform"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Measurement MeasurementConfig `yaml:"measurement"`
	Mock        MockConfig        `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// BoardConfig describes the hardware revision and the ADC reference.
type BoardConfig struct {
	MajorVersion int     `yaml:"major_version"` // 1 or 2
	ARef         float64 `yaml:"aref"`          // ADC reference voltage (V)
}

// ChannelsConfig holds the series resistor banks of both analog channels.
type ChannelsConfig struct {
	HV ChannelConfig `yaml:"hv"`
	FB ChannelConfig `yaml:"fb"`
}

// ChannelConfig describes one series resistor bank.
// Resistor i is selected by driving SelectPins[i] high and the others low.
// The last resistor is selected with every pin low.
type ChannelConfig struct {
	SelectPins []int            `yaml:"select_pins"`
	Resistors  []ResistorConfig `yaml:"resistors"`
}

// ResistorConfig is a series resistor with its parasitic capacitance.
type ResistorConfig struct {
	Resistance  float64 `yaml:"resistance"`  // Ω
	Capacitance float64 `yaml:"capacitance"` // F
}

// AmplifierConfig contains the high voltage amplifier parameters.
type AmplifierConfig struct {
	Gain             float64 `yaml:"gain"`
	AutoAdjustGain   bool    `yaml:"auto_adjust_gain"`
	VoltageTolerance float64 `yaml:"voltage_tolerance"` // V
}

// WaveformConfig contains the actuation waveform.
type WaveformConfig struct {
	Frequency float64 `yaml:"frequency"` // Hz
	Voltage   float64 `yaml:"voltage"`   // V RMS
}

// AcquisitionConfig contains ADC acquisition parameters.
type AcquisitionConfig struct {
	SamplingRate          float64       `yaml:"sampling_rate"` // Hz
	Prescaler             uint8         `yaml:"prescaler"`
	IgnoreAfterSaturation uint8         `yaml:"ignore_after_saturation"` // samples skipped after a saturation event
	Timeout               time.Duration `yaml:"timeout"`                 // 0 waits forever
}

// MeasurementConfig contains the default measurement request and host side processing.
type MeasurementConfig struct {
	SamplesPerWindow int           `yaml:"samples_per_window"`
	Windows          int           `yaml:"windows"`
	WindowDelay      time.Duration `yaml:"window_delay"`
	Interleaved      bool          `yaml:"interleaved"`
	RMS              bool          `yaml:"rms"`
	HistorySeconds   float64       `yaml:"history_seconds"`
	AverageWindows   int           `yaml:"average_windows"` // 0 = disabled
}

// MockConfig contains simulated front end configuration.
type MockConfig struct {
	VirtualGround     uint16  `yaml:"virtual_ground"`     // ADC counts
	TrueGain          float64 `yaml:"true_gain"`          // actual amplifier gain
	DeviceCapacitance float64 `yaml:"device_capacitance"` // F
	Noise             float64 `yaml:"noise"`              // ADC counts
}

// Default returns a default configuration for a revision 2 board.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "COM3", // "/dev/ttyACM0" on Linux/Mac
			BaudRate: 115200,
		},
		Board: BoardConfig{
			MajorVersion: 2,
			ARef:         5.0,
		},
		Channels: DefaultChannels(2),
		Amplifier: AmplifierConfig{
			Gain:             300,
			AutoAdjustGain:   true,
			VoltageTolerance: 5,
		},
		Waveform: WaveformConfig{
			Frequency: 1000,
			Voltage:   100,
		},
		Acquisition: AcquisitionConfig{
			SamplingRate:          35e3,
			Prescaler:             3,
			IgnoreAfterSaturation: 3,
		},
		Measurement: MeasurementConfig{
			SamplesPerWindow: 100,
			Windows:          10,
			WindowDelay:      0,
			Interleaved:      true,
			RMS:              true,
			HistorySeconds:   30,
			AverageWindows:   0,
		},
		Mock: MockConfig{
			VirtualGround:     512,
			TrueGain:          330,
			DeviceCapacitance: 20e-12,
			Noise:             2,
		},
	}
}

// DefaultChannels returns the resistor banks fitted to the given hardware revision.
func DefaultChannels(majorVersion int) ChannelsConfig {
	if majorVersion == 1 {
		return ChannelsConfig{
			HV: ChannelConfig{
				SelectPins: []int{8},
				Resistors: []ResistorConfig{
					{Resistance: 8.7e4, Capacitance: 50e-12},
					{Resistance: 6.4e5, Capacitance: 10e-12},
				},
			},
			FB: ChannelConfig{
				SelectPins: []int{4, 5, 6},
				Resistors: []ResistorConfig{
					{Resistance: 1e3, Capacitance: 50e-12},
					{Resistance: 1e4, Capacitance: 50e-12},
					{Resistance: 1e5, Capacitance: 50e-12},
					{Resistance: 1e6, Capacitance: 50e-12},
				},
			},
		}
	}
	return ChannelsConfig{
		HV: ChannelConfig{
			SelectPins: []int{8, 9},
			Resistors: []ResistorConfig{
				{Resistance: 8.7e4, Capacitance: 50e-12},
				{Resistance: 6.4e5, Capacitance: 10e-12},
				{Resistance: 2.4e6, Capacitance: 10e-12},
			},
		},
		FB: ChannelConfig{
			SelectPins: []int{4, 5, 6, 7},
			Resistors: []ResistorConfig{
				{Resistance: 1e3, Capacitance: 50e-12},
				{Resistance: 1e4, Capacitance: 50e-12},
				{Resistance: 1e5, Capacitance: 50e-12},
				{Resistance: 1e6, Capacitance: 50e-12},
				{Resistance: 1e7, Capacitance: 50e-12},
			},
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Banks are replaced wholesale by the file, never merged with the defaults.
	cfg.Channels = ChannelsConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", filename, err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the resistor banks against the select pins.
func (c *Config) Validate() error {
	if c.Board.MajorVersion != 1 && c.Board.MajorVersion != 2 {
		return fmt.Errorf("unsupported board major version %d", c.Board.MajorVersion)
	}
	if err := c.Channels.HV.validate(); err != nil {
		return fmt.Errorf("hv channel: %w", err)
	}
	if err := c.Channels.FB.validate(); err != nil {
		return fmt.Errorf("fb channel: %w", err)
	}
	return nil
}

func (ch *ChannelConfig) validate() error {
	n := len(ch.Resistors)
	if n == 0 {
		return fmt.Errorf("no series resistors")
	}
	if n > MaxResistors {
		return fmt.Errorf("%d series resistors, at most %d supported", n, MaxResistors)
	}
	if len(ch.SelectPins) != n-1 {
		return fmt.Errorf("%d series resistors need %d select pins, got %d", n, n-1, len(ch.SelectPins))
	}
	for i, r := range ch.Resistors {
		if r.Resistance <= 0 {
			return fmt.Errorf("resistor %d: resistance must be positive", i)
		}
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	if c.Board.MajorVersion == 0 {
		c.Board.MajorVersion = def.Board.MajorVersion
	}
	if c.Board.ARef == 0 {
		c.Board.ARef = def.Board.ARef
	}

	banks := DefaultChannels(c.Board.MajorVersion)
	if len(c.Channels.HV.Resistors) == 0 {
		c.Channels.HV = banks.HV
	}
	if len(c.Channels.FB.Resistors) == 0 {
		c.Channels.FB = banks.FB
	}

	if c.Amplifier.Gain < 1 {
		c.Amplifier.Gain = def.Amplifier.Gain
	}

	if c.Waveform.Frequency == 0 {
		c.Waveform.Frequency = def.Waveform.Frequency
	}

	if c.Acquisition.SamplingRate == 0 {
		c.Acquisition.SamplingRate = def.Acquisition.SamplingRate
	}
	if c.Acquisition.Prescaler == 0 {
		c.Acquisition.Prescaler = def.Acquisition.Prescaler
	}
	if c.Acquisition.IgnoreAfterSaturation == 0 {
		c.Acquisition.IgnoreAfterSaturation = def.Acquisition.IgnoreAfterSaturation
	}

	if c.Measurement.SamplesPerWindow == 0 {
		c.Measurement.SamplesPerWindow = def.Measurement.SamplesPerWindow
	}
	if c.Measurement.Windows == 0 {
		c.Measurement.Windows = def.Measurement.Windows
	}
	if c.Measurement.HistorySeconds == 0 {
		c.Measurement.HistorySeconds = def.Measurement.HistorySeconds
	}

	if c.Mock.VirtualGround == 0 {
		c.Mock.VirtualGround = def.Mock.VirtualGround
	}
	if c.Mock.TrueGain == 0 {
		c.Mock.TrueGain = def.Mock.TrueGain
	}
	if c.Mock.DeviceCapacitance == 0 {
		c.Mock.DeviceCapacitance = def.Mock.DeviceCapacitance
	}
}
