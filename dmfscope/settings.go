package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/godmf/pkg/link"
	"github.com/itohio/godmf/pkg/meter"
	"github.com/itohio/godmf/pkg/sample"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createBoardTab(state),
		createWaveformTab(state),
		createMeasurementTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// saveConfig validates and writes the configuration, reporting failures in a dialog.
func saveConfig(state *appState) bool {
	if err := state.cfg.Validate(); err != nil {
		dialog.ShowError(fmt.Errorf("invalid settings: %w", err), state.window)
		return false
	}
	if err := state.cfg.Save(state.cfgPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
		return false
	}
	return true
}

func floatEntry(format string, v float64) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(fmt.Sprintf(format, v))
	return e
}

func intEntry(v int) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(strconv.Itoa(v))
	return e
}

func parseFloat(e *widget.Entry, dst *float64) {
	if v, err := strconv.ParseFloat(e.Text, 64); err == nil {
		*dst = v
	}
}

func parseInt(e *widget.Entry, dst *int) {
	if v, err := strconv.Atoi(e.Text); err == nil {
		*dst = v
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := link.Ports()
	portOptions := []string{}
	portMap := make(map[string]string) // display name to port name

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}
	baudEntry := intEntry(state.cfg.Serial.BaudRate)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
		},
		OnSubmit: func() {
			if portSelect.Selected == "" {
				return
			}
			selectedPort := portMap[portSelect.Selected]
			if selectedPort == "" {
				selectedPort = portSelect.Selected
			}

			changed := state.cfg.Serial.Port != selectedPort
			state.cfg.Serial.Port = selectedPort
			parseInt(baudEntry, &state.cfg.Serial.BaudRate)
			if !saveConfig(state) {
				return
			}

			// Reconnect a serial link to the new port
			if changed && !state.useMock && state.device != nil && state.device.IsConnected() {
				disconnect(state)
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// createBoardTab creates the Board configuration tab.
func createBoardTab(state *appState) *container.TabItem {
	versionSelect := widget.NewSelect([]string{"1", "2"}, nil)
	versionSelect.SetSelected(strconv.Itoa(state.cfg.Board.MajorVersion))
	arefEntry := floatEntry("%.3f", state.cfg.Board.ARef)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Hardware Version", Widget: versionSelect},
			{Text: "ADC Reference (V)", Widget: arefEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.Atoi(versionSelect.Selected); err == nil {
				state.cfg.Board.MajorVersion = v
			}
			parseFloat(arefEntry, &state.cfg.Board.ARef)
			saveConfig(state)
		},
	}

	return container.NewTabItem("Board", form)
}

// createWaveformTab creates the Waveform and Amplifier configuration tab.
func createWaveformTab(state *appState) *container.TabItem {
	voltageEntry := floatEntry("%.1f", state.cfg.Waveform.Voltage)
	frequencyEntry := floatEntry("%.1f", state.cfg.Waveform.Frequency)
	gainEntry := floatEntry("%.2f", state.cfg.Amplifier.Gain)
	toleranceEntry := floatEntry("%.2f", state.cfg.Amplifier.VoltageTolerance)
	autoGainCheck := widget.NewCheck("", nil)
	autoGainCheck.SetChecked(state.cfg.Amplifier.AutoAdjustGain)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Voltage (V RMS)", Widget: voltageEntry},
			{Text: "Frequency (Hz)", Widget: frequencyEntry},
			{Text: "Amplifier Gain", Widget: gainEntry},
			{Text: "Auto Adjust Gain", Widget: autoGainCheck},
			{Text: "Voltage Tolerance (V)", Widget: toleranceEntry},
		},
		OnSubmit: func() {
			parseFloat(voltageEntry, &state.cfg.Waveform.Voltage)
			parseFloat(frequencyEntry, &state.cfg.Waveform.Frequency)
			parseFloat(gainEntry, &state.cfg.Amplifier.Gain)
			parseFloat(toleranceEntry, &state.cfg.Amplifier.VoltageTolerance)
			state.cfg.Amplifier.AutoAdjustGain = autoGainCheck.Checked
			if !saveConfig(state) {
				return
			}
			if state.mock != nil {
				state.mock.Board().Apply(state.cfg)
			}
		},
	}

	return container.NewTabItem("Waveform", form)
}

// createMeasurementTab creates the Measurement configuration tab.
func createMeasurementTab(state *appState) *container.TabItem {
	m := &state.cfg.Measurement
	samplesEntry := intEntry(m.SamplesPerWindow)
	windowsEntry := intEntry(m.Windows)
	delayEntry := widget.NewEntry()
	delayEntry.SetText(m.WindowDelay.String())
	interleavedCheck := widget.NewCheck("", nil)
	interleavedCheck.SetChecked(m.Interleaved)
	rmsCheck := widget.NewCheck("", nil)
	rmsCheck.SetChecked(m.RMS)
	historyEntry := floatEntry("%.1f", m.HistorySeconds)
	averageEntry := intEntry(m.AverageWindows)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Samples per Window", Widget: samplesEntry},
			{Text: "Windows", Widget: windowsEntry},
			{Text: "Window Delay", Widget: delayEntry},
			{Text: "Interleaved", Widget: interleavedCheck},
			{Text: "RMS", Widget: rmsCheck},
			{Text: "History (seconds)", Widget: historyEntry},
			{Text: "Average Windows (0=disabled)", Widget: averageEntry},
		},
		OnSubmit: func() {
			parseInt(samplesEntry, &m.SamplesPerWindow)
			parseInt(windowsEntry, &m.Windows)
			if d, err := time.ParseDuration(delayEntry.Text); err == nil {
				m.WindowDelay = d
			}
			m.Interleaved = interleavedCheck.Checked
			m.RMS = rmsCheck.Checked
			parseFloat(historyEntry, &m.HistorySeconds)
			parseInt(averageEntry, &m.AverageWindows)
			if !saveConfig(state) {
				return
			}
			// History length takes effect on the next connection
			if state.chain == nil {
				state.meter = newMeter(state)
			}
		},
	}

	return container.NewTabItem("Measurement", form)
}

// createMockTab creates the simulated board configuration tab.
func createMockTab(state *appState) *container.TabItem {
	groundEntry := intEntry(int(state.cfg.Mock.VirtualGround))
	trueGainEntry := floatEntry("%.2f", state.cfg.Mock.TrueGain)
	capacitanceEntry := floatEntry("%.2f", state.cfg.Mock.DeviceCapacitance*1e12)
	noiseEntry := floatEntry("%.2f", state.cfg.Mock.Noise)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Virtual Ground (counts)", Widget: groundEntry},
			{Text: "True Amplifier Gain", Widget: trueGainEntry},
			{Text: "Device Capacitance (pF)", Widget: capacitanceEntry},
			{Text: "Noise (counts)", Widget: noiseEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseUint(groundEntry.Text, 10, 16); err == nil {
				state.cfg.Mock.VirtualGround = uint16(v)
			}
			parseFloat(trueGainEntry, &state.cfg.Mock.TrueGain)
			if pf, err := strconv.ParseFloat(capacitanceEntry.Text, 64); err == nil {
				state.cfg.Mock.DeviceCapacitance = pf * 1e-12
			}
			parseFloat(noiseEntry, &state.cfg.Mock.Noise)
			saveConfig(state)
		},
	}

	return container.NewTabItem("Mock", form)
}

// newMeter creates a meter for the current configuration that feeds the scope.
func newMeter(state *appState) *meter.Meter {
	m := meter.New(state.cfg)
	m.OnUpdate(func(samples []sample.Sample, stats meter.Stats) {
		if !state.throttle.Allow(time.Now()) {
			return
		}
		UpdateWidgetOnMainThread(func() {
			state.scopeWidget.UpdateData(samples, stats)
		})
	})
	return m
}
