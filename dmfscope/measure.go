package main

import (
	"fmt"

	"fyne.io/fyne/v2/dialog"
	"github.com/itohio/godmf/pkg/feedback"
)

// handleMeasure sends the configured measurement request. A request sent
// while the board is measuring ends the running measurement first.
func handleMeasure(state *appState) {
	if state.device == nil || !state.device.IsConnected() {
		return
	}

	req := feedback.RequestFromConfig(state.cfg)
	if err := state.device.Measure(req); err != nil {
		dialog.ShowError(fmt.Errorf("failed to start measurement: %w", err), state.window)
		return
	}
	state.status.SetText(fmt.Sprintf("Measuring %d windows", req.Windows))
}

// onMeasurementDone reports a finished measurement. The simulated board
// adjusts its amplifier gain while measuring, so the gain is copied back
// into the configuration.
func onMeasurementDone(state *appState, completed int) {
	text := fmt.Sprintf("Completed %d windows", completed)
	if state.mock != nil {
		state.mock.Board().Store(state.cfg)
		text += fmt.Sprintf(", gain %.1f", state.cfg.Amplifier.Gain)
	}
	state.status.SetText(text)
}
