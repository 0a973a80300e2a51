package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/link"
	"github.com/itohio/godmf/pkg/meter"
	"github.com/itohio/godmf/pkg/sample"
	"github.com/itohio/godmf/pkg/scope"
	"github.com/itohio/godmf/pkg/wire"
)

const updateInterval = 16 * time.Millisecond // ~60 FPS

func main() {
	var (
		portFlag    = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag  = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag    = flag.Bool("mock", false, "Use simulated board instead of serial port")
		averageFlag = flag.Int("average-windows", -1, "Number of windows to average (0 = disabled, overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *averageFlag >= 0 {
		cfg.Measurement.AverageWindows = *averageFlag
	}

	application := app.NewWithID("com.itohio.godmf")
	window := application.NewWindow("DMF Scope")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:         cfg,
		cfgPath:     *configFlag,
		window:      window,
		useMock:     *mockFlag,
		throttle:    newThrottle(updateInterval),
		scopeWidget: scope.New(cfg),
	}
	state.meter = newMeter(state)

	window.SetContent(container.NewBorder(createToolbar(state), nil, nil, nil, state.scopeWidget))
	window.SetOnClosed(func() {
		closeMeasurementChain(state.chain)
	})
	window.ShowAndRun()
}

// measurementChain tracks the components of the measurement chain for graceful shutdown.
type measurementChain struct {
	device         link.Device
	meterGoroutine chan struct{} // Closed when meter goroutine exits
}

// appState holds the application state.
type appState struct {
	cfg         *config.Config
	cfgPath     string
	device      link.Device
	mock        *link.Mock // set while connected to the simulated board
	meter       *meter.Meter
	scopeWidget *scope.ScopeWidget
	window      fyne.Window
	connectBtn  *widget.Button
	measureBtn  *widget.Button
	status      *widget.Label
	useMock     bool
	chain       *measurementChain

	throttle *throttle
}

// createToolbar creates the application toolbar with Connect, Settings and Measure buttons.
func createToolbar(state *appState) fyne.CanvasObject {
	state.connectBtn = widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	state.measureBtn = widget.NewButtonWithIcon("", theme.MediaPlayIcon(), func() {
		handleMeasure(state)
	})
	state.measureBtn.Disable()

	state.status = widget.NewLabel("Disconnected")

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(state.connectBtn, settingsBtn, state.measureBtn),
		state.status,
		nil,
	)
}

// closeMeasurementChain gracefully closes the measurement chain.
// Closing the device closes its messages channel, which drains the converters
// and ends the meter goroutine.
func closeMeasurementChain(chain *measurementChain) {
	if chain == nil {
		return
	}
	if chain.device != nil {
		if err := chain.device.Close(); err != nil {
			log.Printf("Failed to close device: %v", err)
		}
	}
	if chain.meterGoroutine != nil {
		<-chain.meterGoroutine
	}
}

// handleConnect handles the connect/disconnect button click.
func handleConnect(state *appState) {
	if state.device != nil && state.device.IsConnected() {
		disconnect(state)
		return
	}

	device, err := openDevice(state)
	if err != nil {
		dialog.ShowError(err, state.window)
		return
	}
	if err := device.Connect(); err != nil {
		if state.useMock {
			dialog.ShowError(fmt.Errorf("failed to connect to simulated board: %w", err), state.window)
		} else {
			dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		}
		state.mock = nil
		return
	}
	state.device = device
	if state.useMock {
		log.Printf("Connected to simulated board")
	} else {
		log.Printf("Connected to serial port: %s", state.cfg.Serial.Port)
	}

	state.meter.ResetShutdown()
	state.meter.Clear()

	messages := watchDone(device.Messages(), func(completed int) {
		UpdateWidgetOnMainThread(func() {
			onMeasurementDone(state, completed)
		})
	})

	// Base converter always, averaging only when enabled
	samplesStream := sample.NewConverter(state.cfg, 500)(messages)
	if state.cfg.Measurement.AverageWindows > 0 {
		samplesStream = sample.NewAveragingConverter(state.cfg.Measurement.AverageWindows, 500)(samplesStream)
	}

	meterDone := make(chan struct{})
	go func() {
		defer close(meterDone)
		state.meter.ProcessSamples(samplesStream)
	}()

	state.chain = &measurementChain{
		device:         device,
		meterGoroutine: meterDone,
	}
	state.measureBtn.Enable()
	state.connectBtn.SetIcon(theme.LogoutIcon())
	state.status.SetText("Connected")
}

func openDevice(state *appState) (link.Device, error) {
	if !state.useMock {
		return link.New(state.cfg.Serial.Port, state.cfg.Serial.BaudRate, link.DefaultBufferSize), nil
	}
	mock, err := link.NewMock(state.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create simulated board: %w", err)
	}
	state.mock = mock
	return mock, nil
}

func disconnect(state *appState) {
	closeMeasurementChain(state.chain)
	state.chain = nil
	state.device = nil
	state.mock = nil
	state.measureBtn.Disable()
	state.connectBtn.SetIcon(theme.LoginIcon())
	state.status.SetText("Disconnected")
	log.Printf("Disconnected")
}

// watchDone forwards every message and reports end of measurement notices.
func watchDone(in <-chan wire.Message, onDone func(completed int)) <-chan wire.Message {
	out := make(chan wire.Message, 100)

	go func() {
		defer close(out)
		for msg := range in {
			if msg.Kind == wire.KindDone {
				onDone(msg.Completed)
			}
			out <- msg
		}
	}()

	return out
}
