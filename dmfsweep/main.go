package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/feedback"
	"github.com/itohio/godmf/pkg/link"
	"github.com/itohio/godmf/pkg/sweep"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated board instead of serial port")
		modeFlag   = flag.String("mode", "frequency", "Sweep mode: frequency, voltage or retry")
		startFlag  = flag.Float64("start", 0, "First frequency (Hz) or voltage (V), 0 = default")
		endFlag    = flag.Float64("end", 0, "Last frequency (Hz) or voltage (V), 0 = default")
		stepsFlag  = flag.Int("steps", 0, "Number of steps, 0 = default")
		threshold  = flag.Float64("threshold", 0, "Retry: capacitance threshold (F)")
		increase   = flag.Float64("increase", 0, "Retry: voltage added per repeat (V)")
		repeats    = flag.Int("repeats", 3, "Retry: maximum number of repeats")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	device, err := openDevice(cfg, *mockFlag)
	if err != nil {
		log.Fatalf("Failed to open device: %v", err)
	}
	if err := device.Connect(); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer device.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner := sweep.New(device, cfg)
	req := feedback.RequestFromConfig(cfg)

	switch *modeFlag {
	case "frequency":
		s := sweep.DefaultFrequencySweep()
		override(&s.Start, &s.End, &s.Steps, *startFlag, *endFlag, *stepsFlag)
		steps, err := runner.SweepFrequency(ctx, req, s)
		printSteps(steps)
		if err != nil {
			log.Fatalf("Frequency sweep failed: %v", err)
		}
	case "voltage":
		s := sweep.DefaultVoltageSweep()
		override(&s.Start, &s.End, &s.Steps, *startFlag, *endFlag, *stepsFlag)
		steps, err := runner.SweepVoltage(ctx, req, s)
		printSteps(steps)
		if err != nil {
			log.Fatalf("Voltage sweep failed: %v", err)
		}
	case "retry":
		a := sweep.Retry{CapacitanceThreshold: *threshold, IncreaseVoltage: *increase, MaxRepeats: *repeats}
		res, err := runner.Retry(ctx, req, a)
		printSteps(res.Attempts)
		if err != nil {
			log.Fatalf("Retry failed: %v", err)
		}
		fmt.Printf("threshold reached: %v\n", res.Reached)
	default:
		log.Fatalf("Unknown mode %q", *modeFlag)
	}
}

func openDevice(cfg *config.Config, useMock bool) (link.Device, error) {
	if useMock {
		return link.NewMock(cfg)
	}
	return link.New(cfg.Serial.Port, cfg.Serial.BaudRate, link.DefaultBufferSize), nil
}

func override(start, end *float64, steps *int, newStart, newEnd float64, newSteps int) {
	if newStart > 0 {
		*start = newStart
	}
	if newEnd > 0 {
		*end = newEnd
	}
	if newSteps > 0 {
		*steps = newSteps
	}
}

func printSteps(steps []sweep.Step) {
	fmt.Printf("%12s %10s %8s %14s %14s\n", "frequency", "voltage", "windows", "impedance", "capacitance")
	for _, s := range steps {
		fmt.Printf("%12.1f %10.2f %8d %14.4g %14.4g\n",
			s.Waveform.Frequency, s.Waveform.Voltage, len(s.Samples), s.Impedance(), s.MaxCapacitance())
	}
}
