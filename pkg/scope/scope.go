package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/godmf/pkg/config"
	"github.com/itohio/godmf/pkg/meter"
	"github.com/itohio/godmf/pkg/sample"
)

const defaultDisplayPoints = 1000

// ScopeWidget plots the device capacitance over time and marks saturated windows.
type ScopeWidget struct {
	widget.BaseWidget

	cfg *config.Config

	// Data (protected by mu)
	mu    sync.RWMutex
	stats meter.Stats

	// Display buffers (reused for downsampling)
	displaySamples []sample.Sample
	displayValues  []float64 // capacitance in pF

	y view
	x timeView

	maxDisplayPoints int
}

// view is a vertical axis range.
type view struct {
	min, max float64
}

// timeView is a horizontal axis range.
type timeView struct {
	start, end time.Time
}

// New creates a new ScopeWidget instance.
func New(cfg *config.Config) *ScopeWidget {
	s := &ScopeWidget{
		cfg:              cfg,
		displaySamples:   make([]sample.Sample, 0, defaultDisplayPoints),
		displayValues:    make([]float64, 0, defaultDisplayPoints),
		maxDisplayPoints: defaultDisplayPoints,
	}
	s.y, s.x = autoScale(nil, nil, s.history())
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// UpdateData replaces the plotted history.
// This should be called from the meter callback using fyne.Do().
func (s *ScopeWidget) UpdateData(samples []sample.Sample, stats meter.Stats) {
	s.mu.Lock()
	s.displaySamples = sample.Downsample(s.displaySamples, samples, s.maxDisplayPoints)
	s.displayValues = sample.Capacitances(s.displayValues, s.displaySamples)
	s.stats = stats
	s.y, s.x = autoScale(s.displaySamples, s.displayValues, s.history())
	s.mu.Unlock()

	s.Refresh()
}

func (s *ScopeWidget) history() time.Duration {
	return time.Duration(s.cfg.Measurement.HistorySeconds * float64(time.Second))
}

// autoScale fits the axes to the plotted values with a 10% margin.
// The time axis spans at least the configured history.
func autoScale(samples []sample.Sample, values []float64, history time.Duration) (view, timeView) {
	if len(samples) == 0 {
		now := time.Now()
		return view{0, 1}, timeView{now, now.Add(history)}
	}

	y := view{values[0], values[0]}
	for _, v := range values {
		y.min = min(y.min, v)
		y.max = max(y.max, v)
	}
	lo := y.min
	span := y.max - y.min
	if span == 0 {
		span = max(y.max, 1)
	}
	y.min -= span * 0.1
	y.max += span * 0.1
	if lo >= 0 && y.min < 0 {
		y.min = 0
	}

	x := timeView{samples[0].Timestamp, samples[len(samples)-1].Timestamp}
	if x.end.Sub(x.start) < history {
		x.end = x.start.Add(history)
	}
	return y, x
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	background := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:      s,
		background: background,
		objects:    []fyne.CanvasObject{background},
	}
}
