package scope

import (
	"fmt"
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/itohio/godmf/pkg/meter"
	"github.com/itohio/godmf/pkg/sample"
)

var (
	gridColor      = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor     = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	traceColor     = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	saturatedColor = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	statsColor     = color.RGBA{R: 200, G: 200, B: 200, A: 255}
)

// plot is the drawing area inside the margins.
type plot struct {
	x, y, w, h float32
	yv         view
	xv         timeView
}

func (p plot) px(t time.Time) float32 {
	span := p.xv.end.Sub(p.xv.start).Seconds()
	if span <= 0 {
		return p.x
	}
	return p.x + float32(t.Sub(p.xv.start).Seconds()/span)*p.w
}

func (p plot) py(v float64) float32 {
	return p.y + p.h - float32((v-p.yv.min)/(p.yv.max-p.yv.min))*p.h
}

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope      *ScopeWidget
	background *canvas.Rectangle
	objects    []fyne.CanvasObject
	lastSize   fyne.Size
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.background.Resize(size)
	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh rebuilds the canvas objects from the current data.
func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	samples := r.scope.displaySamples
	values := r.scope.displayValues
	stats := r.scope.stats
	p := plot{yv: r.scope.y, xv: r.scope.x}
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	const (
		marginLeft   = 70
		marginRight  = 20
		marginTop    = 20
		marginBottom = 40
	)
	p.x, p.y = marginLeft, marginTop
	p.w = size.Width - marginLeft - marginRight
	p.h = size.Height - marginTop - marginBottom

	r.objects = []fyne.CanvasObject{r.background}
	r.drawGrid(p)
	r.drawSaturated(p, samples)
	r.drawTrace(p, samples, values)
	r.drawStats(p, stats)
}

func (r *scopeRenderer) line(c color.Color, width float32, a, b fyne.Position) {
	l := canvas.NewLine(c)
	l.Position1 = a
	l.Position2 = b
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

func (r *scopeRenderer) text(s string, c color.Color, size float32, align fyne.TextAlign, pos fyne.Position) {
	t := canvas.NewText(s, c)
	t.TextSize = size
	t.Alignment = align
	t.Move(pos)
	r.objects = append(r.objects, t)
}

// drawGrid draws the grid with capacitance and time labels.
func (r *scopeRenderer) drawGrid(p plot) {
	const rows, cols = 8, 10
	for i := range rows + 1 {
		y := p.y + float32(i)*p.h/rows
		r.line(gridColor, 1, fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y))
		v := p.yv.max - float64(i)*(p.yv.max-p.yv.min)/rows
		r.text(formatCapacitance(v), labelColor, 10, fyne.TextAlignTrailing, fyne.NewPos(p.x-5, y-6))
	}

	span := p.xv.end.Sub(p.xv.start)
	for i := range cols + 1 {
		x := p.x + float32(i)*p.w/cols
		r.line(gridColor, 1, fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h))
		r.text(formatTime(span*time.Duration(i)/cols), labelColor, 10, fyne.TextAlignCenter, fyne.NewPos(x-20, p.y+p.h+5))
	}
}

// drawSaturated marks saturated windows with vertical lines.
func (r *scopeRenderer) drawSaturated(p plot, samples []sample.Sample) {
	for _, s := range samples {
		if !s.Saturated {
			continue
		}
		x := p.px(s.Timestamp)
		r.line(saturatedColor, 1, fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h))
	}
}

// drawTrace draws the capacitance curve, broken at invalid samples.
func (r *scopeRenderer) drawTrace(p plot, samples []sample.Sample, values []float64) {
	for i := 1; i < len(samples) && i < len(values); i++ {
		if !samples[i-1].Valid() || !samples[i].Valid() {
			continue
		}
		r.line(traceColor, 1.5,
			fyne.NewPos(p.px(samples[i-1].Timestamp), p.py(values[i-1])),
			fyne.NewPos(p.px(samples[i].Timestamp), p.py(values[i])))
	}
}

func (r *scopeRenderer) drawStats(p plot, stats meter.Stats) {
	if stats.Windows == 0 {
		return
	}
	r.text(formatStats(stats), statsColor, 11, fyne.TextAlignLeading, fyne.NewPos(p.x+10, p.y+10))
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}

func formatCapacitance(pf float64) string {
	return fmt.Sprintf("%.2f pF", pf)
}

func formatTime(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatImpedance(ohm float64) string {
	switch {
	case ohm >= 1e6:
		return fmt.Sprintf("%.2f MΩ", ohm/1e6)
	case ohm >= 1e3:
		return fmt.Sprintf("%.2f kΩ", ohm/1e3)
	default:
		return fmt.Sprintf("%.1f Ω", ohm)
	}
}

func formatStats(st meter.Stats) string {
	l := st.Latest
	return fmt.Sprintf("C %s  max %s  |Z| min %s  HV %.1f V  saturated %d/%d",
		formatCapacitance(l.Capacitance*1e12),
		formatCapacitance(st.MaxCapacitance*1e12),
		formatImpedance(st.MinImpedance),
		l.HVVoltage,
		st.SaturatedWindows, st.Windows)
}
