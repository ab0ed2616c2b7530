package compare

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/jfcg/butter"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"golang.org/x/image/draw"
)

const (
	panelWidth  = 900
	panelHeight = 260
)

var palette = []drawing.Color{
	drawing.ColorFromHex("1f77b4"),
	drawing.ColorFromHex("ff7f0e"),
	drawing.ColorFromHex("2ca02c"),
	drawing.ColorFromHex("d62728"),
}

// trace is one named series of a panel. x may be nil when the panel
// supplies a shared x-axis.
type trace struct {
	name  string
	color drawing.Color
	x, y  []float64
}

func (t trace) points(shared []float64) (x, y []float64) {
	x, y = t.x, t.y
	if x == nil {
		x = shared
	}
	n := min(len(x), len(y))
	x, y = x[:n], y[:n]
	if n == 1 {
		x = []float64{x[0], x[0]}
		y = []float64{y[0], y[0]}
	}
	return x, y
}

func extent(vals []float64, lo, hi float64) (float64, float64) {
	for _, v := range vals {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	return lo, hi
}

// linePanel renders a line chart. Flat data gets a padded range and a single
// point is doubled, both of which go-chart would otherwise reject.
func linePanel(title, xName, yName string, shared []float64, traces []trace) (image.Image, error) {
	return seriesPanel(title, xName, yName, shared, traces, panelWidth, panelHeight, false)
}

// scatterPanel draws points only.
func scatterPanel(title, xName, yName string, traces []trace) (image.Image, error) {
	return seriesPanel(title, xName, yName, nil, traces, panelWidth/2, panelHeight*3/2, true)
}

func seriesPanel(title, xName, yName string, shared []float64, traces []trace, width, height int, dots bool) (image.Image, error) {
	graph := chart.Chart{
		Title:  title,
		Width:  width,
		Height: height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 10},
		},
	}
	xlo, xhi := math.Inf(1), math.Inf(-1)
	ylo, yhi := math.Inf(1), math.Inf(-1)
	for _, t := range traces {
		x, y := t.points(shared)
		if len(x) == 0 {
			continue
		}
		xlo, xhi = extent(x, xlo, xhi)
		ylo, yhi = extent(y, ylo, yhi)
		style := chart.Style{StrokeColor: t.color, StrokeWidth: 1}
		if dots {
			style = chart.Style{StrokeWidth: chart.Disabled, DotWidth: 5, DotColor: t.color}
		}
		graph.Series = append(graph.Series, chart.ContinuousSeries{
			Name:    t.name,
			XValues: x,
			YValues: y,
			Style:   style,
		})
	}
	if len(graph.Series) == 0 {
		return nil, fmt.Errorf("%s: nothing to plot", title)
	}
	graph.XAxis = chart.XAxis{Name: xName, Range: paddedRange(xlo, xhi)}
	graph.YAxis = chart.YAxis{Name: yName, Range: paddedRange(ylo, yhi)}
	if len(graph.Series) > 1 {
		graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	}
	return render(graph.Render)
}

// barPanel renders one bar per value.
func barPanel(title string, values []chart.Value) (image.Image, error) {
	lo, hi := 0.0, 0.0
	for _, v := range values {
		lo, hi = math.Min(lo, v.Value), math.Max(hi, v.Value)
	}
	graph := chart.BarChart{
		Title:  title,
		Width:  panelWidth / 2,
		Height: panelHeight * 3 / 2,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		BarWidth: 80,
		YAxis:    chart.YAxis{Range: paddedRange(lo, hi)},
		Bars:     values,
	}
	return render(graph.Render)
}

func paddedRange(lo, hi float64) *chart.ContinuousRange {
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) || math.IsNaN(lo) || math.IsNaN(hi) {
		return &chart.ContinuousRange{Min: -1, Max: 1}
	}
	// Spans near the float resolution stall go-chart's tick generation.
	if hi-lo <= 1e-9*math.Max(1, math.Max(math.Abs(lo), math.Abs(hi))) {
		pad := math.Max(math.Abs(lo)*0.1, 1)
		return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
	}
	pad := (hi - lo) * 0.05
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

func render(fn func(chart.RendererProvider, io.Writer) error) (image.Image, error) {
	var buf bytes.Buffer
	if err := fn(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("error rendering chart: %w", err)
	}
	return png.Decode(&buf)
}

// grid lays panels out row by row on a white canvas.
func grid(rows [][]image.Image) image.Image {
	width, height := 0, 0
	for _, row := range rows {
		w, h := 0, 0
		for _, p := range row {
			w += p.Bounds().Dx()
			h = max(h, p.Bounds().Dy())
		}
		width = max(width, w)
		height += h
	}
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	y := 0
	for _, row := range rows {
		x, h := 0, 0
		for _, p := range row {
			draw.Copy(canvas, image.Pt(x, y), p, p.Bounds(), draw.Over, nil)
			x += p.Bounds().Dx()
			h = max(h, p.Bounds().Dy())
		}
		y += h
	}
	return canvas
}

func savePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating plot: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("error encoding plot: %w", err)
	}
	return f.Close()
}

// BandPass is a first-order Butterworth high-pass/low-pass pair applied to
// plotted traces.
type BandPass struct {
	Low, High float64
}

// Apply filters x sampled at fs. Cut-offs must lie strictly between 0 and
// the Nyquist frequency.
func (b BandPass) Apply(x []float64, fs float64) ([]float64, error) {
	wc := 2 * math.Pi / fs
	hp := butter.NewHighPass1(b.Low * wc)
	lp := butter.NewLowPass1(b.High * wc)
	if hp == nil {
		return nil, fmt.Errorf("invalid high-pass cut-off %g Hz at %g Hz", b.Low, fs)
	}
	if lp == nil {
		return nil, fmt.Errorf("invalid low-pass cut-off %g Hz at %g Hz", b.High, fs)
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = hp.Next(lp.Next(v))
	}
	return out, nil
}

// formatLabels names the traces of the three formats, in the order
// SET, EDF, BDF.
var formatLabels = []string{"SET (Original)", "EDF (16-bit)", "BDF (24-bit)"}

// plotWindow holds the first seconds of the plotted channels of a trio,
// already filtered when a band-pass is configured.
type plotWindow struct {
	channels []string
	times    []float64
	rate     float64
	// traces[c][f] is channel c of format f.
	traces [][][]float64
}

func newPlotWindow(trio [3]*Signals, channels []string, seconds float64, bp *BandPass) (*plotWindow, error) {
	rate := trio[0].Rate
	n := int(seconds * rate)
	for _, s := range trio {
		n = min(n, s.Len())
	}
	if n <= 0 {
		return nil, fmt.Errorf("no samples in plot window")
	}
	w := &plotWindow{channels: channels, rate: rate, times: make([]float64, n)}
	for i := range w.times {
		w.times[i] = float64(i) / rate
	}
	for _, ch := range channels {
		var row [][]float64
		for _, s := range trio {
			y := append([]float64(nil), s.Channel(ch)[:n]...)
			if bp != nil {
				var err error
				if y, err = bp.Apply(y, s.Rate); err != nil {
					return nil, err
				}
			}
			row = append(row, y)
		}
		w.traces = append(w.traces, row)
	}
	return w, nil
}

func (w *plotWindow) signalComparison(title string) (image.Image, error) {
	var rows [][]image.Image
	for c, ch := range w.channels {
		traces := make([]trace, len(formatLabels))
		for f, name := range formatLabels {
			traces[f] = trace{name: name, color: palette[f], y: w.traces[c][f]}
		}
		p, err := linePanel(fmt.Sprintf("%s | Channel: %s", title, ch), "Time (s)", "Amplitude (uV)", w.times, traces)
		if err != nil {
			return nil, err
		}
		rows = append(rows, []image.Image{p})
	}
	return grid(rows), nil
}

func (w *plotWindow) differences(title string) (image.Image, error) {
	var rows [][]image.Image
	for c, ch := range w.channels {
		var row []image.Image
		for f := 1; f < len(formatLabels); f++ {
			ref, other := w.traces[c][0], w.traces[c][f]
			diff := make([]float64, len(ref))
			for i := range diff {
				diff[i] = ref[i] - other[i]
			}
			name := "SET - " + formatLabels[f][:3]
			p, err := seriesPanel(fmt.Sprintf("%s | %s: %s", title, name, ch), "Time (s)", "Difference (uV)",
				w.times, []trace{{name: name, color: palette[f], y: diff}}, panelWidth/2, panelHeight, false)
			if err != nil {
				return nil, err
			}
			row = append(row, p)
		}
		rows = append(rows, row)
	}
	return grid(rows), nil
}

// correlationProfile plots the per-channel correlations of both conversions.
func correlationProfile(title string, edf, bdf []float64) (image.Image, error) {
	var traces []trace
	for f, corr := range [][]float64{edf, bdf} {
		x := make([]float64, len(corr))
		for i := range x {
			x[i] = float64(i + 1)
		}
		traces = append(traces, trace{name: "SET vs " + formatLabels[f+1][:3], color: palette[f+1], x: x, y: corr})
	}
	return linePanel(title, "Channel", "Correlation", nil, traces)
}

// summaryPlot renders the run overview: per-conversion means of correlation,
// RMS error and SNR as bars, and correlation against RMS error per file.
func summaryPlot(s *Summary) (image.Image, error) {
	sides := []*SideSummary{&s.EDF, &s.BDF}
	bars := func(title string, value func(*SideSummary) float64) (image.Image, error) {
		var values []chart.Value
		for f, side := range sides {
			values = append(values, chart.Value{
				Label: "SET vs " + formatLabels[f+1][:3],
				Value: value(side),
				Style: chart.Style{FillColor: palette[f+1], StrokeColor: palette[f+1]},
			})
		}
		return barPanel(title, values)
	}

	corr, err := bars("Signal Correlations", func(s *SideSummary) float64 { return s.MeanCorrelation })
	if err != nil {
		return nil, err
	}
	rms, err := bars("RMS Errors (uV)", func(s *SideSummary) float64 { return s.MeanRMS })
	if err != nil {
		return nil, err
	}
	snr, err := bars("Signal-to-Noise Ratios (dB)", func(s *SideSummary) float64 { return s.MeanSNR })
	if err != nil {
		return nil, err
	}
	var traces []trace
	for f, side := range sides {
		traces = append(traces, trace{
			name: "SET vs " + formatLabels[f+1][:3], color: palette[f+1],
			x: side.Correlations, y: side.RMSErrors,
		})
	}
	scatter, err := scatterPanel("Correlation vs RMS Error", "Correlation", "RMS Error (uV)", traces)
	if err != nil {
		return nil, err
	}
	return grid([][]image.Image{{corr, rms}, {snr, scatter}}), nil
}
