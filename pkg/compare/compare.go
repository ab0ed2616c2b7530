// Package compare checks converted EDF and BDF files against the EEGLAB
// recordings they were made from.
package compare

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bzyfuzy/eegbids/pkg/bids"
	edfparser "github.com/bzyfuzy/eegbids/pkg/edf-parser"
	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

const (
	DefaultFiles        = 10
	DefaultWindow       = 10.0
	DefaultPlotChannels = 4

	ResultsFile = "comparison_results.json"
	SummaryPlot = "summary_comparison.png"
)

// ErrNoComparisons is returned when every trio failed.
var ErrNoComparisons = errors.New("no successful comparisons")

// Trio is a SET file with its EDF and BDF conversions.
type Trio struct {
	Set, EDF, BDF string
}

// Options configures a comparison run.
type Options struct {
	NFiles       int
	Seed         int64
	BandPass     *BandPass
	ChartJSON    bool
	Window       float64
	PlotChannels int
	Log          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.NFiles <= 0 {
		o.NFiles = DefaultFiles
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.PlotChannels <= 0 {
		o.PlotChannels = DefaultPlotChannels
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return o
}

// Result is one entry of comparison_results.json.
type Result struct {
	FileID         string            `json:"file_id"`
	Files          map[string]string `json:"files"`
	CommonChannels int               `json:"common_channels"`
	MetricsEDF     *Metrics          `json:"metrics_edf"`
	MetricsBDF     *Metrics          `json:"metrics_bdf"`
	Plots          map[string]string `json:"plots"`
}

// SideSummary aggregates one conversion format over all compared files.
type SideSummary struct {
	Files           int       `json:"files"`
	Correlations    []float64 `json:"-"`
	RMSErrors       []float64 `json:"-"`
	SNRs            []float64 `json:"-"`
	MeanCorrelation float64   `json:"mean_correlation"`
	StdCorrelation  float64   `json:"std_correlation"`
	MedianRMS       float64   `json:"median_rms_error"`
	MeanRMS         float64   `json:"mean_rms_error"`
	MeanSNR         float64   `json:"mean_snr"`
}

func (s *SideSummary) add(m *Metrics) {
	if m == nil {
		return
	}
	s.Correlations = append(s.Correlations, m.MeanCorrelation)
	s.RMSErrors = append(s.RMSErrors, m.RMSError)
	if !math.IsInf(m.SNRRatio, 0) && !math.IsNaN(m.SNRRatio) {
		s.SNRs = append(s.SNRs, m.SNRRatio)
	}
}

func (s *SideSummary) finish() {
	s.Files = len(s.Correlations)
	if s.Files == 0 {
		return
	}
	s.MeanCorrelation, s.StdCorrelation = stat.PopMeanStdDev(s.Correlations, nil)
	s.MeanRMS = stat.Mean(s.RMSErrors, nil)
	if len(s.SNRs) > 0 {
		s.MeanSNR = stat.Mean(s.SNRs, nil)
	}
	sorted := append([]float64(nil), s.RMSErrors...)
	sort.Float64s(sorted)
	if n := len(sorted); n%2 == 1 {
		s.MedianRMS = sorted[n/2]
	} else {
		s.MedianRMS = (sorted[n/2-1] + sorted[n/2]) / 2
	}
}

// Summary covers every successful comparison of a run.
type Summary struct {
	Compared    int         `json:"files_compared"`
	EDF         SideSummary `json:"set_vs_edf"`
	BDF         SideSummary `json:"set_vs_bdf"`
	ResultsPath string      `json:"results_file"`
	SummaryPlot string      `json:"summary_plot,omitempty"`
}

// Summarize aggregates the results.
func Summarize(results []Result) *Summary {
	s := &Summary{Compared: len(results)}
	for _, r := range results {
		s.EDF.add(r.MetricsEDF)
		s.BDF.add(r.MetricsBDF)
	}
	s.EDF.finish()
	s.BDF.finish()
	return s
}

// FindTrios pairs every .set file under setDir with the .edf and .bdf at the
// same relative path under edfDir and bdfDir. When more than n trios exist,
// n are drawn at random with rng; a nil rng keeps the first n.
func FindTrios(setDir, edfDir, bdfDir string, n int, rng *rand.Rand) ([]Trio, error) {
	sets, err := bids.FindFiles(setDir, "*.set")
	if err != nil {
		return nil, err
	}
	var trios []Trio
	for _, set := range sets {
		rel, err := filepath.Rel(setDir, set)
		if err != nil {
			return nil, err
		}
		stem := strings.TrimSuffix(rel, filepath.Ext(rel))
		t := Trio{
			Set: set,
			EDF: filepath.Join(edfDir, stem+edfparser.EDF.Ext()),
			BDF: filepath.Join(bdfDir, stem+edfparser.BDF.Ext()),
		}
		if bids.Exists(t.EDF) && bids.Exists(t.BDF) {
			trios = append(trios, t)
		}
	}
	if n > 0 && len(trios) > n {
		if rng != nil {
			rng.Shuffle(len(trios), func(i, j int) { trios[i], trios[j] = trios[j], trios[i] })
		}
		trios = trios[:n]
	}
	return trios, nil
}

// CompareTrio loads a trio, computes the metrics of both conversions against
// the SET file and renders the per-file plots under outDir/file_<id>.
// A nil result with a nil error means the trio shares no channel.
func CompareTrio(t Trio, outDir, id string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	log := opts.Log.With(zap.String("file_id", id))

	var trio [3]*Signals
	for i, path := range []string{t.Set, t.EDF, t.BDF} {
		s, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", filepath.Base(path), err)
		}
		trio[i] = s
	}
	common := CommonChannels(trio[0], trio[1], trio[2])
	if len(common) == 0 {
		log.Warn("No common channels found, skipping")
		return nil, nil
	}
	log.Info("Found common channels", zap.Int("channels", len(common)))

	res := &Result{
		FileID: id,
		Files: map[string]string{
			"set": filepath.Base(t.Set),
			"edf": filepath.Base(t.EDF),
			"bdf": filepath.Base(t.BDF),
		},
		CommonChannels: len(common),
		MetricsEDF:     CalculateMetrics(trio[0], trio[1]),
		MetricsBDF:     CalculateMetrics(trio[0], trio[2]),
		Plots:          map[string]string{},
	}

	dir := filepath.Join(outDir, "file_"+id)
	plotted := common[:min(opts.PlotChannels, len(common))]
	win, err := newPlotWindow(trio, plotted, opts.Window, opts.BandPass)
	if err != nil {
		return nil, err
	}
	title := "File " + id

	img, err := win.signalComparison(title + ": Signal Comparison")
	if err != nil {
		return nil, err
	}
	if err := res.savePlot(dir, id, "signal_comparison", img); err != nil {
		return nil, err
	}
	if img, err = win.differences(title + ": Signal Differences"); err != nil {
		return nil, err
	}
	if err := res.savePlot(dir, id, "signal_differences", img); err != nil {
		return nil, err
	}
	if img, err = correlationProfile(title+": Channel Correlations",
		res.MetricsEDF.ChannelCorrelations, res.MetricsBDF.ChannelCorrelations); err != nil {
		log.Warn("Correlation plot not rendered", zap.Error(err))
	} else if err := res.savePlot(dir, id, "correlations", img); err != nil {
		return nil, err
	}

	if opts.ChartJSON {
		path, err := writeChartJSON(win, filepath.Join(dir, id+"_chart.json"))
		if err != nil {
			return nil, err
		}
		res.Plots["chart_json"] = path
	}

	log.Info("Compared trio",
		zap.Float64("edf_mean_correlation", res.MetricsEDF.MeanCorrelation),
		zap.Float64("edf_rms_error", res.MetricsEDF.RMSError),
		zap.Float64("bdf_mean_correlation", res.MetricsBDF.MeanCorrelation),
		zap.Float64("bdf_rms_error", res.MetricsBDF.RMSError))
	return res, nil
}

func (r *Result) savePlot(dir, id, name string, img image.Image) error {
	path := filepath.Join(dir, id+"_"+name+".png")
	if err := savePNG(path, img); err != nil {
		return err
	}
	r.Plots[name] = path
	return nil
}

// writeChartJSON exports the plotted window as Chart.js line datasets.
func writeChartJSON(w *plotWindow, path string) (string, error) {
	var traces []edfparser.Trace
	for c, ch := range w.channels {
		for f, name := range formatLabels {
			traces = append(traces, edfparser.Trace{Label: ch + " " + name, Samples: w.traces[c][f]})
		}
	}
	data, err := edfparser.ProcessTracesToChartData(w.rate, traces)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("error encoding chart data: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("error writing chart data: %w", err)
	}
	return path, nil
}

// Run compares up to opts.NFiles trios, then writes comparison_results.json
// and summary_comparison.png into outDir. Trios that fail are logged and
// skipped.
func Run(ctx context.Context, setDir, edfDir, bdfDir, outDir string, opts Options) (*Summary, []Result, error) {
	opts = opts.withDefaults()
	log := opts.Log

	for _, d := range []string{setDir, edfDir, bdfDir} {
		if !bids.IsDir(d) {
			return nil, nil, fmt.Errorf("dataset %s: %w", d, os.ErrNotExist)
		}
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, nil, err
	}

	trios, err := FindTrios(setDir, edfDir, bdfDir, opts.NFiles, rand.New(rand.NewSource(opts.Seed)))
	if err != nil {
		return nil, nil, err
	}
	log.Info("Found matching file trios", zap.Int("trios", len(trios)))
	if len(trios) == 0 {
		return nil, nil, fmt.Errorf("no matching file trios: %w", report.ErrNoFiles)
	}

	results := []Result{}
	for i, t := range trios {
		if err := ctx.Err(); err != nil {
			return nil, results, err
		}
		id := fmt.Sprintf("%02d", i+1)
		log.Info("Processing file trio", zap.String("file_id", id),
			zap.String("set", filepath.Base(t.Set)),
			zap.String("edf", filepath.Base(t.EDF)),
			zap.String("bdf", filepath.Base(t.BDF)))
		res, err := CompareTrio(t, outDir, id, opts)
		if err != nil {
			log.Error("Error processing trio", zap.String("file_id", id), zap.Error(err))
			continue
		}
		if res != nil {
			results = append(results, *res)
		}
	}
	if len(results) == 0 {
		return nil, results, ErrNoComparisons
	}

	sum := Summarize(results)
	img, err := summaryPlot(sum)
	if err != nil {
		log.Warn("Summary plot not rendered", zap.Error(err))
	} else {
		sum.SummaryPlot = filepath.Join(outDir, SummaryPlot)
		if err := savePNG(sum.SummaryPlot, img); err != nil {
			return sum, results, err
		}
	}
	sum.ResultsPath = filepath.Join(outDir, ResultsFile)
	if err := report.Save(sum.ResultsPath, results); err != nil {
		return sum, results, err
	}
	return sum, results, nil
}
