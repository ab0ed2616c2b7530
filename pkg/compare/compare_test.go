package compare

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/bzyfuzy/eegbids/pkg/convert"
	edfparser "github.com/bzyfuzy/eegbids/pkg/edf-parser"
	"github.com/bzyfuzy/eegbids/pkg/eeglab/eeglabtest"
	"github.com/bzyfuzy/eegbids/pkg/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, freq, rate, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

func TestInterp(t *testing.T) {
	got := interp([]float64{-1, 0, 0.5, 1, 2, 3}, []float64{0, 1, 2}, []float64{0, 10, 20})
	assert.Equal(t, []float64{0, 0, 5, 10, 20, 20}, got)
}

func TestWelch(t *testing.T) {
	x := sine(1000, 10, 100, 1)
	freqs, psd := welch(x, 100, welchSegment)
	require.Len(t, freqs, welchSegment/2+1)
	require.Len(t, psd, len(freqs))
	assert.Equal(t, 0.0, freqs[0])
	assert.InDelta(t, 50.0, freqs[len(freqs)-1], 1e-9)

	peak := 0
	var power float64
	for k, p := range psd {
		if p > psd[peak] {
			peak = k
		}
		power += p
	}
	assert.InDelta(t, 10.0, freqs[peak], 0.5)
	// The density integrates to the signal variance.
	assert.InDelta(t, 0.5, power*(freqs[1]-freqs[0]), 0.05)

	f, p := welch(x[:1], 100, welchSegment)
	assert.Nil(t, f)
	assert.Nil(t, p)
}

func TestCalculateMetricsIdentical(t *testing.T) {
	data := [][]float64{sine(600, 7, 100, 30), sine(600, 11, 100, 15)}
	a := newSignals([]string{"E1", "E2"}, 100, data)
	b := newSignals([]string{"E2", "E1"}, 100, [][]float64{data[1], data[0]})

	m := CalculateMetrics(a, b)
	require.NotNil(t, m)
	assert.Equal(t, 2, m.CommonChannels)
	assert.Equal(t, 600, m.DataLength)
	require.Len(t, m.ChannelCorrelations, 2)
	for _, r := range m.ChannelCorrelations {
		assert.InDelta(t, 1.0, r, 1e-12)
	}
	assert.InDelta(t, 1.0, m.MeanCorrelation, 1e-12)
	assert.Zero(t, m.RMSError)
	assert.Zero(t, m.MaxAbsoluteDiff)
	assert.Zero(t, m.MeanAbsoluteDiff)
	assert.Zero(t, m.SNRRatio)
	assert.InDelta(t, 1.0, m.SpectralSimilarity, 1e-9)
}

func TestCalculateMetricsOffset(t *testing.T) {
	x := sine(500, 5, 100, 10)
	y := make([]float64, 520)
	for i := range x {
		y[i] = x[i] + 1
	}
	a := newSignals([]string{"Cz"}, 100, [][]float64{x})
	b := newSignals([]string{"Cz"}, 100, [][]float64{y})

	m := CalculateMetrics(a, b)
	require.NotNil(t, m)
	assert.Equal(t, 500, m.DataLength)
	assert.InDelta(t, 1.0, m.MeanCorrelation, 1e-9)
	assert.InDelta(t, 1.0, m.RMSError, 1e-9)
	assert.InDelta(t, 1.0, m.MaxAbsoluteDiff, 1e-9)
	assert.InDelta(t, 1.0, m.MeanAbsoluteDiff, 1e-9)
	// Signal power of a sine with amplitude 10 is 50.
	assert.InDelta(t, 10*math.Log10(50), m.SNRRatio, 0.01)
}

func TestCalculateMetricsConstantChannel(t *testing.T) {
	flat := make([]float64, 300)
	a := newSignals([]string{"E1", "E2"}, 100, [][]float64{flat, sine(300, 3, 100, 5)})
	b := newSignals([]string{"E1", "E2"}, 100, [][]float64{flat, sine(300, 3, 100, 5)})

	m := CalculateMetrics(a, b)
	require.NotNil(t, m)
	assert.Len(t, m.ChannelCorrelations, 1)
}

func TestCalculateMetricsSilentReference(t *testing.T) {
	flat := make([]float64, 400)
	off := make([]float64, 400)
	for i := range off {
		off[i] = -1.5e-5
	}
	a := newSignals([]string{"E1"}, 100, [][]float64{flat})
	b := newSignals([]string{"E1"}, 100, [][]float64{off})

	m := CalculateMetrics(a, b)
	require.NotNil(t, m)
	assert.InDelta(t, 1.5e-5, m.RMSError, 1e-12)
	assert.False(t, math.IsInf(m.SNRRatio, 0))
	assert.Zero(t, m.SNRRatio)

	s := Summarize([]Result{{FileID: "01", MetricsEDF: m, MetricsBDF: m}})
	assert.Equal(t, 1, s.EDF.Files)
	_, err := json.Marshal(s)
	require.NoError(t, err)
	_, err = json.Marshal(Result{MetricsEDF: m, MetricsBDF: m})
	require.NoError(t, err)
}

func TestSummarizeSkipsNonFiniteSNR(t *testing.T) {
	s := Summarize([]Result{
		{MetricsEDF: &Metrics{MeanCorrelation: 1, RMSError: 1, SNRRatio: math.Inf(-1)}},
		{MetricsEDF: &Metrics{MeanCorrelation: 1, RMSError: 3, SNRRatio: 20}},
	})
	assert.Equal(t, 2, s.EDF.Files)
	assert.Equal(t, 20.0, s.EDF.MeanSNR)
	assert.Equal(t, 2.0, s.EDF.MedianRMS)
	assert.Zero(t, s.BDF.Files)
	_, err := json.Marshal(s)
	require.NoError(t, err)
}

func TestCalculateMetricsNoCommonChannels(t *testing.T) {
	a := newSignals([]string{"E1"}, 100, [][]float64{sine(10, 1, 100, 1)})
	b := newSignals([]string{"E2"}, 100, [][]float64{sine(10, 1, 100, 1)})
	assert.Nil(t, CalculateMetrics(a, b))
}

func TestCommonChannels(t *testing.T) {
	a := newSignals([]string{"E3", "E1", "Cz", "E2"}, 100, make([][]float64, 4))
	b := newSignals([]string{"E1", "E2", "E3"}, 100, make([][]float64, 3))
	c := newSignals([]string{"E2", "E3", "E1", "Cz"}, 100, make([][]float64, 4))
	assert.Equal(t, []string{"E3", "E1", "E2"}, CommonChannels(a, b, c))
}

func TestUnitScale(t *testing.T) {
	assert.Equal(t, 1e6, unitScale("V"))
	assert.Equal(t, 1e3, unitScale("mV "))
	assert.Equal(t, 1.0, unitScale("uV"))
	assert.Equal(t, 1.0, unitScale(""))
}

func TestBandPass(t *testing.T) {
	x := make([]float64, 2000)
	for i := range x {
		x[i] = 5
	}
	y, err := BandPass{Low: 1, High: 30}.Apply(x, 100)
	require.NoError(t, err)
	require.Len(t, y, len(x))
	assert.InDelta(t, 0, y[len(y)-1], 1e-3)

	_, err = BandPass{Low: 1, High: 60}.Apply(x, 100)
	assert.Error(t, err)
	_, err = BandPass{Low: 0, High: 30}.Apply(x, 100)
	assert.Error(t, err)
}

func TestPaddedRange(t *testing.T) {
	r := paddedRange(3, 3)
	assert.Less(t, r.Min, 3.0)
	assert.Greater(t, r.Max, 3.0)

	r = paddedRange(math.Inf(1), math.Inf(-1))
	assert.Equal(t, -1.0, r.Min)
	assert.Equal(t, 1.0, r.Max)
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
}

func TestFindTrios(t *testing.T) {
	root := t.TempDir()
	set, edf, bdf := filepath.Join(root, "set"), filepath.Join(root, "edf"), filepath.Join(root, "bdf")
	for _, sub := range []string{"sub-01", "sub-02", "sub-03"} {
		rel := filepath.Join(sub, "eeg", sub+"_task-rest_eeg")
		touch(t, filepath.Join(set, rel+".set"))
		touch(t, filepath.Join(edf, rel+".edf"))
		if sub != "sub-03" {
			touch(t, filepath.Join(bdf, rel+".bdf"))
		}
	}

	trios, err := FindTrios(set, edf, bdf, 10, nil)
	require.NoError(t, err)
	require.Len(t, trios, 2)
	assert.Equal(t, filepath.Join(edf, "sub-01", "eeg", "sub-01_task-rest_eeg.edf"), trios[0].EDF)
	assert.Equal(t, filepath.Join(bdf, "sub-02", "eeg", "sub-02_task-rest_eeg.bdf"), trios[1].BDF)

	one, err := FindTrios(set, edf, bdf, 1, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Contains(t, trios, one[0])

	again, err := FindTrios(set, edf, bdf, 1, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	assert.Equal(t, one, again)
}

// datasets writes SET files and converts them to EDF and BDF trees.
func datasets(t *testing.T, subjects ...string) (set, edf, bdf string) {
	t.Helper()
	root := t.TempDir()
	set, edf, bdf = filepath.Join(root, "set"), filepath.Join(root, "edf"), filepath.Join(root, "bdf")
	labels := []string{"E1", "E2", "E3", "Cz", "E5"}
	for n, sub := range subjects {
		rel := filepath.Join(sub, "eeg", sub+"_task-rest_eeg")
		data := make([][]float64, len(labels))
		for ch := range data {
			data[ch] = sine(1200, float64(3+ch+n), 100, 20+float64(ch))
		}
		path := filepath.Join(set, rel+".set")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, eeglabtest.WriteSet(path, 100, labels, data))

		for dir, format := range map[string]edfparser.Format{edf: edfparser.EDF, bdf: edfparser.BDF} {
			c := &convert.Converter{Format: format}
			conv := c.ConvertFile(path, filepath.Join(dir, rel+format.Ext()))
			require.Equal(t, report.StatusSuccess, conv.ConversionStatus, conv.ErrorMessage)
		}
	}
	return set, edf, bdf
}

func TestCompareTrio(t *testing.T) {
	set, edf, bdf := datasets(t, "sub-01")
	trios, err := FindTrios(set, edf, bdf, 0, nil)
	require.NoError(t, err)
	require.Len(t, trios, 1)

	out := t.TempDir()
	res, err := CompareTrio(trios[0], out, "01", Options{ChartJSON: true, BandPass: &BandPass{Low: 0.5, High: 40}})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 5, res.CommonChannels)
	assert.Equal(t, "sub-01_task-rest_eeg.bdf", res.Files["bdf"])

	assert.Greater(t, res.MetricsEDF.MeanCorrelation, 0.999)
	assert.Greater(t, res.MetricsBDF.MeanCorrelation, 0.999)
	assert.Less(t, res.MetricsBDF.RMSError, res.MetricsEDF.RMSError)
	assert.Greater(t, res.MetricsBDF.SNRRatio, res.MetricsEDF.SNRRatio)

	for _, name := range []string{"signal_comparison", "signal_differences", "correlations", "chart_json"} {
		assert.FileExists(t, res.Plots[name], name)
	}
	assert.Equal(t, filepath.Join(out, "file_01", "01_signal_comparison.png"), res.Plots["signal_comparison"])

	raw, err := os.ReadFile(res.Plots["chart_json"])
	require.NoError(t, err)
	var chart edfparser.ChartData
	require.NoError(t, json.Unmarshal(raw, &chart))
	assert.Len(t, chart.Datasets, DefaultPlotChannels*3)
	assert.Len(t, chart.Labels, 1000)
}

func TestRun(t *testing.T) {
	set, edf, bdf := datasets(t, "sub-01", "sub-02", "sub-03")
	out := filepath.Join(t.TempDir(), "comparison")

	sum, results, err := Run(context.Background(), set, edf, bdf, out, Options{NFiles: 2, Seed: 1})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "01", results[0].FileID)
	assert.Equal(t, "02", results[1].FileID)

	assert.Equal(t, 2, sum.Compared)
	assert.Equal(t, 2, sum.EDF.Files)
	assert.Greater(t, sum.EDF.MeanCorrelation, 0.999)
	assert.Less(t, sum.BDF.MedianRMS, sum.EDF.MedianRMS)
	assert.FileExists(t, filepath.Join(out, SummaryPlot))

	raw, err := os.ReadFile(filepath.Join(out, ResultsFile))
	require.NoError(t, err)
	var saved []Result
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Len(t, saved, 2)
}

func TestRunNoTrios(t *testing.T) {
	root := t.TempDir()
	_, _, err := Run(context.Background(), root, root, root, filepath.Join(root, "out"), Options{})
	assert.ErrorIs(t, err, report.ErrNoFiles)

	_, _, err = Run(context.Background(), filepath.Join(root, "missing"), root, root, root, Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunAllTriosFail(t *testing.T) {
	root := t.TempDir()
	set, edf, bdf := filepath.Join(root, "set"), filepath.Join(root, "edf"), filepath.Join(root, "bdf")
	rel := filepath.Join("sub-01", "eeg", "sub-01_task-rest_eeg")
	touch(t, filepath.Join(set, rel+".set"))
	touch(t, filepath.Join(edf, rel+".edf"))
	touch(t, filepath.Join(bdf, rel+".bdf"))

	_, _, err := Run(context.Background(), set, edf, bdf, filepath.Join(root, "out"), Options{})
	assert.ErrorIs(t, err, ErrNoComparisons)
}
