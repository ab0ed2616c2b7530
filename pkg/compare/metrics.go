package compare

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// welchSegment is the Welch segment length; segments overlap by half.
const welchSegment = 256

// Metrics compares a reference recording with a converted one over their
// common channels. Amplitude metrics are in microvolts.
type Metrics struct {
	CommonChannels      int       `json:"common_channels"`
	DataLength          int       `json:"data_length"`
	SamplingRate1       float64   `json:"sampling_rate_1"`
	SamplingRate2       float64   `json:"sampling_rate_2"`
	ChannelCorrelations []float64 `json:"channel_correlations"`
	MeanCorrelation     float64   `json:"mean_correlation"`
	RMSError            float64   `json:"rms_error"`
	MaxAbsoluteDiff     float64   `json:"max_absolute_diff"`
	MeanAbsoluteDiff    float64   `json:"mean_absolute_diff"`
	SNRRatio            float64   `json:"snr_ratio"`
	SpectralSimilarity  float64   `json:"spectral_similarity"`
}

// CalculateMetrics compares a and b on their common channels, truncated to
// the shorter length. It returns nil when they share no channel.
func CalculateMetrics(a, b *Signals) *Metrics {
	common := CommonChannels(a, b)
	if len(common) == 0 {
		return nil
	}
	n := min(a.Len(), b.Len())
	m := &Metrics{
		CommonChannels:      len(common),
		DataLength:          n,
		SamplingRate1:       a.Rate,
		SamplingRate2:       b.Rate,
		ChannelCorrelations: []float64{},
	}

	var sumSq, sumAbs, signalPower float64
	for _, label := range common {
		x := a.Channel(label)[:n]
		y := b.Channel(label)[:n]
		if r := pearson(x, y); !math.IsNaN(r) {
			m.ChannelCorrelations = append(m.ChannelCorrelations, r)
		}
		for i := range x {
			d := x[i] - y[i]
			sumSq += d * d
			sumAbs += math.Abs(d)
			signalPower += x[i] * x[i]
			m.MaxAbsoluteDiff = math.Max(m.MaxAbsoluteDiff, math.Abs(d))
		}
	}
	if len(m.ChannelCorrelations) > 0 {
		m.MeanCorrelation = stat.Mean(m.ChannelCorrelations, nil)
	}
	if total := float64(n * len(common)); total > 0 {
		noisePower := sumSq / total
		m.RMSError = math.Sqrt(noisePower)
		m.MeanAbsoluteDiff = sumAbs / total
		// A silent reference has no defined SNR; it stays zero.
		if noisePower > 0 && signalPower > 0 {
			m.SNRRatio = 10 * math.Log10(signalPower/total/noisePower)
		}
	}

	f1, p1 := welch(a.Channel(common[0])[:n], a.Rate, welchSegment)
	f2, p2 := welch(b.Channel(common[0])[:n], b.Rate, welchSegment)
	if len(p1) > 1 && len(p2) > 1 {
		if r := pearson(p1, interp(f1, f2, p2)); !math.IsNaN(r) {
			m.SpectralSimilarity = r
		}
	}
	return m
}

// pearson is NaN when either input is constant.
func pearson(x, y []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	return stat.Correlation(x, y, nil)
}

// welch estimates the one-sided power spectral density of x with a periodic
// Hann window, half-overlapping segments and per-segment mean removal.
func welch(x []float64, fs float64, segment int) (freqs, psd []float64) {
	n := min(segment, len(x))
	if n < 2 || fs <= 0 {
		return nil, nil
	}
	win := make([]float64, n)
	var winPower float64
	for i := range win {
		win[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
		winPower += win[i] * win[i]
	}

	fft := fourier.NewFFT(n)
	seg := make([]float64, n)
	coeffs := make([]complex128, n/2+1)
	psd = make([]float64, n/2+1)
	step := n - n/2
	segments := 0
	for start := 0; start+n <= len(x); start += step {
		mean := stat.Mean(x[start:start+n], nil)
		for i := range seg {
			seg[i] = (x[start+i] - mean) * win[i]
		}
		coeffs = fft.Coefficients(coeffs, seg)
		for k, c := range coeffs {
			psd[k] += real(c)*real(c) + imag(c)*imag(c)
		}
		segments++
	}

	scale := 1 / (fs * winPower * float64(segments))
	freqs = make([]float64, len(psd))
	for k := range psd {
		psd[k] *= scale
		if k > 0 && !(n%2 == 0 && k == n/2) {
			psd[k] *= 2
		}
		freqs[k] = float64(k) * fs / float64(n)
	}
	return freqs, psd
}

// interp evaluates the piecewise-linear function (xp, fp) at each x, holding
// the end values outside the range. xp must be increasing.
func interp(x, xp, fp []float64) []float64 {
	out := make([]float64, len(x))
	j := 0
	for i, v := range x {
		switch {
		case v <= xp[0]:
			out[i] = fp[0]
		case v >= xp[len(xp)-1]:
			out[i] = fp[len(fp)-1]
		default:
			for j > 0 && xp[j] > v {
				j--
			}
			for xp[j+1] < v {
				j++
			}
			t := (v - xp[j]) / (xp[j+1] - xp[j])
			out[i] = fp[j] + t*(fp[j+1]-fp[j])
		}
	}
	return out
}
