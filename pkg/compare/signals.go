package compare

import (
	"fmt"
	"path/filepath"
	"strings"

	edfparser "github.com/bzyfuzy/eegbids/pkg/edf-parser"
	"github.com/bzyfuzy/eegbids/pkg/eeglab"
)

// Signals is a multichannel recording in microvolts at one sample rate.
type Signals struct {
	Labels []string
	Rate   float64
	Data   [][]float64
	index  map[string]int
}

func newSignals(labels []string, rate float64, data [][]float64) *Signals {
	s := &Signals{Labels: labels, Rate: rate, Data: data, index: make(map[string]int, len(labels))}
	for i, l := range labels {
		if _, dup := s.index[l]; !dup {
			s.index[l] = i
		}
	}
	return s
}

// Len is the sample count of the shortest channel.
func (s *Signals) Len() int {
	if len(s.Data) == 0 {
		return 0
	}
	n := len(s.Data[0])
	for _, d := range s.Data[1:] {
		n = min(n, len(d))
	}
	return n
}

// Channel returns the samples of a channel, nil when absent.
func (s *Signals) Channel(label string) []float64 {
	i, ok := s.index[label]
	if !ok {
		return nil
	}
	return s.Data[i]
}

// CommonChannels lists the labels of the first recording present in all
// the others, in the first recording's order.
func CommonChannels(first *Signals, others ...*Signals) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range first.Labels {
		if seen[l] {
			continue
		}
		seen[l] = true
		shared := true
		for _, o := range others {
			if _, ok := o.index[l]; !ok {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, l)
		}
	}
	return out
}

// FromDataset wraps an EEGLAB dataset, whose data is already in microvolts.
func FromDataset(ds *eeglab.Dataset) *Signals {
	return newSignals(ds.Labels, ds.SampleRate, ds.Data)
}

// FromRecording converts the data signals of an EDF/BDF recording to
// microvolts. Signals sampled at a different rate than the first data
// signal are left out.
func FromRecording(rec *edfparser.Recording) (*Signals, error) {
	idx := rec.DataSignals()
	if len(idx) == 0 {
		return nil, fmt.Errorf("recording has no data signals")
	}
	rate := rec.SampleRate(idx[0])
	var labels []string
	var data [][]float64
	for _, i := range idx {
		if rec.SampleRate(i) != rate {
			continue
		}
		scale := unitScale(rec.Signals[i].Units)
		samples := rec.Physical(i)
		if scale != 1 {
			for j := range samples {
				samples[j] *= scale
			}
		}
		labels = append(labels, rec.Signals[i].Label)
		data = append(data, samples)
	}
	return newSignals(labels, rate, data), nil
}

// unitScale converts a physical dimension to microvolts; unknown units are
// taken as microvolts.
func unitScale(units string) float64 {
	switch strings.TrimSpace(units) {
	case "V":
		return 1e6
	case "mV":
		return 1e3
	case "nV":
		return 1e-3
	}
	return 1
}

// Load reads a .set, .edf or .bdf file.
func Load(path string) (*Signals, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".set":
		ds, err := eeglab.LoadSet(path)
		if err != nil {
			return nil, err
		}
		return FromDataset(ds), nil
	case ".edf", ".bdf":
		rec, err := edfparser.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return FromRecording(rec)
	}
	return nil, fmt.Errorf("unsupported signal file %s", filepath.Base(path))
}
