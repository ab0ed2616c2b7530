package eeglab

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Dataset is the part of an EEGLAB EEG structure needed to re-export signals.
type Dataset struct {
	Path       string
	SetName    string
	SampleRate float64
	Trials     int
	Labels     []string
	Types      []string
	// Data is indexed [channel][sample], epochs concatenated, in microvolts.
	Data [][]float64
}

// NumChannels is the channel count.
func (d *Dataset) NumChannels() int { return len(d.Data) }

// NumSamples is the sample count per channel.
func (d *Dataset) NumSamples() int {
	if len(d.Data) == 0 {
		return 0
	}
	return len(d.Data[0])
}

// Duration is the length of the data in seconds.
func (d *Dataset) Duration() float64 {
	if d.SampleRate <= 0 {
		return 0
	}
	return float64(d.NumSamples()) / d.SampleRate
}

// Channel returns the samples of the channel with the given label.
func (d *Dataset) Channel(label string) ([]float64, bool) {
	for i, l := range d.Labels {
		if l == label {
			return d.Data[i], true
		}
	}
	return nil, false
}

// LoadSet reads an EEGLAB .set file and, when the samples live in a separate
// file, the accompanying .fdt.
func LoadSet(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening SET file: %w", err)
	}
	defer f.Close()

	mat, err := ReadMAT(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", filepath.Base(path), err)
	}

	eeg := eegFields(mat)
	ds := &Dataset{Path: path, SetName: eeg.text("setname")}

	nbchan, ok := eeg.number("nbchan")
	if !ok || nbchan < 1 {
		return nil, fmt.Errorf("%s: missing or invalid nbchan", filepath.Base(path))
	}
	pnts, ok := eeg.number("pnts")
	if !ok || pnts < 1 {
		return nil, fmt.Errorf("%s: missing or invalid pnts", filepath.Base(path))
	}
	if ds.SampleRate, ok = eeg.number("srate"); !ok || ds.SampleRate <= 0 {
		return nil, fmt.Errorf("%s: missing or invalid srate", filepath.Base(path))
	}
	trials, ok := eeg.number("trials")
	if !ok || trials < 1 {
		trials = 1
	}
	ds.Trials = int(trials)

	nCh := int(nbchan)
	nSamples := int(pnts) * ds.Trials

	var flat []float64
	data := eeg["data"]
	switch {
	case data == nil:
		return nil, fmt.Errorf("%s: no data field", filepath.Base(path))
	case data.Class == ClassChar:
		fdt := resolveFDT(path, data.String())
		if flat, err = readFDT(fdt, nCh*nSamples); err != nil {
			return nil, err
		}
	case data.Class.IsNumeric():
		if len(data.Data) != nCh*nSamples {
			return nil, fmt.Errorf("%s: data holds %d values, expected %dx%d", filepath.Base(path), len(data.Data), nCh, nSamples)
		}
		flat = data.Data
	default:
		return nil, fmt.Errorf("%s: unsupported data field class %d", filepath.Base(path), data.Class)
	}

	// column-major [channel, sample]: channels vary fastest
	ds.Data = make([][]float64, nCh)
	for ch := range ds.Data {
		ds.Data[ch] = make([]float64, nSamples)
		for s := 0; s < nSamples; s++ {
			ds.Data[ch][s] = flat[ch+s*nCh]
		}
	}

	ds.Labels, ds.Types = channelInfo(eeg["chanlocs"], nCh)
	return ds, nil
}

type fields map[string]*Array

// eegFields accepts both layouts EEGLAB writes: a single EEG struct variable,
// or every field saved as its own top-level variable.
func eegFields(m *MatFile) fields {
	if v := m.Var("EEG"); v != nil && v.Class == ClassStruct && len(v.Elems) > 0 {
		return v.Elems[0]
	}
	out := make(fields, len(m.Vars))
	for _, v := range m.Vars {
		out[v.Name] = v
	}
	return out
}

func (f fields) number(name string) (float64, bool) {
	v, ok := f[name].Scalar()
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func (f fields) text(name string) string {
	if v := f[name]; v != nil && v.Class == ClassChar {
		return v.String()
	}
	return ""
}

// resolveFDT locates the sample file named in the data field. Datasets are
// often moved after saving, so the name is looked up next to the .set first.
func resolveFDT(setPath, name string) string {
	dir := filepath.Dir(setPath)
	if name != "" {
		candidate := filepath.Join(dir, filepath.Base(strings.ReplaceAll(name, "\\", "/")))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return strings.TrimSuffix(setPath, filepath.Ext(setPath)) + ".fdt"
}

// readFDT reads n little-endian float32 values.
func readFDT(path string, n int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening FDT file: %w", err)
	}
	defer f.Close()

	raw := make([]byte, 4*n)
	if _, err := io.ReadFull(bufio.NewReader(f), raw); err != nil {
		return nil, fmt.Errorf("error reading %s: expected %d samples: %w", filepath.Base(path), n, err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
	}
	return out, nil
}

// channelInfo pulls labels and types out of chanlocs, defaulting to E<n>/EEG
// when chanlocs is missing or does not match the channel count.
func channelInfo(chanlocs *Array, n int) ([]string, []string) {
	labels := make([]string, n)
	types := make([]string, n)
	usable := chanlocs != nil && chanlocs.Class == ClassStruct && len(chanlocs.Elems) == n
	for i := 0; i < n; i++ {
		labels[i] = "E" + strconv.Itoa(i+1)
		types[i] = "EEG"
		if !usable {
			continue
		}
		if l := chanlocs.Field(i, "labels"); l != nil && l.Class == ClassChar && strings.TrimSpace(l.String()) != "" {
			labels[i] = strings.TrimSpace(l.String())
		}
		if t := chanlocs.Field(i, "type"); t != nil && t.Class == ClassChar && strings.TrimSpace(t.String()) != "" {
			types[i] = strings.ToUpper(strings.TrimSpace(t.String()))
		}
	}
	return labels, types
}
