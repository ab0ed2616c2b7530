package edfparser

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Recording is a fully loaded EDF/BDF file. Samples are kept as digital
// values so that a file can be rewritten without requantisation.
type Recording struct {
	Header  Header
	Signals []Signal
	// Digital holds every sample of each signal, records concatenated.
	Digital [][]int32
}

// ReadFile loads header and all data records of an EDF or BDF file.
func ReadFile(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening input file: %w", err)
	}
	defer f.Close()

	header, signals, err := ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("header parsing failed: %w", err)
	}
	if header.NRecords < 0 {
		if header.NRecords, err = recordsFromSize(f, header, signals); err != nil {
			return nil, err
		}
	}

	rec := &Recording{
		Header:  header,
		Signals: signals,
		Digital: make([][]int32, len(signals)),
	}
	for i, s := range signals {
		rec.Digital[i] = make([]int32, 0, s.NSamples*header.NRecords)
	}

	r := bufio.NewReader(f)
	recordBuffer := make([]byte, calculateBytesPerRecord(signals, header.Format))
	for n := 0; n < header.NRecords; n++ {
		if _, err := io.ReadFull(r, recordBuffer); err != nil {
			return nil, fmt.Errorf("error reading record %d: %w", n, err)
		}
		data, err := decodeRecord(recordBuffer, signals, header.Format)
		if err != nil {
			return nil, fmt.Errorf("error parsing record %d: %w", n, err)
		}
		for i := range data {
			rec.Digital[i] = append(rec.Digital[i], data[i]...)
		}
	}
	return rec, nil
}

// recordsFromSize derives the record count for files written with -1 in the
// header (recording still in progress when the header was written).
func recordsFromSize(f *os.File, header Header, signals []Signal) (int, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("error reading file size: %w", err)
	}
	perRecord := int64(calculateBytesPerRecord(signals, header.Format))
	if perRecord == 0 {
		return 0, fmt.Errorf("signals declare no samples")
	}
	return int((info.Size() - int64(header.HeaderBytes)) / perRecord), nil
}

// SampleRate returns the sampling frequency of signal i in Hz.
func (r *Recording) SampleRate(i int) float64 {
	if r.Header.RecordDuration <= 0 {
		return float64(r.Signals[i].NSamples)
	}
	return float64(r.Signals[i].NSamples) / r.Header.RecordDuration
}

// Duration is the recording length in seconds.
func (r *Recording) Duration() float64 {
	return float64(r.Header.NRecords) * r.Header.RecordDuration
}

// Labels returns the labels of every signal, annotation channels included.
func (r *Recording) Labels() []string {
	labels := make([]string, len(r.Signals))
	for i, s := range r.Signals {
		labels[i] = s.Label
	}
	return labels
}

// DataSignals returns the indices of all non-annotation signals.
func (r *Recording) DataSignals() []int {
	var idx []int
	for i, s := range r.Signals {
		if !s.IsAnnotation() {
			idx = append(idx, i)
		}
	}
	return idx
}

// Physical returns signal i scaled to physical units.
func (r *Recording) Physical(i int) []float64 {
	sc := calculateScalingFactors(r.Signals[i : i+1])[0]
	out := make([]float64, len(r.Digital[i]))
	for j, d := range r.Digital[i] {
		out[j] = float64(d)*sc.Scale + sc.Offset
	}
	return out
}

// DropSignal removes signal i together with its samples.
func (r *Recording) DropSignal(i int) error {
	if i < 0 || i >= len(r.Signals) {
		return fmt.Errorf("signal index %d out of range [0,%d)", i, len(r.Signals))
	}
	r.Signals = append(r.Signals[:i:i], r.Signals[i+1:]...)
	r.Digital = append(r.Digital[:i:i], r.Digital[i+1:]...)
	r.Header.NSignals = len(r.Signals)
	r.Header.HeaderBytes = 256 * (len(r.Signals) + 1)
	return nil
}

// ChannelData is one channel of physical samples handed to NewRecording.
type ChannelData struct {
	Label      string
	Transducer string
	Units      string
	Samples    []float64
}

// RecordingInfo carries the identification fields of a new recording.
type RecordingInfo struct {
	PatientID   string
	RecordingID string
	Start       time.Time
	SampleRate  float64
}

// DefaultStart is the EDF+ convention for an anonymised start date.
var DefaultStart = time.Date(1985, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewRecording quantises physical samples into an EDF or BDF recording. All
// channels share the sample rate in info.
func NewRecording(format Format, info RecordingInfo, channels []ChannelData) (*Recording, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels to write")
	}
	duration, perRecord, err := recordLayout(info.SampleRate)
	if err != nil {
		return nil, err
	}

	nSamples := len(channels[0].Samples)
	for _, ch := range channels {
		if len(ch.Samples) != nSamples {
			return nil, fmt.Errorf("channel %s has %d samples, expected %d", ch.Label, len(ch.Samples), nSamples)
		}
	}
	nRecords := (nSamples + perRecord - 1) / perRecord
	if nRecords == 0 {
		nRecords = 1
	}

	start := info.Start
	if start.IsZero() {
		start = DefaultStart
	}
	header := Header{
		Format:         format,
		Version:        "0",
		PatientID:      orX(info.PatientID),
		RecordingID:    orX(info.RecordingID),
		StartDate:      start.Format("02.01.06"),
		StartTime:      start.Format("15.04.05"),
		HeaderBytes:    256 * (len(channels) + 1),
		NRecords:       nRecords,
		RecordDuration: duration,
		NSignals:       len(channels),
	}
	if format == BDF {
		header.Version = "BIOSEMI"
		header.Reserved = "24BIT"
	}

	digMin, digMax := format.DigitalRange()
	rec := &Recording{Header: header}
	for _, ch := range channels {
		physMin, physMax, err := physicalBounds(ch.Samples)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Label, err)
		}
		sig := Signal{
			Label:       ch.Label,
			Transducer:  ch.Transducer,
			Units:       ch.Units,
			PhysicalMin: physMin,
			PhysicalMax: physMax,
			DigitalMin:  digMin,
			DigitalMax:  digMax,
			NSamples:    perRecord,
		}
		sc := calculateScalingFactors([]Signal{sig})[0]
		digital := make([]int32, nRecords*perRecord)
		zero := quantise(0, sc, digMin, digMax)
		for j := range digital {
			if j < nSamples {
				digital[j] = quantise(ch.Samples[j], sc, digMin, digMax)
			} else {
				digital[j] = zero
			}
		}
		rec.Signals = append(rec.Signals, sig)
		rec.Digital = append(rec.Digital, digital)
	}
	return rec, nil
}

func orX(s string) string {
	if strings.TrimSpace(s) == "" {
		return "X"
	}
	return s
}

// recordLayout picks a record duration (whole seconds) holding an integral
// number of samples.
func recordLayout(rate float64) (float64, int, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, 0, fmt.Errorf("invalid sample rate %v", rate)
	}
	for d := 1; d <= 60; d++ {
		n := rate * float64(d)
		if math.Abs(n-math.Round(n)) < 1e-6 {
			return float64(d), int(math.Round(n)), nil
		}
	}
	return 0, 0, fmt.Errorf("sample rate %v Hz does not fit an integral record length", rate)
}

// physicalBounds returns header-representable bounds enclosing every sample.
func physicalBounds(samples []float64) (float64, float64, error) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range samples {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		lo, hi = -1, 1
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	los, err := formatHeaderFloat(lo, math.Floor)
	if err != nil {
		return 0, 0, err
	}
	his, err := formatHeaderFloat(hi, math.Ceil)
	if err != nil {
		return 0, 0, err
	}
	lo, _ = strconv.ParseFloat(los, 64)
	hi, _ = strconv.ParseFloat(his, 64)
	return lo, hi, nil
}

func quantise(v float64, sc ScalingFactors, digMin, digMax int) int32 {
	if math.IsNaN(v) {
		v = 0
	}
	d := math.Round((v - sc.Offset) / sc.Scale)
	if d < float64(digMin) {
		d = float64(digMin)
	}
	if d > float64(digMax) {
		d = float64(digMax)
	}
	return int32(d)
}

// formatHeaderFloat renders v in at most 8 characters, rounding in the
// direction given by round so that bounds stay enclosing. Magnitudes of 1e8
// and above have no 8-character form and return ErrHeaderValue.
func formatHeaderFloat(v float64, round func(float64) float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("%v: %w", v, ErrHeaderValue)
	}
	for prec := 6; prec >= 0; prec-- {
		p := math.Pow(10, float64(prec))
		r := round(v*p) / p
		s := strconv.FormatFloat(r, 'f', prec, 64)
		if strings.Contains(s, ".") {
			s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
		}
		if s == "-0" {
			s = "0"
		}
		if len(s) <= 8 {
			return s, nil
		}
	}
	return "", fmt.Errorf("%v: %w", v, ErrHeaderValue)
}

// Write encodes the recording in the format recorded in its header.
func (r *Recording) Write(w io.Writer) error {
	h := r.Header
	if len(r.Digital) != len(r.Signals) {
		return fmt.Errorf("recording has %d signal headers but %d sample sets", len(r.Signals), len(r.Digital))
	}

	duration, err := formatHeaderFloat(h.RecordDuration, math.Round)
	if err != nil {
		return fmt.Errorf("record duration: %w", err)
	}
	physMin := make([]string, len(r.Signals))
	physMax := make([]string, len(r.Signals))
	for i, s := range r.Signals {
		if physMin[i], err = formatHeaderFloat(s.PhysicalMin, math.Round); err != nil {
			return fmt.Errorf("signal %s physical minimum: %w", s.Label, err)
		}
		if physMax[i], err = formatHeaderFloat(s.PhysicalMax, math.Round); err != nil {
			return fmt.Errorf("signal %s physical maximum: %w", s.Label, err)
		}
	}

	bw := bufio.NewWriter(w)
	var head strings.Builder
	if h.Format == BDF {
		head.WriteString(bdfMagic)
	} else {
		head.WriteString(field(h.Version, 8))
	}
	head.WriteString(field(h.PatientID, 80))
	head.WriteString(field(h.RecordingID, 80))
	head.WriteString(field(h.StartDate, 8))
	head.WriteString(field(h.StartTime, 8))
	head.WriteString(field(strconv.Itoa(256*(len(r.Signals)+1)), 8))
	head.WriteString(field(h.Reserved, 44))
	head.WriteString(field(strconv.Itoa(h.NRecords), 8))
	head.WriteString(field(duration, 8))
	head.WriteString(field(strconv.Itoa(len(r.Signals)), 4))

	columns := []struct {
		size  int
		value func(int, Signal) string
	}{
		{16, func(_ int, s Signal) string { return s.Label }},
		{80, func(_ int, s Signal) string { return s.Transducer }},
		{8, func(_ int, s Signal) string { return s.Units }},
		{8, func(i int, _ Signal) string { return physMin[i] }},
		{8, func(i int, _ Signal) string { return physMax[i] }},
		{8, func(_ int, s Signal) string { return strconv.Itoa(s.DigitalMin) }},
		{8, func(_ int, s Signal) string { return strconv.Itoa(s.DigitalMax) }},
		{80, func(_ int, s Signal) string { return s.Prefiltering }},
		{8, func(_ int, s Signal) string { return strconv.Itoa(s.NSamples) }},
		{32, func(_ int, s Signal) string { return s.Reserved }},
	}
	for _, col := range columns {
		for i, s := range r.Signals {
			head.WriteString(field(col.value(i, s), col.size))
		}
	}
	if _, err := bw.WriteString(head.String()); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	width := h.Format.SampleBytes()
	buf := make([]byte, calculateBytesPerRecord(r.Signals, h.Format))
	for n := 0; n < h.NRecords; n++ {
		offset := 0
		for i, s := range r.Signals {
			from := n * s.NSamples
			if from+s.NSamples > len(r.Digital[i]) {
				return fmt.Errorf("signal %s, record %d: %w", s.Label, n, ErrTruncated)
			}
			for _, d := range r.Digital[i][from : from+s.NSamples] {
				encodeSample(buf[offset:offset+width], d, h.Format)
				offset += width
			}
		}
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("error writing record %d: %w", n, err)
		}
	}
	return bw.Flush()
}

// WriteFile writes the recording to a temporary file next to path and renames
// it into place, so a failed write never leaves a partial file behind.
func (r *Recording) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := r.Write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error closing output file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("error setting output file mode: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// field left-justifies s in a space padded ASCII field of the given width.
func field(s string, width int) string {
	b := []byte(s)
	for i, c := range b {
		if c < 32 || c > 126 {
			b[i] = '_'
		}
	}
	if len(b) > width {
		b = b[:width]
	}
	return string(b) + strings.Repeat(" ", width-len(b))
}
