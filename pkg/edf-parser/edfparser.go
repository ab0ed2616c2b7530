package edfparser

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Format distinguishes the 16-bit EDF layout from the 24-bit BioSemi variant.
type Format int

const (
	EDF Format = iota
	BDF
)

func (f Format) String() string {
	if f == BDF {
		return "BDF"
	}
	return "EDF"
}

// Ext returns the file extension, including the dot.
func (f Format) Ext() string {
	if f == BDF {
		return ".bdf"
	}
	return ".edf"
}

// SampleBytes is the width of one stored sample.
func (f Format) SampleBytes() int {
	if f == BDF {
		return 3
	}
	return 2
}

// DigitalRange returns the full digital range representable by the format.
func (f Format) DigitalRange() (int, int) {
	if f == BDF {
		return -8388608, 8388607
	}
	return -32768, 32767
}

// ParseFormat accepts "edf"/"bdf" in any case, with or without a leading dot.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "edf":
		return EDF, nil
	case "bdf":
		return BDF, nil
	}
	return EDF, fmt.Errorf("unknown signal format %q", s)
}

const bdfMagic = "\xffBIOSEMI"

var ErrTruncated = errors.New("truncated data record")

// ErrHeaderValue marks a number that cannot be written into an 8-character
// header field.
var ErrHeaderValue = errors.New("value does not fit an 8-character header field")

type Header struct {
	Format         Format  `json:"-"`
	Version        string  `json:"version"`
	PatientID      string  `json:"patient_id"`
	RecordingID    string  `json:"recording_id"`
	StartDate      string  `json:"start_date"`
	StartTime      string  `json:"start_time"`
	HeaderBytes    int     `json:"header_bytes"`
	Reserved       string  `json:"reserved"`
	NRecords       int     `json:"num_records"`
	RecordDuration float64 `json:"record_duration"`
	NSignals       int     `json:"num_signals"`
}

type Signal struct {
	Label        string  `json:"label"`
	Transducer   string  `json:"transducer"`
	Units        string  `json:"units"`
	PhysicalMin  float64 `json:"physical_min"`
	PhysicalMax  float64 `json:"physical_max"`
	DigitalMin   int     `json:"digital_min"`
	DigitalMax   int     `json:"digital_max"`
	Prefiltering string  `json:"prefiltering"`
	NSamples     int     `json:"num_samples"`
	Reserved     string  `json:"reserved"`
}

// IsAnnotation reports whether the signal is an EDF+/BDF+ annotation channel.
func (s Signal) IsAnnotation() bool {
	return s.Label == "EDF Annotations" || s.Label == "BDF Annotations"
}

type ScalingFactors struct {
	Scale  float64
	Offset float64
}

// StreamToJSON writes the header, signal headers and every data record of an
// EDF or BDF file as one JSON document without holding the recording in memory.
func StreamToJSON(inputPath, outputPath string) error {
	inputFile, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("error opening input file: %w", err)
	}
	defer inputFile.Close()

	outputFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}
	defer outputFile.Close()

	header, signals, err := ReadHeader(inputFile)
	if err != nil {
		return fmt.Errorf("header parsing failed: %w", err)
	}
	if header.NRecords < 0 {
		if header.NRecords, err = recordsFromSize(inputFile, header, signals); err != nil {
			return err
		}
	}

	scalings := calculateScalingFactors(signals)

	if err := writeJSONHeader(outputFile, header, signals); err != nil {
		return err
	}

	return processRecords(inputFile, outputFile, header, signals, scalings)
}

// ReadHeader parses the fixed 256-byte main header and the per-signal headers
// that follow it. The reader is left positioned at the first data record.
func ReadHeader(r io.Reader) (Header, []Signal, error) {
	headerBytes := make([]byte, 256)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return Header{}, nil, fmt.Errorf("error reading main header: %w", err)
	}

	header := Header{
		Version:     strings.TrimSpace(string(headerBytes[0:8])),
		PatientID:   strings.TrimSpace(string(headerBytes[8:88])),
		RecordingID: strings.TrimSpace(string(headerBytes[88:168])),
		StartDate:   strings.TrimSpace(string(headerBytes[168:176])),
		StartTime:   strings.TrimSpace(string(headerBytes[176:184])),
		Reserved:    strings.TrimSpace(string(headerBytes[192:236])),
	}
	if string(headerBytes[0:8]) == bdfMagic {
		header.Format = BDF
		header.Version = strings.TrimPrefix(header.Version, "\xff")
	}

	var err error
	header.HeaderBytes, err = parseHeaderInt(headerBytes[184:192])
	if err != nil {
		return Header{}, nil, fmt.Errorf("invalid header bytes: %w", err)
	}

	header.NRecords, err = parseHeaderInt(headerBytes[236:244])
	if err != nil {
		return Header{}, nil, fmt.Errorf("invalid record count: %w", err)
	}

	header.RecordDuration, err = parseHeaderFloat(headerBytes[244:252])
	if err != nil {
		return Header{}, nil, fmt.Errorf("invalid record duration: %w", err)
	}

	header.NSignals, err = parseHeaderInt(headerBytes[252:256])
	if err != nil {
		return Header{}, nil, fmt.Errorf("invalid signal count: %w", err)
	}
	if header.NSignals <= 0 {
		return Header{}, nil, fmt.Errorf("invalid signal count: %d", header.NSignals)
	}

	signals, err := parseSignalHeaders(r, header.NSignals)
	if err != nil {
		return Header{}, nil, fmt.Errorf("error parsing signal headers: %w", err)
	}

	return header, signals, nil
}

func parseSignalHeaders(r io.Reader, nSignals int) ([]Signal, error) {
	signalHeaderSize := nSignals * 256
	signalHeaderBytes := make([]byte, signalHeaderSize)
	if _, err := io.ReadFull(r, signalHeaderBytes); err != nil {
		return nil, fmt.Errorf("error reading signal headers: %w", err)
	}

	signals := make([]Signal, nSignals)
	float := func(dst *float64) func(string) error {
		return func(v string) (err error) { *dst, err = strconv.ParseFloat(v, 64); return }
	}
	integer := func(dst *int) func(string) error {
		return func(v string) (err error) { *dst, err = strconv.Atoi(v); return }
	}
	text := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}

	currentOffset := 0
	fields := []struct {
		name   string
		size   int
		target func(s *Signal) func(string) error
	}{
		{"label", 16, func(s *Signal) func(string) error { return text(&s.Label) }},
		{"transducer", 80, func(s *Signal) func(string) error { return text(&s.Transducer) }},
		{"units", 8, func(s *Signal) func(string) error { return text(&s.Units) }},
		{"physical minimum", 8, func(s *Signal) func(string) error { return float(&s.PhysicalMin) }},
		{"physical maximum", 8, func(s *Signal) func(string) error { return float(&s.PhysicalMax) }},
		{"digital minimum", 8, func(s *Signal) func(string) error { return integer(&s.DigitalMin) }},
		{"digital maximum", 8, func(s *Signal) func(string) error { return integer(&s.DigitalMax) }},
		{"prefiltering", 80, func(s *Signal) func(string) error { return text(&s.Prefiltering) }},
		{"sample count", 8, func(s *Signal) func(string) error { return integer(&s.NSamples) }},
		{"reserved", 32, func(s *Signal) func(string) error { return text(&s.Reserved) }},
	}

	for _, field := range fields {
		for i := 0; i < nSignals; i++ {
			start := currentOffset + i*field.size
			v := strings.TrimSpace(string(signalHeaderBytes[start : start+field.size]))
			if err := field.target(&signals[i])(v); err != nil {
				return nil, fmt.Errorf("signal %d: invalid %s %q", i, field.name, v)
			}
		}
		currentOffset += field.size * nSignals
	}

	return signals, nil
}

func calculateScalingFactors(signals []Signal) []ScalingFactors {
	scalings := make([]ScalingFactors, len(signals))
	for i, s := range signals {
		digitalRange := s.DigitalMax - s.DigitalMin
		if digitalRange == 0 {
			digitalRange = 1 // Prevent division by zero
		}
		scalings[i].Scale = (s.PhysicalMax - s.PhysicalMin) / float64(digitalRange)
		scalings[i].Offset = s.PhysicalMin - float64(s.DigitalMin)*scalings[i].Scale
	}
	return scalings
}

func writeJSONHeader(w io.Writer, header Header, signals []Signal) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if _, err := w.Write([]byte("{\n  \"format\": \"" + header.Format.String() + "\",\n  \"header\": ")); err != nil {
		return err
	}
	if err := enc.Encode(header); err != nil {
		return err
	}

	if _, err := w.Write([]byte(",\n  \"signals\": ")); err != nil {
		return err
	}
	if err := enc.Encode(signals); err != nil {
		return err
	}

	_, err := w.Write([]byte(",\n  \"data\": [\n"))
	return err
}

func processRecords(inputFile io.Reader, outputFile io.Writer, header Header, signals []Signal, scalings []ScalingFactors) error {
	bytesPerRecord := calculateBytesPerRecord(signals, header.Format)
	recordBuffer := make([]byte, bytesPerRecord)
	enc := json.NewEncoder(outputFile)
	enc.SetIndent("    ", "  ")

	for rec := 0; rec < header.NRecords; rec++ {
		if _, err := io.ReadFull(inputFile, recordBuffer); err != nil {
			return fmt.Errorf("error reading record %d: %w", rec, err)
		}

		recordData, err := parseRecord(recordBuffer, signals, scalings, header.Format)
		if err != nil {
			return fmt.Errorf("error parsing record %d: %w", rec, err)
		}

		if rec > 0 {
			if _, err := outputFile.Write([]byte(",\n")); err != nil {
				return err
			}
		}

		if err := enc.Encode(recordData); err != nil {
			return fmt.Errorf("error encoding record %d: %w", rec, err)
		}
	}

	_, err := outputFile.Write([]byte("\n  ]\n}"))
	return err
}

func calculateBytesPerRecord(signals []Signal, format Format) int {
	total := 0
	for _, s := range signals {
		total += s.NSamples * format.SampleBytes()
	}
	return total
}

// decodeRecord splits one raw data record into digital samples per signal.
func decodeRecord(buffer []byte, signals []Signal, format Format) ([][]int32, error) {
	width := format.SampleBytes()
	data := make([][]int32, len(signals))
	offset := 0

	for sigIdx, signal := range signals {
		requiredBytes := signal.NSamples * width
		if offset+requiredBytes > len(buffer) {
			return nil, fmt.Errorf("buffer overflow in signal %d: %w", sigIdx, ErrTruncated)
		}

		samples := make([]int32, signal.NSamples)
		for i := range samples {
			samples[i] = decodeSample(buffer[offset:offset+width], format)
			offset += width
		}
		data[sigIdx] = samples
	}

	return data, nil
}

func parseRecord(buffer []byte, signals []Signal, scalings []ScalingFactors, format Format) ([][]float64, error) {
	digital, err := decodeRecord(buffer, signals, format)
	if err != nil {
		return nil, err
	}
	data := make([][]float64, len(signals))
	for sigIdx, samples := range digital {
		data[sigIdx] = make([]float64, len(samples))
		for i, d := range samples {
			data[sigIdx][i] = float64(d)*scalings[sigIdx].Scale + scalings[sigIdx].Offset
		}
	}
	return data, nil
}

func decodeSample(b []byte, format Format) int32 {
	if format == BDF {
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v -= 1 << 24
		}
		return v
	}
	return int32(int16(binary.LittleEndian.Uint16(b)))
}

func encodeSample(b []byte, v int32, format Format) {
	if format == BDF {
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
		return
	}
	binary.LittleEndian.PutUint16(b, uint16(int16(v)))
}

func parseHeaderInt(data []byte) (int, error) {
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func parseHeaderFloat(data []byte) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
}
