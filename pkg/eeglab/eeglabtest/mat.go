// Package eeglabtest builds little-endian MAT v5 files and EEGLAB datasets
// for tests.
package eeglabtest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"unicode/utf16"
)

const (
	miINT8       = 1
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miMATRIX     = 14
	miCOMPRESSED = 15
)

// Array classes used by the builders.
const (
	ClassCell   uint8 = 1
	ClassStruct uint8 = 2
	ClassChar   uint8 = 4
	ClassDouble uint8 = 6
	ClassSingle uint8 = 7
)

func header() []byte {
	h := make([]byte, 128)
	copy(h, "MATLAB 5.0 MAT-file, Platform: GLNXA64, Created on: Mon Jan  1 00:00:00 2024")
	for i := 76; i < 116; i++ {
		h[i] = ' '
	}
	binary.LittleEndian.PutUint16(h[124:], 0x0100)
	copy(h[126:], "IM")
	return h
}

func element(typ uint32, data []byte) []byte {
	if len(data) > 0 && len(data) <= 4 && typ != miMATRIX {
		out := make([]byte, 8)
		binary.LittleEndian.PutUint32(out, uint32(len(data))<<16|typ)
		copy(out[4:], data)
		return out
	}
	out := make([]byte, 8, 16+len(data))
	binary.LittleEndian.PutUint32(out, typ)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(data)))
	out = append(out, data...)
	for len(out)%8 != 0 {
		out = append(out, 0)
	}
	return out
}

func int32s(vals ...int) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], uint32(int32(v)))
	}
	return b
}

// Matrix encodes an miMATRIX element with the given class and body elements.
func Matrix(name string, class uint8, dims []int, body ...[]byte) []byte {
	flags := make([]byte, 8)
	flags[0] = class
	content := append(element(miUINT32, flags), element(miINT32, int32s(dims...))...)
	content = append(content, element(miINT8, []byte(name))...)
	for _, b := range body {
		content = append(content, b...)
	}
	return element(miMATRIX, content)
}

// Double encodes a double matrix; vals are column-major.
func Double(name string, dims []int, vals ...float64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return Matrix(name, ClassDouble, dims, element(miDOUBLE, b))
}

// Single encodes a single-precision matrix; vals are column-major.
func Single(name string, dims []int, vals ...float64) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(float32(v)))
	}
	return Matrix(name, ClassSingle, dims, element(miSINGLE, b))
}

// Scalar encodes a 1x1 double.
func Scalar(name string, v float64) []byte {
	return Double(name, []int{1, 1}, v)
}

// Char encodes a 1xN UTF-16 char array.
func Char(name, s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(u))
	for i, c := range u {
		binary.LittleEndian.PutUint16(b[2*i:], c)
	}
	return Matrix(name, ClassChar, []int{1, len(u)}, element(miUINT16, b))
}

// Struct encodes a struct array. Each elem holds one encoded matrix per
// field, in field order; names inside them are ignored by readers.
func Struct(name string, dims []int, fields []string, elems ...[][]byte) []byte {
	const nameLen = 32
	names := make([]byte, nameLen*len(fields))
	for i, f := range fields {
		copy(names[i*nameLen:], f)
	}
	body := [][]byte{element(miINT32, int32s(nameLen)), element(miINT8, names)}
	for _, e := range elems {
		body = append(body, e...)
	}
	return Matrix(name, ClassStruct, dims, body...)
}

// Cell encodes a 1xN cell array.
func Cell(name string, cells ...[]byte) []byte {
	return Matrix(name, ClassCell, []int{1, len(cells)}, cells...)
}

// Compressed wraps an element in an miCOMPRESSED element.
func Compressed(elem []byte) []byte {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	zw.Write(elem)
	zw.Close()
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out, miCOMPRESSED)
	binary.LittleEndian.PutUint32(out[4:], uint32(buf.Len()))
	return append(out, buf.Bytes()...)
}

// File prepends the 128-byte header to the given variables.
func File(vars ...[]byte) []byte {
	out := header()
	for _, v := range vars {
		out = append(out, v...)
	}
	return out
}

// Chanlocs encodes a 1xN chanlocs struct with labels and type fields.
func Chanlocs(labels ...string) []byte {
	elems := make([][][]byte, len(labels))
	for i, l := range labels {
		elems[i] = [][]byte{Char("", l), Char("", "EEG")}
	}
	return Struct("chanlocs", []int{1, len(labels)}, []string{"labels", "type"}, elems...)
}

// WriteSet writes a single-trial EEGLAB dataset with inline data, stored as a
// compressed EEG struct. data is indexed [channel][sample].
func WriteSet(path string, rate float64, labels []string, data [][]float64) error {
	pnts := 0
	if len(data) > 0 {
		pnts = len(data[0])
	}
	flat := make([]float64, 0, len(data)*pnts)
	for s := 0; s < pnts; s++ {
		for ch := range data {
			flat = append(flat, data[ch][s])
		}
	}
	eeg := Struct("EEG", []int{1, 1},
		[]string{"setname", "nbchan", "trials", "pnts", "srate", "data", "chanlocs"},
		[][]byte{
			Char("", "test"),
			Scalar("", float64(len(data))),
			Scalar("", 1),
			Scalar("", float64(pnts)),
			Scalar("", rate),
			Single("", []int{len(data), pnts}, flat...),
			Chanlocs(labels...),
		})
	return os.WriteFile(path, File(Compressed(eeg)), 0o644)
}
