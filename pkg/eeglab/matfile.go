// Package eeglab reads EEGLAB datasets (.set, with optional .fdt sample files).
//
// A .set file is a MATLAB level 5 MAT-file. The reader here decodes the
// subset of the format EEGLAB writes: numeric and logical arrays, char
// arrays, structs, cells and zlib-compressed elements.
package eeglab

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"unicode/utf16"
)

// ErrHDF5 is returned for MAT v7.3 files, which are HDF5 containers.
var ErrHDF5 = errors.New("MAT v7.3 (HDF5) files are not supported")

// MAT element data types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
	miUTF16      = 17
	miUTF32      = 18
)

// Class is the MATLAB array class stored in the array flags.
type Class uint8

const (
	ClassEmpty  Class = 0
	ClassCell   Class = 1
	ClassStruct Class = 2
	ClassObject Class = 3
	ClassChar   Class = 4
	ClassSparse Class = 5
	ClassDouble Class = 6
	ClassSingle Class = 7
	ClassInt8   Class = 8
	ClassUint8  Class = 9
	ClassInt16  Class = 10
	ClassUint16 Class = 11
	ClassInt32  Class = 12
	ClassUint32 Class = 13
	ClassInt64  Class = 14
	ClassUint64 Class = 15
)

// IsNumeric reports whether the class holds numbers (logical arrays included).
func (c Class) IsNumeric() bool {
	return c >= ClassDouble && c <= ClassUint64
}

// Array is a decoded MATLAB variable.
type Array struct {
	Name  string
	Class Class
	Dims  []int

	// Numeric and logical arrays, column-major.
	Data []float64
	// Char arrays, one entry per row.
	Rows []string
	// Structs and objects: field order and one map per element, column-major.
	Fields []string
	Elems  []map[string]*Array
	// Cells, column-major.
	Cells []*Array
}

// Len is the number of elements (product of the dimensions).
func (a *Array) Len() int {
	if a == nil || len(a.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range a.Dims {
		n *= d
	}
	return n
}

// Scalar returns the first numeric value.
func (a *Array) Scalar() (float64, bool) {
	if a == nil || !a.Class.IsNumeric() || len(a.Data) == 0 {
		return 0, false
	}
	return a.Data[0], true
}

// String returns the text of a char array, rows joined by newlines.
func (a *Array) String() string {
	if a == nil {
		return ""
	}
	return strings.Join(a.Rows, "\n")
}

// Field returns field name of struct element i, or nil.
func (a *Array) Field(i int, name string) *Array {
	if a == nil || i < 0 || i >= len(a.Elems) {
		return nil
	}
	return a.Elems[i][name]
}

// MatFile is the content of a level 5 MAT-file.
type MatFile struct {
	Description string
	Vars        []*Array
}

// Var returns the top-level variable with the given name, or nil.
func (m *MatFile) Var(name string) *Array {
	for _, v := range m.Vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// ReadMAT decodes a level 5 MAT-file.
func ReadMAT(r io.Reader) (*MatFile, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading MAT-file: %w", err)
	}
	if len(buf) < 128 {
		return nil, fmt.Errorf("MAT-file header truncated (%d bytes)", len(buf))
	}

	desc := strings.TrimRight(string(buf[:116]), " \x00")
	if strings.Contains(desc, "MATLAB 7.3") || (len(buf) >= 516 && string(buf[512:516]) == "\x89HDF") {
		return nil, ErrHDF5
	}
	if !strings.HasPrefix(desc, "MATLAB 5.0 MAT-file") {
		return nil, fmt.Errorf("not a MAT-file: %q", truncate(desc, 40))
	}

	p := &matParser{}
	switch string(buf[126:128]) {
	case "IM":
		p.order = binary.LittleEndian
	case "MI":
		p.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("invalid MAT-file endian indicator %q", buf[126:128])
	}

	m := &MatFile{Description: desc}
	rest := buf[128:]
	for len(rest) >= 8 {
		typ, data, next, err := p.element(rest)
		if err != nil {
			return nil, err
		}
		rest = next

		if typ == miCOMPRESSED {
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return nil, fmt.Errorf("error opening compressed element: %w", err)
			}
			inflated, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("error inflating compressed element: %w", err)
			}
			typ, data, _, err = p.element(inflated)
			if err != nil {
				return nil, err
			}
		}
		if typ != miMATRIX {
			continue
		}
		v, err := p.matrix(data)
		if err != nil {
			return nil, err
		}
		m.Vars = append(m.Vars, v)
	}
	return m, nil
}

type matParser struct {
	order binary.ByteOrder
}

// element splits the next data element off b. Small elements pack type and
// size into the first four bytes and occupy eight bytes in total.
func (p *matParser) element(b []byte) (uint32, []byte, []byte, error) {
	if len(b) < 8 {
		return 0, nil, nil, fmt.Errorf("data element tag truncated")
	}
	first := p.order.Uint32(b[0:4])
	if size := first >> 16; size != 0 {
		if size > 4 {
			return 0, nil, nil, fmt.Errorf("invalid small data element size %d", size)
		}
		return first & 0xffff, b[4 : 4+size], b[8:], nil
	}

	typ := first
	size := int(p.order.Uint32(b[4:8]))
	if size < 0 || 8+size > len(b) {
		return 0, nil, nil, fmt.Errorf("data element of type %d overruns file (%d bytes)", typ, size)
	}
	data := b[8 : 8+size]
	end := 8 + size
	if typ != miCOMPRESSED {
		end = 8 + (size+7)/8*8
	}
	if end > len(b) {
		end = len(b)
	}
	return typ, data, b[end:], nil
}

func (p *matParser) matrix(b []byte) (*Array, error) {
	a := &Array{}
	if len(b) == 0 {
		a.Dims = []int{0, 0}
		return a, nil
	}

	typ, flags, rest, err := p.element(b)
	if err != nil || typ != miUINT32 || len(flags) < 4 {
		return nil, fmt.Errorf("invalid array flags")
	}
	word := p.order.Uint32(flags[0:4])
	// Imaginary parts (flag 0x0800) are never read back.
	a.Class = Class(word & 0xff)

	typ, dims, rest, err := p.element(rest)
	if err != nil || typ != miINT32 {
		return nil, fmt.Errorf("invalid array dimensions")
	}
	for _, d := range p.numbers(typ, dims) {
		a.Dims = append(a.Dims, int(d))
	}

	typ, name, rest, err := p.element(rest)
	if err != nil || (typ != miINT8 && typ != miUINT8) {
		return nil, fmt.Errorf("invalid array name")
	}
	a.Name = string(name)

	if len(rest) == 0 && a.Len() == 0 {
		return a, nil
	}

	switch a.Class {
	case ClassCell:
		for i := 0; i < a.Len(); i++ {
			var data []byte
			typ, data, rest, err = p.element(rest)
			if err != nil || typ != miMATRIX {
				return nil, fmt.Errorf("%s: invalid cell %d", a.Name, i)
			}
			cell, err := p.matrix(data)
			if err != nil {
				return nil, fmt.Errorf("%s{%d}: %w", a.Name, i, err)
			}
			a.Cells = append(a.Cells, cell)
		}

	case ClassStruct, ClassObject:
		if a.Class == ClassObject {
			if _, _, rest, err = p.element(rest); err != nil {
				return nil, fmt.Errorf("%s: invalid class name", a.Name)
			}
		}
		var lenData, namesData []byte
		if typ, lenData, rest, err = p.element(rest); err != nil || typ != miINT32 || len(lenData) < 4 {
			return nil, fmt.Errorf("%s: invalid field name length", a.Name)
		}
		nameLen := int(p.numbers(typ, lenData)[0])
		if typ, namesData, rest, err = p.element(rest); err != nil || nameLen <= 0 {
			return nil, fmt.Errorf("%s: invalid field names", a.Name)
		}
		for off := 0; off+nameLen <= len(namesData); off += nameLen {
			a.Fields = append(a.Fields, strings.TrimRight(string(namesData[off:off+nameLen]), "\x00"))
		}
		for i := 0; i < a.Len(); i++ {
			elem := make(map[string]*Array, len(a.Fields))
			for _, f := range a.Fields {
				var data []byte
				typ, data, rest, err = p.element(rest)
				if err != nil || typ != miMATRIX {
					return nil, fmt.Errorf("%s(%d).%s: invalid field", a.Name, i, f)
				}
				v, err := p.matrix(data)
				if err != nil {
					return nil, fmt.Errorf("%s(%d).%s: %w", a.Name, i, f, err)
				}
				v.Name = f
				elem[f] = v
			}
			a.Elems = append(a.Elems, elem)
		}

	case ClassChar:
		var data []byte
		if typ, data, _, err = p.element(rest); err != nil {
			return nil, fmt.Errorf("%s: invalid char data", a.Name)
		}
		a.Rows = charRows(p.chars(typ, data), a.Dims)

	case ClassSparse:
		// not used by EEGLAB datasets; kept as an empty array

	default:
		if !a.Class.IsNumeric() {
			return nil, fmt.Errorf("%s: unsupported array class %d", a.Name, a.Class)
		}
		var data []byte
		if typ, data, _, err = p.element(rest); err != nil {
			return nil, fmt.Errorf("%s: invalid numeric data", a.Name)
		}
		a.Data = p.numbers(typ, data)
		if len(a.Data) != a.Len() {
			return nil, fmt.Errorf("%s: %d values for dimensions %v", a.Name, len(a.Data), a.Dims)
		}
	}
	return a, nil
}

func (p *matParser) numbers(typ uint32, b []byte) []float64 {
	var width int
	switch typ {
	case miINT8, miUINT8:
		width = 1
	case miINT16, miUINT16:
		width = 2
	case miINT32, miUINT32, miSINGLE:
		width = 4
	case miDOUBLE, miINT64, miUINT64:
		width = 8
	default:
		return nil
	}
	out := make([]float64, len(b)/width)
	for i := range out {
		v := b[i*width : (i+1)*width]
		switch typ {
		case miINT8:
			out[i] = float64(int8(v[0]))
		case miUINT8:
			out[i] = float64(v[0])
		case miINT16:
			out[i] = float64(int16(p.order.Uint16(v)))
		case miUINT16:
			out[i] = float64(p.order.Uint16(v))
		case miINT32:
			out[i] = float64(int32(p.order.Uint32(v)))
		case miUINT32:
			out[i] = float64(p.order.Uint32(v))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(p.order.Uint32(v)))
		case miDOUBLE:
			out[i] = math.Float64frombits(p.order.Uint64(v))
		case miINT64:
			out[i] = float64(int64(p.order.Uint64(v)))
		case miUINT64:
			out[i] = float64(p.order.Uint64(v))
		}
	}
	return out
}

func (p *matParser) chars(typ uint32, b []byte) []rune {
	switch typ {
	case miUTF8:
		return []rune(string(b))
	case miUTF16:
		u := make([]uint16, len(b)/2)
		for i := range u {
			u[i] = p.order.Uint16(b[2*i:])
		}
		return utf16.Decode(u)
	}
	vals := p.numbers(typ, b)
	out := make([]rune, len(vals))
	for i, v := range vals {
		out[i] = rune(v)
	}
	return out
}

// charRows turns a column-major char matrix into its rows.
func charRows(chars []rune, dims []int) []string {
	if len(dims) < 2 || dims[0] == 0 {
		return nil
	}
	nRows := dims[0]
	nCols := len(chars) / nRows
	rows := make([]string, nRows)
	for r := 0; r < nRows; r++ {
		row := make([]rune, 0, nCols)
		for c := 0; c < nCols; c++ {
			row = append(row, chars[r+c*nRows])
		}
		rows[r] = strings.TrimRight(string(row), " \x00")
	}
	return rows
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
