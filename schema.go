package cstore

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Type is a column type.
type Type uint8

// Supported column types and the Go values that represent them.
const (
	TypeBool      Type = iota + 1 // bool
	TypeInt16                     // int16
	TypeInt32                     // int32
	TypeInt64                     // int64
	TypeFloat32                   // float32
	TypeFloat64                   // float64
	TypeString                    // string
	TypeBytes                     // []byte
	TypeTimestamp                 // time.Time, truncated to microseconds, read as UTC
	maxType
)

var typeNames = map[Type]string{
	TypeBool:      "bool",
	TypeInt16:     "int16",
	TypeInt32:     "int32",
	TypeInt64:     "int64",
	TypeFloat32:   "float32",
	TypeFloat64:   "float64",
	TypeString:    "string",
	TypeBytes:     "bytes",
	TypeTimestamp: "timestamp",
}

func (t Type) isValid() bool { return t > 0 && t < maxType }

// Ordered returns true if values of the type support ordering comparisons,
// in which case blocks carry min/max statistics.
func (t Type) Ordered() bool { return t.isValid() && t != TypeBytes }

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType parses a type name.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("cstore: unknown type %q", s)
}

// Column describes a single table column.
type Column struct {
	Name string
	Type Type
}

// Schema is the ordered list of table columns.
type Schema []Column

// All returns the indexes of all columns, for use as a projection.
func (s Schema) All() []int {
	cols := make([]int, len(s))
	for i := range cols {
		cols[i] = i
	}
	return cols
}

// Index returns the position of the named column or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) validate() error {
	if len(s) == 0 {
		return errNoColumns
	}
	for i, c := range s {
		if !c.Type.isValid() {
			return fmt.Errorf("cstore: column %d (%q) has invalid type %v", i, c.Name, c.Type)
		}
	}
	return nil
}

// --------------------------------------------------------------------

func checkValue(t Type, v interface{}) bool {
	switch v.(type) {
	case bool:
		return t == TypeBool
	case int16:
		return t == TypeInt16
	case int32:
		return t == TypeInt32
	case int64:
		return t == TypeInt64
	case float32:
		return t == TypeFloat32
	case float64:
		return t == TypeFloat64
	case string:
		return t == TypeString
	case []byte:
		return t == TypeBytes
	case time.Time:
		return t == TypeTimestamp
	}
	return false
}

// appendValue appends the binary encoding of v to dst. The value must have
// passed checkValue.
func appendValue(dst []byte, t Type, v interface{}) []byte {
	switch t {
	case TypeBool:
		if v.(bool) {
			return append(dst, 1)
		}
		return append(dst, 0)
	case TypeInt16:
		return binary.LittleEndian.AppendUint16(dst, uint16(v.(int16)))
	case TypeInt32:
		return binary.LittleEndian.AppendUint32(dst, uint32(v.(int32)))
	case TypeInt64:
		return binary.LittleEndian.AppendUint64(dst, uint64(v.(int64)))
	case TypeFloat32:
		return binary.LittleEndian.AppendUint32(dst, math.Float32bits(v.(float32)))
	case TypeFloat64:
		return binary.LittleEndian.AppendUint64(dst, math.Float64bits(v.(float64)))
	case TypeString:
		s := v.(string)
		dst = binary.AppendUvarint(dst, uint64(len(s)))
		return append(dst, s...)
	case TypeBytes:
		p := v.([]byte)
		dst = binary.AppendUvarint(dst, uint64(len(p)))
		return append(dst, p...)
	case TypeTimestamp:
		return binary.LittleEndian.AppendUint64(dst, uint64(v.(time.Time).UnixMicro()))
	}
	return dst
}

var fixedWidth = map[Type]int{
	TypeBool:      1,
	TypeInt16:     2,
	TypeInt32:     4,
	TypeInt64:     8,
	TypeFloat32:   4,
	TypeFloat64:   8,
	TypeTimestamp: 8,
}

// readValue decodes a single value from src and returns it along with the
// number of bytes consumed. Decoded strings and byte slices are copies.
func readValue(t Type, src []byte) (interface{}, int, error) {
	if w, ok := fixedWidth[t]; ok && len(src) < w {
		return nil, 0, ErrCorrupt
	}

	switch t {
	case TypeBool:
		return src[0] != 0, 1, nil
	case TypeInt16:
		return int16(binary.LittleEndian.Uint16(src)), 2, nil
	case TypeInt32:
		return int32(binary.LittleEndian.Uint32(src)), 4, nil
	case TypeInt64:
		return int64(binary.LittleEndian.Uint64(src)), 8, nil
	case TypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(src)), 4, nil
	case TypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(src)), 8, nil
	case TypeTimestamp:
		return time.UnixMicro(int64(binary.LittleEndian.Uint64(src))).UTC(), 8, nil
	case TypeString, TypeBytes:
		sz, n := binary.Uvarint(src)
		if n <= 0 || uint64(len(src)-n) < sz {
			return nil, 0, ErrCorrupt
		}
		end := n + int(sz)
		if t == TypeString {
			return string(src[n:end]), end, nil
		}
		return append([]byte{}, src[n:end]...), end, nil
	}
	return nil, 0, ErrCorrupt
}

// compareValues compares two values of an ordered type. Floats follow
// cmp.Compare, so NaN sorts before all other values.
func compareValues(t Type, a, b interface{}) int {
	switch t {
	case TypeBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case TypeInt16:
		return cmp.Compare(a.(int16), b.(int16))
	case TypeInt32:
		return cmp.Compare(a.(int32), b.(int32))
	case TypeInt64:
		return cmp.Compare(a.(int64), b.(int64))
	case TypeFloat32:
		return cmp.Compare(a.(float32), b.(float32))
	case TypeFloat64:
		return cmp.Compare(a.(float64), b.(float64))
	case TypeString:
		return strings.Compare(a.(string), b.(string))
	case TypeTimestamp:
		return a.(time.Time).Compare(b.(time.Time))
	}
	return 0
}
