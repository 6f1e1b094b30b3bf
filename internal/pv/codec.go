package pv

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ReadResult is the raw outcome of one typed read: the DBR_TIME_* payload as
// received from the server, plus the echoed type code and element count.
type ReadResult struct {
	DataType uint16
	Count    int
	Data     []byte
}

// Source is the subset of a connected channel the codec needs. Implemented
// by *ca.Channel; tests substitute fakes.
type Source interface {
	Name() string
	FieldType() FieldType
	ElementCount() int
	Read(ctx context.Context) (ReadResult, error)
}

// NotSupportedError reports a read of a (field type, arity) pair that has no
// decoder. Only Char and Enum arrays hit this path.
type NotSupportedError struct {
	Name      string
	FieldType FieldType
	Elements  int
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("pv %q: no array decoder for field type %s (%d elements)", e.Name, e.FieldType, e.Elements)
}

// DecodeError reports a structurally invalid DBR payload.
type DecodeError struct {
	Name   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pv %q: malformed payload: %s", e.Name, e.Reason)
}

// Value offsets inside a DBR_TIME_* payload. The 12-byte header (status,
// severity, timestamp) is followed by type-specific alignment padding.
const (
	timeHeaderLen    = 12
	shortValueOffset = 14 // 2 bytes RISC padding
	enumValueOffset  = 14 // 2 bytes RISC padding
	charValueOffset  = 15 // 3 bytes RISC padding
	longValueOffset  = 12
	floatValueOffset = 12
	dblValueOffset   = 16 // 4 bytes RISC padding
	strValueOffset   = 12
)

// Decode performs the typed read for a connected channel and produces its
// Record. Dispatch is over (field type, element count == 1); the table is
// closed, so an unknown field type is a protocol-level fault, not a fallthrough.
func Decode(ctx context.Context, src Source) (Record, error) {
	name := src.Name()
	fieldType := src.FieldType()
	elements := src.ElementCount()

	if !fieldType.Valid() {
		return Record{}, &DecodeError{Name: name, Reason: fmt.Sprintf("unknown field type %s", fieldType)}
	}
	if elements > 1 && (fieldType == FieldChar || fieldType == FieldEnum) {
		return Record{}, &NotSupportedError{Name: name, FieldType: fieldType, Elements: elements}
	}

	res, err := src.Read(ctx)
	if err != nil {
		return Record{}, err
	}

	value, err := decodePayload(name, fieldType, elements, res)
	if err != nil {
		return Record{}, err
	}

	return NewRecord(name, elements, value), nil
}

func decodePayload(name string, fieldType FieldType, elements int, res ReadResult) (Value, error) {
	if res.DataType != fieldType.TimeVariant() {
		return nil, &DecodeError{Name: name, Reason: fmt.Sprintf("server answered type %d, expected %d", res.DataType, fieldType.TimeVariant())}
	}
	if len(res.Data) < timeHeaderLen {
		return nil, &DecodeError{Name: name, Reason: fmt.Sprintf("payload too short for time header: %d bytes", len(res.Data))}
	}
	stamp := Timestamp{
		Secs:  binary.BigEndian.Uint32(res.Data[4:8]),
		Nanos: binary.BigEndian.Uint32(res.Data[8:12]),
	}
	count := res.Count
	if count < 1 {
		count = 1
	}

	if elements == 1 {
		return decodeScalar(name, fieldType, stamp, res.Data)
	}

	return decodeArray(name, fieldType, stamp, count, res.Data)
}

func decodeScalar(name string, fieldType FieldType, stamp Timestamp, data []byte) (Value, error) {
	need := func(offset, width int) ([]byte, error) {
		if len(data) < offset+width {
			return nil, &DecodeError{Name: name, Reason: fmt.Sprintf("scalar %s payload truncated at %d bytes", fieldType, len(data))}
		}
		return data[offset : offset+width], nil
	}

	switch fieldType {
	case FieldChar:
		raw, err := need(charValueOffset, 1)
		if err != nil {
			return nil, err
		}
		return CharValue{V: raw[0], TS: stamp}, nil
	case FieldShort:
		raw, err := need(shortValueOffset, 2)
		if err != nil {
			return nil, err
		}
		return ShortValue{V: int16(binary.BigEndian.Uint16(raw)), TS: stamp}, nil
	case FieldEnum:
		raw, err := need(enumValueOffset, 2)
		if err != nil {
			return nil, err
		}
		return EnumValue{V: binary.BigEndian.Uint16(raw), TS: stamp}, nil
	case FieldLong:
		raw, err := need(longValueOffset, 4)
		if err != nil {
			return nil, err
		}
		return LongValue{V: int32(binary.BigEndian.Uint32(raw)), TS: stamp}, nil
	case FieldFloat:
		raw, err := need(floatValueOffset, 4)
		if err != nil {
			return nil, err
		}
		return FloatValue{V: math.Float32frombits(binary.BigEndian.Uint32(raw)), TS: stamp}, nil
	case FieldDouble:
		raw, err := need(dblValueOffset, 8)
		if err != nil {
			return nil, err
		}
		return DoubleValue{V: math.Float64frombits(binary.BigEndian.Uint64(raw)), TS: stamp}, nil
	case FieldString:
		raw, err := need(strValueOffset, MaxStringSize)
		if err != nil {
			return nil, err
		}
		return StringValue{V: sanitizeString(raw), TS: stamp}, nil
	default:
		return nil, &DecodeError{Name: name, Reason: fmt.Sprintf("unknown field type %s", fieldType)}
	}
}

func decodeArray(name string, fieldType FieldType, stamp Timestamp, count int, data []byte) (Value, error) {
	slice := func(offset, width int) ([]byte, int, error) {
		if len(data) < offset {
			return nil, 0, &DecodeError{Name: name, Reason: fmt.Sprintf("array %s payload truncated at %d bytes", fieldType, len(data))}
		}
		avail := (len(data) - offset) / width
		if avail > count {
			avail = count
		}
		return data[offset:], avail, nil
	}

	switch fieldType {
	case FieldShort:
		raw, n, err := slice(shortValueOffset, 2)
		if err != nil {
			return nil, err
		}
		vs := make([]int16, n)
		for i := range vs {
			vs[i] = int16(binary.BigEndian.Uint16(raw[i*2:]))
		}
		return ShortArrayValue{Vs: vs, TS: stamp}, nil
	case FieldLong:
		raw, n, err := slice(longValueOffset, 4)
		if err != nil {
			return nil, err
		}
		vs := make([]int32, n)
		for i := range vs {
			vs[i] = int32(binary.BigEndian.Uint32(raw[i*4:]))
		}
		return LongArrayValue{Vs: vs, TS: stamp}, nil
	case FieldFloat:
		raw, n, err := slice(floatValueOffset, 4)
		if err != nil {
			return nil, err
		}
		vs := make([]float32, n)
		for i := range vs {
			vs[i] = math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
		}
		return FloatArrayValue{Vs: vs, TS: stamp}, nil
	case FieldDouble:
		raw, n, err := slice(dblValueOffset, 8)
		if err != nil {
			return nil, err
		}
		vs := make([]float64, n)
		for i := range vs {
			vs[i] = math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
		}
		return DoubleArrayValue{Vs: vs, TS: stamp}, nil
	case FieldString:
		raw, n, err := slice(strValueOffset, MaxStringSize)
		if err != nil {
			return nil, err
		}
		vs := make([]string, n)
		for i := range vs {
			vs[i] = sanitizeString(raw[i*MaxStringSize : (i+1)*MaxStringSize])
		}
		return StringArrayValue{Vs: vs, TS: stamp}, nil
	default:
		return nil, &NotSupportedError{Name: name, FieldType: fieldType, Elements: count}
	}
}

// sanitizeString turns a fixed-size EPICS string field into valid text:
// truncated at the first NUL, invalid bytes replaced rather than rejected.
func sanitizeString(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToValidUTF8(string(raw), "�")
}
