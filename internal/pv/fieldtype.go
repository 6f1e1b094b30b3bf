package pv

import "fmt"

// FieldType is the native scalar type negotiated for a channel. Values match
// the Channel Access DBR type codes.
type FieldType uint16

const (
	FieldString FieldType = 0
	FieldShort  FieldType = 1
	FieldFloat  FieldType = 2
	FieldEnum   FieldType = 3
	FieldChar   FieldType = 4
	FieldLong   FieldType = 5
	FieldDouble FieldType = 6
)

// timeVariantOffset converts a base DBR type code into its DBR_TIME_* code.
const timeVariantOffset = 14

// MaxStringSize is the fixed on-wire size of an EPICS string value.
const MaxStringSize = 40

func (t FieldType) Valid() bool {
	return t <= FieldDouble
}

// TimeVariant returns the DBR_TIME_* type code carrying value, status,
// severity and server timestamp for this field type.
func (t FieldType) TimeVariant() uint16 {
	return uint16(t) + timeVariantOffset
}

func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldShort:
		return "short"
	case FieldFloat:
		return "float"
	case FieldEnum:
		return "enum"
	case FieldChar:
		return "char"
	case FieldLong:
		return "long"
	case FieldDouble:
		return "double"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}
