package pv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rcardenes/epics-tools/internal/config"
)

// nameColumnWidth is the fixed width of the name column for scalar rows.
// Array rows keep the name unpadded so multi-element output is not widened.
const nameColumnWidth = 30

const stampLayout = "2006-01-02 15:04:05.000000"

// Format renders one record as a single output line. Pure: same record and
// config always produce the same text.
func Format(rec Record, cfg config.DisplayConfig) string {
	tokens := make([]string, 0, 4)

	if !cfg.Terse {
		if rec.IsScalar() {
			tokens = append(tokens, fmt.Sprintf("%-*s", nameColumnWidth, rec.Name))
		} else {
			tokens = append(tokens, rec.Name)
		}
	}
	if cfg.Wide {
		tokens = append(tokens, rec.Value.Stamp().Time().Local().Format(stampLayout))
	}
	if rec.IsArray() {
		tokens = append(tokens, strconv.Itoa(rec.Elements))
	}
	tokens = append(tokens, FormatValue(rec))

	return strings.Join(tokens, " ")
}

// FormatValue renders only the value part of a record: scalar text, or the
// space-joined array element list padded with "0" tokens up to the declared
// element count.
func FormatValue(rec Record) string {
	switch v := rec.Value.(type) {
	case CharValue:
		return strconv.FormatUint(uint64(v.V), 10)
	case ShortValue:
		return strconv.FormatInt(int64(v.V), 10)
	case EnumValue:
		return strconv.FormatUint(uint64(v.V), 10)
	case LongValue:
		return strconv.FormatInt(int64(v.V), 10)
	case FloatValue:
		return strconv.FormatFloat(float64(v.V), 'f', 5, 32)
	case DoubleValue:
		return strconv.FormatFloat(v.V, 'f', 5, 64)
	case StringValue:
		return v.V
	case ShortArrayValue:
		return joinPadded(rec.Elements, v.Vs, func(e int16) string {
			return strconv.FormatInt(int64(e), 10)
		})
	case LongArrayValue:
		return joinPadded(rec.Elements, v.Vs, func(e int32) string {
			return strconv.FormatInt(int64(e), 10)
		})
	case FloatArrayValue:
		return joinPadded(rec.Elements, v.Vs, func(e float32) string {
			// Shortest round-trip form, always plain decimal.
			return strconv.FormatFloat(float64(e), 'f', -1, 32)
		})
	case DoubleArrayValue:
		return joinPadded(rec.Elements, v.Vs, func(e float64) string {
			return strconv.FormatFloat(e, 'f', -1, 64)
		})
	case StringArrayValue:
		return joinPadded(rec.Elements, v.Vs, func(e string) string {
			return e
		})
	default:
		return fmt.Sprintf("<unformattable value %T>", rec.Value)
	}
}

// joinPadded renders array elements space-separated and right-pads the list
// with "0" tokens up to the declared element count. The padding aligns output
// width with the maximum possible element count of a PV, not the count
// currently reported.
func joinPadded[T any](declared int, elems []T, text func(T) string) string {
	tokens := make([]string, 0, declared)
	for _, e := range elems {
		tokens = append(tokens, text(e))
	}
	for len(tokens) < declared {
		tokens = append(tokens, "0")
	}
	return strings.Join(tokens, " ")
}
