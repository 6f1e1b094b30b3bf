package pv

// Value is a decoded channel value together with the server timestamp that
// accompanied it. The set of implementations is closed: one variant per
// supported (field type, arity) pair. Char and Enum have no array variant;
// a read of such a channel fails with NotSupportedError instead.
type Value interface {
	Stamp() Timestamp
	isValue()
}

type CharValue struct {
	V  byte
	TS Timestamp
}

type ShortValue struct {
	V  int16
	TS Timestamp
}

type EnumValue struct {
	V  uint16
	TS Timestamp
}

type LongValue struct {
	V  int32
	TS Timestamp
}

type FloatValue struct {
	V  float32
	TS Timestamp
}

type DoubleValue struct {
	V  float64
	TS Timestamp
}

type StringValue struct {
	V  string
	TS Timestamp
}

type ShortArrayValue struct {
	Vs []int16
	TS Timestamp
}

type LongArrayValue struct {
	Vs []int32
	TS Timestamp
}

type FloatArrayValue struct {
	Vs []float32
	TS Timestamp
}

type DoubleArrayValue struct {
	Vs []float64
	TS Timestamp
}

type StringArrayValue struct {
	Vs []string
	TS Timestamp
}

func (v CharValue) Stamp() Timestamp        { return v.TS }
func (v ShortValue) Stamp() Timestamp       { return v.TS }
func (v EnumValue) Stamp() Timestamp        { return v.TS }
func (v LongValue) Stamp() Timestamp        { return v.TS }
func (v FloatValue) Stamp() Timestamp       { return v.TS }
func (v DoubleValue) Stamp() Timestamp      { return v.TS }
func (v StringValue) Stamp() Timestamp      { return v.TS }
func (v ShortArrayValue) Stamp() Timestamp  { return v.TS }
func (v LongArrayValue) Stamp() Timestamp   { return v.TS }
func (v FloatArrayValue) Stamp() Timestamp  { return v.TS }
func (v DoubleArrayValue) Stamp() Timestamp { return v.TS }
func (v StringArrayValue) Stamp() Timestamp { return v.TS }

func (CharValue) isValue()        {}
func (ShortValue) isValue()       {}
func (EnumValue) isValue()        {}
func (LongValue) isValue()        {}
func (FloatValue) isValue()       {}
func (DoubleValue) isValue()      {}
func (StringValue) isValue()      {}
func (ShortArrayValue) isValue()  {}
func (LongArrayValue) isValue()   {}
func (FloatArrayValue) isValue()  {}
func (DoubleArrayValue) isValue() {}
func (StringArrayValue) isValue() {}
