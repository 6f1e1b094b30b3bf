package pv

// Record pairs a PV name and its declared element count with the decoded
// value of one successful read. It owns the value outright and is immutable
// once built.
type Record struct {
	Name     string
	Elements int
	Value    Value
}

func NewRecord(name string, elements int, value Value) Record {
	return Record{Name: name, Elements: elements, Value: value}
}

func (r Record) IsScalar() bool {
	return r.Elements == 1
}

func (r Record) IsArray() bool {
	return r.Elements > 1
}
