package observation

import "strings"

// DataPoint is an insertion-ordered set of Variables keyed by header name.
// Setting an existing header overwrites the value in place.
type DataPoint struct {
	order []string
	vars  map[string]Variable
}

// NewDataPoint builds a DataPoint from vars in order.
func NewDataPoint(vars ...Variable) *DataPoint {
	dp := &DataPoint{vars: make(map[string]Variable, len(vars))}
	for _, v := range vars {
		dp.Set(v)
	}
	return dp
}

// Set appends v, or replaces the stored variable with the same header
// without moving it.
func (dp *DataPoint) Set(v Variable) {
	if dp.vars == nil {
		dp.vars = make(map[string]Variable)
	}
	if _, ok := dp.vars[v.Header]; !ok {
		dp.order = append(dp.order, v.Header)
	}
	dp.vars[v.Header] = v
}

func (dp *DataPoint) Get(header string) (Variable, bool) {
	if dp == nil {
		return Variable{}, false
	}
	v, ok := dp.vars[header]
	return v, ok
}

// Value returns the raw value for header, or 0 when absent.
func (dp *DataPoint) Value(header string) int64 {
	v, _ := dp.Get(header)
	return v.Value
}

func (dp *DataPoint) Len() int {
	if dp == nil {
		return 0
	}
	return len(dp.order)
}

// Headers returns header names in insertion order.
func (dp *DataPoint) Headers() []string {
	if dp == nil {
		return nil
	}
	out := make([]string, len(dp.order))
	copy(out, dp.order)
	return out
}

// Variables returns the variables in insertion order.
func (dp *DataPoint) Variables() []Variable {
	if dp == nil {
		return nil
	}
	out := make([]Variable, 0, len(dp.order))
	for _, h := range dp.order {
		out = append(out, dp.vars[h])
	}
	return out
}

// Copy returns an independent DataPoint with the same ordering.
func (dp *DataPoint) Copy() *DataPoint {
	if dp == nil {
		return nil
	}
	return NewDataPoint(dp.Variables()...)
}

// IsInferred reports the is_inferred flag.
func (dp *DataPoint) IsInferred() bool {
	v, ok := dp.Get(HeaderIsInferred)
	return ok && v.Truth()
}

func (dp *DataPoint) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range dp.Variables() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte('}')
	return b.String()
}
