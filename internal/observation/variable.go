// Package observation defines the typed, ordered records the tracker emits
// once per region per frame.
package observation

import (
	"fmt"
	"math"
)

// FunctionalType tags what a Variable measures, independent of its storage type.
type FunctionalType string

const (
	TypeBool        FunctionalType = "bool"
	TypeCount       FunctionalType = "count"
	TypeDistance    FunctionalType = "distance"
	TypeLogDistance FunctionalType = "log_distance"
	TypeAngle       FunctionalType = "angle"
	TypeInteraction FunctionalType = "interaction"
)

// Header names shared by tracker, stimulators and the result store.
const (
	HeaderX             = "x"
	HeaderY             = "y"
	HeaderWidth         = "w"
	HeaderHeight        = "h"
	HeaderPhi           = "phi"
	HeaderXYDist        = "xy_dist_log10x1000"
	HeaderIsInferred    = "is_inferred"
	HeaderHasInteracted = "has_interacted"
)

// Schema is the fixed variable set of a tracked ROI, in column order.
// Every stored series carries exactly these columns.
func Schema() []Variable {
	return []Variable{
		{Header: HeaderX, Type: TypeDistance},
		{Header: HeaderY, Type: TypeDistance},
		{Header: HeaderWidth, Type: TypeDistance},
		{Header: HeaderHeight, Type: TypeDistance},
		{Header: HeaderPhi, Type: TypeAngle},
		{Header: HeaderXYDist, Type: TypeLogDistance},
		{Header: HeaderIsInferred, Type: TypeBool},
		{Header: HeaderHasInteracted, Type: TypeBool},
	}
}

// MinDistance is the smallest linear distance EncodeDistance represents.
// Smaller (and non-positive) inputs encode as EncodeDistance(MinDistance).
const MinDistance = 1e-6

// Variable is one named integer observation.
type Variable struct {
	Header string
	Type   FunctionalType
	Value  int64
}

func (v Variable) String() string {
	return fmt.Sprintf("%s=%d", v.Header, v.Value)
}

// Int builds an integer-valued variable.
func Int(header string, ft FunctionalType, value int64) Variable {
	return Variable{Header: header, Type: ft, Value: value}
}

// Bool builds a {0,1} variable.
func Bool(header string, b bool) Variable {
	v := Variable{Header: header, Type: TypeBool}
	if b {
		v.Value = 1
	}
	return v
}

// LogDistance builds a distance variable stored as round(1000*log10(d)).
func LogDistance(header string, d float64) Variable {
	return Variable{Header: header, Type: TypeLogDistance, Value: EncodeDistance(d)}
}

// Truth reports whether a boolean variable is set.
func (v Variable) Truth() bool { return v.Value != 0 }

// EncodeDistance maps a positive linear distance to round(1000*log10(d)).
func EncodeDistance(d float64) int64 {
	if !(d > MinDistance) {
		d = MinDistance
	}
	return int64(math.Round(1000 * math.Log10(d)))
}

// DecodeDistance inverts EncodeDistance: 10^(v/1000).
func DecodeDistance(v int64) float64 {
	return math.Pow(10, float64(v)/1000)
}
