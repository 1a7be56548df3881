package observation

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDistanceEncoding_RoundTrip(t *testing.T) {
	for _, d := range []float64{1e-5, 0.001, 0.0123, 0.5, 1, 3.7, 42, 640, 1e6} {
		enc := EncodeDistance(d)
		got := DecodeDistance(enc)
		// one encoded unit is a factor of 10^(1/1000); rounding is at most half of that
		tol := d * (math.Pow(10, 0.5/1000) - 1) * 1.0001
		if math.Abs(got-d) > tol {
			t.Errorf("d=%g: decode(encode(d))=%g (enc=%d), |err|=%g > %g", d, got, enc, math.Abs(got-d), tol)
		}
	}
}

func TestEncodeDistance_NonPositiveClamps(t *testing.T) {
	want := EncodeDistance(MinDistance)
	for _, d := range []float64{0, -1, math.NaN()} {
		if got := EncodeDistance(d); got != want {
			t.Errorf("EncodeDistance(%v) = %d, want %d", d, got, want)
		}
	}
	if want != -6000 {
		t.Errorf("EncodeDistance(MinDistance) = %d, want -6000", want)
	}
}

func TestBool(t *testing.T) {
	if v := Bool(HeaderIsInferred, true); v.Value != 1 || v.Type != TypeBool {
		t.Errorf("Bool(true) = %+v", v)
	}
	if v := Bool(HeaderIsInferred, false); v.Value != 0 || v.Truth() {
		t.Errorf("Bool(false) = %+v", v)
	}
}

func TestDataPoint_OverwriteKeepsPosition(t *testing.T) {
	dp := NewDataPoint(
		Int(HeaderX, TypeDistance, 10),
		Int(HeaderY, TypeDistance, 20),
		Bool(HeaderIsInferred, false),
	)
	before := dp.Headers()

	dp.Set(Int(HeaderY, TypeDistance, 99))

	if dp.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", dp.Len())
	}
	if diff := cmp.Diff(before, dp.Headers()); diff != "" {
		t.Errorf("header order changed (-before +after):\n%s", diff)
	}
	if got := dp.Value(HeaderY); got != 99 {
		t.Errorf("y = %d, want 99", got)
	}
}

func TestDataPoint_CopyIsIndependent(t *testing.T) {
	dp := NewDataPoint(Int(HeaderX, TypeDistance, 1), Bool(HeaderIsInferred, false))
	cp := dp.Copy()
	cp.Set(Bool(HeaderIsInferred, true))
	cp.Set(Bool(HeaderHasInteracted, true))

	if dp.IsInferred() {
		t.Error("original mutated through copy")
	}
	if dp.Len() != 2 || cp.Len() != 3 {
		t.Errorf("Len() original=%d copy=%d, want 2 and 3", dp.Len(), cp.Len())
	}
	if !cp.IsInferred() {
		t.Error("copy should be inferred")
	}
}

func TestDataPoint_NilSafe(t *testing.T) {
	var dp *DataPoint
	if dp.Len() != 0 || dp.Headers() != nil || dp.IsInferred() {
		t.Error("nil DataPoint should behave as empty")
	}
	if got := NewDataPoint(Int(HeaderX, TypeDistance, 5)).String(); got != "{x=5}" {
		t.Errorf("String() = %q", got)
	}
}

func TestSchema_CoversEveryHeader(t *testing.T) {
	var got []string
	seen := make(map[string]bool)
	for _, v := range Schema() {
		if seen[v.Header] {
			t.Errorf("header %q listed twice", v.Header)
		}
		seen[v.Header] = true
		got = append(got, v.Header)
	}
	want := []string{
		HeaderX, HeaderY, HeaderWidth, HeaderHeight, HeaderPhi,
		HeaderXYDist, HeaderIsInferred, HeaderHasInteracted,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("schema headers mismatch (-want +got):\n%s", diff)
	}
}
