// Tests the multi-facet register file against spec.md §8's universally
// quantified facet invariants: derivation from an I64 backing value,
// IVEC-to-V4F32 bitcast, rename, and the Invariant-E rejection of facets
// a GP register cannot produce.

package regfile

import (
	"testing"

	"github.com/Hunterm267/dbrew/src/archreg"
	"github.com/Hunterm267/dbrew/src/config"
	"github.com/Hunterm267/dbrew/src/irb"
)

func newTestFile(t *testing.T) (*irb.Builder, *File) {
	t.Helper()
	b := irb.New("regfile_test")
	fn := b.AddFunction("probe", b.FunctionType(b.VoidType(), nil, false))
	bb := b.AddBasicBlock(fn, "")
	b.SetInsertPointAtEnd(bb)
	return b, New(b, config.Default128())
}

// TestGPFacetDerivation checks get(f, r) after set(I64, r, v, true) for
// every facet in {I8, I8H, I16, I32, I64, PTR}.
func TestGPFacetDerivation(t *testing.T) {
	b, f := newTestFile(t)
	reg := archreg.GP(archreg.RIA)
	native := b.ConstInt(b.I64Type(), 0x1122334455, false)
	if err := f.Set(archreg.FacetI64, reg, native, true); err != nil {
		t.Fatalf("Set(I64): %v", err)
	}

	for _, facet := range []archreg.Facet{
		archreg.FacetI64, archreg.FacetI32, archreg.FacetI16,
		archreg.FacetI8, archreg.FacetI8H, archreg.FacetPTR,
	} {
		v, err := f.Get(facet, reg)
		if err != nil {
			t.Fatalf("Get(%s): %v", facet, err)
		}
		if v.IsNil() {
			t.Fatalf("Get(%s) returned nil value", facet)
		}
		wantType, err := f.facetType(facet)
		if err != nil {
			t.Fatalf("facetType(%s): %v", facet, err)
		}
		if v.Type() != wantType {
			t.Errorf("Get(%s) has type %v, want %v", facet, v.Type(), wantType)
		}
	}

	// A second Get must return the memoized value, not re-synthesize.
	v1, _ := f.Get(archreg.FacetI32, reg)
	v2, _ := f.Get(archreg.FacetI32, reg)
	if v1 != v2 {
		t.Errorf("Get(I32) is not memoized: got two distinct values")
	}
}

// TestGPInvariantE checks that requesting a facet a GP register cannot
// derive (e.g. a vector facet) fails rather than silently returning
// garbage.
func TestGPInvariantE(t *testing.T) {
	_, f := newTestFile(t)
	reg := archreg.GP(archreg.RIC)
	native := f.b.ConstInt(f.b.I64Type(), 1, false)
	if err := f.Set(archreg.FacetI64, reg, native, true); err != nil {
		t.Fatalf("Set(I64): %v", err)
	}
	if _, err := f.Get(archreg.FacetV16I8, reg); err == nil {
		t.Errorf("Get(V16I8, GP register) succeeded, want Invariant-E error")
	}
}

// TestVectorIVECBitcast checks that set(IVEC, r, v, true) followed by
// get(V4F32, r) yields a bitcast of v, not a fresh synthesis path.
func TestVectorIVECBitcast(t *testing.T) {
	b, f := newTestFile(t)
	reg := archreg.V(0)
	ivecType, err := f.facetType(archreg.FacetIVEC)
	if err != nil {
		t.Fatalf("facetType(IVEC): %v", err)
	}
	ivec := b.ConstNull(ivecType)
	if err := f.Set(archreg.FacetIVEC, reg, ivec, true); err != nil {
		t.Fatalf("Set(IVEC): %v", err)
	}

	v, err := f.Get(archreg.FacetV4F32, reg)
	if err != nil {
		t.Fatalf("Get(V4F32): %v", err)
	}
	wantType, _ := f.facetType(archreg.FacetV4F32)
	if v.Type() != wantType {
		t.Errorf("Get(V4F32) has type %v, want %v", v.Type(), wantType)
	}
}

// TestRename checks that rename(dst, src) followed by get(f, dst) equals
// get(f, src) for every facet touched.
func TestRename(t *testing.T) {
	b, f := newTestFile(t)
	src := archreg.GP(archreg.RISI)
	dst := archreg.GP(archreg.RIDI)

	native := b.ConstInt(b.I64Type(), 42, false)
	if err := f.Set(archreg.FacetI64, src, native, true); err != nil {
		t.Fatalf("Set(I64): %v", err)
	}
	srcPTR, err := f.Get(archreg.FacetPTR, src)
	if err != nil {
		t.Fatalf("Get(PTR, src): %v", err)
	}

	if err := f.Rename(dst, src); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	dstPTR, err := f.Get(archreg.FacetPTR, dst)
	if err != nil {
		t.Fatalf("Get(PTR, dst): %v", err)
	}
	if dstPTR != srcPTR {
		t.Errorf("Get(PTR, dst) after Rename = %v, want %v", dstPTR, srcPTR)
	}
}

// TestSetClearOthersInvalidatesOtherFacets checks Invariant D: a
// clearOthers write drops every previously memoized facet so the next
// Get re-synthesizes from the new backing value instead of returning a
// stale one.
func TestSetClearOthersInvalidatesOtherFacets(t *testing.T) {
	b, f := newTestFile(t)
	reg := archreg.GP(archreg.RIB)

	first := b.ConstInt(b.I64Type(), 1, false)
	if err := f.Set(archreg.FacetI64, reg, first, true); err != nil {
		t.Fatalf("Set(I64) #1: %v", err)
	}
	firstI32, err := f.Get(archreg.FacetI32, reg)
	if err != nil {
		t.Fatalf("Get(I32) #1: %v", err)
	}

	second := b.ConstInt(b.I64Type(), 2, false)
	if err := f.Set(archreg.FacetI64, reg, second, true); err != nil {
		t.Fatalf("Set(I64) #2: %v", err)
	}
	secondI32, err := f.Get(archreg.FacetI32, reg)
	if err != nil {
		t.Fatalf("Get(I32) #2: %v", err)
	}

	if firstI32 == secondI32 {
		t.Errorf("I32 facet was not invalidated by a second clearOthers Set(I64)")
	}
}

// TestZeroAndClear checks that Zero installs typed zero constants and
// Clear installs typed undef values across the GP facet set.
func TestZeroAndClear(t *testing.T) {
	_, f := newTestFile(t)
	reg := archreg.GP(archreg.RID)

	if err := f.Zero(reg); err != nil {
		t.Fatalf("Zero: %v", err)
	}
	v, err := f.Get(archreg.FacetI64, reg)
	if err != nil {
		t.Fatalf("Get(I64) after Zero: %v", err)
	}
	if !v.IsConstant() {
		t.Errorf("Get(I64) after Zero is not constant")
	}

	if err := f.Clear(reg); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	v2, err := f.Get(archreg.FacetI64, reg)
	if err != nil {
		t.Fatalf("Get(I64) after Clear: %v", err)
	}
	if !v2.IsUndef() {
		t.Errorf("Get(I64) after Clear is not undef")
	}
}
