// Package regfile implements the multi-facet register file of spec.md
// §3/§4.1: a per-block bundle of GP, vector and IP register facet tables
// plus the flag cache, with get/set/clear/zero/rename and lazy, memoized
// facet synthesis. Every synthesis rule is ported in spirit from
// original_source/llvm/src/llregfile.c's ll_regfile_get/ll_regfile_set.
package regfile

import (
	"fmt"

	"github.com/Hunterm267/dbrew/src/archreg"
	"github.com/Hunterm267/dbrew/src/config"
	"github.com/Hunterm267/dbrew/src/irb"
	"github.com/Hunterm267/dbrew/src/lifterr"
	"tinygo.org/x/go-llvm"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// register is one architectural register's facet table (Invariant A/B/C/D).
type register struct {
	facets [archreg.FacetCount]llvm.Value
}

// File is the per-basic-block register file: GP registers, vector
// registers, the IP pseudo-register, and the flag bank.
type File struct {
	b     *irb.Builder
	cfg   config.Options
	gp    [archreg.GPMax]register
	v     [archreg.VMax]register
	ip    register
	flags [archreg.FlagCount]llvm.Value
}

// ---------------------
// ----- functions -----
// ---------------------

// New allocates an empty register file for one basic block.
func New(b *irb.Builder, cfg config.Options) *File {
	return &File{b: b, cfg: cfg}
}

func (f *File) slot(r archreg.Reg) (*register, error) {
	switch r.Kind {
	case archreg.KindGP:
		idx := r.Slot()
		if idx < 0 || idx >= archreg.GPMax {
			return nil, &lifterr.Invariant{Reason: fmt.Sprintf("gp register index %d out of range", idx)}
		}
		return &f.gp[idx], nil
	case archreg.KindV:
		idx := r.Slot()
		if idx < 0 || idx >= archreg.VMax {
			return nil, &lifterr.Invariant{Reason: fmt.Sprintf("vector register index %d out of range", idx)}
		}
		return &f.v[idx], nil
	case archreg.KindIP:
		return &f.ip, nil
	default:
		return nil, &lifterr.Invariant{Reason: "unknown register kind"}
	}
}

// facetType maps a facet to its LLVM type, honoring the configured vector
// width for the 256-bit facets (ll_register_facet_type).
func (f *File) facetType(facet archreg.Facet) (llvm.Type, error) {
	b := f.b
	switch facet {
	case archreg.FacetI8, archreg.FacetI8H:
		return b.I8Type(), nil
	case archreg.FacetI16:
		return b.I16Type(), nil
	case archreg.FacetI32:
		return b.I32Type(), nil
	case archreg.FacetI64:
		return b.I64Type(), nil
	case archreg.FacetPTR:
		return b.PtrType(), nil
	case archreg.FacetI128:
		return b.I128Type(), nil
	case archreg.FacetI256:
		if f.cfg.VectorRegisterSize < config.Vector256 {
			return llvm.Type{}, &lifterr.Invariant{Reason: "I256 facet requested without 256-bit vector registers"}
		}
		return b.I256Type(), nil
	case archreg.FacetF32:
		return b.F32Type(), nil
	case archreg.FacetF64:
		return b.F64Type(), nil
	case archreg.FacetV16I8:
		return b.VectorType(b.I8Type(), 16), nil
	case archreg.FacetV8I16:
		return b.VectorType(b.I16Type(), 8), nil
	case archreg.FacetV4I32:
		return b.VectorType(b.I32Type(), 4), nil
	case archreg.FacetV2I64:
		return b.VectorType(b.I64Type(), 2), nil
	case archreg.FacetV2F32:
		return b.VectorType(b.F32Type(), 2), nil
	case archreg.FacetV4F32:
		return b.VectorType(b.F32Type(), 4), nil
	case archreg.FacetV2F64:
		return b.VectorType(b.F64Type(), 2), nil
	case archreg.FacetV32I8, archreg.FacetV16I16, archreg.FacetV8I32, archreg.FacetV4I64,
		archreg.FacetV8F32, archreg.FacetV4F64:
		if f.cfg.VectorRegisterSize < config.Vector256 {
			return llvm.Type{}, &lifterr.Invariant{Reason: fmt.Sprintf("%s facet requested without 256-bit vector registers", facet)}
		}
		switch facet {
		case archreg.FacetV32I8:
			return b.VectorType(b.I8Type(), 32), nil
		case archreg.FacetV16I16:
			return b.VectorType(b.I16Type(), 16), nil
		case archreg.FacetV8I32:
			return b.VectorType(b.I32Type(), 8), nil
		case archreg.FacetV4I64:
			return b.VectorType(b.I64Type(), 4), nil
		case archreg.FacetV8F32:
			return b.VectorType(b.F32Type(), 8), nil
		default:
			return b.VectorType(b.F64Type(), 4), nil
		}
	case archreg.FacetIVEC:
		if f.cfg.VectorRegisterSize >= config.Vector256 {
			return b.I256Type(), nil
		}
		return b.I128Type(), nil
	default:
		return llvm.Type{}, &lifterr.Invariant{Reason: fmt.Sprintf("unknown facet %s", facet)}
	}
}

// FacetTypeFor exposes facetType to callers outside this package that
// need a facet's LLVM type without going through a register (entry-phi
// placement in package block).
func (f *File) FacetTypeFor(facet archreg.Facet) (llvm.Type, error) {
	return f.facetType(facet)
}

// Get returns the value of r in facet, synthesizing and memoizing it if
// absent. Mirrors ll_regfile_get.
func (f *File) Get(facet archreg.Facet, r archreg.Reg) (llvm.Value, error) {
	slot, err := f.slot(r)
	if err != nil {
		return llvm.Value{}, err
	}
	if v := slot.facets[facet]; !v.IsNil() {
		return v, nil
	}

	var v llvm.Value
	switch r.Kind {
	case archreg.KindGP, archreg.KindIP:
		v, err = f.synthesizeGP(slot, facet)
	case archreg.KindV:
		v, err = f.synthesizeV(slot, facet)
	default:
		err = &lifterr.Invariant{Reason: "unknown register kind in get"}
	}
	if err != nil {
		return llvm.Value{}, err
	}
	slot.facets[facet] = v
	return v, nil
}

// synthesizeGP implements the GP/IP branch of ll_regfile_get: I64 is
// authoritative, everything else is a pure derivation from it.
func (f *File) synthesizeGP(slot *register, facet archreg.Facet) (llvm.Value, error) {
	native := slot.facets[archreg.FacetI64]
	if native.IsNil() {
		return llvm.Value{}, &lifterr.Invariant{Reason: "GP register has no I64 backing facet"}
	}
	switch facet {
	case archreg.FacetI64:
		return native, nil
	case archreg.FacetPTR:
		return f.b.IntToPtr(native, f.b.PtrType()), nil
	case archreg.FacetI8:
		return f.b.Trunc(native, f.b.I8Type()), nil
	case archreg.FacetI16:
		return f.b.Trunc(native, f.b.I16Type()), nil
	case archreg.FacetI32:
		return f.b.Trunc(native, f.b.I32Type()), nil
	case archreg.FacetI8H:
		shifted := f.b.LShr(native, f.b.ConstInt(f.b.I64Type(), 8, false))
		return f.b.Trunc(shifted, f.b.I8Type()), nil
	default:
		return llvm.Value{}, &lifterr.Invariant{
			Reason: fmt.Sprintf("facet %s is not derivable from a GP register (Invariant E)", facet),
		}
	}
}

// synthesizeV implements the vector branch of ll_regfile_get: IVEC is
// authoritative, packed facets are bitcasts (with a low-lane shuffle when
// narrower than native width), scalar facets extract lane 0 of the
// corresponding packed facet.
func (f *File) synthesizeV(slot *register, facet archreg.Facet) (llvm.Value, error) {
	switch facet {
	case archreg.FacetI8, archreg.FacetI16, archreg.FacetI32, archreg.FacetI64, archreg.FacetF32, archreg.FacetF64:
		packed, zero, err := f.packedFacetAndIndex(facet)
		if err != nil {
			return llvm.Value{}, err
		}
		vec, err := f.getFromSlot(slot, packed)
		if err != nil {
			return llvm.Value{}, err
		}
		return f.b.ExtractElement(vec, zero), nil
	case archreg.FacetI128:
		ivec, err := f.getFromSlot(slot, archreg.FacetIVEC)
		if err != nil {
			return llvm.Value{}, err
		}
		// TODO: Try to induce from other 128-bit facets first.
		return f.b.TruncOrBitCast(ivec, f.b.I128Type()), nil
	case archreg.FacetIVEC:
		return llvm.Value{}, &lifterr.Invariant{Reason: "IVEC facet missing and cannot be synthesized"}
	default:
		return f.synthesizeVector(slot, facet)
	}
}

// getFromSlot is Get without the register-lookup indirection, used
// internally while already holding the slot (recursive synthesis).
func (f *File) getFromSlot(slot *register, facet archreg.Facet) (llvm.Value, error) {
	if v := slot.facets[facet]; !v.IsNil() {
		return v, nil
	}
	v, err := f.synthesizeV(slot, facet)
	if err != nil {
		return llvm.Value{}, err
	}
	slot.facets[facet] = v
	return v, nil
}

func (f *File) packedFacetAndIndex(scalar archreg.Facet) (archreg.Facet, llvm.Value, error) {
	zero32 := f.b.ConstInt(f.b.I32Type(), 0, false)
	switch scalar {
	case archreg.FacetI8:
		return archreg.FacetV16I8, zero32, nil
	case archreg.FacetI16:
		return archreg.FacetV8I16, zero32, nil
	case archreg.FacetI32:
		return archreg.FacetV4I32, zero32, nil
	case archreg.FacetI64:
		return archreg.FacetV2I64, zero32, nil
	case archreg.FacetF32:
		return archreg.FacetV4F32, zero32, nil
	case archreg.FacetF64:
		return archreg.FacetV2F64, zero32, nil
	default:
		return 0, llvm.Value{}, &lifterr.Invariant{Reason: fmt.Sprintf("facet %s has no packed counterpart", scalar)}
	}
}

// synthesizeVector handles the packed-vector facets (≤128-bit and,
// optionally, 256-bit), bitcasting IVEC (or a cached 128-bit I128) and
// shuffling down to the requested lane count when it is narrower than
// native width.
func (f *File) synthesizeVector(slot *register, facet archreg.Facet) (llvm.Value, error) {
	targetType, err := f.facetType(facet)
	if err != nil {
		return llvm.Value{}, err
	}
	targetBits := targetType.Bitsize()

	nativeBits := 128
	if f.cfg.VectorRegisterSize >= config.Vector256 {
		nativeBits = 256
	}
	if facet.Is256() {
		nativeBits = 256
	}

	if targetBits == 128 {
		if cached := slot.facets[archreg.FacetI128]; !cached.IsNil() {
			return f.b.BitCast(cached, targetType), nil
		}
	}

	var source llvm.Value
	if nativeBits == 128 {
		source, err = f.getFromSlot(slot, archreg.FacetIVEC)
	} else {
		source, err = f.getFromSlot(slot, archreg.FacetIVEC)
	}
	if err != nil {
		return llvm.Value{}, err
	}

	elemType := targetType.ElementType()
	nativeCount := nativeBits / elemType.Bitsize()
	nativeVecType := f.b.VectorType(elemType, nativeCount)
	nativeVec := f.b.BitCast(source, nativeVecType)

	targetCount := targetType.VectorSize()
	if targetCount == nativeCount {
		return nativeVec, nil
	}

	indices := make([]llvm.Value, targetCount)
	for i := 0; i < targetCount; i++ {
		indices[i] = f.b.ConstInt(f.b.I32Type(), uint64(i), false)
	}
	mask := f.b.ConstVector(indices)
	return f.b.ShuffleVector(nativeVec, f.b.Undef(nativeVecType), mask), nil
}

// Set stores value at facet for r. If clearOthers is true every other
// facet is invalidated first (Invariant D), except that writing PTR on a
// GP register with clearOthers also installs the synthesized I64 backing
// to preserve Invariant A. Mirrors ll_regfile_set.
func (f *File) Set(facet archreg.Facet, r archreg.Reg, value llvm.Value, clearOthers bool) error {
	slot, err := f.slot(r)
	if err != nil {
		return err
	}

	if clearOthers {
		for i := range slot.facets {
			slot.facets[i] = llvm.Value{}
		}
		switch r.Kind {
		case archreg.KindGP, archreg.KindIP:
			if facet != archreg.FacetI64 {
				if facet != archreg.FacetPTR {
					return &lifterr.Invariant{Reason: fmt.Sprintf("writing GP facet %s with clearOthers is forbidden except PTR", facet)}
				}
				slot.facets[archreg.FacetI64] = f.b.PtrToInt(value, f.b.I64Type())
			}
		case archreg.KindV:
			if facet != archreg.FacetIVEC {
				return &lifterr.Invariant{Reason: fmt.Sprintf("writing V facet %s with clearOthers is forbidden except IVEC", facet)}
			}
		}
	}

	if !value.IsConstant() {
		name := archreg.RegName(r, facet)
		f.b.SetAsmReg(value, name)
	}

	slot.facets[facet] = value
	return nil
}

// Clear sets every facet of r to an undefined value of that facet's type.
func (f *File) Clear(r archreg.Reg) error {
	slot, err := f.slot(r)
	if err != nil {
		return err
	}
	return f.fillAll(slot, r, func(t llvm.Type) llvm.Value { return f.b.Undef(t) })
}

// Zero sets every facet of r to the typed zero of that facet's type.
func (f *File) Zero(r archreg.Reg) error {
	slot, err := f.slot(r)
	if err != nil {
		return err
	}
	return f.fillAll(slot, r, func(t llvm.Type) llvm.Value { return f.b.ConstNull(t) })
}

func (f *File) fillAll(slot *register, r archreg.Reg, make func(llvm.Type) llvm.Value) error {
	facetSet := gpFacets
	if r.Kind == archreg.KindV {
		facetSet = f.vectorFacets()
	}
	for _, facet := range facetSet {
		t, err := f.facetType(facet)
		if err != nil {
			continue
		}
		slot.facets[facet] = make(t)
	}
	return nil
}

var gpFacets = []archreg.Facet{
	archreg.FacetI8, archreg.FacetI8H, archreg.FacetI16, archreg.FacetI32, archreg.FacetI64, archreg.FacetPTR,
}

func (f *File) vectorFacets() []archreg.Facet {
	base := []archreg.Facet{
		archreg.FacetI128, archreg.FacetF32, archreg.FacetF64,
		archreg.FacetV16I8, archreg.FacetV8I16, archreg.FacetV4I32, archreg.FacetV2I64,
		archreg.FacetV2F32, archreg.FacetV4F32, archreg.FacetV2F64, archreg.FacetIVEC,
	}
	if f.cfg.VectorRegisterSize >= config.Vector256 {
		base = append(base, archreg.FacetI256, archreg.FacetV32I8, archreg.FacetV16I16,
			archreg.FacetV8I32, archreg.FacetV4I64, archreg.FacetV8F32, archreg.FacetV4F64)
	}
	return base
}

// Rename copies the entire facet bundle from src to dst, used when a
// 64-bit GP-to-GP MOV is detected (mirrors ll_regfile_rename's memcpy of
// the LLRegister struct).
func (f *File) Rename(dst, src archreg.Reg) error {
	dstSlot, err := f.slot(dst)
	if err != nil {
		return err
	}
	srcSlot, err := f.slot(src)
	if err != nil {
		return err
	}
	dstSlot.facets = srcSlot.facets
	return nil
}

// GetFlag/SetFlag are direct accessors on the flag bank; no synthesis.
func (f *File) GetFlag(flag archreg.Flag) llvm.Value { return f.flags[flag] }

func (f *File) SetFlag(flag archreg.Flag, v llvm.Value) { f.flags[flag] = v }
