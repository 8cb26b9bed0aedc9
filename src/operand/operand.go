// Package operand implements operand addressing, loads and stores, and
// ABI argument construction (spec.md §4.3). Grounded on
// original_source/llvm/include/lloperand-internal.h (the OperandDataType/
// Alignment/PartialRegisterHandling enums, kept with the same members)
// and the address/load/store bodies implied by every ll_operand_load/
// ll_operand_store call site across llinstruction*.c.
package operand

import (
	"fmt"
	"math"

	"github.com/Hunterm267/dbrew/src/archreg"
	"github.com/Hunterm267/dbrew/src/config"
	"github.com/Hunterm267/dbrew/src/irb"
	"github.com/Hunterm267/dbrew/src/lifterr"
	"github.com/Hunterm267/dbrew/src/regfile"
	"tinygo.org/x/go-llvm"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// DataType names the semantic type a load/store is performed at,
// independent of the underlying operand's own encoded width.
type DataType int

const (
	SI   DataType = iota // scalar signed integer
	VI8                  // packed 8-bit integer lanes
	VI32                 // packed 32-bit integer lanes
	VI64                 // packed 64-bit integer lanes
	SF32                 // scalar float
	SF64                 // scalar double
	VF32                 // packed float lanes
	VF64                 // packed double lanes
)

// Alignment is the requested memory alignment; ALIGN_MAXIMUM requests the
// natural alignment of the data type being accessed.
type Alignment int

const (
	AlignMaximum Alignment = 0
	Align1       Alignment = 1
	Align2       Alignment = 2
	Align4       Alignment = 4
	Align8       Alignment = 8
)

// Partial is the partial-register handling policy consumed by Store for
// register destinations (spec.md §4.1).
type Partial int

const (
	Default Partial = iota
	ZeroUpper
	KeepUpper
)

// Kind distinguishes the three operand forms.
type Kind int

const (
	KindRegister Kind = iota
	KindImmediate
	KindMemory
)

// Operand is a logical x86-64 operand: register, immediate, or memory
// indirect with base+index*scale+displacement.
type Operand struct {
	Kind  Kind
	Width int // 8, 16, 32, 64, 128, or 256

	// Register form.
	Reg archreg.Reg

	// Immediate form.
	Imm uint64

	// Memory indirect form.
	Base    *archreg.Reg
	Index   *archreg.Reg
	Scale   int // 0, 1, 2, 4, 8
	Disp    int64
	Segment string

	// OverrideWidth, when non-zero, supersedes Width for this single
	// Load/Store call without mutating the caller's Operand (spec.md §9
	// Open Question (b) — the deliberate divergence from the original's
	// in-place operand-type-tag mutation).
	OverrideWidth int
}

// withOverride returns a copy of op with Width replaced by OverrideWidth
// when one was requested.
func (op Operand) withOverride() Operand {
	if op.OverrideWidth != 0 {
		op.Width = op.OverrideWidth
	}
	return op
}

// Accessor binds an IR builder and register file together for address
// computation, typed loads/stores and ABI argument marshalling.
type Accessor struct {
	b   *irb.Builder
	rf  *regfile.File
	cfg config.Options
}

// ---------------------
// ----- functions -----
// ---------------------

func New(b *irb.Builder, rf *regfile.File, cfg config.Options) *Accessor {
	return &Accessor{b: b, rf: rf, cfg: cfg}
}

func intType(b *irb.Builder, width int) (llvm.Type, error) {
	switch width {
	case 8:
		return b.I8Type(), nil
	case 16:
		return b.I16Type(), nil
	case 32:
		return b.I32Type(), nil
	case 64:
		return b.I64Type(), nil
	case 128:
		return b.I128Type(), nil
	case 256:
		return b.I256Type(), nil
	default:
		return llvm.Type{}, &lifterr.MalformedOperand{Reason: fmt.Sprintf("unsupported integer width %d", width)}
	}
}

func facetForWidth(width int) (archreg.Facet, error) {
	switch width {
	case 8:
		return archreg.FacetI8, nil
	case 16:
		return archreg.FacetI16, nil
	case 32:
		return archreg.FacetI32, nil
	case 64:
		return archreg.FacetI64, nil
	default:
		return 0, &lifterr.MalformedOperand{Reason: fmt.Sprintf("no scalar integer facet for width %d", width)}
	}
}

func dataTypeForScalar(dt DataType, width int) (archreg.Facet, error) {
	switch dt {
	case SI:
		return facetForWidth(width)
	case SF32:
		return archreg.FacetF32, nil
	case SF64:
		return archreg.FacetF64, nil
	case VI8:
		return archreg.FacetV16I8, nil
	case VI32:
		return archreg.FacetV4I32, nil
	case VI64:
		return archreg.FacetV2I64, nil
	case VF32:
		return archreg.FacetV4F32, nil
	case VF64:
		return archreg.FacetV2F64, nil
	}
	return 0, &lifterr.MalformedOperand{Reason: "unrecognized data type"}
}

// Address computes the byte-pointer address of an indirect operand:
// addr := displacement + (base?.I64 ?: 0) + (index?.I64 * scale ?: 0).
// When the base register is a GP register with a live PTR facet, the
// address is produced as a pointer-GEP off that facet instead, preserving
// pointer provenance.
func (a *Accessor) Address(op Operand) (llvm.Value, error) {
	if op.Kind != KindMemory {
		return llvm.Value{}, &lifterr.MalformedOperand{Reason: "Address requires a memory-indirect operand"}
	}

	i64 := a.b.I64Type()
	addr := a.b.ConstInt(i64, uint64(op.Disp), true)
	var baseVal llvm.Value

	if op.Base != nil {
		basePtr, err := a.rf.Get(archreg.FacetPTR, *op.Base)
		if err == nil && !basePtr.IsNil() {
			baseVal = basePtr
		} else {
			baseI64, err := a.rf.Get(archreg.FacetI64, *op.Base)
			if err != nil {
				return llvm.Value{}, err
			}
			addr = a.b.Add(addr, baseI64)
		}
	}

	if op.Index != nil && op.Scale != 0 {
		idxI64, err := a.rf.Get(archreg.FacetI64, *op.Index)
		if err != nil {
			return llvm.Value{}, err
		}
		offset := a.b.Mul(idxI64, a.b.ConstInt(i64, uint64(op.Scale), false))
		addr = a.b.Add(addr, offset)
	}

	if !baseVal.IsNil() {
		return a.b.GEP(a.b.I8Type(), baseVal, []llvm.Value{addr}), nil
	}
	return a.b.IntToPtr(addr, a.b.PtrType()), nil
}

// Load reads op at dataType/alignment, honoring an OverrideWidth if set.
func (a *Accessor) Load(dataType DataType, alignment Alignment, op Operand) (llvm.Value, error) {
	op = op.withOverride()
	switch op.Kind {
	case KindRegister:
		facet, err := dataTypeForScalar(dataType, op.Width)
		if err != nil {
			return llvm.Value{}, err
		}
		return a.rf.Get(facet, op.Reg)
	case KindImmediate:
		switch dataType {
		case SF32:
			return a.b.ConstFloat(a.b.F32Type(), float64frombits32(op.Imm)), nil
		case SF64:
			return a.b.ConstFloat(a.b.F64Type(), float64frombits64(op.Imm)), nil
		default:
			t, err := intType(a.b, op.Width)
			if err != nil {
				return llvm.Value{}, err
			}
			return a.b.ConstInt(t, op.Imm, true), nil
		}
	case KindMemory:
		addr, err := a.Address(op)
		if err != nil {
			return llvm.Value{}, err
		}
		t, err := a.memoryType(dataType, op.Width)
		if err != nil {
			return llvm.Value{}, err
		}
		align := resolveAlignment(alignment, op.Width)
		return a.b.LoadAligned(t, addr, align), nil
	default:
		return llvm.Value{}, &lifterr.MalformedOperand{Reason: "unrecognized operand kind in Load"}
	}
}

// Store writes value to op, consulting partial for register destinations
// per spec.md §4.1.
func (a *Accessor) Store(dataType DataType, alignment Alignment, op Operand, partial Partial, value llvm.Value) error {
	op = op.withOverride()
	switch op.Kind {
	case KindRegister:
		facet, err := dataTypeForScalar(dataType, op.Width)
		if err != nil {
			return err
		}
		return a.storeRegister(facet, op, partial, value)
	case KindMemory:
		addr, err := a.Address(op)
		if err != nil {
			return err
		}
		align := resolveAlignment(alignment, op.Width)
		a.b.StoreAligned(value, addr, align)
		return nil
	default:
		return &lifterr.MalformedOperand{Reason: "Store requires a register or memory operand"}
	}
}

func (a *Accessor) storeRegister(facet archreg.Facet, op Operand, partial Partial, value llvm.Value) error {
	policy := partial
	if policy == Default {
		policy = Partial(a.cfg.PartialRegisterDefault)
	}

	isGP := op.Reg.Kind == archreg.KindGP || op.Reg.Kind == archreg.KindIP
	if isGP && facet != archreg.FacetPTR {
		switch policy {
		case ZeroUpper:
			wide := a.b.ZExt(value, a.b.I64Type())
			return a.rf.Set(archreg.FacetI64, op.Reg, wide, true)
		case Default:
			if op.Width == 32 {
				wide := a.b.ZExt(value, a.b.I64Type())
				return a.rf.Set(archreg.FacetI64, op.Reg, wide, true)
			}
			fallthrough
		case KeepUpper:
			// Writing the full I64 facet (the canonical backing value,
			// Invariant A) must invalidate narrower memoized siblings even
			// when the policy would otherwise preserve them.
			if facet == archreg.FacetI64 {
				return a.rf.Set(facet, op.Reg, value, true)
			}
			// A narrower write is merged into the I64 backing value.
			old, err := a.rf.Get(archreg.FacetI64, op.Reg)
			if err != nil {
				return err
			}
			keep := a.b.ConstInt(a.b.I64Type(), ^(uint64(1)<<uint(op.Width) - 1), false)
			merged := a.b.Or(a.b.And(old, keep), a.b.ZExt(value, a.b.I64Type()))
			if err := a.rf.Set(archreg.FacetI64, op.Reg, merged, true); err != nil {
				return err
			}
			return a.rf.Set(facet, op.Reg, value, false)
		}
	}
	return a.rf.Set(facet, op.Reg, value, op.Kind == KindRegister && facet == archreg.FacetIVEC)
}

func (a *Accessor) memoryType(dataType DataType, width int) (llvm.Type, error) {
	switch dataType {
	case SI:
		return intType(a.b, width)
	case SF32:
		return a.b.F32Type(), nil
	case SF64:
		return a.b.F64Type(), nil
	case VI8:
		return a.b.VectorType(a.b.I8Type(), 16), nil
	case VI32:
		return a.b.VectorType(a.b.I32Type(), 4), nil
	case VI64:
		return a.b.VectorType(a.b.I64Type(), 2), nil
	case VF32:
		return a.b.VectorType(a.b.F32Type(), 4), nil
	case VF64:
		return a.b.VectorType(a.b.F64Type(), 2), nil
	}
	return llvm.Type{}, &lifterr.MalformedOperand{Reason: "unrecognized data type for memory access"}
}

func resolveAlignment(a Alignment, width int) int {
	if a != AlignMaximum {
		return int(a)
	}
	return width / 8
}

func float64frombits32(bits uint64) float64 {
	return float64(math.Float32frombits(uint32(bits)))
}

func float64frombits64(bits uint64) float64 {
	return math.Float64frombits(bits)
}

// ----- ABI argument construction -----

// GP argument order: RDI, RSI, RDX, RCX, R8, R9.
var gpArgOrder = []int{archreg.RIDI, archreg.RISI, archreg.RID, archreg.RIC, archreg.RIR8, archreg.RIR9}

// ConstructArgs walks the machine-ABI parameter slots and writes them into
// the register file via Set(..., clearOthers=true): the first six integer/
// pointer arguments in RDI/RSI/RDX/RCX/R8/R9, the first eight
// floating-point arguments in XMM0-7. A floating-point argument becomes
// lane 0 of its register's IVEC backing value, with the other lanes zero.
func (a *Accessor) ConstructArgs(intArgs, floatArgs []llvm.Value) error {
	if len(intArgs) > len(gpArgOrder) {
		return &lifterr.MalformedOperand{Reason: fmt.Sprintf("too many integer arguments: %d", len(intArgs))}
	}
	if len(floatArgs) > 8 {
		return &lifterr.MalformedOperand{Reason: fmt.Sprintf("too many floating-point arguments: %d", len(floatArgs))}
	}
	for i, v := range intArgs {
		reg := archreg.GP(gpArgOrder[i])
		if err := a.rf.Set(archreg.FacetI64, reg, v, true); err != nil {
			return err
		}
	}
	ivecType, err := a.rf.FacetTypeFor(archreg.FacetIVEC)
	if err != nil {
		return err
	}
	for i, v := range floatArgs {
		lanes := 2
		if v.Type() == a.b.F32Type() {
			lanes = 4
		}
		lane0 := a.b.ConstInt(a.b.I32Type(), 0, false)
		vec := a.b.InsertElement(a.b.ConstNull(a.b.VectorType(v.Type(), lanes)), v, lane0)
		ivec := a.b.ZExt(a.b.BitCast(vec, a.b.I128Type()), ivecType)
		if err := a.rf.Set(archreg.FacetIVEC, archreg.V(i), ivec, true); err != nil {
			return err
		}
	}
	return nil
}
