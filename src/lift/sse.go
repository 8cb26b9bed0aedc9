// sse.go lowers the SSE/SSE2 scalar and packed opcodes of spec.md §4.5,
// plus the supplemental MOVUPS/MOVUPD/MOVLPS/MOVLPD/MOVHPS/MOVHPD forms
// recovered from original_source/. Grounded on
// original_source/llvm/src/llinstruction-sse.c and the SSE cases of
// llinstruction.c.
package lift

import (
	blockpkg "github.com/Hunterm267/dbrew/src/block"
	"github.com/Hunterm267/dbrew/src/flags"
	"github.com/Hunterm267/dbrew/src/instr"
	"github.com/Hunterm267/dbrew/src/operand"
	"tinygo.org/x/go-llvm"
)

// lowerMovScalarSSE implements MOVSS/MOVSD: memory source zero-extends
// into lane 0 with upper lanes cleared; register source is a plain
// scalar load/store with KEEP_UPPER.
func (d *Dispatcher) lowerMovScalarSSE(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	scalarType := operand.SF32
	packedType := operand.VF32
	lanes := 4
	if in.Op == instr.Movsd {
		scalarType, packedType, lanes = operand.SF64, operand.VF64, 2
	}

	val, err := acc.Load(scalarType, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}

	if in.Src.Kind == operand.KindMemory {
		elemType := d.b.F32Type()
		if in.Op == instr.Movsd {
			elemType = d.b.F64Type()
		}
		zeroVec := d.b.ConstNull(d.b.VectorType(elemType, lanes))
		inserted := d.b.InsertElement(zeroVec, val, d.b.ConstInt(d.b.I32Type(), 0, false))
		dst := in.Dst
		dst.OverrideWidth = 128
		return acc.Store(packedType, operand.AlignMaximum, dst, operand.KeepUpper, inserted)
	}
	return acc.Store(scalarType, operand.AlignMaximum, in.Dst, operand.KeepUpper, val)
}

// lowerMovPackedSSE implements MOVAPS/MOVAPD/MOVDQA (ALIGN_MAXIMUM) and
// MOVUPS/MOVUPD/MOVDQU (ALIGN_8, unaligned) packed load/store.
func (d *Dispatcher) lowerMovPackedSSE(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	dt := operand.VF32
	align := operand.AlignMaximum
	switch in.Op {
	case instr.Movapd:
		dt = operand.VF64
	case instr.Movups:
		align = operand.Align8
	case instr.Movupd:
		dt, align = operand.VF64, operand.Align8
	case instr.Movdqa:
		dt = operand.VI64
	case instr.Movdqu:
		dt, align = operand.VI64, operand.Align8
	}
	val, err := acc.Load(dt, align, in.Src)
	if err != nil {
		return err
	}
	return acc.Store(dt, align, in.Dst, operand.KeepUpper, val)
}

// lowerMovLowSSE implements MOVLPS/MOVLPD on the load or store side: the
// lower 64-bit lane moves between memory and the vector register's
// bottom lane. Both forms move the same 64 bits, so MOVLPS's two f32
// lanes travel as one f64 lane.
func (d *Dispatcher) lowerMovLowSSE(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	val, err := acc.Load(operand.SF64, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}
	return acc.Store(operand.SF64, operand.AlignMaximum, in.Dst, operand.KeepUpper, val)
}

// lowerMovHighSSE implements MOVHPS/MOVHPD: register-to-register insert/
// extract of lane 1 (MOVHPD) or the top two f32 lanes (MOVHPS), plus the
// memory forms via OverrideWidth rather than mutating the operand.
func (d *Dispatcher) lowerMovHighSSE(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	if in.Op == instr.Movhpd {
		if in.Dst.Kind == operand.KindRegister {
			dstVec, err := acc.Load(operand.VF64, operand.AlignMaximum, in.Dst)
			if err != nil {
				return err
			}
			srcScalar, err := acc.Load(operand.SF64, operand.AlignMaximum, in.Src)
			if err != nil {
				return err
			}
			one := d.b.ConstInt(d.b.I32Type(), 1, false)
			inserted := d.b.InsertElement(dstVec, srcScalar, one)
			return acc.Store(operand.VF64, operand.AlignMaximum, in.Dst, operand.KeepUpper, inserted)
		}
		srcVec, err := acc.Load(operand.VF64, operand.AlignMaximum, in.Src)
		if err != nil {
			return err
		}
		one := d.b.ConstInt(d.b.I32Type(), 1, false)
		lane := d.b.ExtractElement(srcVec, one)
		return acc.Store(operand.SF64, operand.AlignMaximum, in.Dst, operand.KeepUpper, lane)
	}

	if in.Dst.Kind == operand.KindRegister {
		dstVec, err := acc.Load(operand.VF32, operand.AlignMaximum, in.Dst)
		if err != nil {
			return err
		}
		srcVec, err := acc.Load(operand.VF32, operand.AlignMaximum, in.Src)
		if err != nil {
			return err
		}
		mask := d.b.ConstVector([]llvm.Value{
			d.b.ConstInt(d.b.I32Type(), 0, false),
			d.b.ConstInt(d.b.I32Type(), 1, false),
			d.b.ConstInt(d.b.I32Type(), 4, false),
			d.b.ConstInt(d.b.I32Type(), 5, false),
		})
		result := d.b.ShuffleVector(dstVec, srcVec, mask)
		return acc.Store(operand.VF32, operand.AlignMaximum, in.Dst, operand.KeepUpper, result)
	}

	srcVec, err := acc.Load(operand.VF32, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}
	mask := d.b.ConstVector([]llvm.Value{
		d.b.ConstInt(d.b.I32Type(), 2, false),
		d.b.ConstInt(d.b.I32Type(), 3, false),
	})
	upper := d.b.ShuffleVector(srcVec, d.b.Undef(d.b.VectorType(d.b.F32Type(), 4)), mask)
	dst := in.Dst
	dst.OverrideWidth = 64
	return acc.Store(operand.VF32, operand.AlignMaximum, dst, operand.KeepUpper, upper)
}

// lowerUnpckl implements UNPCKLPS/UNPCKLPD: a shuffle interleaving the
// low lanes of dst and src.
func (d *Dispatcher) lowerUnpckl(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	dt := operand.VF32
	indices := []uint64{0, 4, 1, 5}
	if in.Op == instr.Unpcklpd {
		dt = operand.VF64
		indices = []uint64{0, 2}
	}
	dstVec, err := acc.Load(dt, operand.AlignMaximum, in.Dst)
	if err != nil {
		return err
	}
	srcVec, err := acc.Load(dt, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}
	maskVals := make([]llvm.Value, len(indices))
	for i, idx := range indices {
		maskVals[i] = d.b.ConstInt(d.b.I32Type(), idx, false)
	}
	mask := d.b.ConstVector(maskVals)
	result := d.b.ShuffleVector(dstVec, srcVec, mask)
	return acc.Store(dt, operand.AlignMaximum, in.Dst, operand.KeepUpper, result)
}

// vectorZeroType returns the LLVM vector type a given packed DataType
// loads/stores as, for constructing a typed zero vector.
func (d *Dispatcher) vectorZeroType(dt operand.DataType) llvm.Type {
	switch dt {
	case operand.VF32:
		return d.b.VectorType(d.b.F32Type(), 4)
	case operand.VF64:
		return d.b.VectorType(d.b.F64Type(), 2)
	default:
		return d.b.VectorType(d.b.I64Type(), 2)
	}
}

// lowerVectorXor implements XORPS/XORPD/PXOR: bitwise XOR at vector
// integer width, with the self-XOR typed-zero special case.
func (d *Dispatcher) lowerVectorXor(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	dt := operand.VI32
	storeDT := operand.VF32
	switch in.Op {
	case instr.Xorpd:
		dt, storeDT = operand.VI64, operand.VF64
	case instr.Pxor:
		dt, storeDT = operand.VI64, operand.VI64
	}

	if operandsEqual(in.Dst, in.Src) {
		result := d.b.ConstNull(d.vectorZeroType(storeDT))
		return acc.Store(storeDT, operand.AlignMaximum, in.Dst, operand.KeepUpper, result)
	}

	a, err := acc.Load(dt, operand.AlignMaximum, in.Dst)
	if err != nil {
		return err
	}
	b, err := acc.Load(dt, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}
	result := d.b.Xor(a, b)
	if storeDT != dt {
		result = d.b.BitCast(result, d.vectorZeroType(storeDT))
	}
	return acc.Store(storeDT, operand.AlignMaximum, in.Dst, operand.KeepUpper, result)
}

// lowerSSEArith implements ADD/SUB/MUL SS/SD/PS/PD: lane-wise float
// arithmetic, attaching fast-math flags when enabled.
func (d *Dispatcher) lowerSSEArith(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	var dt operand.DataType
	switch in.Op {
	case instr.Addss, instr.Subss, instr.Mulss:
		dt = operand.SF32
	case instr.Addsd, instr.Subsd, instr.Mulsd:
		dt = operand.SF64
	case instr.Addps, instr.Subps, instr.Mulps:
		dt = operand.VF32
	default:
		dt = operand.VF64
	}

	a, err := acc.Load(dt, operand.AlignMaximum, in.Dst)
	if err != nil {
		return err
	}
	b, err := acc.Load(dt, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}

	var result llvm.Value
	switch in.Op {
	case instr.Addss, instr.Addsd, instr.Addps, instr.Addpd:
		result = d.b.FAdd(a, b)
	case instr.Subss, instr.Subsd, instr.Subps, instr.Subpd:
		result = d.b.FSub(a, b)
	default:
		result = d.b.FMul(a, b)
	}
	if d.cfg.EnableFastMath {
		d.b.EnableFastMath(result)
	}
	return acc.Store(dt, operand.AlignMaximum, in.Dst, operand.KeepUpper, result)
}

// lowerSetcc implements SETcc: zero-extend the condition to 8 bits.
func (d *Dispatcher) lowerSetcc(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	cond := blk.Flags.Condition(flags.Cond(in.Cond))
	result := d.b.ZExtOrBitCast(cond, d.b.I8Type())
	return acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result)
}

// lowerCmovcc implements CMOVcc: select between src (cond true) and the
// current dst value.
func (d *Dispatcher) lowerCmovcc(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	cond := blk.Flags.Condition(flags.Cond(in.Cond))
	src, err := acc.Load(operand.SI, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}
	dst, err := acc.Load(operand.SI, operand.AlignMaximum, in.Dst)
	if err != nil {
		return err
	}
	result := d.b.Select(cond, src, dst)
	return acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result)
}
