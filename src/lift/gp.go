// gp.go lowers the general-purpose integer opcodes: MOV family, ADD/SUB/
// INC/DEC/CMP/TEST, bitwise ops, NOT/NEG/ADC, IMUL/MUL, shifts, LEA, the
// stack opcodes, CALL/RET and CDQE. Grounded on
// original_source/llvm/src/llinstruction-gp.c and the corresponding
// cases of llinstruction.c.
package lift

import (
	"github.com/Hunterm267/dbrew/src/archreg"
	blockpkg "github.com/Hunterm267/dbrew/src/block"
	"github.com/Hunterm267/dbrew/src/flags"
	"github.com/Hunterm267/dbrew/src/function"
	"github.com/Hunterm267/dbrew/src/instr"
	"github.com/Hunterm267/dbrew/src/lifterr"
	"github.com/Hunterm267/dbrew/src/operand"
	"tinygo.org/x/go-llvm"
)

// lowerMov implements MOV/MOVSX/MOVZX: a 64-bit GP-to-GP MOV renames the
// facet bundle instead of truncating and re-widening, preserving the PTR
// facet through register copies; otherwise load/extend/store.
func (d *Dispatcher) lowerMov(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	if isGP64Reg(in.Dst) && isGP64Reg(in.Src) && in.Op == instr.Mov {
		return blk.Regs.Rename(in.Dst.Reg, in.Src.Reg)
	}

	srcVal, err := acc.Load(operand.SI, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}
	dstType, err := intType(d.b, width(in.Dst))
	if err != nil {
		return err
	}
	switch in.Op {
	case instr.Movsx:
		srcVal = d.b.SExt(srcVal, dstType)
	case instr.Movzx:
		srcVal = d.b.ZExtOrBitCast(srcVal, dstType)
	default:
		if srcVal.Type() != dstType {
			srcVal = d.b.TruncOrBitCast(srcVal, dstType)
		}
	}
	return acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, srcVal)
}

// lowerMovdq implements MOVD/MOVQ: load src as an integer of matching
// width; vector destinations get ZERO_UPPER, GP destinations DEFAULT.
func (d *Dispatcher) lowerMovdq(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	srcVal, err := acc.Load(operand.SI, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}
	partial := operand.Default
	if in.Dst.Kind == operand.KindRegister && in.Dst.Reg.Kind == archreg.KindV {
		partial = operand.ZeroUpper
	}
	return acc.Store(operand.SI, operand.AlignMaximum, in.Dst, partial, srcVal)
}

// loadBinaryIntOperands loads both operands of a two-operand integer op
// at dst's width, sign-extending src to match.
func (d *Dispatcher) loadBinaryIntOperands(acc *operand.Accessor, dst, src operand.Operand) (a, b llvm.Value, err error) {
	dstType, err := intType(d.b, width(dst))
	if err != nil {
		return llvm.Value{}, llvm.Value{}, err
	}
	a, err = acc.Load(operand.SI, operand.AlignMaximum, dst)
	if err != nil {
		return llvm.Value{}, llvm.Value{}, err
	}
	b, err = acc.Load(operand.SI, operand.AlignMaximum, src)
	if err != nil {
		return llvm.Value{}, llvm.Value{}, err
	}
	if b.Type() != dstType {
		b = d.b.SExt(b, dstType)
	}
	return a, b, nil
}

// lowerAddSub implements ADD/SUB with the pointer-provenance preservation
// trick on 64-bit GP register destinations.
func (d *Dispatcher) lowerAddSub(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction, isAdd bool) error {
	a, b, err := d.loadBinaryIntOperands(acc, in.Dst, in.Src)
	if err != nil {
		return err
	}
	var result llvm.Value
	if isAdd {
		result = d.b.Add(a, b)
	} else {
		result = d.b.Sub(a, b)
	}

	if isGP64Reg(in.Dst) {
		ptr, perr := blk.Regs.Get(archreg.FacetPTR, in.Dst.Reg)
		if perr == nil && !ptr.IsNil() {
			delta := b
			if !isAdd {
				delta = d.b.Neg(b)
			}
			gep := d.b.GEP(d.b.I8Type(), ptr, []llvm.Value{delta})
			if err := blk.Regs.Set(archreg.FacetI64, in.Dst.Reg, result, true); err != nil {
				return err
			}
			if err := blk.Regs.Set(archreg.FacetPTR, in.Dst.Reg, gep, false); err != nil {
				return err
			}
		} else if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
			return err
		}
	} else if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
		return err
	}

	if isAdd {
		blk.Flags.SetAdd(result, a, b)
	} else {
		blk.Flags.SetSub(result, a, b)
	}
	return nil
}

// lowerIncDec implements INC/DEC: ADD/SUB against constant 1, CF
// preserved.
func (d *Dispatcher) lowerIncDec(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction, isInc bool) error {
	dstType, err := intType(d.b, width(in.Dst))
	if err != nil {
		return err
	}
	a, err := acc.Load(operand.SI, operand.AlignMaximum, in.Dst)
	if err != nil {
		return err
	}
	one := d.b.ConstInt(dstType, 1, false)
	var result llvm.Value
	if isInc {
		result = d.b.Add(a, one)
	} else {
		result = d.b.Sub(a, one)
	}
	if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
		return err
	}
	if isInc {
		blk.Flags.SetInc(result, a)
	} else {
		blk.Flags.SetDec(result, a)
	}
	return nil
}

// lowerCmpTest implements CMP/TEST: compute result without storing.
func (d *Dispatcher) lowerCmpTest(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction, isCmp bool) error {
	a, b, err := d.loadBinaryIntOperands(acc, in.Dst, in.Src)
	if err != nil {
		return err
	}
	if isCmp {
		result := d.b.Sub(a, b)
		blk.Flags.SetSub(result, a, b)
	} else {
		result := d.b.And(a, b)
		blk.Flags.SetBit(result)
	}
	return nil
}

// lowerBitwise implements AND/OR/XOR, with the self-XOR compile-time-zero
// special case.
func (d *Dispatcher) lowerBitwise(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	dstType, err := intType(d.b, width(in.Dst))
	if err != nil {
		return err
	}

	if in.Op == instr.Xor && operandsEqual(in.Dst, in.Src) {
		result := d.b.ConstInt(dstType, 0, false)
		if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
			return err
		}
		blk.Flags.SetBit(result)
		return nil
	}

	a, b, err := d.loadBinaryIntOperands(acc, in.Dst, in.Src)
	if err != nil {
		return err
	}
	var result llvm.Value
	switch in.Op {
	case instr.And:
		result = d.b.And(a, b)
	case instr.Or:
		result = d.b.Or(a, b)
	default:
		result = d.b.Xor(a, b)
	}
	if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
		return err
	}
	blk.Flags.SetBit(result)
	return nil
}

func operandsEqual(a, b operand.Operand) bool {
	return a.Kind == operand.KindRegister && b.Kind == operand.KindRegister && a.Reg == b.Reg
}

// lowerNot implements NOT: bitwise complement, flags invalidated.
func (d *Dispatcher) lowerNot(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	a, err := acc.Load(operand.SI, operand.AlignMaximum, in.Dst)
	if err != nil {
		return err
	}
	result := d.b.Not(a)
	if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
		return err
	}
	blk.Flags.Invalidate()
	return nil
}

// lowerNeg implements NEG: CF := a!=0, other flags via set_*_sub against
// zero (ll_instruction_notneg's NEG path, the fuller of the two
// alternative implementations the original carries).
func (d *Dispatcher) lowerNeg(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	dstType, err := intType(d.b, width(in.Dst))
	if err != nil {
		return err
	}
	a, err := acc.Load(operand.SI, operand.AlignMaximum, in.Dst)
	if err != nil {
		return err
	}
	result := d.b.Neg(a)
	if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
		return err
	}
	zero := d.b.ConstInt(dstType, 0, false)
	cf := d.b.Not(d.b.ICmp(llvm.IntEQ, a, zero))
	blk.Flags.SetCF(cf)
	blk.Flags.SetPF(result)
	blk.Flags.SetZF(result)
	blk.Flags.SetSF(result)
	blk.Flags.SetAF(result, zero, a)
	blk.Flags.SetOfSub(result, zero, a)
	return nil
}

// lowerAdc implements ADC: dst + src + CF, flags invalidated (the
// original never finishes its ADC flag model; see SPEC_FULL.md §4.5).
func (d *Dispatcher) lowerAdc(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	dstType, err := intType(d.b, width(in.Dst))
	if err != nil {
		return err
	}
	a, b, err := d.loadBinaryIntOperands(acc, in.Dst, in.Src)
	if err != nil {
		return err
	}
	sum := d.b.Add(a, b)
	cf := blk.Flags.Get(flags.CF)
	cfExt := d.b.ZExt(cf, dstType)
	result := d.b.Add(sum, cfExt)
	if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
		return err
	}
	blk.Flags.Invalidate()
	return nil
}

// lowerShift implements SHL/SHR/SAR; flags invalidated (not modeled).
func (d *Dispatcher) lowerShift(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	a, err := acc.Load(operand.SI, operand.AlignMaximum, in.Dst)
	if err != nil {
		return err
	}
	amount, err := acc.Load(operand.SI, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}
	if amount.Type() != a.Type() {
		amount = d.b.ZExtOrBitCast(amount, a.Type())
	}
	var result llvm.Value
	switch in.Op {
	case instr.Shl:
		result = d.b.Shl(a, amount)
	case instr.Shr:
		result = d.b.LShr(a, amount)
	default:
		result = d.b.AShr(a, amount)
	}
	if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
		return err
	}
	blk.Flags.Invalidate()
	return nil
}

// lowerLea computes both the pointer address (for the PTR-facet side
// effect) and the independent integer form base+index*scale+displacement,
// matching ll_instruction_lea.
func (d *Dispatcher) lowerLea(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	if in.Src.Kind != operand.KindMemory || in.Dst.Kind != operand.KindRegister {
		return &lifterr.MalformedOperand{Opcode: "LEA", Reason: "LEA requires an indirect source and register destination", Addr: in.Addr}
	}

	ptrResult, err := acc.Address(in.Src)
	if err != nil {
		return err
	}

	i64 := d.b.I64Type()
	base := d.b.ConstInt(i64, uint64(in.Src.Disp), true)
	if in.Src.Base != nil {
		baseVal, err := blk.Regs.Get(archreg.FacetI64, *in.Src.Base)
		if err != nil {
			return err
		}
		base = d.b.Add(base, baseVal)
	}
	if in.Src.Index != nil && in.Src.Scale != 0 {
		idxVal, err := blk.Regs.Get(archreg.FacetI64, *in.Src.Index)
		if err != nil {
			return err
		}
		offset := d.b.Mul(idxVal, d.b.ConstInt(i64, uint64(in.Src.Scale), false))
		base = d.b.Add(base, offset)
	}

	dstType, err := intType(d.b, width(in.Dst))
	if err != nil {
		return err
	}
	truncated := d.b.TruncOrBitCast(base, dstType)
	if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, truncated); err != nil {
		return err
	}
	if isGP64Reg(in.Dst) {
		if err := blk.Regs.Set(archreg.FacetPTR, in.Dst.Reg, ptrResult, false); err != nil {
			return err
		}
	}
	return nil
}

// lowerStack implements PUSH/POP/LEAVE via pointer-GEP on RSP's PTR
// facet; stack slots are 8 bytes (ll_generate_instruction_stack).
func (d *Dispatcher) lowerStack(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	spRegIdx := archreg.RISP
	if in.Op == instr.Leave {
		spRegIdx = archreg.RIBP
	}
	spReg := archreg.GP(spRegIdx)
	sp, err := blk.Regs.Get(archreg.FacetPTR, spReg)
	if err != nil {
		return err
	}

	switch in.Op {
	case instr.Push:
		newSp := d.b.GEP(d.b.I64Type(), sp, []llvm.Value{d.b.ConstInt(d.b.I64Type(), ^uint64(0), true)})
		val, err := acc.Load(operand.SI, operand.AlignMaximum, in.Dst)
		if err != nil {
			return err
		}
		if val.Type() != d.b.I64Type() {
			val = d.b.SExt(val, d.b.I64Type())
		}
		d.b.Store(val, newSp)
		return d.setStackPointer(blk, newSp)
	case instr.Pop, instr.Leave:
		target := in.Dst
		if in.Op == instr.Leave {
			target = operand.Operand{Kind: operand.KindRegister, Reg: archreg.GP(archreg.RIBP), Width: 64}
		}
		val := d.b.Load(d.b.I64Type(), sp)
		if err := acc.Store(operand.SI, operand.AlignMaximum, target, operand.Default, val); err != nil {
			return err
		}
		newSp := d.b.GEP(d.b.I64Type(), sp, []llvm.Value{d.b.ConstInt(d.b.I64Type(), 1, false)})
		return d.setStackPointer(blk, newSp)
	}
	return nil
}

func (d *Dispatcher) setStackPointer(blk *blockpkg.Block, newSp llvm.Value) error {
	ptrVal := d.b.BitCast(newSp, d.b.PtrType())
	if err := blk.Regs.Set(archreg.FacetPTR, archreg.GP(archreg.RISP), ptrVal, true); err != nil {
		return err
	}
	d.b.SetAsmReg(ptrVal, "rsp")
	return nil
}

// lowerCall resolves the target function, constructs arguments from the
// machine ABI, writes the return value to the conventional register, and
// invalidates the caller-saved registers (ll_generate_instruction's
// IT_CALL case).
func (d *Dispatcher) lowerCall(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	if in.Dst.Kind != operand.KindImmediate {
		return &lifterr.MalformedOperand{Opcode: "CALL", Reason: "CALL target must be an immediate direct address", Addr: in.Addr}
	}
	target := uintptr(in.Dst.Imm)
	decl, err := d.fns.ResolveCall(target, in.Addr)
	if err != nil {
		return err
	}
	callee := d.fns.DeclLLVM(decl)
	d.b.SetInlineHint(callee)

	intArgOrder := []int{archreg.RIDI, archreg.RISI, archreg.RID, archreg.RIC, archreg.RIR8, archreg.RIR9}
	var args []llvm.Value
	intIdx, floatIdx := 0, 0
	for _, p := range decl.Sig.Params {
		switch p {
		case function.ParamInt:
			v, err := blk.Regs.Get(archreg.FacetI64, archreg.GP(intArgOrder[intIdx]))
			if err != nil {
				return err
			}
			args = append(args, v)
			intIdx++
		case function.ParamPointer:
			v, err := blk.Regs.Get(archreg.FacetPTR, archreg.GP(intArgOrder[intIdx]))
			if err != nil {
				return err
			}
			args = append(args, v)
			intIdx++
		case function.ParamFloat:
			v, err := blk.Regs.Get(archreg.FacetF32, archreg.V(floatIdx))
			if err != nil {
				return err
			}
			args = append(args, v)
			floatIdx++
		case function.ParamDouble:
			v, err := blk.Regs.Get(archreg.FacetF64, archreg.V(floatIdx))
			if err != nil {
				return err
			}
			args = append(args, v)
			floatIdx++
		}
	}

	ftyp := d.fns.FunctionTypeOf(decl)
	result := d.b.Call(ftyp, callee, args)

	switch decl.Sig.Ret {
	case function.RetInt:
		if err := blk.Regs.Set(archreg.FacetI64, archreg.GP(archreg.RIA), result, true); err != nil {
			return err
		}
	case function.RetPointer:
		asInt := d.b.PtrToInt(result, d.b.I64Type())
		if err := blk.Regs.Set(archreg.FacetI64, archreg.GP(archreg.RIA), asInt, true); err != nil {
			return err
		}
	case function.RetFloat, function.RetDouble:
		ivecType, err := blk.Regs.FacetTypeFor(archreg.FacetIVEC)
		if err != nil {
			return err
		}
		lanes := 4
		if decl.Sig.Ret == function.RetDouble {
			lanes = 2
		}
		lane0 := d.b.ConstInt(d.b.I32Type(), 0, false)
		vec := d.b.InsertElement(d.b.ConstNull(d.b.VectorType(result.Type(), lanes)), result, lane0)
		ivec := d.b.ZExt(d.b.BitCast(vec, d.b.I128Type()), ivecType)
		if err := blk.Regs.Set(archreg.FacetIVEC, archreg.V(0), ivec, true); err != nil {
			return err
		}
	}

	for _, idx := range []int{archreg.RIC, archreg.RID, archreg.RISI, archreg.RIDI,
		archreg.RIR8, archreg.RIR9, archreg.RIR10, archreg.RIR11} {
		if err := blk.Regs.Clear(archreg.GP(idx)); err != nil {
			return err
		}
	}
	return nil
}

// lowerRet reads the return value from the conventional register per the
// function's declared return kind and emits a typed return.
func (d *Dispatcher) lowerRet(blk *blockpkg.Block) error {
	fn := d.fns.Get(d.fn)
	return d.fns.LowerReturn(fn, blk.Regs.Get)
}

// lowerCdqe sign-extends EAX into RAX (CDQE/CLTQ share one body).
func (d *Dispatcher) lowerCdqe(blk *blockpkg.Block, acc *operand.Accessor) error {
	eax, err := blk.Regs.Get(archreg.FacetI32, archreg.GP(archreg.RIA))
	if err != nil {
		return err
	}
	rax := d.b.SExt(eax, d.b.I64Type())
	return blk.Regs.Set(archreg.FacetI64, archreg.GP(archreg.RIA), rax, true)
}
