// mul.go lowers the three IMUL/MUL forms of spec.md §4.5, grounded on
// ll_instruction_mul's OF_1/OF_2/OF_3 forms in
// original_source/llvm/src/llinstruction-gp.c.
package lift

import (
	"github.com/Hunterm267/dbrew/src/archreg"
	blockpkg "github.com/Hunterm267/dbrew/src/block"
	"github.com/Hunterm267/dbrew/src/instr"
	"github.com/Hunterm267/dbrew/src/operand"
	"tinygo.org/x/go-llvm"
)

func doubleWidth(w int) int {
	switch w {
	case 8:
		return 16
	case 16:
		return 32
	case 32:
		return 64
	default:
		return 128
	}
}

// lowerMulOneOperand implements form (a): full-width product into the
// A:D register pair, with sign-extension for IMUL and zero-extension for
// MUL. Width 8 is a special case: the original writes the full 16-bit
// product only to AX, never touching a nonexistent 8-bit D half (spec.md
// §9 Open Question (a), preserved as observed).
func (d *Dispatcher) lowerMulOneOperand(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	isSigned := in.Op == instr.Imul1
	w := width(in.Dst)
	wide := doubleWidth(w)

	wideType, err := intType(d.b, wide)
	if err != nil {
		return err
	}
	narrowType, err := intType(d.b, w)
	if err != nil {
		return err
	}

	operand1, err := acc.Load(operand.SI, operand.AlignMaximum, in.Dst)
	if err != nil {
		return err
	}
	operand2, err := blk.Regs.Get(facetForGPWidth(w), archreg.GP(archreg.RIA))
	if err != nil {
		return err
	}

	var ext1, ext2 llvm.Value
	if isSigned {
		ext1, ext2 = d.b.SExt(operand1, wideType), d.b.SExt(operand2, wideType)
	} else {
		ext1, ext2 = d.b.ZExt(operand1, wideType), d.b.ZExt(operand2, wideType)
	}
	result := d.b.Mul(ext1, ext2)
	resultA := d.b.Trunc(result, narrowType)
	shiftAmt := d.b.ConstInt(wideType, uint64(w), false)
	resultD := d.b.Trunc(d.b.LShr(result, shiftAmt), narrowType)

	if w == 8 {
		ax := operand.Operand{Kind: operand.KindRegister, Reg: archreg.GP(archreg.RIA), Width: 16}
		if err := acc.Store(operand.SI, operand.AlignMaximum, ax, operand.Default, d.b.Trunc(result, d.b.I16Type())); err != nil {
			return err
		}
	} else {
		dstA := operand.Operand{Kind: operand.KindRegister, Reg: archreg.GP(archreg.RIA), Width: w}
		dstD := operand.Operand{Kind: operand.KindRegister, Reg: archreg.GP(archreg.RID), Width: w}
		if err := acc.Store(operand.SI, operand.AlignMaximum, dstA, operand.Default, resultA); err != nil {
			return err
		}
		if err := acc.Store(operand.SI, operand.AlignMaximum, dstD, operand.Default, resultD); err != nil {
			return err
		}
	}

	if isSigned {
		signExtended := d.b.SExt(resultA, wideType)
		of := d.b.Not(d.b.ICmp(llvm.IntEQ, result, signExtended))
		blk.Flags.SetOfImul(of)
		blk.Flags.SetSF(resultA)
	} else {
		zero := d.b.ConstNull(narrowType)
		of := d.b.Not(d.b.ICmp(llvm.IntEQ, resultD, zero))
		blk.Flags.SetOfImul(of)
	}
	return nil
}

func facetForGPWidth(w int) archreg.Facet {
	switch w {
	case 8:
		return archreg.FacetI8
	case 16:
		return archreg.FacetI16
	case 32:
		return archreg.FacetI32
	default:
		return archreg.FacetI64
	}
}

// lowerImulTwoOperand implements form (b): width-preserving product,
// SF/OF via set_of_imul.
func (d *Dispatcher) lowerImulTwoOperand(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	a, b, err := d.loadBinaryIntOperands(acc, in.Dst, in.Src)
	if err != nil {
		return err
	}
	result := d.b.Mul(a, b)
	if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
		return err
	}
	d.setImulOverflow(blk, result, a, b, width(in.Dst))
	return nil
}

// lowerImulThreeOperand implements form (c): same as (b) but against
// src/src2 with an explicit destination.
func (d *Dispatcher) lowerImulThreeOperand(blk *blockpkg.Block, acc *operand.Accessor, in instr.Instruction) error {
	dstType, err := intType(d.b, width(in.Dst))
	if err != nil {
		return err
	}
	a, err := acc.Load(operand.SI, operand.AlignMaximum, in.Src)
	if err != nil {
		return err
	}
	b, err := acc.Load(operand.SI, operand.AlignMaximum, in.Src2)
	if err != nil {
		return err
	}
	if b.Type() != dstType {
		b = d.b.SExt(b, dstType)
	}
	if a.Type() != dstType {
		a = d.b.SExt(a, dstType)
	}
	result := d.b.Mul(a, b)
	if err := acc.Store(operand.SI, operand.AlignMaximum, in.Dst, operand.Default, result); err != nil {
		return err
	}
	d.setImulOverflow(blk, result, a, b, width(in.Dst))
	return nil
}

// setImulOverflow computes OF=CF for the width-preserving IMUL forms by
// redoing the multiplication at double width and comparing against the
// sign-extended narrow result.
func (d *Dispatcher) setImulOverflow(blk *blockpkg.Block, result, a, b llvm.Value, w int) {
	wideType, err := intType(d.b, doubleWidth(w))
	if err != nil {
		blk.Flags.Invalidate()
		return
	}
	wideA := d.b.SExt(a, wideType)
	wideB := d.b.SExt(b, wideType)
	wideResult := d.b.Mul(wideA, wideB)
	signExtended := d.b.SExt(result, wideType)
	of := d.b.Not(d.b.ICmp(llvm.IntEQ, wideResult, signExtended))
	blk.Flags.SetOfImul(of)
	blk.Flags.SetSF(result)
}
