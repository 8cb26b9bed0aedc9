// Package instr defines the decoded-instruction input contract this
// module consumes from its external decoder collaborator (spec.md §6).
// Instruction decoding itself is an explicit Non-goal; these are plain
// structs describing the shape the lifter reads, grounded on the field
// layout implied by every instr->{type,dst,src,src2,form,addr,len} access
// across original_source/llvm/src/llinstruction*.c.
package instr

import "github.com/Hunterm267/dbrew/src/operand"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Op is the closed opcode enumeration covering the families spec.md §4.5
// names, plus a few additional mnemonics recovered from original_source/
// whose families spec.md already covers (ADC, MOVUPS/MOVUPD, MOVLPS/
// MOVLPD, MOVHPS/MOVHPD — see SPEC_FULL.md §4.5).
type Op int

const (
	Invalid Op = iota
	Nop
	HintCall
	HintRet

	Mov
	Movsx
	Movzx
	Movd
	Movq

	Add
	Sub
	Inc
	Dec
	Cmp
	Test
	And
	Or
	Xor
	Not
	Neg
	Adc

	Imul1 // one-operand form: A:D := sext(dst) * sext(A)
	Mul1  // one-operand form, zero-extended
	Imul2 // two-operand form: dst := sext(dst) * sext(src)
	Imul3 // three-operand form: dst := sext(src) * sext(src2)

	Shl
	Shr
	Sar

	Lea

	Push
	Pop
	Leave

	Call
	Ret

	Cdqe // == Cltq

	// Conditional families; an instruction's Cond field holds the
	// specific condition of this instance (see flags.Cond).
	Jcc
	Jmp
	Setcc
	Cmovcc

	Movss
	Movsd
	Movaps
	Movapd
	Movups
	Movupd
	Movdqa
	Movdqu
	Movlps
	Movlpd
	Movhps
	Movhpd
	Unpcklps
	Unpcklpd
	Xorps
	Xorpd
	Pxor
	Addss
	Addsd
	Addps
	Addpd
	Subss
	Subsd
	Subps
	Subpd
	Mulss
	Mulsd
	Mulps
	Mulpd
)

// Instruction is one decoded x86-64 instruction as handed to the lifter.
type Instruction struct {
	Addr uintptr
	Len  uint8
	Op   Op
	Cond int // flags.Cond value, meaningful only for Jcc/Setcc/Cmovcc
	Text string

	Dst  operand.Operand
	Src  operand.Operand
	Src2 operand.Operand // used only by Imul3

	HasDst  bool
	HasSrc  bool
	HasSrc2 bool
}

// Terminator classifies how a basic block ending with this instruction
// must branch (spec.md §4.4).
type Terminator int

const (
	TermFallthrough Terminator = iota
	TermJcc
	TermJmp
	TermRet
	TermInvalid
)

// TerminatorFor reports the Terminator kind implied by op, matching
// ll_basic_block_build_ir's endType switch.
func TerminatorFor(op Op) Terminator {
	switch op {
	case Jcc:
		return TermJcc
	case Jmp:
		return TermJmp
	case Ret:
		return TermRet
	case Invalid:
		return TermInvalid
	default:
		return TermFallthrough
	}
}
