// Package lift implements per-instruction semantic lowering (spec.md
// §4.5): opcode dispatch plus the ~100-opcode bodies, grounded opcode for
// opcode on original_source/llvm/src/llinstruction.c,
// llinstruction-gp.c and llinstruction-sse.c. It also provides Batch, the
// concurrent multi-function helper whose error sink is shaped after the
// teacher's now-removed util/perror.go (§5).
package lift

import (
	"fmt"

	"github.com/Hunterm267/dbrew/src/archreg"
	blockpkg "github.com/Hunterm267/dbrew/src/block"
	"github.com/Hunterm267/dbrew/src/config"
	"github.com/Hunterm267/dbrew/src/function"
	"github.com/Hunterm267/dbrew/src/instr"
	"github.com/Hunterm267/dbrew/src/irb"
	"github.com/Hunterm267/dbrew/src/lifterr"
	"github.com/Hunterm267/dbrew/src/operand"
	"tinygo.org/x/go-llvm"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Dispatcher implements block.Lowerer: it owns the pieces of state that
// span every block of one function (the builder, config, and the
// function context for CALL/RET resolution).
type Dispatcher struct {
	b   *irb.Builder
	cfg config.Options
	fns *function.Context
	fn  function.Handle
}

// NewDispatcher builds a Dispatcher bound to one function's lift.
func NewDispatcher(b *irb.Builder, cfg config.Options, fns *function.Context, fn function.Handle) *Dispatcher {
	return &Dispatcher{b: b, cfg: cfg, fns: fns, fn: fn}
}

// ---------------------
// ----- functions -----
// ---------------------

// Lower dispatches in to its semantic lowering body, reading and writing
// blk's register file and flag cache (ll_generate_instruction's switch).
func (d *Dispatcher) Lower(blk *blockpkg.Block, in instr.Instruction) error {
	acc := operand.New(d.b, blk.Regs, d.cfg)

	switch in.Op {
	case instr.Nop, instr.HintCall, instr.HintRet:
		return nil
	case instr.Jcc, instr.Jmp:
		// No effect beyond advancing RIP, already done by the caller;
		// the branch itself is emitted by the block's terminator.
		return nil
	case instr.Invalid:
		d.b.Unreachable()
		return nil

	case instr.Mov, instr.Movsx, instr.Movzx:
		return d.lowerMov(blk, acc, in)
	case instr.Movd, instr.Movq:
		return d.lowerMovdq(blk, acc, in)

	case instr.Add:
		return d.lowerAddSub(blk, acc, in, true)
	case instr.Sub:
		return d.lowerAddSub(blk, acc, in, false)
	case instr.Inc:
		return d.lowerIncDec(blk, acc, in, true)
	case instr.Dec:
		return d.lowerIncDec(blk, acc, in, false)
	case instr.Cmp:
		return d.lowerCmpTest(blk, acc, in, true)
	case instr.Test:
		return d.lowerCmpTest(blk, acc, in, false)
	case instr.And, instr.Or, instr.Xor:
		return d.lowerBitwise(blk, acc, in)
	case instr.Not:
		return d.lowerNot(blk, acc, in)
	case instr.Neg:
		return d.lowerNeg(blk, acc, in)
	case instr.Adc:
		return d.lowerAdc(blk, acc, in)

	case instr.Imul1, instr.Mul1:
		return d.lowerMulOneOperand(blk, acc, in)
	case instr.Imul2:
		return d.lowerImulTwoOperand(blk, acc, in)
	case instr.Imul3:
		return d.lowerImulThreeOperand(blk, acc, in)

	case instr.Shl, instr.Shr, instr.Sar:
		return d.lowerShift(blk, acc, in)

	case instr.Lea:
		return d.lowerLea(blk, acc, in)

	case instr.Push, instr.Pop, instr.Leave:
		return d.lowerStack(blk, acc, in)

	case instr.Call:
		return d.lowerCall(blk, acc, in)
	case instr.Ret:
		return d.lowerRet(blk)

	case instr.Cdqe:
		return d.lowerCdqe(blk, acc)

	case instr.Setcc:
		return d.lowerSetcc(blk, acc, in)
	case instr.Cmovcc:
		return d.lowerCmovcc(blk, acc, in)

	case instr.Movss, instr.Movsd:
		return d.lowerMovScalarSSE(blk, acc, in)
	case instr.Movaps, instr.Movapd, instr.Movups, instr.Movupd, instr.Movdqa, instr.Movdqu:
		return d.lowerMovPackedSSE(blk, acc, in)
	case instr.Movlps, instr.Movlpd:
		return d.lowerMovLowSSE(blk, acc, in)
	case instr.Movhps, instr.Movhpd:
		return d.lowerMovHighSSE(blk, acc, in)
	case instr.Unpcklps, instr.Unpcklpd:
		return d.lowerUnpckl(blk, acc, in)
	case instr.Xorps, instr.Xorpd, instr.Pxor:
		return d.lowerVectorXor(blk, acc, in)
	case instr.Addss, instr.Addsd, instr.Addps, instr.Addpd,
		instr.Subss, instr.Subsd, instr.Subps, instr.Subpd,
		instr.Mulss, instr.Mulsd, instr.Mulps, instr.Mulpd:
		return d.lowerSSEArith(blk, acc, in)

	default:
		return &lifterr.Unsupported{Addr: in.Addr, Text: in.Text}
	}
}

func width(op operand.Operand) int {
	if op.OverrideWidth != 0 {
		return op.OverrideWidth
	}
	return op.Width
}

// intType maps a GP width to its LLVM integer type, mirroring operand's
// unexported helper of the same name for the lift package's own use.
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

func isGP64Reg(op operand.Operand) bool {
	return op.Kind == operand.KindRegister && width(op) == 64 &&
		(op.Reg.Kind == archreg.KindGP || op.Reg.Kind == archreg.KindIP)
}
