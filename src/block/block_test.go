// Tests the basic-block lifecycle against spec.md §8: terminator shape
// (one successor for JMP, two for Jcc, matching nextBranch/
// nextFallThrough), and phi-fill incoming count/order matching the
// predecessor list. Successor and incoming-value assertions go through
// irb's introspection helpers rather than bitcode text, per SPEC_FULL.md
// §8.

package block

import (
	"testing"

	"github.com/Hunterm267/dbrew/src/archreg"
	"github.com/Hunterm267/dbrew/src/config"
	"github.com/Hunterm267/dbrew/src/flags"
	"github.com/Hunterm267/dbrew/src/instr"
	"github.com/Hunterm267/dbrew/src/irb"
)

// noOpLowerer mirrors lift.Dispatcher's handling of Jcc/Jmp/Ret: no
// per-instruction IR effect beyond what BuildIR itself already does.
type noOpLowerer struct{}

func (noOpLowerer) Lower(blk *Block, in instr.Instruction) error { return nil }

// TestTerminatorJmp checks that a JMP-terminated block emits exactly one
// successor edge, matching its Branch pointer.
func TestTerminatorJmp(t *testing.T) {
	b := irb.New("block_test_jmp")
	fn := b.AddFunction("probe", b.FunctionType(b.VoidType(), nil, false))
	cfg := config.Default128()

	blkA := New(b, cfg, 0x1000, []instr.Instruction{{Addr: 0x1000, Len: 5, Op: instr.Jmp}})
	blkB := New(b, cfg, 0x2000, []instr.Instruction{{Addr: 0x2000, Len: 1, Op: instr.Ret}})
	blkA.AddBranches(blkB, nil)
	blkB.Declare(fn)

	if err := blkA.BuildIR(fn, noOpLowerer{}); err != nil {
		t.Fatalf("BuildIR(blkA): %v", err)
	}

	term := b.BlockTerminator(blkA.LLVM)
	if term.IsNil() {
		t.Fatalf("blkA has no terminator")
	}
	if got := b.SuccessorCount(term); got != 1 {
		t.Fatalf("blkA terminator has %d successors, want 1", got)
	}
	if got := b.Successor(term, 0); got != blkB.LLVM {
		t.Errorf("blkA's successor is not blkB")
	}
}

// TestTerminatorJcc checks that a Jcc-terminated block emits exactly two
// successor edges, matching Branch and Fallthrough in that order.
func TestTerminatorJcc(t *testing.T) {
	b := irb.New("block_test_jcc")
	fn := b.AddFunction("probe", b.FunctionType(b.VoidType(), nil, false))
	cfg := config.Default128()

	blkA := New(b, cfg, 0x1000, []instr.Instruction{{Addr: 0x1000, Len: 2, Op: instr.Jcc, Cond: int(flags.CondZ)}})
	blkBranch := New(b, cfg, 0x2000, []instr.Instruction{{Addr: 0x2000, Len: 1, Op: instr.Ret}})
	blkFall := New(b, cfg, 0x3000, []instr.Instruction{{Addr: 0x3000, Len: 1, Op: instr.Ret}})
	blkA.AddBranches(blkBranch, blkFall)
	blkBranch.Declare(fn)
	blkFall.Declare(fn)

	blkA.Declare(fn)
	b.SetInsertPointAtEnd(blkA.LLVM)
	blkA.Flags.SetBit(b.ConstInt(b.I32Type(), 0, false))

	if err := blkA.BuildIR(fn, noOpLowerer{}); err != nil {
		t.Fatalf("BuildIR(blkA): %v", err)
	}

	term := b.BlockTerminator(blkA.LLVM)
	if term.IsNil() {
		t.Fatalf("blkA has no terminator")
	}
	if got := b.SuccessorCount(term); got != 2 {
		t.Fatalf("blkA terminator has %d successors, want 2", got)
	}
	if got := b.Successor(term, 0); got != blkBranch.LLVM {
		t.Errorf("blkA's first successor is not the branch target")
	}
	if got := b.Successor(term, 1); got != blkFall.LLVM {
		t.Errorf("blkA's second successor is not the fall-through target")
	}
}

// TestFillPhisIncomingOrder builds the diamond A->{B,C}->D and checks
// that D's entry phis have exactly two incoming values, in predecessor-
// list order (B before C, since blkB.AddBranches(D,...) runs first).
func TestFillPhisIncomingOrder(t *testing.T) {
	b := irb.New("block_test_diamond")
	fn := b.AddFunction("probe", b.FunctionType(b.VoidType(), nil, false))
	cfg := config.Default128()

	blkA := New(b, cfg, 0x1000, []instr.Instruction{{Addr: 0x1000, Len: 2, Op: instr.Jcc, Cond: int(flags.CondZ)}})
	blkB := New(b, cfg, 0x2000, []instr.Instruction{{Addr: 0x2000, Len: 5, Op: instr.Jmp}})
	blkC := New(b, cfg, 0x3000, []instr.Instruction{{Addr: 0x3000, Len: 5, Op: instr.Jmp}})
	blkD := New(b, cfg, 0x4000, []instr.Instruction{{Addr: 0x4000, Len: 1, Op: instr.Ret}})

	blkA.Declare(fn)
	blkB.Declare(fn)
	blkC.Declare(fn)
	blkD.Declare(fn)

	blkA.AddBranches(blkB, blkC)
	blkB.AddBranches(blkD, nil)
	blkC.AddBranches(blkD, nil)

	b.SetInsertPointAtEnd(blkA.LLVM)
	blkA.Flags.SetBit(b.ConstInt(b.I32Type(), 0, false))

	for _, blk := range []*Block{blkA, blkB, blkC, blkD} {
		if err := blk.BuildIR(fn, noOpLowerer{}); err != nil {
			t.Fatalf("BuildIR(%#x): %v", blk.Addr, err)
		}
	}
	for _, blk := range []*Block{blkA, blkB, blkC, blkD} {
		if err := blk.FillPhis(); err != nil {
			t.Fatalf("FillPhis(%#x): %v", blk.Addr, err)
		}
	}

	if len(blkD.Preds) != 2 {
		t.Fatalf("blkD has %d predecessors, want 2", len(blkD.Preds))
	}

	raxPhi := blkD.phis.gp[archreg.RIA][archreg.FacetI64]
	if raxPhi.IsNil() {
		t.Fatalf("blkD has no I64/RAX entry phi")
	}
	if got := b.PhiIncomingCount(raxPhi); got != 2 {
		t.Fatalf("RAX I64 phi has %d incoming values, want 2", got)
	}
	if got := b.PhiIncomingBlock(raxPhi, 0); got != blkB.LLVM {
		t.Errorf("RAX I64 phi's first incoming block is not blkB")
	}
	if got := b.PhiIncomingBlock(raxPhi, 1); got != blkC.LLVM {
		t.Errorf("RAX I64 phi's second incoming block is not blkC")
	}

	flagPhi := blkD.phis.flags[archreg.FlagZF]
	if flagPhi.IsNil() {
		t.Fatalf("blkD has no ZF entry phi")
	}
	if got := b.PhiIncomingCount(flagPhi); got != 2 {
		t.Errorf("ZF phi has %d incoming values, want 2", got)
	}
}

// TestSplit checks that splitting a block produces a fall-through edge
// to a new tail block and rewrites every predecessor reference that
// pointed at the original block.
func TestSplit(t *testing.T) {
	b := irb.New("block_test_split")
	cfg := config.Default128()

	orig := New(b, cfg, 0x1000, []instr.Instruction{
		{Addr: 0x1000, Len: 3},
		{Addr: 0x1003, Len: 3},
		{Addr: 0x1006, Len: 3},
	})
	branchSucc := New(b, cfg, 0x2000, nil)
	fallSucc := New(b, cfg, 0x3000, nil)
	orig.AddBranches(branchSucc, fallSucc)

	tail, err := orig.Split(1, []*Block{branchSucc, fallSucc})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if len(orig.Instr) != 1 {
		t.Errorf("orig retains %d instructions, want 1", len(orig.Instr))
	}
	if len(tail.Instr) != 2 {
		t.Errorf("tail has %d instructions, want 2", len(tail.Instr))
	}
	if orig.Fallthrough != tail {
		t.Errorf("orig does not fall through to tail")
	}
	if orig.Branch != nil {
		t.Errorf("orig retains a branch successor after split")
	}
	if tail.Branch != branchSucc || tail.Fallthrough != fallSucc {
		t.Errorf("tail did not inherit orig's original successors")
	}

	for _, succ := range []*Block{branchSucc, fallSucc} {
		if len(succ.Preds) != 1 || succ.Preds[0] != tail {
			t.Errorf("successor %#x's predecessor was not rewritten to tail", succ.Addr)
		}
	}
	if len(tail.Preds) != 1 || tail.Preds[0] != orig {
		t.Errorf("tail's predecessor list is not [orig]")
	}
}

// setRAXLowerer installs a fresh I64/RAX value (the current RAX plus val)
// with clearOthers=true, dropping any memoized narrower facet the way a
// real register write would, so a later request for a narrower facet
// must re-synthesize rather than return a stale memoized value. The value
// is not a constant: truncating a constant folds to another constant,
// which belongs to no block.
type setRAXLowerer struct{ val uint64 }

func (l setRAXLowerer) Lower(blk *Block, in instr.Instruction) error {
	cur, err := blk.Regs.Get(archreg.FacetI64, archreg.GP(archreg.RIA))
	if err != nil {
		return err
	}
	v := blk.b.Add(cur, blk.b.ConstInt(blk.b.I64Type(), l.val, false))
	return blk.Regs.Set(archreg.FacetI64, archreg.GP(archreg.RIA), v, true)
}

// TestFillPhisSynthesizesFacetInPredecessorBlock checks that FillPhis'
// scoped insertion-point guard lands a lazily synthesized facet (here an
// I32 truncation neither predecessor ever wrote directly, only a wider
// I64) inside the predecessor block it was derived from, not wherever
// the builder's cursor was last left.
func TestFillPhisSynthesizesFacetInPredecessorBlock(t *testing.T) {
	b := irb.New("block_test_fill_synth")
	fn := b.AddFunction("probe", b.FunctionType(b.VoidType(), nil, false))
	cfg := config.Default128()

	blkA := New(b, cfg, 0x1000, []instr.Instruction{{Addr: 0x1000, Len: 2, Op: instr.Jcc, Cond: int(flags.CondZ)}})
	blkB := New(b, cfg, 0x2000, []instr.Instruction{{Addr: 0x2000, Len: 3}, {Addr: 0x2003, Len: 5, Op: instr.Jmp}})
	blkC := New(b, cfg, 0x3000, []instr.Instruction{{Addr: 0x3000, Len: 3}, {Addr: 0x3003, Len: 5, Op: instr.Jmp}})
	blkD := New(b, cfg, 0x4000, []instr.Instruction{{Addr: 0x4000, Len: 1, Op: instr.Ret}})

	blkA.Declare(fn)
	blkB.Declare(fn)
	blkC.Declare(fn)
	blkD.Declare(fn)

	blkA.AddBranches(blkB, blkC)
	blkB.AddBranches(blkD, nil)
	blkC.AddBranches(blkD, nil)

	b.SetInsertPointAtEnd(blkA.LLVM)
	blkA.Flags.SetBit(b.ConstInt(b.I32Type(), 0, false))

	if err := blkA.BuildIR(fn, noOpLowerer{}); err != nil {
		t.Fatalf("BuildIR(blkA): %v", err)
	}
	if err := blkB.BuildIR(fn, setRAXLowerer{val: 7}); err != nil {
		t.Fatalf("BuildIR(blkB): %v", err)
	}
	if err := blkC.BuildIR(fn, setRAXLowerer{val: 9}); err != nil {
		t.Fatalf("BuildIR(blkC): %v", err)
	}
	if err := blkD.BuildIR(fn, noOpLowerer{}); err != nil {
		t.Fatalf("BuildIR(blkD): %v", err)
	}

	// Leave the cursor somewhere unrelated to either predecessor, so a
	// fill that forgets to reposition it would synthesize into the wrong
	// block.
	b.SetInsertPointAtEnd(blkD.LLVM)

	for _, blk := range []*Block{blkA, blkB, blkC, blkD} {
		if err := blk.FillPhis(); err != nil {
			t.Fatalf("FillPhis(%#x): %v", blk.Addr, err)
		}
	}

	raxPhi := blkD.phis.gp[archreg.RIA][archreg.FacetI32]
	if raxPhi.IsNil() {
		t.Fatalf("blkD has no I32/RAX entry phi")
	}
	incB := b.PhiIncomingValue(raxPhi, 0)
	if incB.IsNil() {
		t.Fatalf("RAX I32 phi's first incoming value is nil")
	}
	if got := b.InstructionParent(incB); got != blkB.LLVM {
		t.Errorf("synthesized I32 facet for blkB landed in %v, want blkB", got)
	}
	incC := b.PhiIncomingValue(raxPhi, 1)
	if incC.IsNil() {
		t.Fatalf("RAX I32 phi's second incoming value is nil")
	}
	if got := b.InstructionParent(incC); got != blkC.LLVM {
		t.Errorf("synthesized I32 facet for blkC landed in %v, want blkC", got)
	}
}
