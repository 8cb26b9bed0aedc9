// context.go implements LiftContext (spec.md §9's "implicit current
// state" made explicit): the per-function orchestration gluing irb,
// function, block and the opcode dispatcher together into the single
// entry point an external client calls. Grounded on
// original_source/llvm/include/llfunction.h's lift-one-function driver
// and the block-declare/build-ir/fill-phis ordering of
// original_source/llvm/src/llbasicblock.c.
package lift

import (
	"log"

	"github.com/Hunterm267/dbrew/src/block"
	"github.com/Hunterm267/dbrew/src/config"
	"github.com/Hunterm267/dbrew/src/function"
	"github.com/Hunterm267/dbrew/src/instr"
	"github.com/Hunterm267/dbrew/src/irb"
	"tinygo.org/x/go-llvm"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// BlockDesc is one caller-supplied basic block: its instructions and the
// indices (into the owning FunctionDesc's Blocks slice) of its branch
// and fall-through successors, -1 meaning no successor of that kind.
type BlockDesc struct {
	Addr      uintptr
	Instrs    []instr.Instruction
	BranchIdx int
	FallIdx   int
}

// FunctionDesc is the external client's function description (§1):
// entry address, ABI signature, and basic blocks in discovery order.
// Blocks[0] is the function's first real block, the one the synthesized
// entry prologue branches into.
type FunctionDesc struct {
	Addr   uintptr
	Sig    function.Signature
	Blocks []BlockDesc
}

// LiftContext owns one IR module's worth of lifting: the builder, the
// function arena, and the read-only call-target registry (spec.md §9).
type LiftContext struct {
	b   *irb.Builder
	cfg config.Options
	fns *function.Context
}

// ---------------------
// ----- functions -----
// ---------------------

// NewLiftContext allocates a fresh IR module and an empty function
// arena seeded with declarations, the registry CALL instructions
// consult (§4.6).
func NewLiftContext(moduleName string, cfg config.Options, declarations map[uintptr]*function.Declaration) *LiftContext {
	b := irb.New(moduleName)
	return &LiftContext{
		b:   b,
		cfg: cfg,
		fns: function.NewContext(b, cfg, declarations),
	}
}

// Module returns the IR module under construction.
func (lc *LiftContext) Module() llvm.Module { return lc.b.Mod }

// Dispose releases the underlying LLVM builder; the LLVM context and the
// module are not disposed. Call only after the module has been handed off
// or definitively discarded.
func (lc *LiftContext) Dispose() { lc.b.Dispose() }

// LiftFunction lifts one function per desc: declares it, builds every
// block's IR in discovery order, fills phis, and commits. On any
// failure the in-progress function is erased from the module (§7's
// per-function transaction). Declarations added to the module while
// lifting it, such as CALL targets and the no-op marker function, are
// not removed.
func (lc *LiftContext) LiftFunction(desc FunctionDesc) (h function.Handle, err error) {
	h = lc.fns.Declare(desc.Addr, desc.Sig)
	fn := lc.fns.Get(h)

	blocks := make([]*block.Block, len(desc.Blocks))
	for i, bd := range desc.Blocks {
		blocks[i] = block.New(lc.b, lc.cfg, bd.Addr, bd.Instrs)
	}
	for i, bd := range desc.Blocks {
		blocks[i].AddBranches(blockOrNil(blocks, bd.BranchIdx), blockOrNil(blocks, bd.FallIdx))
	}

	defer func() {
		if err != nil {
			log.Default().Printf("lift: function %#x discarded: %v", desc.Addr, err)
			lc.fns.Discard(h)
		}
	}()

	if len(blocks) == 0 {
		return h, lc.fns.Commit(h)
	}

	// Declare every block's label up front so a terminator emitted while
	// building an earlier block can reference a successor not yet built.
	for _, blk := range blocks {
		blk.Declare(fn.LLVM)
		lc.fns.AddBlock(h, blk)
	}

	if err := lc.fns.BuildEntry(h, blocks[0]); err != nil {
		return h, err
	}

	dispatcher := NewDispatcher(lc.b, lc.cfg, lc.fns, h)
	for _, blk := range blocks {
		if err := blk.BuildIR(fn.LLVM, dispatcher); err != nil {
			return h, err
		}
	}
	for _, blk := range blocks {
		if err := blk.FillPhis(); err != nil {
			return h, err
		}
	}

	if err := lc.fns.Commit(h); err != nil {
		return h, err
	}
	return h, nil
}

func blockOrNil(blocks []*block.Block, idx int) *block.Block {
	if idx < 0 {
		return nil
	}
	return blocks[idx]
}
