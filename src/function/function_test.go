// Tests function assembly against spec.md §8: entry-block ABI unpacking
// (int/pointer args land in RDI/RSI/..., float args in XMM0...), Commit's
// rejection of an unlinked reachable block, Discard's teardown of an
// uncommitted function, and declaration-registry lookup/lazy LLVM value
// creation for CALL targets.

package function

import (
	"testing"

	"github.com/Hunterm267/dbrew/src/archreg"
	"github.com/Hunterm267/dbrew/src/block"
	"github.com/Hunterm267/dbrew/src/config"
	"github.com/Hunterm267/dbrew/src/irb"
	"tinygo.org/x/go-llvm"
)

func newTestContext(t *testing.T) (*irb.Builder, *Context) {
	t.Helper()
	b := irb.New("function_test")
	return b, NewContext(b, config.Default128(), map[uintptr]*Declaration{})
}

// TestBuildEntryUnpacksIntArgs checks that BuildEntry writes a two-int-
// argument signature's parameters into the entry block's RDI and RSI as
// I64 and branches into the function's first real block.
func TestBuildEntryUnpacksIntArgs(t *testing.T) {
	b, c := newTestContext(t)
	sig := Signature{Params: []ParamKind{ParamInt, ParamInt}, Ret: RetInt}
	h := c.Declare(0x1000, sig)

	cfg := config.Default128()
	first := block.New(b, cfg, 0x1000, nil)

	if err := c.BuildEntry(h, first); err != nil {
		t.Fatalf("BuildEntry: %v", err)
	}

	fn := c.Get(h)
	if fn.EntryBB == nil {
		t.Fatalf("EntryBB not set")
	}
	if fn.Blocks[0] != fn.EntryBB {
		t.Fatalf("entry block not prepended to Blocks")
	}
	if fn.EntryBB.State != block.Emitted {
		t.Errorf("entry block state = %v, want Emitted", fn.EntryBB.State)
	}
	if fn.EntryBB.Branch != first {
		t.Errorf("entry block does not branch to the first real block")
	}
	if len(first.Preds) != 1 || first.Preds[0] != fn.EntryBB {
		t.Errorf("first real block's predecessor is not the entry block")
	}

	rdi, err := fn.EntryBB.Regs.Get(archreg.FacetI64, archreg.GP(archreg.RIDI))
	if err != nil {
		t.Fatalf("Get(I64, RDI): %v", err)
	}
	if rdi != fn.LLVM.Param(0) {
		t.Errorf("RDI not populated by BuildEntry")
	}
	rsi, err := fn.EntryBB.Regs.Get(archreg.FacetI64, archreg.GP(archreg.RISI))
	if err != nil {
		t.Fatalf("Get(I64, RSI): %v", err)
	}
	if rsi != fn.LLVM.Param(1) {
		t.Errorf("RSI not populated by BuildEntry")
	}
}

// TestBuildEntryPointerArgToPTR checks that a pointer-kind parameter is
// converted to an integer before being written, then reconstructible as a
// PTR facet.
func TestBuildEntryPointerArgToPTR(t *testing.T) {
	b, c := newTestContext(t)
	sig := Signature{Params: []ParamKind{ParamPointer}, Ret: RetVoid}
	h := c.Declare(0x2000, sig)

	cfg := config.Default128()
	first := block.New(b, cfg, 0x2000, nil)
	if err := c.BuildEntry(h, first); err != nil {
		t.Fatalf("BuildEntry: %v", err)
	}

	ptr, err := c.Get(h).EntryBB.Regs.Get(archreg.FacetPTR, archreg.GP(archreg.RIDI))
	if err != nil {
		t.Fatalf("Get(PTR, RDI): %v", err)
	}
	if ptr.IsNil() {
		t.Errorf("PTR facet not derivable after pointer-argument unpacking")
	}
}

// TestCommitRejectsUnlinkedBlock checks that Commit refuses a function
// with a reachable block still in the Emitted (not Linked) state.
func TestCommitRejectsUnlinkedBlock(t *testing.T) {
	b, c := newTestContext(t)
	sig := Signature{Ret: RetVoid}
	h := c.Declare(0x3000, sig)

	fn := c.Get(h)
	unlinked := block.New(b, config.Default128(), 0x3004, nil)
	unlinked.AddPredecessor(block.New(b, config.Default128(), 0x3000, nil))
	unlinked.Declare(fn.LLVM)
	fn.Blocks = append(fn.Blocks, unlinked)

	if err := c.Commit(h); err == nil {
		t.Errorf("Commit succeeded with an unlinked reachable block")
	}
}

// TestCommitAcceptsLinkedBlocks checks that Commit succeeds once every
// reachable block reports Linked, and marks the function committed so a
// later Discard is a no-op.
func TestCommitAcceptsLinkedBlocks(t *testing.T) {
	b, c := newTestContext(t)
	h := c.Declare(0x4000, Signature{Ret: RetVoid})
	fn := c.Get(h)

	linked := block.New(b, config.Default128(), 0x4004, nil)
	linked.AddPredecessor(block.New(b, config.Default128(), 0x4000, nil))
	linked.Declare(fn.LLVM)
	linked.State = block.Linked
	fn.Blocks = append(fn.Blocks, linked)

	if err := c.Commit(h); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !fn.committed {
		t.Errorf("committed flag not set after successful Commit")
	}
}

// TestDiscardErasesUncommittedFunction checks that Discard tears down an
// in-progress function's LLVM value when the lift never reached Commit.
func TestDiscardErasesUncommittedFunction(t *testing.T) {
	_, c := newTestContext(t)
	h := c.Declare(0x5000, Signature{Ret: RetVoid})

	// Discard must not panic on an uncommitted function; it erases the
	// LLVM function rather than leaving a dangling declaration.
	c.Discard(h)
}

// TestResolveCallLooksUpByExactAddress checks that ResolveCall succeeds
// for a registered target and fails with an UnresolvedCall error
// otherwise.
func TestResolveCallLooksUpByExactAddress(t *testing.T) {
	b := irb.New("function_test_resolve")
	decls := map[uintptr]*Declaration{
		0x9000: {Addr: 0x9000, Name: "callee", Sig: Signature{Ret: RetInt}},
	}
	c := NewContext(b, config.Default128(), decls)

	decl, err := c.ResolveCall(0x9000, 0x1234)
	if err != nil {
		t.Fatalf("ResolveCall(registered): %v", err)
	}
	if decl.Addr != 0x9000 {
		t.Errorf("ResolveCall returned wrong declaration")
	}

	if _, err := c.ResolveCall(0xdead, 0x1234); err == nil {
		t.Errorf("ResolveCall(unregistered) succeeded, want an error")
	}
}

// TestDeclLLVMIsLazyAndMemoized checks that DeclLLVM creates the backing
// llvm.Value only once and returns the same value on subsequent calls.
func TestDeclLLVMIsLazyAndMemoized(t *testing.T) {
	b := irb.New("function_test_decllvm")
	decl := &Declaration{Addr: 0x9000, Sig: Signature{Params: []ParamKind{ParamInt}, Ret: RetInt}}
	c := NewContext(b, config.Default128(), map[uintptr]*Declaration{0x9000: decl})

	if !decl.LLVM.IsNil() {
		t.Fatalf("declaration has a premature LLVM value")
	}
	v1 := c.DeclLLVM(decl)
	if v1.IsNil() {
		t.Fatalf("DeclLLVM returned a nil value")
	}
	v2 := c.DeclLLVM(decl)
	if v1 != v2 {
		t.Errorf("DeclLLVM is not memoized across calls")
	}
}

// TestLowerReturnVoidAndInt checks LowerReturn's dispatch for the Void
// and Int return kinds without requiring a populated register file for
// the Void case.
func TestLowerReturnVoidAndInt(t *testing.T) {
	b, c := newTestContext(t)
	fn := &Function{Sig: Signature{Ret: RetVoid}}

	mod := b.AddFunction("probe_ret_void", b.FunctionType(b.VoidType(), nil, false))
	bb := b.AddBasicBlock(mod, "")
	b.SetInsertPointAtEnd(bb)

	if err := c.LowerReturn(fn, func(archreg.Facet, archreg.Reg) (llvm.Value, error) {
		t.Fatalf("RetVoid must not consult the register file")
		return llvm.Value{}, nil
	}); err != nil {
		t.Fatalf("LowerReturn(RetVoid): %v", err)
	}

	intFn := &Function{Sig: Signature{Ret: RetInt}}
	intMod := b.AddFunction("probe_ret_int", b.FunctionType(b.I64Type(), nil, false))
	b.SetInsertPointAtEnd(b.AddBasicBlock(intMod, ""))

	var gotFacet archreg.Facet
	var gotReg archreg.Reg
	if err := c.LowerReturn(intFn, func(f archreg.Facet, r archreg.Reg) (llvm.Value, error) {
		gotFacet, gotReg = f, r
		return b.ConstInt(b.I64Type(), 42, false), nil
	}); err != nil {
		t.Fatalf("LowerReturn(RetInt): %v", err)
	}
	if gotFacet != archreg.FacetI64 || gotReg != archreg.GP(archreg.RIA) {
		t.Errorf("RetInt read facet %v of %v, want I64 of RAX", gotFacet, gotReg)
	}
}
