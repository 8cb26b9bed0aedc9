// Package function implements function assembly (spec.md §2, §4.6): an
// arena of blocks addressed by integer handle, entry-block ABI argument
// unpacking, the function-declaration registry consulted by CALL, and
// return-value marshalling. Grounded on
// original_source/llvm/include/llfunction.h and the construct-args/CALL/
// RET bodies of original_source/llvm/src/llinstruction.c.
package function

import (
	"fmt"

	"github.com/Hunterm267/dbrew/src/archreg"
	"github.com/Hunterm267/dbrew/src/block"
	"github.com/Hunterm267/dbrew/src/config"
	"github.com/Hunterm267/dbrew/src/irb"
	"github.com/Hunterm267/dbrew/src/lifterr"
	"github.com/Hunterm267/dbrew/src/operand"
	"tinygo.org/x/go-llvm"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// RetKind classifies a function's declared return type for RET lowering
// and CALL's return-value marshalling.
type RetKind int

const (
	RetVoid RetKind = iota
	RetInt
	RetPointer
	RetFloat
	RetDouble
)

// ParamKind classifies one declared parameter for argument construction.
type ParamKind int

const (
	ParamInt ParamKind = iota
	ParamPointer
	ParamFloat
	ParamDouble
)

// Signature is a function's machine-ABI-visible signature.
type Signature struct {
	Params []ParamKind
	Ret    RetKind
}

// Declaration is one entry in the function-declaration registry consumed
// from the external client: a callable target's address and signature
// (llfunction.h's ll_function_declare).
type Declaration struct {
	Addr uintptr
	Name string
	Sig  Signature
	LLVM llvm.Value // populated lazily on first reference
}

// Handle is an opaque integer index into a Context's function arena
// (spec.md §9's cyclic-ownership design: blocks hold a handle, never a
// direct owning reference back to their function).
type Handle int

// Function is one lifted function: its entry address, signature, blocks
// in discovery order, and entry block.
type Function struct {
	Addr      uintptr
	Sig       Signature
	LLVM      llvm.Value
	Blocks    []*block.Block
	EntryBB   *block.Block
	committed bool
}

// Context owns the arena of in-progress and committed functions plus the
// declaration registry CALL consults; DeclLLVM records each callee's
// LLVM value in its Declaration. A lift.LiftContext holds one Context.
type Context struct {
	b            *irb.Builder
	cfg          config.Options
	declarations map[uintptr]*Declaration
	funcs        []*Function
}

// ---------------------
// ----- functions -----
// ---------------------

// NewContext allocates an empty arena with the given declaration registry.
func NewContext(b *irb.Builder, cfg config.Options, declarations map[uintptr]*Declaration) *Context {
	return &Context{b: b, cfg: cfg, declarations: declarations}
}

// Declare registers fn as a new, in-progress function, returning its
// handle into the arena.
func (c *Context) Declare(addr uintptr, sig Signature) Handle {
	paramTypes := make([]llvm.Type, len(sig.Params))
	for i, p := range sig.Params {
		paramTypes[i] = c.llvmParamType(p)
	}
	retType := c.llvmRetType(sig.Ret)
	ftyp := c.b.FunctionType(retType, paramTypes, false)
	name := fmt.Sprintf("fn_%x", addr)
	llvmFn := c.b.AddFunction(name, ftyp)

	fn := &Function{Addr: addr, Sig: sig, LLVM: llvmFn}
	c.funcs = append(c.funcs, fn)
	return Handle(len(c.funcs) - 1)
}

func (c *Context) llvmParamType(p ParamKind) llvm.Type {
	switch p {
	case ParamPointer:
		return c.b.PtrType()
	case ParamFloat:
		return c.b.F32Type()
	case ParamDouble:
		return c.b.F64Type()
	default:
		return c.b.I64Type()
	}
}

func (c *Context) llvmRetType(r RetKind) llvm.Type {
	switch r {
	case RetVoid:
		return c.b.VoidType()
	case RetPointer:
		return c.b.PtrType()
	case RetFloat:
		return c.b.F32Type()
	case RetDouble:
		return c.b.F64Type()
	default:
		return c.b.I64Type()
	}
}

// Get returns the function at h.
func (c *Context) Get(h Handle) *Function { return c.funcs[h] }

// ResolveCall looks up the function declaration whose address matches
// target exactly, the only resolution strategy CALL uses (§6).
func (c *Context) ResolveCall(target uintptr, callAddr uintptr) (*Declaration, error) {
	decl, ok := c.declarations[target]
	if !ok {
		return nil, &lifterr.UnresolvedCall{Target: target, Addr: callAddr}
	}
	return decl, nil
}

// DeclLLVM returns (lazily creating) the llvm.Value for a call target.
func (c *Context) DeclLLVM(decl *Declaration) llvm.Value {
	if decl.LLVM.IsNil() {
		paramTypes := make([]llvm.Type, len(decl.Sig.Params))
		for i, p := range decl.Sig.Params {
			paramTypes[i] = c.llvmParamType(p)
		}
		ftyp := c.b.FunctionType(c.llvmRetType(decl.Sig.Ret), paramTypes, false)
		name := decl.Name
		if name == "" {
			name = fmt.Sprintf("fn_%x", decl.Addr)
		}
		decl.LLVM = c.b.AddFunction(name, ftyp)
	}
	return decl.LLVM
}

// FunctionTypeOf returns the LLVM function type for a declaration, used
// by CALL lowering to build the call instruction against an opaque
// function pointer.
func (c *Context) FunctionTypeOf(decl *Declaration) llvm.Type {
	paramTypes := make([]llvm.Type, len(decl.Sig.Params))
	for i, p := range decl.Sig.Params {
		paramTypes[i] = c.llvmParamType(p)
	}
	return c.b.FunctionType(c.llvmRetType(decl.Sig.Ret), paramTypes, false)
}

// AddBlock appends blk to h's discovery-order block list.
func (c *Context) AddBlock(h Handle, blk *block.Block) {
	fn := c.funcs[h]
	fn.Blocks = append(fn.Blocks, blk)
}

// BuildEntry prepends the entry block that unpacks machine-ABI arguments
// into its own register file and branches to the function's first real
// block, whose entry phis pick the arguments up from there
// (construct_args, §4.3). The entry's LLVM block is moved to the front
// of the function, ahead of any block declared before it.
func (c *Context) BuildEntry(h Handle, firstReal *block.Block) error {
	fn := c.funcs[h]
	entry := block.New(c.b, c.cfg, fn.Addr, nil)
	entry.Declare(fn.LLVM)
	if first := fn.LLVM.FirstBasicBlock(); first != entry.LLVM {
		entry.LLVM.MoveBefore(first)
	}
	c.b.SetInsertPointAtEnd(entry.LLVM)

	acc := operand.New(c.b, entry.Regs, c.cfg)
	var intArgs, floatArgs []llvm.Value
	for i, p := range fn.Sig.Params {
		param := fn.LLVM.Param(i)
		switch p {
		case ParamFloat, ParamDouble:
			floatArgs = append(floatArgs, param)
		default:
			if p == ParamPointer {
				param = c.b.PtrToInt(param, c.b.I64Type())
			}
			intArgs = append(intArgs, param)
		}
	}
	if err := acc.ConstructArgs(intArgs, floatArgs); err != nil {
		return err
	}

	c.b.Br(firstReal.Declare(fn.LLVM))
	entry.Branch = firstReal
	firstReal.AddPredecessor(entry)
	entry.State = block.Emitted

	fn.EntryBB = entry
	fn.Blocks = append([]*block.Block{entry}, fn.Blocks...)
	return nil
}

// LowerReturn reads the conventional return register per fn's declared
// return type and emits a typed ret (IT_RET's switch over return kind).
func (c *Context) LowerReturn(fn *Function, regs func(archreg.Facet, archreg.Reg) (llvm.Value, error)) error {
	switch fn.Sig.Ret {
	case RetVoid:
		c.b.RetVoid()
		return nil
	case RetPointer:
		v, err := regs(archreg.FacetI64, archreg.GP(archreg.RIA))
		if err != nil {
			return err
		}
		c.b.Ret(c.b.IntToPtr(v, c.b.PtrType()))
		return nil
	case RetFloat:
		v, err := regs(archreg.FacetF32, archreg.V(0))
		if err != nil {
			return err
		}
		c.b.Ret(v)
		return nil
	case RetDouble:
		v, err := regs(archreg.FacetF64, archreg.V(0))
		if err != nil {
			return err
		}
		c.b.Ret(v)
		return nil
	default:
		v, err := regs(archreg.FacetI64, archreg.GP(archreg.RIA))
		if err != nil {
			return err
		}
		c.b.Ret(v)
		return nil
	}
}

// Commit finalizes h: every block must be in the Linked state (phis
// filled). On success the function becomes part of the owning module;
// there is nothing further to merge since blocks were declared directly
// against the shared llvm.Module (§7's "committed only on success" is
// enforced by the caller never calling Commit on a failed lift and
// instead calling Discard).
func (c *Context) Commit(h Handle) error {
	fn := c.funcs[h]
	for _, b := range fn.Blocks {
		if len(b.Preds) > 0 && b.State != block.Linked {
			return &lifterr.Invariant{Reason: "function committed with an unlinked block"}
		}
	}
	fn.committed = true
	return nil
}

// Discard tears down h's in-progress LLVM function on a failed lift
// (§7's "the partially built IR for that function is discarded").
func (c *Context) Discard(h Handle) {
	fn := c.funcs[h]
	if !fn.committed {
		fn.LLVM.EraseFromParentAsFunction()
	}
}
