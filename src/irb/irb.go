// Package irb is a thin facade over tinygo.org/x/go-llvm (the Go binding
// for the LLVM-C API). It exposes exactly the capability set spec.md §6
// requires — typed values, casts, vector constructors, phi nodes,
// branches, intrinsics, metadata — as methods on Builder, so the rest of
// this module depends on those capabilities rather than on the LLVM
// binding directly. Every call here corresponds one-to-one with an
// LLVMBuild*/LLVMConst* entry point; none of it encodes lowering policy.
package irb

import "tinygo.org/x/go-llvm"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Builder owns the context, module and cursor used to construct one IR
// module. A LiftContext holds exactly one Builder for its lifetime.
type Builder struct {
	Ctx     llvm.Context
	Mod     llvm.Module
	B       llvm.Builder
	mdKinds map[string]int
}

// ---------------------
// ----- functions -----
// ---------------------

// New creates a fresh context, module and builder, ready for function
// declarations.
func New(moduleName string) *Builder {
	ctx := llvm.NewContext()
	return &Builder{
		Ctx:     ctx,
		Mod:     ctx.NewModule(moduleName),
		B:       ctx.NewBuilder(),
		mdKinds: make(map[string]int),
	}
}

// Dispose releases the underlying LLVM builder; the LLVM context is not
// disposed. The module itself is not disposed here: on a successful lift
// it outlives the core
// and is handed to the next stage (spec.md §5 lifetimes).
func (b *Builder) Dispose() {
	b.B.Dispose()
}

// ----- Types -----

func (b *Builder) I1Type() llvm.Type   { return b.Ctx.Int1Type() }
func (b *Builder) I8Type() llvm.Type   { return b.Ctx.Int8Type() }
func (b *Builder) I16Type() llvm.Type  { return b.Ctx.Int16Type() }
func (b *Builder) I32Type() llvm.Type  { return b.Ctx.Int32Type() }
func (b *Builder) I64Type() llvm.Type  { return b.Ctx.Int64Type() }
func (b *Builder) I128Type() llvm.Type { return b.Ctx.IntType(128) }
func (b *Builder) I256Type() llvm.Type { return b.Ctx.IntType(256) }
func (b *Builder) F32Type() llvm.Type  { return b.Ctx.FloatType() }
func (b *Builder) F64Type() llvm.Type  { return b.Ctx.DoubleType() }
func (b *Builder) PtrType() llvm.Type  { return llvm.PointerType(b.Ctx.Int8Type(), 0) }
func (b *Builder) VoidType() llvm.Type { return b.Ctx.VoidType() }

func (b *Builder) VectorType(elem llvm.Type, count int) llvm.Type {
	return llvm.VectorType(elem, count)
}

func (b *Builder) FunctionType(ret llvm.Type, params []llvm.Type, variadic bool) llvm.Type {
	return llvm.FunctionType(ret, params, variadic)
}

// ----- Functions & blocks -----

func (b *Builder) AddFunction(name string, ftyp llvm.Type) llvm.Value {
	return llvm.AddFunction(b.Mod, name, ftyp)
}

func (b *Builder) AddBasicBlock(fn llvm.Value, name string) llvm.BasicBlock {
	return b.Ctx.AddBasicBlock(fn, name)
}

func (b *Builder) SetInsertPointAtEnd(bb llvm.BasicBlock) {
	b.B.SetInsertPointAtEnd(bb)
}

// SetInsertPointBefore repositions the cursor immediately ahead of instr,
// used to inject facet synthesis into a block that already carries a
// terminator (spec.md §9's scoped insertion-point guard).
func (b *Builder) SetInsertPointBefore(instr llvm.Value) {
	b.B.SetInsertPointBefore(instr)
}

// InsertionPoint snapshots the current cursor so a caller can restore it
// after a scoped facet-synthesis detour (spec.md §9's scoped guard).
func (b *Builder) InsertionPoint() llvm.BasicBlock {
	return b.B.GetInsertBlock()
}

// SetInlineHint marks a direct-call callee eligible for inlining,
// matching the original's LLVMInlineHintAttribute on every CALL target.
func (b *Builder) SetInlineHint(fn llvm.Value) {
	kind := llvm.AttributeKindID("inlinehint")
	attr := b.Ctx.CreateEnumAttribute(kind, 0)
	fn.AddFunctionAttr(attr)
}

// ----- Constants -----

func (b *Builder) ConstInt(t llvm.Type, v uint64, signExtend bool) llvm.Value {
	return llvm.ConstInt(t, v, signExtend)
}

func (b *Builder) ConstFloat(t llvm.Type, v float64) llvm.Value {
	return llvm.ConstFloat(t, v)
}

func (b *Builder) ConstNull(t llvm.Type) llvm.Value {
	return llvm.ConstNull(t)
}

func (b *Builder) Undef(t llvm.Type) llvm.Value {
	return llvm.Undef(t)
}

// ConstVector builds a constant vector from the given scalar constants,
// used for shuffle-mask construction (ShuffleVector's third operand).
func (b *Builder) ConstVector(elems []llvm.Value) llvm.Value {
	return llvm.ConstVector(elems, false)
}

// ----- Casts -----

func (b *Builder) Trunc(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreateTrunc(v, t, "")
}

func (b *Builder) SExt(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreateSExt(v, t, "")
}

func (b *Builder) ZExt(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreateZExt(v, t, "")
}

func (b *Builder) ZExtOrBitCast(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreateZExtOrBitCast(v, t, "")
}

func (b *Builder) TruncOrBitCast(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreateTruncOrBitCast(v, t, "")
}

func (b *Builder) BitCast(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreateBitCast(v, t, "")
}

func (b *Builder) IntToPtr(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreateIntToPtr(v, t, "")
}

func (b *Builder) PtrToInt(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreatePtrToInt(v, t, "")
}

func (b *Builder) PointerCast(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreatePointerCast(v, t, "")
}

func (b *Builder) SIToFP(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreateSIToFP(v, t, "")
}

func (b *Builder) FPToSI(v llvm.Value, t llvm.Type) llvm.Value {
	return b.B.CreateFPToSI(v, t, "")
}

// ----- Integer/float arithmetic -----

func (b *Builder) Add(l, r llvm.Value) llvm.Value  { return b.B.CreateAdd(l, r, "") }
func (b *Builder) Sub(l, r llvm.Value) llvm.Value  { return b.B.CreateSub(l, r, "") }
func (b *Builder) Mul(l, r llvm.Value) llvm.Value  { return b.B.CreateMul(l, r, "") }
func (b *Builder) And(l, r llvm.Value) llvm.Value  { return b.B.CreateAnd(l, r, "") }
func (b *Builder) Or(l, r llvm.Value) llvm.Value   { return b.B.CreateOr(l, r, "") }
func (b *Builder) Xor(l, r llvm.Value) llvm.Value  { return b.B.CreateXor(l, r, "") }
func (b *Builder) Not(v llvm.Value) llvm.Value     { return b.B.CreateNot(v, "") }
func (b *Builder) Neg(v llvm.Value) llvm.Value     { return b.B.CreateNeg(v, "") }
func (b *Builder) Shl(l, r llvm.Value) llvm.Value  { return b.B.CreateShl(l, r, "") }
func (b *Builder) LShr(l, r llvm.Value) llvm.Value { return b.B.CreateLShr(l, r, "") }
func (b *Builder) AShr(l, r llvm.Value) llvm.Value { return b.B.CreateAShr(l, r, "") }

func (b *Builder) ICmp(pred llvm.IntPredicate, l, r llvm.Value) llvm.Value {
	return b.B.CreateICmp(pred, l, r, "")
}

func (b *Builder) FAdd(l, r llvm.Value) llvm.Value { return b.B.CreateFAdd(l, r, "") }
func (b *Builder) FSub(l, r llvm.Value) llvm.Value { return b.B.CreateFSub(l, r, "") }
func (b *Builder) FMul(l, r llvm.Value) llvm.Value { return b.B.CreateFMul(l, r, "") }

func (b *Builder) FCmp(pred llvm.FloatPredicate, l, r llvm.Value) llvm.Value {
	return b.B.CreateFCmp(pred, l, r, "")
}

// EnableFastMath attaches the unsafe-algebra fast-math flags to a
// floating-point result, used by the SSE arithmetic opcodes when the
// client's config.Options.EnableFastMath is set.
func (b *Builder) EnableFastMath(v llvm.Value) {
	v.SetFastMathFlags(llvm.FastMathAll)
}

// ----- Vectors -----

func (b *Builder) ExtractElement(vec, idx llvm.Value) llvm.Value {
	return b.B.CreateExtractElement(vec, idx, "")
}

func (b *Builder) InsertElement(vec, elem, idx llvm.Value) llvm.Value {
	return b.B.CreateInsertElement(vec, elem, idx, "")
}

func (b *Builder) ShuffleVector(v1, v2, mask llvm.Value) llvm.Value {
	return b.B.CreateShuffleVector(v1, v2, mask, "")
}

// ----- Memory -----

func (b *Builder) Alloca(t llvm.Type) llvm.Value {
	return b.B.CreateAlloca(t, "")
}

func (b *Builder) Load(t llvm.Type, ptr llvm.Value) llvm.Value {
	return b.B.CreateLoad(t, ptr, "")
}

func (b *Builder) LoadAligned(t llvm.Type, ptr llvm.Value, align int) llvm.Value {
	v := b.B.CreateLoad(t, ptr, "")
	v.SetAlignment(align)
	return v
}

func (b *Builder) Store(v, ptr llvm.Value) llvm.Value {
	return b.B.CreateStore(v, ptr)
}

func (b *Builder) StoreAligned(v, ptr llvm.Value, align int) llvm.Value {
	s := b.B.CreateStore(v, ptr)
	s.SetAlignment(align)
	return s
}

func (b *Builder) GEP(t llvm.Type, ptr llvm.Value, indices []llvm.Value) llvm.Value {
	return b.B.CreateGEP(t, ptr, indices, "")
}

// ----- Control flow -----

func (b *Builder) Phi(t llvm.Type) llvm.Value {
	return b.B.CreatePHI(t, "")
}

func (b *Builder) AddIncoming(phi llvm.Value, values []llvm.Value, blocks []llvm.BasicBlock) {
	phi.AddIncoming(values, blocks)
}

func (b *Builder) Br(dest llvm.BasicBlock) llvm.Value {
	return b.B.CreateBr(dest)
}

func (b *Builder) CondBr(cond llvm.Value, then, els llvm.BasicBlock) llvm.Value {
	return b.B.CreateCondBr(cond, then, els)
}

func (b *Builder) Unreachable() llvm.Value {
	return b.B.CreateUnreachable()
}

func (b *Builder) Select(cond, then, els llvm.Value) llvm.Value {
	return b.B.CreateSelect(cond, then, els, "")
}

func (b *Builder) Call(fnType llvm.Type, fn llvm.Value, args []llvm.Value) llvm.Value {
	return b.B.CreateCall(fnType, fn, args, "")
}

func (b *Builder) Ret(v llvm.Value) llvm.Value {
	return b.B.CreateRet(v)
}

func (b *Builder) RetVoid() llvm.Value {
	return b.B.CreateRetVoid()
}

// ----- Metadata -----

// SetAsmReg attaches the "asm.reg.<name>" metadata node the original uses
// to track which architectural register a non-constant facet write came
// from.
func (b *Builder) SetAsmReg(v llvm.Value, regName string) {
	kind := b.mdKindID("asm.reg." + regName)
	md := b.Ctx.MDString(regName)
	v.InstructionSetMetadata(kind, md)
}

// SetAsmInstr attaches the "asm.instr" metadata string naming the
// disassembled instruction text to the per-instruction no-op anchor call.
func (b *Builder) SetAsmInstr(v llvm.Value, text string) {
	kind := b.mdKindID("asm.instr")
	md := b.Ctx.MDString(text)
	v.InstructionSetMetadata(kind, md)
}

// SetLoopMetadata tags a terminator with the "llvm.loop" full-unroll
// metadata node when config.Options.EnableFullLoopUnroll is set.
func (b *Builder) SetLoopMetadata(v llvm.Value) {
	kind := b.mdKindID("llvm.loop")
	self := b.Ctx.MDNode(nil)
	unroll := b.Ctx.MDNode([]llvm.Metadata{b.Ctx.MDString("llvm.loop.unroll.full")})
	loopMD := b.Ctx.MDNode([]llvm.Metadata{self, unroll})
	v.InstructionSetMetadata(kind, loopMD)
}

// ----- Introspection -----
//
// These expose just enough of a phi's incoming list and a terminator's
// successor edges for property tests to assert IR shape (spec.md §8)
// without depending on LLVM's bitcode text representation.

func (b *Builder) PhiIncomingCount(phi llvm.Value) int {
	return phi.IncomingCount()
}

func (b *Builder) PhiIncomingValue(phi llvm.Value, i int) llvm.Value {
	return phi.IncomingValue(i)
}

func (b *Builder) PhiIncomingBlock(phi llvm.Value, i int) llvm.BasicBlock {
	return phi.IncomingBlock(i)
}

// BlockTerminator returns bb's last instruction, which is its terminator
// once one has been emitted, or a nil Value if bb is empty.
func (b *Builder) BlockTerminator(bb llvm.BasicBlock) llvm.Value {
	return bb.LastInstruction()
}

// InstructionParent returns the basic block instr was emitted into,
// letting a caller confirm a lazily synthesized facet landed in the
// predecessor block a scoped insertion-point guard targeted rather than
// wherever the cursor previously sat.
func (b *Builder) InstructionParent(instr llvm.Value) llvm.BasicBlock {
	return instr.InstructionParent()
}

// SuccessorCount and Successor expose a br/condbr terminator's successor
// edges (LLVMGetNumSuccessors/LLVMGetSuccessor).
func (b *Builder) SuccessorCount(term llvm.Value) int {
	return term.SuccessorsCount()
}

func (b *Builder) Successor(term llvm.Value, i int) llvm.BasicBlock {
	return term.Successor(i)
}

func (b *Builder) mdKindID(name string) int {
	if id, ok := b.mdKinds[name]; ok {
		return id
	}
	id := llvm.MDKindID(name)
	b.mdKinds[name] = id
	return id
}

// ----- Intrinsics -----

// DeclareNoOp declares the "ll.nop" zero-argument intrinsic used purely
// as a metadata anchor for asm.instr (the Go-side equivalent of
// llvm.donothing).
func (b *Builder) DeclareNoOp() llvm.Value {
	const name = "ll.nop"
	if fn := b.Mod.NamedFunction(name); !fn.IsNil() {
		return fn
	}
	ftyp := llvm.FunctionType(b.VoidType(), nil, false)
	return llvm.AddFunction(b.Mod, name, ftyp)
}

// DeclarePopcount declares llvm.ctpop.i64, used by any future consumer
// that lowers POPCNT-family opcodes against this IR.
func (b *Builder) DeclarePopcount() llvm.Value {
	const name = "llvm.ctpop.i64"
	if fn := b.Mod.NamedFunction(name); !fn.IsNil() {
		return fn
	}
	ftyp := llvm.FunctionType(b.I64Type(), []llvm.Type{b.I64Type()}, false)
	return llvm.AddFunction(b.Mod, name, ftyp)
}

// DeclareOverflowIntrinsic declares one of the {sadd,ssub,smul}.with.overflow
// intrinsics at 64-bit width, returning the {result, overflow-bit} struct
// the add/sub/mul overflow-checked opcodes would consume.
func (b *Builder) DeclareOverflowIntrinsic(op string) llvm.Value {
	name := "llvm." + op + ".with.overflow.i64"
	if fn := b.Mod.NamedFunction(name); !fn.IsNil() {
		return fn
	}
	retT := b.Ctx.StructType([]llvm.Type{b.I64Type(), b.I1Type()}, false)
	ftyp := llvm.FunctionType(retT, []llvm.Type{b.I64Type(), b.I64Type()}, false)
	return llvm.AddFunction(b.Mod, name, ftyp)
}
