// Package archreg declares the closed enumerations the rest of the lifter
// indexes by: general-purpose and vector register indices, the instruction-
// pointer pseudo-register, the six EFLAGS bits, and the closed facet set of
// spec.md §3. Nothing here touches LLVM; these are pure integer enums plus
// the small amount of folding logic (AH/CH/DH/BH onto the low four GP
// slots) that the original register file relies on.
package archreg

import "fmt"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Kind distinguishes which register bank an index refers to.
type Kind int

const (
	KindGP Kind = iota
	KindV
	KindIP
)

// Reg names one architectural register: a kind plus the 0-based index
// within that bank. GP8Leg marks a legacy high-byte operand (AH/CH/DH/BH);
// Index still names the low register (0-3) it folds onto.
type Reg struct {
	Kind   Kind
	Index  int  // 0-15 for GP/V, 0 for IP.
	GP8Leg bool // true only for AH/CH/DH/BH operands.
}

// Facet is a typed view of a register's current value. The set is closed:
// no caller may introduce a new facet at runtime.
type Facet int

// Flag identifies one of the six EFLAGS bits this module tracks.
type Flag int

// ---------------------------------
// ----- GP register constants -----
// ---------------------------------

// GP register indices, System V encoding order.
const (
	RIA = iota
	RIC
	RID
	RIB
	RISP
	RIBP
	RISI
	RIDI
	RIR8
	RIR9
	RIR10
	RIR11
	RIR12
	RIR13
	RIR14
	RIR15
	GPMax
)

// VMax is the number of vector registers (XMM0-15 / YMM0-15).
const VMax = 16

// ---------------------------
// ----- Facet constants -----
// ---------------------------

const (
	FacetI8 Facet = iota
	FacetI8H
	FacetI16
	FacetI32
	FacetI64
	FacetPTR
	FacetI128
	FacetI256
	FacetF32
	FacetF64
	FacetV16I8
	FacetV8I16
	FacetV4I32
	FacetV2I64
	FacetV2F32
	FacetV4F32
	FacetV2F64
	FacetV32I8
	FacetV16I16
	FacetV8I32
	FacetV4I64
	FacetV8F32
	FacetV4F64
	FacetIVEC
	FacetCount
)

// ---------------------------
// ----- Flag constants -----
// ---------------------------

const (
	FlagCF Flag = iota
	FlagPF
	FlagAF
	FlagZF
	FlagSF
	FlagOF
	FlagCount
)

// ---------------------
// ----- functions -----
// ---------------------

// GP builds a plain general-purpose register reference.
func GP(index int) Reg { return Reg{Kind: KindGP, Index: index} }

// GPHigh builds a legacy AH/CH/DH/BH reference; index must be 0-3 (A/C/D/B).
func GPHigh(index int) Reg { return Reg{Kind: KindGP, Index: index, GP8Leg: true} }

// V builds a vector register reference.
func V(index int) Reg { return Reg{Kind: KindV, Index: index} }

// IP is the single instruction-pointer pseudo-register.
func IP() Reg { return Reg{Kind: KindIP} }

// Slot resolves a register to its backing GP/V array index, folding the
// legacy high-byte aliases (AH/CH/DH/BH) back onto A/C/D/B, matching
// ll_regfile_get_ptr's RI_AH..RI_R8L special case.
func (r Reg) Slot() int {
	if r.Kind == KindGP && r.GP8Leg {
		return r.Index
	}
	return r.Index
}

// IsVector reports whether this facet applies to vector registers.
func (f Facet) IsVector() bool {
	switch f {
	case FacetI128, FacetI256, FacetF32, FacetF64,
		FacetV16I8, FacetV8I16, FacetV4I32, FacetV2I64, FacetV2F32, FacetV4F32, FacetV2F64,
		FacetV32I8, FacetV16I16, FacetV8I32, FacetV4I64, FacetV8F32, FacetV4F64,
		FacetIVEC:
		return true
	}
	return false
}

// Is256 reports whether a facet only exists when the register file was
// configured for 256-bit (AVX-width) vectors.
func (f Facet) Is256() bool {
	switch f {
	case FacetI256, FacetV32I8, FacetV16I16, FacetV8I32, FacetV4I64, FacetV8F32, FacetV4F64:
		return true
	}
	return false
}

// String is used only in diagnostics and test failure messages.
func (f Facet) String() string {
	names := [...]string{
		"I8", "I8H", "I16", "I32", "I64", "PTR", "I128", "I256", "F32", "F64",
		"V16I8", "V8I16", "V4I32", "V2I64", "V2F32", "V4F32", "V2F64",
		"V32I8", "V16I16", "V8I32", "V4I64", "V8F32", "V4F64", "IVEC",
	}
	if int(f) < 0 || int(f) >= len(names) {
		return fmt.Sprintf("Facet(%d)", int(f))
	}
	return names[f]
}

func (fl Flag) String() string {
	names := [...]string{"CF", "PF", "AF", "ZF", "SF", "OF"}
	if int(fl) < 0 || int(fl) >= len(names) {
		return fmt.Sprintf("Flag(%d)", int(fl))
	}
	return names[fl]
}

// RegName resolves the textual asm name used for the "asm.reg.<name>"
// metadata marker, e.g. "eax", "xmm3", "rsp". facet picks the naming width
// for GP registers; V registers are always named by their XMM form.
func RegName(r Reg, facet Facet) string {
	if r.Kind == KindIP {
		return "rip"
	}
	if r.Kind == KindV {
		return fmt.Sprintf("xmm%d", r.Index)
	}
	gpNames8 := [...]string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil",
		"r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"}
	gpNames8High := [...]string{"ah", "ch", "dh", "bh"}
	gpNames16 := [...]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
		"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"}
	gpNames32 := [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
		"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}
	gpNames64 := [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

	idx := r.Slot()
	switch facet {
	case FacetI8:
		if r.GP8Leg {
			return gpNames8High[idx]
		}
		return gpNames8[idx]
	case FacetI8H:
		return gpNames8High[idx]
	case FacetI16:
		return gpNames16[idx]
	case FacetI32:
		return gpNames32[idx]
	default:
		return gpNames64[idx]
	}
}
