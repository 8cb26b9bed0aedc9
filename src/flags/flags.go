// Package flags implements the flag engine of spec.md §4.2: a per-block
// cache of CF/PF/AF/ZF/SF/OF, setters parameterized by arithmetic kind,
// and the condition builder shared by the Jcc/SETcc/CMOVcc families.
// Grounded on original_source/llvm/src/llinstruction-gp.c's inline
// flag-setting call sequences and the condition table implied by
// llinstruction.c's Jcc/SETcc/CMOVcc case blocks.
package flags

import (
	"github.com/Hunterm267/dbrew/src/irb"
	"tinygo.org/x/go-llvm"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Cache holds the six flag Booleans (each i1) most recently computed, plus
// a fused-comparison record of the last CMP/SUB that FusedLess reads
// (spec.md §9 Open Question (c) — an optimization, never required for
// correctness). Condition does not consult the record; it always
// recombines the cached flag bits.
type Cache struct {
	b     *irb.Builder
	cf    llvm.Value
	pf    llvm.Value
	af    llvm.Value
	zf    llvm.Value
	sf    llvm.Value
	of    llvm.Value
	valid bool

	// fusedL/fusedR record the operands of the last CMP/SUB so that
	// FusedLess can rebuild "a <s b" as a single icmp instead of
	// recombining cached flag bits.
	fusedL, fusedR llvm.Value
	fusedValid     bool
}

// ---------------------
// ----- functions -----
// ---------------------

func New(b *irb.Builder) *Cache { return &Cache{b: b} }

func (c *Cache) msb(v llvm.Value, bits int) llvm.Value {
	t := v.Type()
	shiftAmt := c.b.ConstInt(t, uint64(bits-1), false)
	shifted := c.b.LShr(v, shiftAmt)
	return c.b.Trunc(shifted, c.b.I1Type())
}

func (c *Cache) parity(v llvm.Value) llvm.Value {
	// Low byte parity via iterative XOR-fold, matching a pure function of
	// the result with no table lookup (there's no lookup table capability
	// in the IR-builder facade, unlike oisee-z80-optimizer's precomputed
	// SZ53P byte table — here it's computed in IR instead of in Go).
	low := c.b.Trunc(v, c.b.I8Type())
	bit := func(n uint64) llvm.Value {
		shifted := c.b.LShr(low, c.b.ConstInt(c.b.I8Type(), n, false))
		return c.b.Trunc(shifted, c.b.I1Type())
	}
	p := bit(0)
	for n := uint64(1); n < 8; n++ {
		p = c.b.Xor(p, bit(n))
	}
	return c.b.Not(p) // parity flag is set when the number of 1 bits is even
}

func (c *Cache) isZero(v llvm.Value) llvm.Value {
	zero := c.b.ConstNull(v.Type())
	return c.b.ICmp(llvm.IntEQ, v, zero)
}

func (c *Cache) ult(a, b llvm.Value) llvm.Value {
	return c.b.ICmp(llvm.IntULT, a, b)
}

func (c *Cache) xorBits(a, b llvm.Value) llvm.Value {
	return c.b.Xor(a, b)
}

// auxCarry computes AF := ((a⊕b⊕result)>>4)&1.
func (c *Cache) auxCarry(result, a, b llvm.Value) llvm.Value {
	x := c.b.Xor(c.b.Xor(a, b), result)
	t := x.Type()
	shifted := c.b.LShr(x, c.b.ConstInt(t, 4, false))
	return c.b.Trunc(shifted, c.b.I1Type())
}

func bits(v llvm.Value) int {
	return v.Type().Bitsize()
}

// SetAdd implements spec.md §4.2's set_add.
func (c *Cache) SetAdd(result, a, b llvm.Value) {
	n := bits(result)
	c.zf = c.isZero(result)
	c.sf = c.msb(result, n)
	c.pf = c.parity(result)
	c.cf = c.ult(result, a)
	msbA, msbB, msbR := c.msb(a, n), c.msb(b, n), c.msb(result, n)
	c.of = c.b.And(c.b.Not(c.b.Xor(msbA, msbB)), c.b.Xor(msbR, msbA))
	c.af = c.auxCarry(result, a, b)
	c.valid = true
	c.fusedValid = false
}

// SetSub implements spec.md §4.2's set_sub.
func (c *Cache) SetSub(result, a, b llvm.Value) {
	n := bits(result)
	c.zf = c.isZero(result)
	c.sf = c.msb(result, n)
	c.pf = c.parity(result)
	c.cf = c.ult(a, b)
	msbA, msbB, msbR := c.msb(a, n), c.msb(b, n), c.msb(result, n)
	c.of = c.b.And(c.xorBits(msbA, msbB), c.xorBits(msbR, msbA))
	c.af = c.auxCarry(result, a, b)
	c.valid = true
	c.fusedL, c.fusedR, c.fusedValid = a, b, true
}

// SetInc implements set_inc: same as SetAdd against constant 1, except CF
// is left untouched (x86's INC does not affect CF).
func (c *Cache) SetInc(result, a llvm.Value) {
	savedCF := c.cf
	one := c.b.ConstInt(result.Type(), 1, false)
	c.SetAdd(result, a, one)
	c.cf = savedCF
}

// SetDec mirrors SetInc for DEC.
func (c *Cache) SetDec(result, a llvm.Value) {
	savedCF := c.cf
	one := c.b.ConstInt(result.Type(), 1, false)
	c.SetSub(result, a, one)
	c.cf = savedCF
}

// SetBit implements set_bit for the bitwise operators: ZF/SF/PF from
// result; CF = OF = 0; AF is left undefined.
func (c *Cache) SetBit(result llvm.Value) {
	n := bits(result)
	c.zf = c.isZero(result)
	c.sf = c.msb(result, n)
	c.pf = c.parity(result)
	c.cf = c.b.ConstInt(c.b.I1Type(), 0, false)
	c.of = c.b.ConstInt(c.b.I1Type(), 0, false)
	c.af = c.b.Undef(c.b.I1Type())
	c.valid = true
	c.fusedValid = false
}

// SetSF/SetZF/SetPF/SetAF/SetOfSub/SetOfImul are the individual setters
// composite opcodes (NEG, IMUL variants) use directly.
func (c *Cache) SetSF(result llvm.Value) { c.sf = c.msb(result, bits(result)) }
func (c *Cache) SetZF(result llvm.Value) { c.zf = c.isZero(result) }
func (c *Cache) SetPF(result llvm.Value) { c.pf = c.parity(result) }
func (c *Cache) SetAF(result, a, b llvm.Value) {
	c.af = c.auxCarry(result, a, b)
}

// SetOfSub sets OF for a subtraction-shaped result (used by NEG against 0).
func (c *Cache) SetOfSub(result, a, b llvm.Value) {
	n := bits(result)
	msbA, msbB, msbR := c.msb(a, n), c.msb(b, n), c.msb(result, n)
	c.of = c.b.And(c.xorBits(msbA, msbB), c.xorBits(msbR, msbA))
}

// SetOfImul sets OF=CF for the IMUL/MUL forms to the overflow bit the
// caller already computed in its widened arithmetic: true when the
// mathematical product does not fit back into the operand width.
func (c *Cache) SetOfImul(overflow llvm.Value) {
	c.of = overflow
	c.cf = overflow
}

// SetCF/SetZF-style raw setters used by NEG, which computes CF directly
// (CF := a != 0) rather than through SetAdd/SetSub.
func (c *Cache) SetCF(v llvm.Value) { c.cf = v }

// Invalidate marks every flag as an undefined value; used for opcodes
// this module does not model fully (SHL/SHR/SAR, ADC, NOT, non-standard
// NEG updates) — never an error, per spec.md §7.
func (c *Cache) Invalidate() {
	u := c.b.Undef(c.b.I1Type())
	c.cf, c.pf, c.af, c.zf, c.sf, c.of = u, u, u, u, u, u
	c.valid = false
	c.fusedValid = false
}

// Get returns the cached Boolean for flag.
func (c *Cache) Get(f Flag) llvm.Value {
	switch f {
	case CF:
		return c.cf
	case PF:
		return c.pf
	case AF:
		return c.af
	case ZF:
		return c.zf
	case SF:
		return c.sf
	case OF:
		return c.of
	}
	return llvm.Value{}
}

// Set installs a raw flag value, used by phi filling to seed a block's
// flag cache from its entry phis.
func (c *Cache) Set(f Flag, v llvm.Value) {
	switch f {
	case CF:
		c.cf = v
	case PF:
		c.pf = v
	case AF:
		c.af = v
	case ZF:
		c.zf = v
	case SF:
		c.sf = v
	case OF:
		c.of = v
	}
}

// Flag identifies one of the six flag-cache slots, mirrored from
// archreg.Flag to keep this package importable without the register
// bank enums.
type Flag int

const (
	CF Flag = iota
	PF
	AF
	ZF
	SF
	OF
)

// Condition builds the Boolean for a conditional-opcode family (Jcc,
// SETcc, CMOVcc), given the family's anchor condition code. The mapping
// is the standard x86 table; identical across all three families, which
// is exactly what spec.md §8's cross-family invariant checks.
type Cond int

const (
	CondO Cond = iota
	CondNO
	CondC
	CondNC
	CondZ
	CondNZ
	CondBE
	CondA
	CondS
	CondNS
	CondP
	CondNP
	CondL
	CondGE
	CondLE
	CondG
)

func (c *Cache) Condition(cond Cond) llvm.Value {
	switch cond {
	case CondO:
		return c.of
	case CondNO:
		return c.b.Not(c.of)
	case CondC:
		return c.cf
	case CondNC:
		return c.b.Not(c.cf)
	case CondZ:
		return c.zf
	case CondNZ:
		return c.b.Not(c.zf)
	case CondBE:
		return c.b.Or(c.cf, c.zf)
	case CondA:
		return c.b.And(c.b.Not(c.cf), c.b.Not(c.zf))
	case CondS:
		return c.sf
	case CondNS:
		return c.b.Not(c.sf)
	case CondP:
		return c.pf
	case CondNP:
		return c.b.Not(c.pf)
	case CondL:
		return c.b.Xor(c.sf, c.of)
	case CondGE:
		return c.b.Not(c.b.Xor(c.sf, c.of))
	case CondLE:
		return c.b.Or(c.zf, c.b.Xor(c.sf, c.of))
	case CondG:
		return c.b.And(c.b.Not(c.zf), c.b.Not(c.b.Xor(c.sf, c.of)))
	}
	return llvm.Value{}
}

// FusedLess reconstructs "a <s b" directly from the last CMP/SUB's
// operands when the cache is still fused, letting CMP+Jcc collapse into
// one icmp instead of recombining SF/OF. Returns ok=false when there is
// nothing to fuse, in which case the caller must fall back to Condition.
func (c *Cache) FusedLess() (v llvm.Value, ok bool) {
	if !c.fusedValid {
		return llvm.Value{}, false
	}
	return c.b.ICmp(llvm.IntSLT, c.fusedL, c.fusedR), true
}
