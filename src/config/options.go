// Package config holds the small set of knobs the embedding client passes in
// when it constructs a lifter state. There is no environment variable and no
// configuration file: the client builds an Options value directly and hands
// it to the lift package.
package config

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// VectorWidth identifies the widest vector facet the register file may
// synthesize for V registers.
type VectorWidth int

// PartialRegisterPolicy identifies the fallback handling for a GP write that
// the instruction itself does not force one way or the other (see
// operand.Store's partial parameter for the per-instruction override).
type PartialRegisterPolicy int

// Options is the full configuration surface consumed at LiftContext
// construction.
type Options struct {
	// EnableFastMath attaches an unsafe-algebra flag to every floating-point
	// result produced by the SSE arithmetic opcodes.
	EnableFastMath bool
	// EnableFullLoopUnroll tags every terminator with a full-unroll
	// loop-metadata node.
	EnableFullLoopUnroll bool
	// VectorRegisterSize selects which vector facets the register file
	// offers: Vector128 only, or Vector128 plus the 256-bit facets.
	VectorRegisterSize VectorWidth
	// PartialRegisterDefault is the policy applied to a GP write whose
	// instruction lowering passes DEFAULT; a write that requests ZeroUpper
	// or KeepUpper uses that policy as given.
	PartialRegisterDefault PartialRegisterPolicy
}

// ---------------------
// ----- Constants -----
// ---------------------

// Vector register widths.
const (
	Vector128 VectorWidth = 128
	Vector256 VectorWidth = 256
)

// Partial-register handling policies (spec §4.1).
const (
	// Default zero-extends 32-bit GP writes to 64 bits and otherwise
	// preserves the upper bits, matching the x86-64 architectural rule.
	Default PartialRegisterPolicy = iota
	// ZeroUpper forces zero-extension to 64 bits regardless of the write
	// width.
	ZeroUpper
	// KeepUpper preserves whatever upper bits are currently present: a
	// narrower write is merged into the I64 backing value.
	KeepUpper
)

// ---------------------
// ----- functions -----
// ---------------------

// Default128 returns the configuration a client gets if it does not care to
// set anything explicitly: no fast-math, no loop unrolling, 128-bit vectors,
// and the architectural DEFAULT partial-register rule.
func Default128() Options {
	return Options{
		VectorRegisterSize:     Vector128,
		PartialRegisterDefault: Default,
	}
}
