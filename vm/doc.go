// Package vm implements a minimal stack-based bytecode machine.
//
// This package contains:
//   - Opcode definitions and metadata
//   - Hex token stream decoding
//   - The dispatch loop over a 256-bit operand stack
//   - Growable, zero-initialized word memory
//   - State inspection for diagnostics
//
// All stack and memory words are unsigned 256-bit integers; arithmetic
// wraps modulo 2^256. The machine also owns an optional persistent
// key-value store handle, which is the only state surviving beyond a
// single process run.
package vm
