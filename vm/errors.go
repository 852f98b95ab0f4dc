package vm

import (
	"errors"
)

// ErrMalformedBytecode indicates a token that is not a valid byte, or an
// operand truncated by the end of the stream.
var ErrMalformedBytecode = errors.New("malformed bytecode")

// ErrStackUnderflow indicates an opcode executed against a stack shallower
// than its required arity.
var ErrStackUnderflow = errors.New("stack underflow")

// ErrUnknownOpcode indicates an opcode byte outside the supported set.
var ErrUnknownOpcode = errors.New("unknown opcode")

// ErrAddressRange indicates a memory address that cannot be realized as a
// host offset. Stack words are 256 bits wide; offsets are not.
var ErrAddressRange = errors.New("memory address out of range")
