package vm

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Arithmetic
const (
	OpAdd Opcode = 0x01 // pop two, push wrapped sum
	OpSub Opcode = 0x02 // pop a then b, push b-a wrapped
	OpMul Opcode = 0x03 // pop two, push wrapped product
)

// Memory
const (
	OpMLoad  Opcode = 0x51 // pop address, push the word at address
	OpMStore Opcode = 0x52 // pop address then value, write one word
)

// Push literals. OpPush1+n carries exactly n+1 operand bytes, read
// big-endian from the tokens following the opcode.
const (
	OpPush1  Opcode = 0x60
	OpPush32 Opcode = 0x7f
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // human-readable name
	OperandBytes int    // number of operand bytes following the opcode
	StackArity   int    // stack entries the opcode consumes
}

// opcodeTable maps the fixed (non-push) opcodes to their metadata. The
// supported set is closed; there is no runtime registration.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpAdd:    {"ADD", 0, 2},
	OpSub:    {"SUB", 0, 2},
	OpMul:    {"MUL", 0, 2},
	OpMLoad:  {"MLOAD", 0, 1},
	OpMStore: {"MSTORE", 0, 2},
}

// IsPush returns true for the push-class opcodes.
func (op Opcode) IsPush() bool {
	return op >= OpPush1 && op <= OpPush32
}

// PushWidth returns the operand width in bytes for a push-class opcode.
func (op Opcode) PushWidth() int {
	return int(op-OpPush1) + 1
}

// Valid returns true if the opcode belongs to the supported set.
func (op Opcode) Valid() bool {
	if op.IsPush() {
		return true
	}
	_, ok := opcodeTable[op]
	return ok
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if op.IsPush() {
		n := op.PushWidth()
		return OpcodeInfo{Name: fmt.Sprintf("PUSH%d", n), OperandBytes: n, StackArity: 0}
	}
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Token stream decoding
// ---------------------------------------------------------------------------

// TokenReader decodes a bytecode token stream into (opcode, operand) pairs.
// Each token is a two-character hexadecimal string encoding one byte.
type TokenReader struct {
	tokens []string
	pos    int
}

// NewTokenReader creates a reader over a token stream.
func NewTokenReader(tokens []string) *TokenReader {
	return &TokenReader{tokens: tokens, pos: 0}
}

// Position returns the current cursor, in tokens.
func (r *TokenReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more tokens to decode.
func (r *TokenReader) HasMore() bool {
	return r.pos < len(r.tokens)
}

// readByte decodes the token at the cursor as a single byte.
func (r *TokenReader) readByte() (byte, error) {
	tok := r.tokens[r.pos]
	if len(tok) != 2 {
		return 0, fmt.Errorf("%w: token %q at offset %d is not one byte", ErrMalformedBytecode, tok, r.pos)
	}
	b, err := hex.DecodeString(tok)
	if err != nil {
		return 0, fmt.Errorf("%w: token %q at offset %d is not valid hex", ErrMalformedBytecode, tok, r.pos)
	}
	r.pos++
	return b[0], nil
}

// Next decodes the next instruction, returning the opcode and its operand
// bytes (big-endian, possibly empty) and advancing the cursor past both.
// Unknown opcodes decode with no operand; rejecting them is the dispatch
// loop's job.
func (r *TokenReader) Next() (Opcode, []byte, error) {
	start := r.pos
	b, err := r.readByte()
	if err != nil {
		return 0, nil, err
	}
	op := Opcode(b)

	width := op.OperandBytes()
	if width == 0 {
		return op, nil, nil
	}
	if r.pos+width > len(r.tokens) {
		return 0, nil, fmt.Errorf("%w: %s at offset %d needs %d operand byte(s), %d remain",
			ErrMalformedBytecode, op, start, width, len(r.tokens)-r.pos)
	}
	operand := make([]byte, 0, width)
	for j := 0; j < width; j++ {
		v, err := r.readByte()
		if err != nil {
			return 0, nil, err
		}
		operand = append(operand, v)
	}
	return op, operand, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble renders a token stream as one instruction per line. It fails
// with ErrMalformedBytecode on the same inputs Execute would reject at
// decode time.
func Disassemble(tokens []string) (string, error) {
	r := NewTokenReader(tokens)
	var sb strings.Builder
	for r.HasMore() {
		pos := r.Position()
		op, operand, err := r.Next()
		if err != nil {
			return "", err
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		if len(operand) > 0 {
			fmt.Fprintf(&sb, "%04d  %s 0x%s", pos, op, hex.EncodeToString(operand))
		} else {
			fmt.Fprintf(&sb, "%04d  %s", pos, op)
		}
	}
	return sb.String(), nil
}
