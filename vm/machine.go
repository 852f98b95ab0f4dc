package vm

import (
	"fmt"
	"io"
	"math"

	"github.com/holiman/uint256"

	"github.com/chazu/stackvm/storage"
)

// ---------------------------------------------------------------------------
// Machine: operand stack and dispatch loop
// ---------------------------------------------------------------------------

// Machine executes bytecode token streams. The operand stack and memory
// region persist across Execute calls on the same Machine, so sequential
// calls compose; only the program cursor is per call. The persistent store
// handle, when attached, is acquired at construction and released by Close.
//
// A Machine is not safe for concurrent use: one instance exclusively owns
// its stack, memory, and store handle.
type Machine struct {
	stack  []uint256.Int
	memory *Memory
	store  *storage.Store // nil when no persistent store is attached
}

// New creates a machine that owns the given store handle. The handle may be
// nil for purely transient execution; Store and Load then fail with
// storage.ErrClosed.
func New(store *storage.Store) *Machine {
	return &Machine{
		stack:  make([]uint256.Int, 0, 16),
		memory: NewMemory(),
		store:  store,
	}
}

// Open creates a machine backed by a persistent store at path, opening the
// store as part of construction. The caller releases it with Close.
func Open(path string) (*Machine, error) {
	store, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening machine store: %w", err)
	}
	return New(store), nil
}

// Memory returns the machine's memory region.
func (m *Machine) Memory() *Memory {
	return m.memory
}

// Stack returns a copy of the operand stack, bottom to top.
func (m *Machine) Stack() []uint256.Int {
	out := make([]uint256.Int, len(m.stack))
	copy(out, m.stack)
	return out
}

// StackDepth returns the current operand stack depth.
func (m *Machine) StackDepth() int {
	return len(m.stack)
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (m *Machine) push(w uint256.Int) {
	m.stack = append(m.stack, w)
}

// pop removes and returns the top of stack. Callers must have checked the
// arity; depth is an invariant here, not a condition.
func (m *Machine) pop() uint256.Int {
	w := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return w
}

// ---------------------------------------------------------------------------
// Main dispatch loop
// ---------------------------------------------------------------------------

// Execute runs one bytecode token stream against the machine's stack and
// memory: a single linear pass that ends at stream exhaustion or at the
// first fatal error. Failures abort the remainder of the call immediately;
// effects already applied by prior opcodes are retained, and the failing
// opcode itself applies none.
func (m *Machine) Execute(tokens []string) error {
	r := NewTokenReader(tokens)
	for r.HasMore() {
		pos := r.Position()
		op, operand, err := r.Next()
		if err != nil {
			return err
		}
		if err := m.step(op, operand, pos); err != nil {
			return err
		}
	}
	return nil
}

// step applies a single decoded opcode.
func (m *Machine) step(op Opcode, operand []byte, pos int) error {
	if op.IsPush() {
		var w uint256.Int
		w.SetBytes(operand)
		m.push(w)
		return nil
	}

	info, ok := opcodeTable[op]
	if !ok {
		return fmt.Errorf("%w: 0x%02x at offset %d", ErrUnknownOpcode, byte(op), pos)
	}
	if len(m.stack) < info.StackArity {
		return fmt.Errorf("%w: %s at offset %d needs %d operand(s), have %d",
			ErrStackUnderflow, op, pos, info.StackArity, len(m.stack))
	}

	switch op {
	case OpAdd:
		a, b := m.pop(), m.pop()
		var w uint256.Int
		w.Add(&a, &b)
		m.push(w)

	case OpSub:
		a, b := m.pop(), m.pop()
		var w uint256.Int
		w.Sub(&b, &a)
		m.push(w)

	case OpMul:
		a, b := m.pop(), m.pop()
		var w uint256.Int
		w.Mul(&a, &b)
		m.push(w)

	case OpMStore:
		addrWord := m.pop()
		value := m.pop()
		addr, err := memoryOffset(addrWord, op, pos)
		if err != nil {
			return err
		}
		m.memory.StoreWord(addr, value)

	case OpMLoad:
		addrWord := m.pop()
		addr, err := memoryOffset(addrWord, op, pos)
		if err != nil {
			return err
		}
		m.push(m.memory.LoadWord(addr))
	}
	return nil
}

// memoryOffset narrows a 256-bit address word to a host offset. Words whose
// end would not fit a host int fail with ErrAddressRange.
func memoryOffset(w uint256.Int, op Opcode, pos int) (int, error) {
	if !w.IsUint64() || w.Uint64() > uint64(math.MaxInt-WordBytes) {
		return 0, fmt.Errorf("%w: %s at offset %d: address %s", ErrAddressRange, op, pos, w.Dec())
	}
	return int(w.Uint64()), nil
}

// ---------------------------------------------------------------------------
// Persistent store access
// ---------------------------------------------------------------------------

// Store upserts key in the persistent store; the last write wins. Store
// failures are independent of execution state and never touch stack or
// memory.
func (m *Machine) Store(key string, value uint256.Int) error {
	if m.store == nil {
		return fmt.Errorf("no store attached: %w", storage.ErrClosed)
	}
	return m.store.Put(key, value)
}

// Load returns the value persisted under key, failing with
// storage.ErrNotFound for a never-stored key.
func (m *Machine) Load(key string) (uint256.Int, error) {
	if m.store == nil {
		return uint256.Int{}, fmt.Errorf("no store attached: %w", storage.ErrClosed)
	}
	return m.store.Get(key)
}

// Close releases the persistent store handle. The machine's stack and
// memory remain usable; store access after Close fails with
// storage.ErrClosed.
func (m *Machine) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

// PrintState writes the inspector's rendering of the current state to w.
// Inspection is read-only; it never mutates stack, memory, or storage.
func (m *Machine) PrintState(w io.Writer) error {
	text, err := NewInspector(m).Render()
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, text)
	return err
}
