package vm

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/holiman/uint256"

	"github.com/chazu/stackvm/storage"
)

// checkStack compares the operand stack, bottom to top, against want.
func checkStack(t *testing.T, m *Machine, want ...uint64) {
	t.Helper()
	stack := m.Stack()
	if len(stack) != len(want) {
		t.Fatalf("stack depth = %d, want %d", len(stack), len(want))
	}
	for i, v := range want {
		if !stack[i].Eq(uint256.NewInt(v)) {
			t.Errorf("stack[%d] = %v, want %d", i, stack[i].Dec(), v)
		}
	}
}

// ---------------------------------------------------------------------------
// Execution scenarios
// ---------------------------------------------------------------------------

func TestExecutePushLiteral(t *testing.T) {
	m := New(nil)
	if err := m.Execute([]string{"60", "03"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	checkStack(t, m, 3)
}

func TestExecuteAdd(t *testing.T) {
	m := New(nil)
	// PUSH 3, PUSH 1, ADD
	if err := m.Execute([]string{"60", "03", "60", "01", "01"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	checkStack(t, m, 4)
}

func TestExecuteSub(t *testing.T) {
	m := New(nil)
	// PUSH 3, PUSH 2, SUB: second-popped minus first-popped
	if err := m.Execute([]string{"60", "03", "60", "02", "02"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	checkStack(t, m, 1)
}

func TestExecuteMul(t *testing.T) {
	m := New(nil)
	if err := m.Execute([]string{"60", "03", "60", "02", "03"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	checkStack(t, m, 6)
}

func TestExecuteMStoreMLoad(t *testing.T) {
	m := New(nil)
	// PUSH 3, PUSH 1, MSTORE (mem[1]=3), PUSH 1, MLOAD
	if err := m.Execute([]string{"60", "03", "60", "01", "52", "60", "01", "51"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	checkStack(t, m, 3)
}

func TestExecuteMLoadUntouchedIsZero(t *testing.T) {
	m := New(nil)
	if err := m.Execute([]string{"60", "40", "51"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	checkStack(t, m, 0)
}

func TestPushIncreasesDepth(t *testing.T) {
	m := New(nil)
	var tokens []string
	const n = 17
	for i := 0; i < n; i++ {
		tokens = append(tokens, "60", "01")
	}
	if err := m.Execute(tokens); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if m.StackDepth() != n {
		t.Errorf("StackDepth() = %d after %d pushes, want %d", m.StackDepth(), n, n)
	}
}

func TestExecuteComposes(t *testing.T) {
	// Stack and memory persist across Execute calls on one machine.
	m := New(nil)
	if err := m.Execute([]string{"60", "03"}); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	if err := m.Execute([]string{"60", "01", "01"}); err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	checkStack(t, m, 4)
}

func TestExecutePush32(t *testing.T) {
	tokens := []string{"7f"}
	for i := 0; i < 32; i++ {
		tokens = append(tokens, "ff")
	}
	m := New(nil)
	if err := m.Execute(tokens); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	stack := m.Stack()
	if len(stack) != 1 {
		t.Fatalf("stack depth = %d, want 1", len(stack))
	}
	var max uint256.Int
	max.SetAllOne()
	if !stack[0].Eq(&max) {
		t.Errorf("stack[0] = %v, want 2^256-1", stack[0].Dec())
	}
}

// ---------------------------------------------------------------------------
// Modular arithmetic
// ---------------------------------------------------------------------------

func TestAddWraps(t *testing.T) {
	// (2^256-1) + 1 == 0
	tokens := []string{"7f"}
	for i := 0; i < 32; i++ {
		tokens = append(tokens, "ff")
	}
	tokens = append(tokens, "60", "01", "01")

	m := New(nil)
	if err := m.Execute(tokens); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	checkStack(t, m, 0)
}

func TestAddCommutes(t *testing.T) {
	a := New(nil)
	if err := a.Execute([]string{"60", "03", "60", "01", "01"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	b := New(nil)
	if err := b.Execute([]string{"60", "01", "60", "03", "01"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	as, bs := a.Stack(), b.Stack()
	if len(as) != 1 || len(bs) != 1 || !as[0].Eq(&bs[0]) {
		t.Errorf("ADD not commutative: %v vs %v", as, bs)
	}
}

func TestSubWraps(t *testing.T) {
	// 0 - 1 == 2^256-1
	m := New(nil)
	if err := m.Execute([]string{"60", "00", "60", "01", "02"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	stack := m.Stack()
	var max uint256.Int
	max.SetAllOne()
	if len(stack) != 1 || !stack[0].Eq(&max) {
		t.Errorf("stack = %v, want [2^256-1]", stack)
	}
}

func TestMulWraps(t *testing.T) {
	// (2^256-1) * 2 == 2^256-2
	tokens := []string{"7f"}
	for i := 0; i < 32; i++ {
		tokens = append(tokens, "ff")
	}
	tokens = append(tokens, "60", "02", "03")

	m := New(nil)
	if err := m.Execute(tokens); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var want uint256.Int
	want.SetAllOne()
	want.Sub(&want, uint256.NewInt(1))
	stack := m.Stack()
	if len(stack) != 1 || !stack[0].Eq(&want) {
		t.Errorf("stack = %v, want [2^256-2]", stack)
	}
}

// ---------------------------------------------------------------------------
// Failure semantics
// ---------------------------------------------------------------------------

func TestStackUnderflowRetainsPriorEffects(t *testing.T) {
	m := New(nil)
	// PUSH 1, then MSTORE against a one-deep stack.
	err := m.Execute([]string{"60", "01", "52"})
	if !errors.Is(err, ErrStackUnderflow) {
		t.Fatalf("err = %v, want ErrStackUnderflow", err)
	}
	// The failing opcode applied nothing; the push survives.
	checkStack(t, m, 1)
	if m.Memory().Size() != 0 {
		t.Errorf("memory size = %d after failed MSTORE, want 0", m.Memory().Size())
	}
}

func TestUnknownOpcodeStopsStream(t *testing.T) {
	m := New(nil)
	err := m.Execute([]string{"60", "01", "ee", "60", "02"})
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("err = %v, want ErrUnknownOpcode", err)
	}
	// Prior push retained, trailing push never executed.
	checkStack(t, m, 1)
}

func TestMalformedBytecodeStopsStream(t *testing.T) {
	m := New(nil)
	err := m.Execute([]string{"60", "01", "60"})
	if !errors.Is(err, ErrMalformedBytecode) {
		t.Fatalf("err = %v, want ErrMalformedBytecode", err)
	}
	checkStack(t, m, 1)
}

func TestAddressRange(t *testing.T) {
	// MLOAD at 2^256-1 cannot be realized as a host offset.
	tokens := []string{"7f"}
	for i := 0; i < 32; i++ {
		tokens = append(tokens, "ff")
	}
	tokens = append(tokens, "51")

	m := New(nil)
	if err := m.Execute(tokens); !errors.Is(err, ErrAddressRange) {
		t.Fatalf("err = %v, want ErrAddressRange", err)
	}
}

// ---------------------------------------------------------------------------
// Persistent store surface
// ---------------------------------------------------------------------------

func TestMachineStoreLoad(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer m.Close()

	want := *uint256.NewInt(123)
	if err := m.Store("persist_key", want); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	got, err := m.Load("persist_key")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.Eq(&want) {
		t.Errorf("Load() = %v, want %v", got.Dec(), want.Dec())
	}

	if _, err := m.Load("never_stored"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Load(missing) err = %v, want ErrNotFound", err)
	}
}

func TestMachineStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := m.Store("persist_key", *uint256.NewInt(123)); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	m2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer m2.Close()
	got, err := m2.Load("persist_key")
	if err != nil {
		t.Fatalf("Load() after reopen error = %v", err)
	}
	if !got.Eq(uint256.NewInt(123)) {
		t.Errorf("Load() after reopen = %v, want 123", got.Dec())
	}
}

func TestMachineStoreAfterClose(t *testing.T) {
	m, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := m.Store("k", *uint256.NewInt(1)); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Store() after close err = %v, want ErrClosed", err)
	}
	if _, err := m.Load("k"); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Load() after close err = %v, want ErrClosed", err)
	}

	// Stack and memory stay usable; the store is independent of them.
	if err := m.Execute([]string{"60", "07"}); err != nil {
		t.Errorf("Execute() after close error = %v", err)
	}
	checkStack(t, m, 7)
}

func TestMachineWithoutStore(t *testing.T) {
	m := New(nil)
	if err := m.Store("k", *uint256.NewInt(1)); !errors.Is(err, storage.ErrClosed) {
		t.Errorf("Store() without store err = %v, want ErrClosed", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close() without store error = %v", err)
	}
}

func TestPrintState(t *testing.T) {
	m := New(nil)
	if err := m.Execute([]string{"60", "03"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	var sb strings.Builder
	if err := m.PrintState(&sb); err != nil {
		t.Fatalf("PrintState() error = %v", err)
	}
	if !strings.Contains(sb.String(), "Stack (top -> bottom): [3]") {
		t.Errorf("PrintState() output missing stack line:\n%s", sb.String())
	}
}
