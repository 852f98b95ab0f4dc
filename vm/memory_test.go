package vm

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestMemoryStoreLoadRoundtrip(t *testing.T) {
	m := NewMemory()
	w := *uint256.NewInt(0xdeadbeef)

	m.StoreWord(1, w)
	got := m.LoadWord(1)
	if !got.Eq(&w) {
		t.Errorf("LoadWord(1) = %v, want %v", got.Dec(), w.Dec())
	}
}

func TestMemoryGrowsZeroFilled(t *testing.T) {
	m := NewMemory()
	m.StoreWord(100, *uint256.NewInt(1))

	if m.Size() != 100+WordBytes {
		t.Errorf("Size() = %d, want %d", m.Size(), 100+WordBytes)
	}
	// The gap below the stored word reads as zero.
	for _, addr := range []int{0, 32, 64} {
		w := m.LoadWord(addr)
		if !w.IsZero() {
			t.Errorf("LoadWord(%d) = %v, want 0", addr, w.Dec())
		}
	}
}

func TestMemoryGrowthMonotonic(t *testing.T) {
	m := NewMemory()
	m.StoreWord(64, *uint256.NewInt(7))
	high := m.Size()

	m.StoreWord(0, *uint256.NewInt(9))
	if m.Size() != high {
		t.Errorf("Size() = %d after low store, want %d", m.Size(), high)
	}
}

func TestMemoryLoadBeyondHighWater(t *testing.T) {
	m := NewMemory()
	m.StoreWord(0, *uint256.NewInt(5))
	high := m.Size()

	w := m.LoadWord(4096)
	if !w.IsZero() {
		t.Errorf("LoadWord(4096) = %v, want 0", w.Dec())
	}
	if m.Size() != high {
		t.Errorf("Size() = %d after read, want %d: reads must not grow", m.Size(), high)
	}
}

func TestMemoryLoadPartialOverlap(t *testing.T) {
	m := NewMemory()
	m.StoreWord(0, *uint256.NewInt(1)) // byte 31 holds 0x01

	// A load at 16 sees bytes 16..31, zero-extended past the high-water
	// mark: the 0x01 lands 16 bytes into the word, i.e. value 2^128.
	got := m.LoadWord(16)
	want := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	if !got.Eq(want) {
		t.Errorf("LoadWord(16) = %v, want %v", got.Dec(), want.Dec())
	}
	if m.Size() != WordBytes {
		t.Errorf("Size() = %d after partial read, want %d", m.Size(), WordBytes)
	}
}

func TestMemoryNonZeroWords(t *testing.T) {
	m := NewMemory()
	if m.NonZeroWords() != 0 {
		t.Errorf("NonZeroWords() = %d on empty memory, want 0", m.NonZeroWords())
	}

	m.StoreWord(0, *uint256.NewInt(3))
	m.StoreWord(64, *uint256.NewInt(0)) // touched but zero
	if got := m.NonZeroWords(); got != 1 {
		t.Errorf("NonZeroWords() = %d, want 1", got)
	}
}
