package vm

import (
	"github.com/holiman/uint256"
)

// WordBytes is the width of one machine word in bytes.
const WordBytes = 32

// ---------------------------------------------------------------------------
// Memory: growable, zero-initialized word scratch space
// ---------------------------------------------------------------------------

// Memory is a linear byte buffer accessed in word-sized units at
// non-negative byte offsets. It grows on demand, never shrinks, and newly
// exposed bytes read as zero.
type Memory struct {
	bytes []byte
}

// NewMemory creates an empty memory region.
func NewMemory() *Memory {
	return &Memory{}
}

// Size returns the high-water mark in bytes.
func (m *Memory) Size() int {
	return len(m.bytes)
}

// StoreWord writes one word big-endian at addr, growing the region
// (zero-filling the gap) when addr+WordBytes exceeds the high-water mark.
func (m *Memory) StoreWord(addr int, w uint256.Int) {
	if end := addr + WordBytes; end > len(m.bytes) {
		m.bytes = append(m.bytes, make([]byte, end-len(m.bytes))...)
	}
	b := w.Bytes32()
	copy(m.bytes[addr:addr+WordBytes], b[:])
}

// LoadWord reads the word at addr. Bytes beyond the high-water mark read as
// zero and the region does not grow: reads never mutate.
func (m *Memory) LoadWord(addr int) uint256.Int {
	var buf [WordBytes]byte
	if addr < len(m.bytes) {
		copy(buf[:], m.bytes[addr:])
	}
	var w uint256.Int
	w.SetBytes(buf[:])
	return w
}

// Bytes returns a copy of the touched region.
func (m *Memory) Bytes() []byte {
	out := make([]byte, len(m.bytes))
	copy(out, m.bytes)
	return out
}

// NonZeroWords returns the count of touched words that hold a non-zero
// value, for diagnostics.
func (m *Memory) NonZeroWords() int {
	count := 0
	for addr := 0; addr < len(m.bytes); addr += WordBytes {
		w := m.LoadWord(addr)
		if !w.IsZero() {
			count++
		}
	}
	return count
}
