package permission

import "math/bits"

// MaxBits is the width of a [Mask].
const MaxBits = 256

// RootBit is the reserved super-admin bit.
const RootBit = MaxBits - 1

// Mask is a 256-bit permission bitmask. The zero value grants nothing.
type Mask struct {
	A uint64
	B uint64
	C uint64
	D uint64
}

// Has reports whether the given bit is set. A mask with [RootBit] set
// answers true for every bit in range.
func (m Mask) Has(bit int) bool {
	if bit < 0 || bit >= MaxBits {
		return false
	}
	if m.D&(1<<63) != 0 {
		return true
	}

	switch {
	case bit < 64:
		return m.A&(1<<bit) != 0
	case bit < 128:
		return m.B&(1<<(bit-64)) != 0
	case bit < 192:
		return m.C&(1<<(bit-128)) != 0
	default:
		return m.D&(1<<(bit-192)) != 0
	}
}

// IsRoot reports whether the root bit is set.
func (m Mask) IsRoot() bool {
	return m.D&(1<<63) != 0
}

// Set sets the given bit in the mask.
func (m *Mask) Set(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}

	switch {
	case bit < 64:
		m.A |= 1 << bit
	case bit < 128:
		m.B |= 1 << (bit - 64)
	case bit < 192:
		m.C |= 1 << (bit - 128)
	default:
		m.D |= 1 << (bit - 192)
	}
}

// Clear clears the given bit in the mask.
func (m *Mask) Clear(bit int) {
	if bit < 0 || bit >= MaxBits {
		return
	}

	switch {
	case bit < 64:
		m.A &^= 1 << bit
	case bit < 128:
		m.B &^= 1 << (bit - 64)
	case bit < 192:
		m.C &^= 1 << (bit - 128)
	default:
		m.D &^= 1 << (bit - 192)
	}
}

// Union returns the bitwise OR of m and other.
func (m Mask) Union(other Mask) Mask {
	return Mask{
		A: m.A | other.A,
		B: m.B | other.B,
		C: m.C | other.C,
		D: m.D | other.D,
	}
}

// IsZero reports whether no bit is set.
func (m Mask) IsZero() bool {
	return m.A == 0 && m.B == 0 && m.C == 0 && m.D == 0
}

// Count returns the number of set bits, root included.
func (m Mask) Count() int {
	return bits.OnesCount64(m.A) + bits.OnesCount64(m.B) + bits.OnesCount64(m.C) + bits.OnesCount64(m.D)
}
