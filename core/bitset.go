package core

import "github.com/bits-and-blooms/bitset"

// PackedBitset encodes segment membership over the hashed targeting-key
// space. The two shorthands skip the bitset
// entirely: FullBitset always matches, EmptyBitset never does.
type PackedBitset struct {
	kind packedKind
	bits *bitset.BitSet
	size uint64
}

type packedKind uint8

const (
	packedFull packedKind = iota
	packedEmpty
	packedBits
)

// FullBitset returns a PackedBitset in which every hashed key is a member.
func FullBitset() PackedBitset { return PackedBitset{kind: packedFull} }

// EmptyBitset returns a PackedBitset in which no hashed key is a member.
func EmptyBitset() PackedBitset { return PackedBitset{kind: packedEmpty} }

// NewPackedBitset wraps raw little-endian packed bits (as transmitted in the
// compiled snapshot) into a PackedBitset of the given bit length.
func NewPackedBitset(words []uint64, size uint64) PackedBitset {
	bs := bitset.New(uint(size))
	for i, w := range words {
		for b := 0; b < 64; b++ {
			if w&(1<<uint(b)) != 0 {
				pos := uint(i*64 + b)
				if uint64(pos) < size {
					bs.Set(pos)
				}
			}
		}
	}
	return PackedBitset{kind: packedBits, bits: bs, size: size}
}

// Member reports whether the hashed key is a member of the segment. A
// hashed key out of range of a packed bitset is "not a member".
func (p PackedBitset) Member(hash uint64) bool {
	switch p.kind {
	case packedFull:
		return true
	case packedEmpty:
		return false
	default:
		if p.size == 0 || hash >= p.size {
			return false
		}
		return p.bits.Test(uint(hash))
	}
}
