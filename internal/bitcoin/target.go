package bitcoin

import (
	"crypto/sha256"
	"encoding/binary"
)

// BlockHeader is the 80-byte Bitcoin block header, assembled by the
// coordinator from a channel's active job plus the submitted share's
// ntime/nonce/version.
type BlockHeader struct {
	Version    uint32
	PrevHash   [32]byte
	MerkleRoot [32]byte
	NTime      uint32
	NBits      uint32
	Nonce      uint32
}

// Serialize encodes the header in the standard 80-byte little-endian wire
// format used for SHA256d hashing.
func (h BlockHeader) Serialize() [80]byte {
	var buf [80]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], h.NTime)
	binary.LittleEndian.PutUint32(buf[72:76], h.NBits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

// HeaderHash computes the double-SHA256 hash of a serialized block header,
// returned in internal (little-endian, reversed-from-display) byte order.
func HeaderHash(h BlockHeader) [32]byte {
	ser := h.Serialize()
	first := sha256.Sum256(ser[:])
	second := sha256.Sum256(first[:])
	return second
}

// ExpandCompactTarget decodes a Bitcoin-style compact ("nBits") target
// encoding into a full 256-bit target in internal (little-endian) byte
// order. The top byte of bits is the exponent, the low three bytes are the
// mantissa: target = mantissa * 256^(exponent-3). Returns false if the
// mantissa is zero, which no valid target encodes.
func ExpandCompactTarget(bits uint32) ([32]byte, bool) {
	var target [32]byte
	mantissa := bits & 0x007fffff
	exponent := int(bits >> 24)
	if mantissa == 0 {
		return target, false
	}
	if exponent <= 3 {
		shifted := mantissa >> uint(8*(3-exponent))
		target[0] = byte(shifted)
		target[1] = byte(shifted >> 8)
		target[2] = byte(shifted >> 16)
		return target, true
	}
	offset := exponent - 3
	if offset+3 > 32 {
		return target, false
	}
	target[offset] = byte(mantissa)
	target[offset+1] = byte(mantissa >> 8)
	target[offset+2] = byte(mantissa >> 16)
	return target, true
}

// MeetsTarget reports whether headerHash, interpreted as a little-endian
// 256-bit integer, is less than or equal to target. Both hash and target
// use SV2/Bitcoin's internal (reversed) byte order.
func MeetsTarget(headerHash, target [32]byte) bool {
	// Compare most-significant byte first; internal byte order stores the
	// least-significant byte at index 0, so iterate from the end.
	for i := 31; i >= 0; i-- {
		if headerHash[i] < target[i] {
			return true
		}
		if headerHash[i] > target[i] {
			return false
		}
	}
	return true // exactly equal meets the target
}
