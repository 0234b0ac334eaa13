package bitcoin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeBIP34Height_SmallImmediate(t *testing.T) {
	// OP_1 through OP_16 encode heights 1-16 directly in the opcode.
	height, ok := DecodeBIP34Height([]byte{0x51})
	assert.True(t, ok)
	assert.Equal(t, uint64(1), height)

	height, ok = DecodeBIP34Height([]byte{0x60})
	assert.True(t, ok)
	assert.Equal(t, uint64(16), height)
}

func TestDecodeBIP34Height_PushData(t *testing.T) {
	// Height 101 is pushed as a 1-byte scriptnum.
	prefix := []byte{0x01, 101}
	height, ok := DecodeBIP34Height(prefix)
	assert.True(t, ok)
	assert.Equal(t, uint64(101), height)
}

func TestDecodeBIP34Height_MultiByte(t *testing.T) {
	// Height 800000 = 0x0C3500, little-endian push.
	prefix := []byte{0x03, 0x00, 0x35, 0x0C}
	height, ok := DecodeBIP34Height(prefix)
	assert.True(t, ok)
	assert.Equal(t, uint64(800000), height)
}

func TestDecodeBIP34Height_Empty(t *testing.T) {
	height, ok := DecodeBIP34Height(nil)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), height)
}

func TestDecodeBIP34Height_TruncatedPush(t *testing.T) {
	height, ok := DecodeBIP34Height([]byte{0x04, 0x01, 0x02})
	assert.False(t, ok)
	assert.Equal(t, uint64(0), height)
}

func TestEncodeDecodeBIP34Height_RoundTrip(t *testing.T) {
	for _, height := range []uint64{0, 1, 16, 17, 101, 800000, 4194303} {
		encoded := EncodeBIP34Height(height)
		decoded, ok := DecodeBIP34Height(encoded)
		assert.True(t, ok, "height %d", height)
		assert.Equal(t, height, decoded, "height %d", height)
	}
}
