package bitcoin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressToScript_P2PKH(t *testing.T) {
	// Genesis-block coinbase payout address, a widely known valid P2PKH address.
	script, err := AddressToScript("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa")
	require.NoError(t, err)

	require.Len(t, script, 25)
	assert.Equal(t, byte(0x76), script[0]) // OP_DUP
	assert.Equal(t, byte(0xA9), script[1]) // OP_HASH160
	assert.Equal(t, byte(0x14), script[2]) // push 20 bytes
	assert.Equal(t, byte(0x88), script[23])
	assert.Equal(t, byte(0xAC), script[24])
}

func TestAddressToScript_P2SH(t *testing.T) {
	script, err := AddressToScript("3P14159f73E4gFr7JterCCQh9QjiTjiZrG")
	require.NoError(t, err)

	require.Len(t, script, 23)
	assert.Equal(t, byte(0xA9), script[0]) // OP_HASH160
	assert.Equal(t, byte(0x14), script[1]) // push 20 bytes
	assert.Equal(t, byte(0x87), script[22])
}

func TestAddressToScript_Bech32P2WPKH(t *testing.T) {
	// BIP173 test vector.
	script, err := AddressToScript("BC1QW508D6QEJXTDG4Y5R3ZARVARY0C5XW7KV8F3T4")
	require.NoError(t, err)

	require.Len(t, script, 22)
	assert.Equal(t, byte(0x00), script[0]) // witness v0
	assert.Equal(t, byte(0x14), script[1]) // push 20 bytes
}

func TestAddressToScript_Invalid(t *testing.T) {
	_, err := AddressToScript("not-a-bitcoin-address")
	assert.Error(t, err)
}
