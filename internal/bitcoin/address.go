package bitcoin

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Address version/prefix bytes recognized by AddressToScript. Mainnet and
// testnet are both accepted since the configured coinbase_output_address is
// validated once at startup and the network is implied by which Template
// Provider it's pointed at.
const (
	mainnetP2PKHVersion byte = 0x00
	mainnetP2SHVersion  byte = 0x05
	testnetP2PKHVersion byte = 0x6f
	testnetP2SHVersion  byte = 0xc4
)

var bech32HRPs = []string{"bc", "tb", "bcrt"}

// AddressToScript parses a standard Bitcoin address (P2PKH, P2SH, or
// bech32 P2WPKH/P2WSH, mainnet or testnet) into its corresponding output
// script. This is the one piece of address validation the coordinator needs
// at runtime — full config-file loading/validation is out of scope, but the
// coordinator cannot build a coinbase output from a bare string.
func AddressToScript(address string) ([]byte, error) {
	if script, err := base58CheckToScript(address); err == nil {
		return script, nil
	}
	if script, err := bech32ToScript(address); err == nil {
		return script, nil
	}
	return nil, fmt.Errorf("address %q is not a recognized P2PKH/P2SH/bech32 address", address)
}

func base58CheckToScript(address string) ([]byte, error) {
	decoded, err := base58Decode(address)
	if err != nil {
		return nil, err
	}
	if len(decoded) != 25 {
		return nil, fmt.Errorf("base58check payload has unexpected length %d", len(decoded))
	}
	version := decoded[0]
	payload := decoded[1:21]
	checksum := decoded[21:25]

	h1 := sha256.Sum256(decoded[:21])
	h2 := sha256.Sum256(h1[:])
	for i := 0; i < 4; i++ {
		if checksum[i] != h2[i] {
			return nil, fmt.Errorf("base58check checksum mismatch")
		}
	}

	switch version {
	case mainnetP2PKHVersion, testnetP2PKHVersion:
		// OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG
		script := make([]byte, 0, 25)
		script = append(script, 0x76, 0xA9, 0x14)
		script = append(script, payload...)
		script = append(script, 0x88, 0xAC)
		return script, nil
	case mainnetP2SHVersion, testnetP2SHVersion:
		// OP_HASH160 <20 bytes> OP_EQUAL
		script := make([]byte, 0, 23)
		script = append(script, 0xA9, 0x14)
		script = append(script, payload...)
		script = append(script, 0x87)
		return script, nil
	default:
		return nil, fmt.Errorf("unrecognized base58check version byte 0x%02x", version)
	}
}

func bech32ToScript(address string) ([]byte, error) {
	lower := strings.ToLower(address)
	hrp, data, err := bech32Decode(lower)
	if err != nil {
		return nil, err
	}
	recognized := false
	for _, h := range bech32HRPs {
		if hrp == h {
			recognized = true
			break
		}
	}
	if !recognized {
		return nil, fmt.Errorf("unrecognized bech32 human-readable part %q", hrp)
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("empty bech32 data")
	}

	witnessVersion := data[0]
	converted, err := convertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, err
	}
	if witnessVersion > 16 {
		return nil, fmt.Errorf("invalid witness version %d", witnessVersion)
	}
	if len(converted) != 20 && len(converted) != 32 {
		return nil, fmt.Errorf("invalid witness program length %d", len(converted))
	}

	opcode := byte(0x00)
	if witnessVersion > 0 {
		opcode = byte(0x50 + witnessVersion)
	}
	script := make([]byte, 0, 2+len(converted))
	script = append(script, opcode, byte(len(converted)))
	script = append(script, converted...)
	return script, nil
}
