package bitcoin

import (
	"fmt"
	"math/big"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index [256]int

func init() {
	for i := range base58Index {
		base58Index[i] = -1
	}
	for i, c := range base58Alphabet {
		base58Index[c] = i
	}
}

// DecodeBase58 decodes a plain base58 string (no checksum framing), for
// callers outside this package that need raw base58, such as the
// mining_server.pub_key/priv_key Noise static keypair in config.toml.
func DecodeBase58(s string) ([]byte, error) {
	return base58Decode(s)
}

// base58Decode decodes a base58check string (no checksum validation; the
// caller validates the trailing 4-byte checksum itself).
func base58Decode(s string) ([]byte, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("empty base58 string")
	}

	result := big.NewInt(0)
	base := big.NewInt(58)
	for _, c := range s {
		idx := base58Index[byte(c)]
		if idx < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", c)
		}
		result.Mul(result, base)
		result.Add(result, big.NewInt(int64(idx)))
	}

	decoded := result.Bytes()

	// Leading '1' characters encode leading zero bytes.
	leadingZeros := 0
	for _, c := range s {
		if c != '1' {
			break
		}
		leadingZeros++
	}

	out := make([]byte, leadingZeros+len(decoded))
	copy(out[leadingZeros:], decoded)
	return out, nil
}
