package bitcoin

import (
	"fmt"
	"strings"
)

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var bech32CharsetIndex [256]int

func init() {
	for i := range bech32CharsetIndex {
		bech32CharsetIndex[i] = -1
	}
	for i, c := range bech32Charset {
		bech32CharsetIndex[c] = i
	}
}

func bech32Polymod(values []int) int {
	gen := []int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []int {
	out := make([]int, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, int(c)>>5)
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, int(c)&31)
	}
	return out
}

func bech32VerifyChecksum(hrp string, data []int) bool {
	values := append(bech32HRPExpand(hrp), data...)
	return bech32Polymod(values) == 1
}

// bech32Decode decodes a bech32 (BIP173) address into its human-readable
// part and 5-bit data words (including the witness version but excluding
// the checksum). Strings carrying a bech32m checksum fail verification.
func bech32Decode(s string) (string, []int, error) {
	if len(s) < 8 || len(s) > 90 {
		return "", nil, fmt.Errorf("invalid bech32 string length")
	}
	pos := strings.LastIndex(s, "1")
	if pos < 1 || pos+7 > len(s) {
		return "", nil, fmt.Errorf("invalid bech32 separator position")
	}

	hrp := s[:pos]
	dataPart := s[pos+1:]

	data := make([]int, len(dataPart))
	for i, c := range dataPart {
		idx := bech32CharsetIndex[byte(c)]
		if idx < 0 {
			return "", nil, fmt.Errorf("invalid bech32 character %q", c)
		}
		data[i] = idx
	}

	if !bech32VerifyChecksum(hrp, data) {
		return "", nil, fmt.Errorf("invalid bech32 checksum")
	}

	return hrp, data[:len(data)-6], nil
}

// convertBits regroups a slice of fromBits-wide integers into toBits-wide
// integers, used to turn bech32's 5-bit words into 8-bit witness program
// bytes.
func convertBits(data []int, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := 0
	bits := uint(0)
	var out []byte
	maxVal := (1 << toBits) - 1

	for _, v := range data {
		if v < 0 || v>>fromBits != 0 {
			return nil, fmt.Errorf("invalid data value for convertBits")
		}
		acc = (acc << fromBits) | v
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte((acc>>bits)&maxVal))
		}
	}

	if pad && bits > 0 {
		out = append(out, byte((acc<<(toBits-bits))&maxVal))
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxVal != 0 {
		return nil, fmt.Errorf("invalid padding in convertBits")
	}

	return out, nil
}
