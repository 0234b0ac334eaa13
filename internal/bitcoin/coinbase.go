package bitcoin

import (
	"encoding/binary"
)

// CoinbaseInput carries the pieces the coordinator assembles into a
// coinbase transaction for a channel's block-found outcome. The byte
// layout (version/input-count/prevout/script/sequence/output/locktime)
// mirrors the teacher's template_provider.go buildCoinbase, generalized
// from a hardcoded placeholder script to a real destination script.
type CoinbaseInput struct {
	CoinbaseTxVersion  uint32
	Height             uint64
	ExtranoncePrefix   []byte // allocator-assigned R1 bytes (tag + counter)
	Extranonce         []byte // miner-rolled R2 bytes from the submitted share
	ValueRemaining     uint64
	DestinationScript  []byte
	CoinbaseTxLocktime uint32
}

// BuildCoinbase assembles the coinbase transaction for a discovered block.
// It produces a single output for the full remaining value to the
// configured destination script; witness-commitment handling is left to
// the share-validation layer per spec §9's Open Questions.
func BuildCoinbase(in CoinbaseInput) []byte {
	tx := make([]byte, 0, 200)

	// Version
	var versionBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], in.CoinbaseTxVersion)
	tx = append(tx, versionBuf[:]...)

	// Input count
	tx = append(tx, 0x01)

	// Previous output hash (null for coinbase)
	tx = append(tx, make([]byte, 32)...)

	// Previous output index (all 1s for coinbase)
	tx = append(tx, 0xFF, 0xFF, 0xFF, 0xFF)

	// scriptSig: BIP34 height push + extranonce prefix + miner extranonce
	scriptStart := len(tx)
	tx = append(tx, 0x00) // script length placeholder

	tx = append(tx, EncodeBIP34Height(in.Height)...)
	tx = append(tx, in.ExtranoncePrefix...)
	tx = append(tx, in.Extranonce...)

	scriptLen := len(tx) - scriptStart - 1
	tx[scriptStart] = byte(scriptLen)

	// Sequence
	tx = append(tx, 0xFF, 0xFF, 0xFF, 0xFF)

	// Output count
	tx = append(tx, 0x01)

	// Output value
	var valueBuf [8]byte
	binary.LittleEndian.PutUint64(valueBuf[:], in.ValueRemaining)
	tx = append(tx, valueBuf[:]...)

	// Output script
	tx = append(tx, byte(len(in.DestinationScript)))
	tx = append(tx, in.DestinationScript...)

	// Locktime
	var locktimeBuf [4]byte
	binary.LittleEndian.PutUint32(locktimeBuf[:], in.CoinbaseTxLocktime)
	tx = append(tx, locktimeBuf[:]...)

	return tx
}
