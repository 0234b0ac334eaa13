// Package coordinator implements the mining coordinator: the component
// that owns every SV2 channel and its job history, maps the template /
// prev-hash stream into per-channel job notifications and extranonce
// assignments, validates submitted shares, and bridges the Template
// Distribution side with the downstream Mining side through an event bus.
package coordinator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// MaxExtranonceLen is the SV2 extranonce space ceiling (spec §3).
const MaxExtranonceLen = 32

// ErrExhaustedExtranonceSpace is returned by ExtendedExtranonce.NextPrefix
// once its counter space is exhausted. It is fatal for the open-channel
// request that triggered it (spec §4.1).
var ErrExhaustedExtranonceSpace = errors.New("extranonce space exhausted")

// channelKind distinguishes the standard and extended allocators so their
// counters never collide when both channel kinds coexist under the same
// tag (spec §4.1): the kind bit is folded into the low bit of the counter.
type channelKind uint8

const (
	kindStandard channelKind = 0
	kindExtended channelKind = 1
)

// ExtendedExtranonce partitions the SV2 extranonce byte space into three
// contiguous ranges (spec §3, §9): R0 (reserved, empty here), R1 (the
// allocator-assigned tag + monotonic counter), R2 (miner-rollable). R1 and
// R2 boundaries follow the design note's formula: R1 = [0, tag_len+8), R2 =
// [tag_len+8, MAX_EXTRANONCE_LEN).
type ExtendedExtranonce struct {
	tag      []byte // user-supplied tag, <= 8 bytes
	r1Len    int    // len(tag) + 8
	r2Len    int    // MaxExtranonceLen - r1Len
	standard *counter
	extended *counter
}

type counter struct {
	mu   sync.Mutex
	next uint64
}

func (c *counter) draw(kind channelKind) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.next
	c.next++
	return v<<1 | uint64(kind)
}

// NewExtendedExtranonce constructs an allocator for the given user-supplied
// coinbase tag. tag must be <= 8 bytes, enforced at config load per spec §6.
func NewExtendedExtranonce(tag string) (*ExtendedExtranonce, error) {
	if len(tag) > 8 {
		return nil, fmt.Errorf("coinbase tag %q exceeds 8 characters", tag)
	}
	r1Len := len(tag) + 8
	r2Len := MaxExtranonceLen - r1Len
	if r2Len < 0 {
		return nil, fmt.Errorf("coinbase tag %q leaves no room for a rollable extranonce", tag)
	}
	return &ExtendedExtranonce{
		tag:      []byte(tag),
		r1Len:    r1Len,
		r2Len:    r2Len,
		standard: &counter{},
		extended: &counter{},
	}, nil
}

// R1Len is the length, in bytes, of an allocated extranonce prefix.
func (e *ExtendedExtranonce) R1Len() int { return e.r1Len }

// R2Len is the length, in bytes, of the miner-rollable range.
func (e *ExtendedExtranonce) R2Len() int { return e.r2Len }

// NextStandardPrefix draws a fresh prefix from the standard-channel
// allocator.
func (e *ExtendedExtranonce) NextStandardPrefix() ([]byte, error) {
	return e.nextPrefix(e.standard, kindStandard)
}

// NextExtendedPrefix draws a fresh prefix from the extended-channel
// allocator.
func (e *ExtendedExtranonce) NextExtendedPrefix() ([]byte, error) {
	return e.nextPrefix(e.extended, kindExtended)
}

func (e *ExtendedExtranonce) nextPrefix(c *counter, kind channelKind) ([]byte, error) {
	counterSpace := e.r1Len - len(e.tag)
	if counterSpace <= 0 {
		return nil, ErrExhaustedExtranonceSpace
	}

	n := c.draw(kind)
	if counterSpace < 8 && n>>(uint(counterSpace)*8) != 0 {
		return nil, ErrExhaustedExtranonceSpace
	}

	prefix := make([]byte, e.r1Len)
	copy(prefix, e.tag)

	var counterBytes [8]byte
	binary.LittleEndian.PutUint64(counterBytes[:], n)
	copy(prefix[len(e.tag):], counterBytes[:counterSpace])

	return prefix, nil
}
