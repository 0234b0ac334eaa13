package coordinator

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// SharedState is the read side of the coordinator's state, exposed to the
// web layer (spec §3, §4.5: single logical writer, many readers, per-field
// atomic consistency).
type SharedState struct {
	mu sync.RWMutex

	latestTemplate *Template
	latestPrevHash *PrevHashActivation

	totalShares uint64
	bestShare   uint64 // bits of a float64, for atomic CAS-free max updates
	blocksFound uint64

	totalClients  int32
	totalHashrate uint32 // bits of a float32

	Registry *ClientRegistry
}

// NewSharedState constructs an empty projection bound to the given
// registry.
func NewSharedState(registry *ClientRegistry) *SharedState {
	return &SharedState{Registry: registry}
}

// SetLatestTemplate updates the latest-template projection (spec §4.4 On
// New Template step 1).
func (s *SharedState) SetLatestTemplate(t *Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestTemplate = t
}

// SetLatestPrevHash updates the latest-prev-hash projection (spec §4.4 On
// Set New Prev Hash step 1).
func (s *SharedState) SetLatestPrevHash(p *PrevHashActivation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestPrevHash = p
}

// Latest returns the current template/prev-hash projection. Readers may
// observe a template whose prev-hash has not yet caught up for one
// interleaving, which spec.md accepts (§4.5).
func (s *SharedState) Latest() (*Template, *PrevHashActivation) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestTemplate, s.latestPrevHash
}

// IncrementSharesSubmitted bumps total_shares_submitted (spec §4.4 Submit
// Shares, Valid/ValidWithAcknowledgement/BlockFound rows).
func (s *SharedState) IncrementSharesSubmitted() {
	atomic.AddUint64(&s.totalShares, 1)
}

// TotalSharesSubmitted reads total_shares_submitted.
func (s *SharedState) TotalSharesSubmitted() uint64 {
	return atomic.LoadUint64(&s.totalShares)
}

// UpdateBestShare sets best_share = max(best_share, diff) (spec §4.4
// Submit Shares, ValidWithAcknowledgement row).
func (s *SharedState) UpdateBestShare(diff float64) {
	for {
		old := atomic.LoadUint64(&s.bestShare)
		oldF := math.Float64frombits(old)
		if diff <= oldF {
			return
		}
		if atomic.CompareAndSwapUint64(&s.bestShare, old, math.Float64bits(diff)) {
			return
		}
	}
}

// BestShare reads best_share.
func (s *SharedState) BestShare() float64 {
	return math.Float64frombits(atomic.LoadUint64(&s.bestShare))
}

// IncrementBlocksFound bumps blocks_found (spec §4.4 Submit Shares,
// BlockFound row).
func (s *SharedState) IncrementBlocksFound() {
	atomic.AddUint64(&s.blocksFound, 1)
}

// BlocksFound reads blocks_found.
func (s *SharedState) BlocksFound() uint64 {
	return atomic.LoadUint64(&s.blocksFound)
}

// AddClient bumps total_clients (spec §4.2 add_client).
func (s *SharedState) AddClient() {
	atomic.AddInt32(&s.totalClients, 1)
}

// TotalClients reads total_clients.
func (s *SharedState) TotalClients() int32 {
	return atomic.LoadInt32(&s.totalClients)
}

// RemoveClient decrements total_clients (spec §4.2 remove_client).
func (s *SharedState) RemoveClient() {
	atomic.AddInt32(&s.totalClients, -1)
}

// AddHashrate adds delta to total_hashrate, clamping at 0 (spec §3
// invariant: total_hashrate ≥ 0, clamped on client removal).
func (s *SharedState) AddHashrate(delta float32) {
	for {
		old := atomic.LoadUint32(&s.totalHashrate)
		oldF := math.Float32frombits(old)
		newF := oldF + delta
		if newF < 0 {
			newF = 0
		}
		if atomic.CompareAndSwapUint32(&s.totalHashrate, old, math.Float32bits(newF)) {
			return
		}
	}
}

// TotalHashrate reads total_hashrate.
func (s *SharedState) TotalHashrate() float32 {
	return math.Float32frombits(atomic.LoadUint32(&s.totalHashrate))
}

// FormatBestShare renders best_share with a human-scale suffix, matching
// the web dashboard's display convention.
func (s *SharedState) FormatBestShare() string {
	best := s.BestShare()
	var value float64
	var suffix string
	switch {
	case best >= 1_000_000_000.0:
		value, suffix = best/1_000_000_000.0, "B"
	case best >= 1_000_000.0:
		value, suffix = best/1_000_000.0, "M"
	case best >= 1_000.0:
		value, suffix = best/1_000.0, "K"
	default:
		value, suffix = best, ""
	}
	return fmt.Sprintf("%.2f%s", value, suffix)
}

// FormatHashrate renders total_hashrate with a human-scale unit, matching
// the web dashboard's display convention.
func (s *SharedState) FormatHashrate() string {
	rate := float64(s.TotalHashrate())
	var value float64
	var unit string
	switch {
	case rate >= 1e12:
		value, unit = rate/1e12, "Th/s"
	case rate >= 1e9:
		value, unit = rate/1e9, "Gh/s"
	case rate >= 1e6:
		value, unit = rate/1e6, "Mh/s"
	case rate >= 1e3:
		value, unit = rate/1e3, "Kh/s"
	default:
		value, unit = rate, "h/s"
	}
	return fmt.Sprintf("%.2f %s", value, unit)
}
