package coordinator

import (
	"sync"

	"github.com/pleblottery/pleblottery/internal/sv2/binary"
)

// Template is the coordinator's local copy of an upstream NewTemplate
// message (spec §3): the fields needed to build per-channel jobs.
type Template struct {
	TemplateID               uint64
	FutureTemplate           bool
	Version                  uint32
	CoinbaseTxVersion        uint32
	CoinbasePrefix           []byte
	CoinbaseTxValueRemaining uint64
	CoinbaseTxLocktime       uint32
	MerklePath               [][32]byte
}

// PrevHashActivation is the coordinator's local copy of an upstream
// SetNewPrevHash (TD variant) message (spec §3).
type PrevHashActivation struct {
	TemplateID      uint64
	PrevHash        [32]byte
	HeaderTimestamp uint32
	NBits           uint32
	Target          [32]byte
}

// TemplateCache holds the set of future templates awaiting activation,
// plus the most recently activated template and prev-hash (spec §3, §4.4).
// It is small and tolerates a single lock (spec §9 design notes).
type TemplateCache struct {
	mu sync.RWMutex

	future map[uint64]*Template

	activeTemplate *Template
	activePrevHash *PrevHashActivation
}

func NewTemplateCache() *TemplateCache {
	return &TemplateCache{
		future: make(map[uint64]*Template),
	}
}

// Insert stores a future template by its template_id.
func (c *TemplateCache) Insert(t *Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.future[t.TemplateID] = t
}

// Lookup returns the future template for templateID, if any.
func (c *TemplateCache) Lookup(templateID uint64) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.future[templateID]
	return t, ok
}

// Activate promotes the future template identified by templateID to
// "last activated", clearing the future-template set (spec §3 invariant,
// §4.4 step 2-3). Returns an error if templateID is not present.
func (c *TemplateCache) Activate(templateID uint64, p *PrevHashActivation) (*Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.future[templateID]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	c.activeTemplate = t
	c.activePrevHash = p
	c.future = make(map[uint64]*Template)
	return t, nil
}

// Active returns the currently activated template and prev-hash, or false
// if no activation has occurred yet.
func (c *TemplateCache) Active() (*Template, *PrevHashActivation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.activeTemplate == nil || c.activePrevHash == nil {
		return nil, nil, false
	}
	return c.activeTemplate, c.activePrevHash, true
}

// TemplateFromWire converts a decoded Template Distribution NewTemplate
// message into the coordinator's local representation.
func TemplateFromWire(msg *binary.NewTemplate) *Template {
	return &Template{
		TemplateID:               msg.TemplateID,
		FutureTemplate:           msg.FutureTemplate,
		Version:                  msg.Version,
		CoinbaseTxVersion:        msg.CoinbaseTxVersion,
		CoinbasePrefix:           []byte(msg.CoinbasePrefix),
		CoinbaseTxValueRemaining: msg.CoinbaseTxValueRemaining,
		CoinbaseTxLocktime:       msg.CoinbaseTxLocktime,
		MerklePath:               msg.MerklePath,
	}
}

// PrevHashActivationFromWire converts a decoded Template Distribution
// SetNewPrevHash message into the coordinator's local representation.
func PrevHashActivationFromWire(msg *binary.SetNewPrevHashTD) *PrevHashActivation {
	return &PrevHashActivation{
		TemplateID:      msg.TemplateID,
		PrevHash:        msg.PrevHash,
		HeaderTimestamp: msg.HeaderTimestamp,
		NBits:           msg.NBits,
		Target:          msg.Target,
	}
}
