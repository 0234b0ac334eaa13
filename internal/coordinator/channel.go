package coordinator

import (
	"sync"

	"github.com/pleblottery/pleblottery/internal/bitcoin"
)

// ShareOutcomeKind enumerates the share-validation outcomes from spec §4.4's
// Submit Shares table.
type ShareOutcomeKind int

const (
	ShareValid ShareOutcomeKind = iota
	ShareValidWithAcknowledgement
	ShareBlockFound
	ShareInvalid
	ShareStale
	ShareInvalidJobID
	ShareDoesNotMeetTarget
	ShareDuplicate
)

// ShareOutcome carries whatever a share-validation outcome needs to drive
// the coordinator's response (spec §4.4's table).
type ShareOutcome struct {
	Kind ShareOutcomeKind

	LastSequenceNumber uint32
	AcceptedCount      uint32
	WorkSum            uint64

	// Populated only on ShareBlockFound.
	TemplateID uint64
	Version    uint32
	NTime      uint32
	Nonce      uint32
	CoinbaseTx []byte
}

// ErrorCode maps a non-success ShareOutcome to its wire error-code string.
func (o ShareOutcome) ErrorCode() ChannelErrorCode {
	switch o.Kind {
	case ShareInvalid:
		return ErrCodeInvalidShare
	case ShareStale:
		return ErrCodeStaleShare
	case ShareInvalidJobID:
		return ErrCodeInvalidJobID
	case ShareDoesNotMeetTarget:
		return ErrCodeDifficultyTooLow
	case ShareDuplicate:
		return ErrCodeDuplicateShare
	default:
		return ""
	}
}

type shareKey struct {
	jobID   uint32
	ntime   uint32
	nonce   uint32
	version uint32
}

// channelCore holds the state and accounting common to Standard and
// Extended channels (spec §3).
type channelCore struct {
	mu sync.RWMutex

	channelID               uint32
	userIdentity            string
	extranoncePrefix        []byte
	destinationScript       []byte
	target                  [32]byte
	nominalHashrate         float32
	shareBatchSize          uint32
	expectedSharesPerMinute float32

	jobs          map[uint32]*Job
	templateToJob map[uint64]uint32
	activeJobID   uint32
	hasActiveJob  bool

	bestDiff           float64
	sharesAccepted     uint64
	shareWorkSum       uint64
	lastSequenceNumber uint32
	unacked            uint32

	dupSet map[shareKey]struct{}
}

func newChannelCore(channelID uint32, userIdentity string, extranoncePrefix, destinationScript []byte, target [32]byte, nominalHashrate float32, shareBatchSize uint32, expectedSharesPerMinute float32) channelCore {
	return channelCore{
		channelID:               channelID,
		userIdentity:            userIdentity,
		extranoncePrefix:        extranoncePrefix,
		destinationScript:       destinationScript,
		target:                  target,
		nominalHashrate:         nominalHashrate,
		shareBatchSize:          shareBatchSize,
		expectedSharesPerMinute: expectedSharesPerMinute,
		jobs:                    make(map[uint32]*Job),
		templateToJob:           make(map[uint64]uint32),
		dupSet:                  make(map[shareKey]struct{}),
	}
}

// ApplyTemplate records a new job for this channel built from tmpl, indexed
// by both job id and template id (spec §4.4 step 5, §4.4 On New Template).
func (c *channelCore) ApplyTemplate(jobID uint32, tmpl *Template, rollableLen int) *Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := newJobFromTemplate(jobID, tmpl, c.extranoncePrefix, c.destinationScript, rollableLen)
	c.jobs[jobID] = job
	c.templateToJob[tmpl.TemplateID] = jobID
	return job
}

// ApplyPrevHash promotes the job created from the given template to active,
// filling in its prev-hash-derived fields (spec §4.4 step 6, On Set New
// Prev Hash step 4).
func (c *channelCore) ApplyPrevHash(activation *PrevHashActivation) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateTemplateJobLocked(activation.TemplateID, activation)
}

// ActivateTemplateJob marks the job built from templateID active using the
// given activation data, even if activation.TemplateID names a different
// (already-activated) template. Used by On New Template for a non-future
// template that shares the currently active prev-hash (spec §4.4 On New
// Template step 3: "using the active job when future_template == false").
func (c *channelCore) ActivateTemplateJob(templateID uint64, activation *PrevHashActivation) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateTemplateJobLocked(templateID, activation)
}

func (c *channelCore) activateTemplateJobLocked(templateID uint64, activation *PrevHashActivation) (*Job, error) {
	jobID, ok := c.templateToJob[templateID]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	job := c.jobs[jobID]
	job.FutureJob = false
	job.PrevHash = activation.PrevHash
	job.NBits = activation.NBits
	job.HeaderTimestamp = activation.HeaderTimestamp
	job.Target = activation.Target

	c.activeJobID = jobID
	c.hasActiveJob = true
	return job, nil
}

// ActiveJob returns the channel's current active job.
func (c *channelCore) ActiveJob() (*Job, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasActiveJob {
		return nil, false
	}
	return c.jobs[c.activeJobID], true
}

// NominalHashrate returns the channel's currently advertised hashrate.
func (c *channelCore) NominalHashrate() float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nominalHashrate
}

// BestDiff returns the best difficulty seen on this channel.
func (c *channelCore) BestDiff() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bestDiff
}

// ChannelID returns the channel's id, for the web/metrics read-only views.
func (c *channelCore) ChannelID() uint32 {
	return c.channelID
}

// UserIdentity returns the user identity the channel was opened with.
func (c *channelCore) UserIdentity() string {
	return c.userIdentity
}

// SharesAccepted returns the count of accepted shares on this channel.
func (c *channelCore) SharesAccepted() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sharesAccepted
}

// Update applies an UpdateChannel request (spec §4.4 Update Channel).
func (c *channelCore) Update(nominalHashrate float32, maximumTarget [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nominalHashrate = nominalHashrate
	c.target = maximumTarget
}

// validateHeader runs the shared duplicate/stale/job-id/target logic common
// to standard and extended shares, under a single critical section: the
// job lookup and the header check must happen atomically with respect to
// ApplyTemplate's concurrent c.jobs writes from the Template Distribution
// task, so callers must not read c.jobs themselves before calling this.
// merkleRootOf derives the job's merkle root (fixed for standard channels,
// recomputed from the rolled extranonce for extended channels); it also
// returns the locked job so a block-found caller can rebuild the coinbase
// transaction without a second, unsynchronized map lookup.
func (c *channelCore) validateHeader(jobID, sequenceNum, nonce, ntime, version uint32, merkleRootOf func(job *Job) [32]byte) (ShareOutcome, *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[jobID]
	if !ok {
		return ShareOutcome{Kind: ShareInvalidJobID}, nil
	}
	if !c.hasActiveJob || jobID != c.activeJobID {
		return ShareOutcome{Kind: ShareStale}, job
	}

	key := shareKey{jobID: jobID, ntime: ntime, nonce: nonce, version: version}
	if _, dup := c.dupSet[key]; dup {
		return ShareOutcome{Kind: ShareDuplicate}, job
	}

	header := bitcoin.BlockHeader{
		Version:    version,
		PrevHash:   job.PrevHash,
		MerkleRoot: merkleRootOf(job),
		NTime:      ntime,
		NBits:      job.NBits,
		Nonce:      nonce,
	}
	headerHash := bitcoin.HeaderHash(header)

	if !bitcoin.MeetsTarget(headerHash, c.target) {
		return ShareOutcome{Kind: ShareDoesNotMeetTarget}, job
	}

	c.dupSet[key] = struct{}{}
	c.sharesAccepted++
	c.shareWorkSum += uint64(difficultyFromTarget(c.target))
	c.lastSequenceNumber = sequenceNum
	c.unacked++

	diff := difficultyFromTarget(c.target)
	if diff > c.bestDiff {
		c.bestDiff = diff
	}

	if bitcoin.MeetsTarget(headerHash, job.Target) {
		outcome := ShareOutcome{
			Kind:               ShareBlockFound,
			LastSequenceNumber: c.lastSequenceNumber,
			AcceptedCount:      uint32(c.sharesAccepted),
			WorkSum:            c.shareWorkSum,
			TemplateID:         job.TemplateID,
			Version:            version,
			NTime:              ntime,
			Nonce:              nonce,
		}
		c.unacked = 0
		return outcome, job
	}

	if c.unacked >= c.shareBatchSize {
		c.unacked = 0
		return ShareOutcome{
			Kind:               ShareValidWithAcknowledgement,
			LastSequenceNumber: c.lastSequenceNumber,
			AcceptedCount:      uint32(c.sharesAccepted),
			WorkSum:            c.shareWorkSum,
		}, job
	}

	return ShareOutcome{Kind: ShareValid}, job
}

// difficultyFromTarget approximates difficulty as the ratio of the maximum
// target to the given target, using only the leading bytes for a
// float64-safe estimate (informational; not used for protocol decisions
// beyond best_share bookkeeping and the share-work-sum accumulator).
func difficultyFromTarget(target [32]byte) float64 {
	// Internal byte order: target[31] is most significant.
	var leading float64
	for i := 31; i >= 24; i-- {
		leading = leading*256 + float64(target[i])
	}
	if leading == 0 {
		return 0
	}
	maxTarget := float64(1 << 64)
	return maxTarget / leading
}

// StandardChannel implements spec §3's Standard Channel.
type StandardChannel struct {
	channelCore
	groupChannelID uint32
}

// NewStandardChannel constructs a Standard Channel seeded per spec §4.4
// Open Standard Mining Channel step 3.
func NewStandardChannel(channelID uint32, userIdentity string, extranoncePrefix, destinationScript []byte, target [32]byte, nominalHashrate float32, shareBatchSize uint32, expectedSharesPerMinute float32, groupChannelID uint32) *StandardChannel {
	return &StandardChannel{
		channelCore:    newChannelCore(channelID, userIdentity, extranoncePrefix, destinationScript, target, nominalHashrate, shareBatchSize, expectedSharesPerMinute),
		groupChannelID: groupChannelID,
	}
}

// ValidateShare validates a SubmitSharesStandard against this channel's
// active job. Standard channels never roll the extranonce, so the job's
// precomputed merkle root is used directly.
func (s *StandardChannel) ValidateShare(jobID, sequenceNum, nonce, ntime, version uint32) ShareOutcome {
	outcome, _ := s.validateHeader(jobID, sequenceNum, nonce, ntime, version, func(job *Job) [32]byte {
		return job.MerkleRoot
	})
	return outcome
}

// ExtendedChannel implements spec §3's Extended Channel.
type ExtendedChannel struct {
	channelCore
	rollableExtranonceSize uint16
	versionRollingAllowed  bool
}

// NewExtendedChannel constructs an Extended Channel per spec §4.4 Open
// Extended Mining Channel.
func NewExtendedChannel(channelID uint32, userIdentity string, extranoncePrefix, destinationScript []byte, target [32]byte, nominalHashrate float32, shareBatchSize uint32, expectedSharesPerMinute float32, rollableExtranonceSize uint16) *ExtendedChannel {
	return &ExtendedChannel{
		channelCore:            newChannelCore(channelID, userIdentity, extranoncePrefix, destinationScript, target, nominalHashrate, shareBatchSize, expectedSharesPerMinute),
		rollableExtranonceSize: rollableExtranonceSize,
		versionRollingAllowed:  true,
	}
}

// ValidateShare validates a SubmitSharesExtended, recomputing the job's
// merkle root with the miner-supplied rolled extranonce. On a block find,
// the actual coinbase transaction is rebuilt so it can be relayed upstream
// via SubmitSolution.
func (e *ExtendedChannel) ValidateShare(jobID, sequenceNum, nonce, ntime, version uint32, extranonce []byte) ShareOutcome {
	outcome, job := e.validateHeader(jobID, sequenceNum, nonce, ntime, version, func(job *Job) [32]byte {
		return computeMerkleRoot(job, extranonce)
	})
	if outcome.Kind == ShareBlockFound {
		height, _ := bitcoin.DecodeBIP34Height(job.CoinbasePrefix)
		outcome.CoinbaseTx = bitcoin.BuildCoinbase(bitcoin.CoinbaseInput{
			CoinbaseTxVersion:  job.CoinbaseTxVersion,
			Height:             height,
			ExtranoncePrefix:   job.ExtranoncePrefix,
			Extranonce:         extranonce,
			ValueRemaining:     job.CoinbaseTxValueRemaining,
			DestinationScript:  job.DestinationScript,
			CoinbaseTxLocktime: job.CoinbaseTxLocktime,
		})
	}
	return outcome
}

// GroupChannel implements spec §3's Group Channel: present iff the client's
// flags permit group channels. It carries its own job store, keyed by job
// id and by template id, and the set of standard-channel ids aggregated
// under it. It never validates shares directly — shares are always
// submitted against a member Standard Channel.
type GroupChannel struct {
	mu sync.RWMutex

	channelID         uint32
	extranoncePrefix  []byte
	destinationScript []byte

	jobs          map[uint32]*Job
	templateToJob map[uint64]uint32
	activeJobID   uint32
	hasActiveJob  bool

	members map[uint32]struct{}
}

// NewGroupChannel constructs the client's Group Channel (always channel id
// 1, per spec §4.2 add_client).
func NewGroupChannel(channelID uint32, extranoncePrefix, destinationScript []byte) *GroupChannel {
	return &GroupChannel{
		channelID:         channelID,
		extranoncePrefix:  extranoncePrefix,
		destinationScript: destinationScript,
		jobs:              make(map[uint32]*Job),
		templateToJob:     make(map[uint64]uint32),
		members:           make(map[uint32]struct{}),
	}
}

// AddMember records a standard channel as belonging to this group.
func (g *GroupChannel) AddMember(standardChannelID uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[standardChannelID] = struct{}{}
}

// ApplyTemplate records a new group job built from tmpl, covering every
// member channel (spec §4.4 On New Template step 3).
func (g *GroupChannel) ApplyTemplate(jobID uint32, tmpl *Template, rollableLen int) *Job {
	g.mu.Lock()
	defer g.mu.Unlock()

	job := newJobFromTemplate(jobID, tmpl, g.extranoncePrefix, g.destinationScript, rollableLen)
	g.jobs[jobID] = job
	g.templateToJob[tmpl.TemplateID] = jobID
	return job
}

// ApplyPrevHash promotes the group job built from the activated template to
// active (spec §4.4 On Set New Prev Hash step 4).
func (g *GroupChannel) ApplyPrevHash(activation *PrevHashActivation) (*Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activateTemplateJobLocked(activation.TemplateID, activation)
}

// ActivateTemplateJob marks the job built from templateID active using the
// given activation data, even if activation.TemplateID names a different
// (already-activated) template (spec §4.4 On New Template step 3).
func (g *GroupChannel) ActivateTemplateJob(templateID uint64, activation *PrevHashActivation) (*Job, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activateTemplateJobLocked(templateID, activation)
}

func (g *GroupChannel) activateTemplateJobLocked(templateID uint64, activation *PrevHashActivation) (*Job, error) {
	jobID, ok := g.templateToJob[templateID]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	job := g.jobs[jobID]
	job.FutureJob = false
	job.PrevHash = activation.PrevHash
	job.NBits = activation.NBits
	job.HeaderTimestamp = activation.HeaderTimestamp
	job.Target = activation.Target

	g.activeJobID = jobID
	g.hasActiveJob = true
	return job, nil
}

// ActiveJob returns the group's current active job.
func (g *GroupChannel) ActiveJob() (*Job, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.hasActiveJob {
		return nil, false
	}
	return g.jobs[g.activeJobID], true
}
