package coordinator

import (
	"fmt"
	"sync"

	"github.com/pleblottery/pleblottery/internal/bitcoin"
	"github.com/pleblottery/pleblottery/internal/sv2/binary"
)

// MiningCoordinator implements the SV2 mining server contract for
// Standard, Extended and Group channels (spec §4.4). It has exclusive
// write access to channel state; it reads the Template Cache and the
// Extranonce Allocator.
type MiningCoordinator struct {
	config     *CoordinatorConfig
	extranonce *ExtendedExtranonce
	templates  *TemplateCache
	registry   *ClientRegistry
	state      *SharedState

	jobIDMu   sync.Mutex
	nextJobID uint32
}

// NewMiningCoordinator wires a coordinator around the given configuration
// and extranonce allocator, with fresh template cache, client registry and
// shared-state projection.
func NewMiningCoordinator(config *CoordinatorConfig, extranonce *ExtendedExtranonce) *MiningCoordinator {
	registry := NewClientRegistry()
	return &MiningCoordinator{
		config:     config,
		extranonce: extranonce,
		templates:  NewTemplateCache(),
		registry:   registry,
		state:      NewSharedState(registry),
		nextJobID:  1,
	}
}

// State returns the coordinator's read-only shared-state projection, for
// the web and metrics layers.
func (m *MiningCoordinator) State() *SharedState { return m.state }

func (m *MiningCoordinator) allocateJobID() uint32 {
	m.jobIDMu.Lock()
	defer m.jobIDMu.Unlock()
	id := m.nextJobID
	m.nextJobID++
	return id
}

// CoinbaseOutputConstraintsFrame builds the SetCoinbaseOutputConstraints
// frame the Template Distribution client emits once on startup (spec §4.3
// startup contract), sized from configuration.
func (m *MiningCoordinator) CoinbaseOutputConstraintsFrame() []byte {
	return frameSetCoinbaseOutputConstraints(m.config.MaxAdditionalSize, m.config.MaxAdditionalSigops)
}

// SubmitSolutionFrame builds the wire frame for a SubmitSolution event
// raised by a SendToSibling outcome, for the Template Distribution client
// to forward upstream.
func SubmitSolutionFrame(event *SubmitSolutionEvent) []byte {
	return frameSubmitSolution(*event)
}

// SetupConnectionSuccessFlags returns the flags advertised back to a
// mining client on successful setup (spec §4.4 Setup: "returns 0").
func (m *MiningCoordinator) SetupConnectionSuccessFlags() uint32 { return 0 }

// SetupConnection implements spec §4.4 Setup: register the client with its
// negotiated flags and acknowledge on the wire. This is the external
// trigger spec §4.2's add_client refers to.
func (m *MiningCoordinator) SetupConnection(clientID uint64, req *binary.SetupConnection) Outcome {
	m.AddClient(clientID, req.Flags)
	return SendToClient(clientID, frameSetupConnectionSuccess(req.MaxVersion, m.SetupConnectionSuccessFlags()))
}

// AddClient registers a new downstream connection (spec §4.2 add_client,
// triggered externally by SetupConnectionSuccess).
func (m *MiningCoordinator) AddClient(clientID uint64, flags uint32) *Client {
	client := m.registry.AddClient(clientID, flags, nil, m.config.DestinationScript)
	m.state.AddClient()
	return client
}

// RemoveClient tears down a disconnected or inactive client, clamping
// total_hashrate at 0 (spec §4.2 remove_client). Idempotent.
func (m *MiningCoordinator) RemoveClient(clientID uint64) Outcome {
	hashrate, removed := m.registry.RemoveClient(clientID)
	if !removed {
		return Ok()
	}
	m.state.RemoveClient()
	m.state.AddHashrate(-hashrate)
	return Ok()
}

// OpenStandardMiningChannel implements spec §4.4 Open Standard Mining
// Channel.
func (m *MiningCoordinator) OpenStandardMiningChannel(clientID uint64, req *binary.OpenStandardMiningChannel) Outcome {
	client, ok := m.registry.Client(clientID)
	if !ok {
		return Fatal(ErrUnknownClient)
	}

	if req.NominalHashrate <= 0 {
		return SendToClient(clientID, frameOpenStandardMiningChannelError(req.RequestID, ErrCodeInvalidNominalHashrate))
	}
	target, ok := bitcoin.ExpandCompactTarget(req.MaxTargetRequired)
	if !ok {
		return SendToClient(clientID, frameOpenStandardMiningChannelError(req.RequestID, ErrCodeMaxTargetOutOfRange))
	}

	tmpl, prevHash, ready := m.templates.Active()
	if !ready {
		return SendToClient(clientID, frameOpenStandardMiningChannelError(req.RequestID, ErrCodeNotReadyToOpenChannel))
	}

	channelID := client.allocateChannelID()
	prefix, err := m.extranonce.NextStandardPrefix()
	if err != nil {
		return Fatal(fmt.Errorf("open standard mining channel: %w", err))
	}

	ch := NewStandardChannel(channelID, string(req.UserIdentity), prefix, m.config.DestinationScript, target, req.NominalHashrate, m.config.ShareBatchSize, m.config.ExpectedSharesPerMinute, 0)

	jobID := m.allocateJobID()
	ch.ApplyTemplate(jobID, tmpl, 0)
	activeJob, err := ch.ApplyPrevHash(prevHash)
	if err != nil {
		return Fatal(fmt.Errorf("open standard mining channel: %w", err))
	}

	groupChannelID := client.RegisterStandardChannel(ch)
	ch.groupChannelID = groupChannelID
	m.state.AddHashrate(req.NominalHashrate)

	frames := [][]byte{
		frameOpenStandardMiningChannelSuccess(req.RequestID, channelID, target, prefix, groupChannelID),
		frameNewMiningJob(channelID, activeJob),
		frameSetNewPrevHash(channelID, activeJob.JobID, activeJob),
	}
	return SendToClients([]ClientBatch{{ClientID: clientID, Frames: frames}})
}

// OpenExtendedMiningChannel implements spec §4.4 Open Extended Mining
// Channel.
func (m *MiningCoordinator) OpenExtendedMiningChannel(clientID uint64, req *binary.OpenExtendedMiningChannel) Outcome {
	client, ok := m.registry.Client(clientID)
	if !ok {
		return Fatal(ErrUnknownClient)
	}

	if req.NominalHashrate <= 0 {
		return SendToClient(clientID, frameOpenExtendedMiningChannelError(req.RequestID, ErrCodeInvalidNominalHashrate))
	}
	target, ok := bitcoin.ExpandCompactTarget(req.MaxTargetRequired)
	if !ok {
		return SendToClient(clientID, frameOpenExtendedMiningChannelError(req.RequestID, ErrCodeMaxTargetOutOfRange))
	}
	if int(req.MinExtranonceSize) > m.extranonce.R2Len() {
		return SendToClient(clientID, frameOpenExtendedMiningChannelError(req.RequestID, ErrCodeMinExtranonceSizeTooLarge))
	}

	tmpl, prevHash, ready := m.templates.Active()
	if !ready {
		return SendToClient(clientID, frameOpenExtendedMiningChannelError(req.RequestID, ErrCodeNotReadyToOpenChannel))
	}

	channelID := client.allocateChannelID()
	prefix, err := m.extranonce.NextExtendedPrefix()
	if err != nil {
		return Fatal(fmt.Errorf("open extended mining channel: %w", err))
	}

	rollableSize := uint16(m.extranonce.R2Len())
	ch := NewExtendedChannel(channelID, string(req.UserIdentity), prefix, m.config.DestinationScript, target, req.NominalHashrate, m.config.ShareBatchSize, m.config.ExpectedSharesPerMinute, rollableSize)

	jobID := m.allocateJobID()
	ch.ApplyTemplate(jobID, tmpl, int(rollableSize))
	activeJob, err := ch.ApplyPrevHash(prevHash)
	if err != nil {
		return Fatal(fmt.Errorf("open extended mining channel: %w", err))
	}

	client.RegisterExtendedChannel(ch)
	m.state.AddHashrate(req.NominalHashrate)

	frames := [][]byte{
		frameOpenExtendedMiningChannelSuccess(req.RequestID, channelID, target, rollableSize, prefix),
		frameNewExtendedMiningJob(channelID, activeJob, true),
		frameSetNewPrevHash(channelID, activeJob.JobID, activeJob),
	}
	return SendToClients([]ClientBatch{{ClientID: clientID, Frames: frames}})
}

// UpdateChannel implements spec §4.4 Update Channel.
func (m *MiningCoordinator) UpdateChannel(clientID uint64, req *binary.UpdateChannel) Outcome {
	client, ok := m.registry.Client(clientID)
	if !ok {
		return Fatal(ErrUnknownClient)
	}
	if req.NominalHashrate <= 0 {
		return SendToClient(clientID, frameUpdateChannelError(req.ChannelID, ErrCodeInvalidNominalHashrate))
	}
	if req.MaximumTarget == ([32]byte{}) {
		return SendToClient(clientID, frameUpdateChannelError(req.ChannelID, ErrCodeRequestedMaxTargetOutOfRange))
	}

	if ch, ok := client.StandardChannel(req.ChannelID); ok {
		delta := req.NominalHashrate - ch.NominalHashrate()
		ch.Update(req.NominalHashrate, req.MaximumTarget)
		m.state.AddHashrate(delta)
		return Ok()
	}
	if ch, ok := client.ExtendedChannel(req.ChannelID); ok {
		delta := req.NominalHashrate - ch.NominalHashrate()
		ch.Update(req.NominalHashrate, req.MaximumTarget)
		m.state.AddHashrate(delta)
		return Ok()
	}
	return SendToClient(clientID, frameUpdateChannelError(req.ChannelID, ErrCodeInvalidChannelID))
}

// CloseChannel implements spec §4.4 Close Channel: acknowledged silently,
// no teardown beyond client removal.
func (m *MiningCoordinator) CloseChannel(clientID uint64, req *binary.CloseChannel) Outcome {
	return Ok()
}

// SubmitSharesStandard implements spec §4.4 Submit Shares for a standard
// channel.
func (m *MiningCoordinator) SubmitSharesStandard(clientID uint64, req *binary.SubmitSharesStandard) Outcome {
	client, ok := m.registry.Client(clientID)
	if !ok {
		return Fatal(ErrIDNotFound)
	}
	ch, ok := client.StandardChannel(req.ChannelID)
	if !ok {
		return SendToClient(clientID, frameSubmitSharesError(req.ChannelID, req.SequenceNum, ErrCodeInvalidChannelID))
	}
	outcome := ch.ValidateShare(req.JobID, req.SequenceNum, req.Nonce, req.NTime, req.Version)
	return m.translateShareOutcome(clientID, req.ChannelID, req.SequenceNum, outcome, ch.BestDiff)
}

// SubmitSharesExtended implements spec §4.4 Submit Shares for an extended
// channel.
func (m *MiningCoordinator) SubmitSharesExtended(clientID uint64, req *binary.SubmitSharesExtended) Outcome {
	client, ok := m.registry.Client(clientID)
	if !ok {
		return Fatal(ErrIDNotFound)
	}
	ch, ok := client.ExtendedChannel(req.ChannelID)
	if !ok {
		return SendToClient(clientID, frameSubmitSharesError(req.ChannelID, req.SequenceNum, ErrCodeInvalidChannelID))
	}
	outcome := ch.ValidateShare(req.JobID, req.SequenceNum, req.Nonce, req.NTime, req.Version, []byte(req.Extranonce))
	return m.translateShareOutcome(clientID, req.ChannelID, req.SequenceNum, outcome, ch.BestDiff)
}

// translateShareOutcome maps a ShareOutcome onto the wire replies and
// shared-state updates of spec §4.4's Submit Shares table.
func (m *MiningCoordinator) translateShareOutcome(clientID uint64, channelID, sequenceNum uint32, outcome ShareOutcome, bestDiff func() float64) Outcome {
	switch outcome.Kind {
	case ShareValid:
		m.state.IncrementSharesSubmitted()
		return Ok()

	case ShareValidWithAcknowledgement:
		m.state.IncrementSharesSubmitted()
		m.state.UpdateBestShare(bestDiff())
		return SendToClient(clientID, frameSubmitSharesSuccess(channelID, outcome))

	case ShareBlockFound:
		m.state.IncrementSharesSubmitted()
		m.state.IncrementBlocksFound()
		m.state.UpdateBestShare(bestDiff())
		solution := SendToSibling(SiblingEvent{
			Kind: EventSubmitSolution,
			Payload: &SubmitSolutionEvent{
				TemplateID:      outcome.TemplateID,
				Version:         outcome.Version,
				HeaderTimestamp: outcome.NTime,
				HeaderNonce:     outcome.Nonce,
				CoinbaseTx:      outcome.CoinbaseTx,
			},
		})
		ack := SendToClient(clientID, frameSubmitSharesSuccess(channelID, outcome))
		return Multi(solution, ack)

	default:
		return SendToClient(clientID, frameSubmitSharesError(channelID, sequenceNum, outcome.ErrorCode()))
	}
}

// SetCustomMiningJob implements spec §4.4 Set Custom Mining Job: not
// supported, treated as a fatal contract violation from the downstream.
func (m *MiningCoordinator) SetCustomMiningJob(clientID uint64, req *binary.SetCustomMiningJob) Outcome {
	return Fatal(fmt.Errorf("set-custom-mining-job is not supported (channel %d)", req.ChannelID))
}

// OnNewTemplate implements spec §4.4 On New Template.
func (m *MiningCoordinator) OnNewTemplate(tmpl *Template) Outcome {
	m.state.SetLatestTemplate(tmpl)
	if tmpl.FutureTemplate {
		m.templates.Insert(tmpl)
	}

	_, activePrevHash, havePrevHash := m.templates.Active()

	batches := make([]ClientBatch, 0, m.registry.Count())
	for _, client := range m.registry.Clients() {
		standardChs, extendedChs, group := client.Channels()
		var frames [][]byte

		if group != nil {
			jobID := m.allocateJobID()
			job := group.ApplyTemplate(jobID, tmpl, 0)
			if !tmpl.FutureTemplate && havePrevHash {
				if active, err := group.ActivateTemplateJob(tmpl.TemplateID, activePrevHash); err == nil {
					job = active
				}
			}
			frames = append(frames, frameNewExtendedMiningJob(group.channelID, job, true))
		}

		for _, ch := range standardChs {
			jobID := m.allocateJobID()
			job := ch.ApplyTemplate(jobID, tmpl, 0)
			if !tmpl.FutureTemplate && havePrevHash {
				if active, err := ch.ActivateTemplateJob(tmpl.TemplateID, activePrevHash); err == nil {
					job = active
				}
			}
			frames = append(frames, frameNewMiningJob(ch.channelID, job))
		}

		for _, ch := range extendedChs {
			jobID := m.allocateJobID()
			job := ch.ApplyTemplate(jobID, tmpl, int(ch.rollableExtranonceSize))
			if !tmpl.FutureTemplate && havePrevHash {
				if active, err := ch.ActivateTemplateJob(tmpl.TemplateID, activePrevHash); err == nil {
					job = active
				}
			}
			frames = append(frames, frameNewExtendedMiningJob(ch.channelID, job, ch.versionRollingAllowed))
		}

		if len(frames) > 0 {
			batches = append(batches, ClientBatch{ClientID: client.ClientID, Frames: frames})
		}
	}

	return SendToClients(batches)
}

// OnSetNewPrevHash implements spec §4.4 On Set New Prev Hash.
func (m *MiningCoordinator) OnSetNewPrevHash(activation *PrevHashActivation) Outcome {
	m.state.SetLatestPrevHash(activation)

	if _, err := m.templates.Activate(activation.TemplateID, activation); err != nil {
		return Fatal(fmt.Errorf("set new prev hash: %w", err))
	}

	batches := make([]ClientBatch, 0, m.registry.Count())
	for _, client := range m.registry.Clients() {
		standardChs, extendedChs, group := client.Channels()
		var frames [][]byte

		if group != nil {
			if job, err := group.ApplyPrevHash(activation); err == nil {
				frames = append(frames, frameSetNewPrevHash(group.channelID, job.JobID, job))
			}
		}
		for _, ch := range standardChs {
			if job, err := ch.ApplyPrevHash(activation); err == nil {
				frames = append(frames, frameSetNewPrevHash(ch.channelID, job.JobID, job))
			}
		}
		for _, ch := range extendedChs {
			if job, err := ch.ApplyPrevHash(activation); err == nil {
				frames = append(frames, frameSetNewPrevHash(ch.channelID, job.JobID, job))
			}
		}

		if len(frames) > 0 {
			batches = append(batches, ClientBatch{ClientID: client.ClientID, Frames: frames})
		}
	}

	return SendToClients(batches)
}
