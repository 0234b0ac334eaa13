package coordinator

import (
	"testing"

	"github.com/pleblottery/pleblottery/internal/bitcoin"
	"github.com/pleblottery/pleblottery/internal/sv2/binary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) *MiningCoordinator {
	t.Helper()
	extranonce, err := NewExtendedExtranonce("pleb")
	require.NoError(t, err)
	config := DefaultCoordinatorConfig()
	config.DestinationScript = []byte{0x76, 0xA9, 0x14, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x88, 0xAC}
	config.ShareBatchSize = 10
	return NewMiningCoordinator(config, extranonce)
}

// activateTemplate pushes a future template through the coordinator and
// immediately activates it, leaving templates.Active() ready — the
// precondition every Open*MiningChannel handler checks.
func activateTemplate(t *testing.T, m *MiningCoordinator, templateID uint64, networkTarget [32]byte) {
	t.Helper()
	outcome := m.OnNewTemplate(&Template{
		TemplateID:               templateID,
		FutureTemplate:           true,
		Version:                  0x20000000,
		CoinbaseTxVersion:        2,
		CoinbasePrefix:           []byte{0x02, 0x65, 0x00},
		CoinbaseTxValueRemaining: 5_000_000_000,
	})
	assert.Equal(t, OutcomeSendMessagesToClients, outcome.Kind)

	outcome = m.OnSetNewPrevHash(&PrevHashActivation{
		TemplateID:      templateID,
		PrevHash:        [32]byte{0x01},
		HeaderTimestamp: 1_700_000_000,
		NBits:           0x207fffff,
		Target:          networkTarget,
	})
	assert.Equal(t, OutcomeSendMessagesToClients, outcome.Kind)
}

func TestCoordinator_OpenStandardMiningChannel_HappyPath(t *testing.T) {
	m := newTestCoordinator(t)
	m.AddClient(1, 0)
	activateTemplate(t, m, 1, impossibleTarget)

	outcome := m.OpenStandardMiningChannel(1, &binary.OpenStandardMiningChannel{
		RequestID:         5,
		UserIdentity:      "alice.worker1",
		NominalHashrate:   100.0,
		MaxTargetRequired: 0x207fffff,
	})

	require.Equal(t, OutcomeSendMessagesToClients, outcome.Kind)
	require.Len(t, outcome.Clients, 1)
	batch := outcome.Clients[0]
	assert.Equal(t, uint64(1), batch.ClientID)
	// spec §5 ordering: Success, then NewMiningJob, then SetNewPrevHash.
	require.Len(t, batch.Frames, 3)
	assert.Equal(t, binary.MsgTypeOpenStandardMiningChannelSuccess, batch.Frames[0][2])
	assert.Equal(t, binary.MsgTypeNewMiningJob, batch.Frames[1][2])
	assert.Equal(t, binary.MsgTypeSetNewPrevHash, batch.Frames[2][2])
}

func TestCoordinator_OpenStandardMiningChannel_NotReady(t *testing.T) {
	m := newTestCoordinator(t)
	m.AddClient(1, 0)

	outcome := m.OpenStandardMiningChannel(1, &binary.OpenStandardMiningChannel{
		RequestID:         5,
		UserIdentity:      "alice.worker1",
		NominalHashrate:   100.0,
		MaxTargetRequired: 0x207fffff,
	})

	require.Equal(t, OutcomeSendMessagesToClient, outcome.Kind)
	require.NotNil(t, outcome.Client)
	assert.Equal(t, binary.MsgTypeOpenStandardMiningChannelError, outcome.Client.Frame[2])
}

func TestCoordinator_OpenStandardMiningChannel_UnknownClientIsFatal(t *testing.T) {
	m := newTestCoordinator(t)
	outcome := m.OpenStandardMiningChannel(99, &binary.OpenStandardMiningChannel{
		RequestID:         5,
		UserIdentity:      "ghost",
		NominalHashrate:   100.0,
		MaxTargetRequired: 0x207fffff,
	})
	require.Equal(t, OutcomeTriggerNewEvent, outcome.Kind)
	require.NotNil(t, outcome.Fatal)
}

func TestCoordinator_OpenStandardMiningChannel_FlagsBit0SuppressesGroupChannel(t *testing.T) {
	m := newTestCoordinator(t)
	m.AddClient(1, clientFlagGroupChannelsDisabled)
	activateTemplate(t, m, 1, impossibleTarget)

	outcome := m.OpenStandardMiningChannel(1, &binary.OpenStandardMiningChannel{
		RequestID:         1,
		UserIdentity:      "alice.worker1",
		NominalHashrate:   100.0,
		MaxTargetRequired: 0x207fffff,
	})
	require.Equal(t, OutcomeSendMessagesToClients, outcome.Kind)
	successPayload, err := binary.NewDeserializer(outcome.Clients[0].Frames[0][6:]).DeserializeOpenStandardMiningChannelSuccess()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), successPayload.GroupChannelID)
}

func TestCoordinator_SubmitSharesStandard_DuplicateShare(t *testing.T) {
	m := newTestCoordinator(t)
	m.AddClient(1, 0)
	activateTemplate(t, m, 1, impossibleTarget)

	openOutcome := m.OpenStandardMiningChannel(1, &binary.OpenStandardMiningChannel{
		RequestID:         1,
		UserIdentity:      "alice.worker1",
		NominalHashrate:   100.0,
		MaxTargetRequired: 0x207fffff, // largest compact target (lowest difficulty)
	})
	require.Equal(t, OutcomeSendMessagesToClients, openOutcome.Kind)

	client, _ := m.registry.Client(1)
	channels, _, _ := client.Channels()
	require.Len(t, channels, 1)
	channelID := channels[0].channelID
	job, ok := channels[0].ActiveJob()
	require.True(t, ok)

	req := &binary.SubmitSharesStandard{
		ChannelID:   channelID,
		SequenceNum: 1,
		JobID:       job.JobID,
		Nonce:       1,
		NTime:       job.HeaderTimestamp,
		Version:     job.Version,
	}
	first := m.SubmitSharesStandard(1, req)
	assert.NotEqual(t, OutcomeSendMessagesToClient, outcomeKindOfErrorOnly(first))

	req.SequenceNum = 2
	second := m.SubmitSharesStandard(1, req)
	require.Equal(t, OutcomeSendMessagesToClient, second.Kind)
	errPayload, err := binary.NewDeserializer(second.Client.Frame[6:]).DeserializeSubmitSharesError()
	require.NoError(t, err)
	assert.Equal(t, string(ErrCodeDuplicateShare), string(errPayload.ErrorCode))
}

// outcomeKindOfErrorOnly is a small helper asserting the first submission
// did not itself come back as an error frame (it may be Ok or a
// SendMessagesToClient batch-acknowledgement, depending on batch size).
func outcomeKindOfErrorOnly(o Outcome) OutcomeKind {
	if o.Kind != OutcomeSendMessagesToClient {
		return OutcomeOk
	}
	return o.Kind
}

func TestCoordinator_SubmitSharesStandard_BlockFound(t *testing.T) {
	m := newTestCoordinator(t)
	m.AddClient(1, 0)

	// Activate with a loose network target first to discover the job's
	// derived fields, then replay with the exact header hash as the
	// network target so the real submission triggers BlockFound.
	probe := newTestCoordinator(t)
	probe.AddClient(1, 0)
	activateTemplate(t, probe, 1, impossibleTarget)
	probeClient, _ := probe.registry.Client(1)
	probeOpen := probe.OpenStandardMiningChannel(1, &binary.OpenStandardMiningChannel{
		RequestID:         1,
		UserIdentity:      "alice.worker1",
		NominalHashrate:   100.0,
		MaxTargetRequired: 0x207fffff,
	})
	require.Equal(t, OutcomeSendMessagesToClients, probeOpen.Kind)
	probeChannels, _, _ := probeClient.Channels()
	probeJob, _ := probeChannels[0].ActiveJob()

	nonce := uint32(7)
	header := bitcoin.BlockHeader{
		Version:    probeJob.Version,
		PrevHash:   probeJob.PrevHash,
		MerkleRoot: probeJob.MerkleRoot,
		NTime:      probeJob.HeaderTimestamp,
		NBits:      probeJob.NBits,
		Nonce:      nonce,
	}
	exactHash := bitcoin.HeaderHash(header)

	activateTemplate(t, m, 1, exactHash)
	openOutcome := m.OpenStandardMiningChannel(1, &binary.OpenStandardMiningChannel{
		RequestID:         1,
		UserIdentity:      "alice.worker1",
		NominalHashrate:   100.0,
		MaxTargetRequired: 0x207fffff,
	})
	require.Equal(t, OutcomeSendMessagesToClients, openOutcome.Kind)

	client, _ := m.registry.Client(1)
	channels, _, _ := client.Channels()
	job, _ := channels[0].ActiveJob()

	outcome := m.SubmitSharesStandard(1, &binary.SubmitSharesStandard{
		ChannelID:   channels[0].channelID,
		SequenceNum: 1,
		JobID:       job.JobID,
		Nonce:       nonce,
		NTime:       job.HeaderTimestamp,
		Version:     job.Version,
	})

	require.Equal(t, OutcomeMultipleEvents, outcome.Kind)
	require.Len(t, outcome.Events, 2)
	assert.Equal(t, uint64(1), m.state.BlocksFound())

	frames := UpstreamFramesForTest(outcome)
	require.Len(t, frames, 1)
}

// UpstreamFramesForTest mirrors internal/tdclient.UpstreamFrames without the
// import cycle a direct dependency on that package would create from here.
func UpstreamFramesForTest(o Outcome) [][]byte {
	var frames [][]byte
	o.Walk(nil, nil, func(event SiblingEvent) {
		if event.Kind != EventSubmitSolution {
			return
		}
		if solution, ok := event.Payload.(*SubmitSolutionEvent); ok {
			frames = append(frames, frameSubmitSolution(*solution))
		}
	}, nil)
	return frames
}

func TestCoordinator_RemoveClient_ClampsHashrateAtZero(t *testing.T) {
	m := newTestCoordinator(t)
	m.AddClient(1, 0)
	activateTemplate(t, m, 1, impossibleTarget)

	m.OpenStandardMiningChannel(1, &binary.OpenStandardMiningChannel{
		RequestID:         1,
		UserIdentity:      "alice.worker1",
		NominalHashrate:   250.0,
		MaxTargetRequired: 0x207fffff,
	})
	assert.Equal(t, float32(250.0), m.state.TotalHashrate())

	m.RemoveClient(1)
	assert.Equal(t, float32(0.0), m.state.TotalHashrate())
}

func TestCoordinator_UpdateChannel_UnknownChannelIDErrors(t *testing.T) {
	m := newTestCoordinator(t)
	m.AddClient(1, 0)

	outcome := m.UpdateChannel(1, &binary.UpdateChannel{ChannelID: 42, NominalHashrate: 50.0, MaximumTarget: [32]byte{0xff}})
	require.Equal(t, OutcomeSendMessagesToClient, outcome.Kind)
	errPayload, err := binary.NewDeserializer(outcome.Client.Frame[6:]).DeserializeUpdateChannelError()
	require.NoError(t, err)
	assert.Equal(t, string(ErrCodeInvalidChannelID), string(errPayload.ErrorCode))
}

func TestCoordinator_UpdateChannel_ZeroMaxTargetOutOfRange(t *testing.T) {
	m := newTestCoordinator(t)
	m.AddClient(1, 0)

	outcome := m.UpdateChannel(1, &binary.UpdateChannel{ChannelID: 42, NominalHashrate: 50.0})
	require.Equal(t, OutcomeSendMessagesToClient, outcome.Kind)
	errPayload, err := binary.NewDeserializer(outcome.Client.Frame[6:]).DeserializeUpdateChannelError()
	require.NoError(t, err)
	assert.Equal(t, string(ErrCodeRequestedMaxTargetOutOfRange), string(errPayload.ErrorCode))
}

func TestCoordinator_SetCustomMiningJob_IsFatal(t *testing.T) {
	m := newTestCoordinator(t)
	outcome := m.SetCustomMiningJob(1, &binary.SetCustomMiningJob{ChannelID: 7})
	assert.Equal(t, OutcomeTriggerNewEvent, outcome.Kind)
}
