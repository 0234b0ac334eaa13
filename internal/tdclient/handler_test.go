package tdclient

import (
	"testing"

	"github.com/pleblottery/pleblottery/internal/coordinator"
	"github.com/pleblottery/pleblottery/internal/sv2/binary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) *coordinator.MiningCoordinator {
	t.Helper()
	extranonce, err := coordinator.NewExtendedExtranonce("tag")
	require.NoError(t, err)
	config := coordinator.DefaultCoordinatorConfig()
	config.DestinationScript = []byte{0x6a}
	return coordinator.NewMiningCoordinator(config, extranonce)
}

func TestHandler_StartupFrame_NonEmpty(t *testing.T) {
	h := NewHandler(newTestCoordinator(t))
	frame := h.StartupFrame()
	assert.NotEmpty(t, frame)
}

func TestHandler_HandleNewTemplate_ForwardsIntoCoordinator(t *testing.T) {
	h := NewHandler(newTestCoordinator(t))

	msg := &binary.NewTemplate{
		TemplateID:               1,
		FutureTemplate:           true,
		Version:                  0x20000000,
		CoinbaseTxVersion:        2,
		CoinbasePrefix:           binary.B0_32{0x02, 0x65, 0x00},
		CoinbaseTxValueRemaining: 5_000_000_000,
		CoinbaseTxLocktime:       0,
		MerklePath:               nil,
	}

	outcome := h.HandleNewTemplate(msg)
	assert.Equal(t, coordinator.OutcomeSendMessagesToClients, outcome.Kind)
	assert.Equal(t, uint64(100), h.currentHeight)
}

func TestHandler_HandleSetNewPrevHash_UnknownTemplateIsFatal(t *testing.T) {
	h := NewHandler(newTestCoordinator(t))

	msg := &binary.SetNewPrevHashTD{
		TemplateID:      99,
		PrevHash:        [32]byte{0x01},
		HeaderTimestamp: 1_700_000_000,
		NBits:           0x207fffff,
	}

	outcome := h.HandleSetNewPrevHash(msg)
	assert.Equal(t, coordinator.OutcomeTriggerNewEvent, outcome.Kind)
	require.NotNil(t, outcome.Fatal)
}

func TestHandler_RequestTransactionDataHandlers_AreFatal(t *testing.T) {
	h := NewHandler(newTestCoordinator(t))

	success := h.HandleRequestTransactionDataSuccess(&binary.RequestTransactionDataSuccess{TemplateID: 1})
	assert.Equal(t, coordinator.OutcomeTriggerNewEvent, success.Kind)

	failure := h.HandleRequestTransactionDataError(&binary.RequestTransactionDataError{TemplateID: 1, ErrorCode: "unsupported"})
	assert.Equal(t, coordinator.OutcomeTriggerNewEvent, failure.Kind)
}

func TestUpstreamFrames_ExtractsSubmitSolutionOnly(t *testing.T) {
	solution := &coordinator.SubmitSolutionEvent{
		TemplateID:      1,
		Version:         0x20000000,
		HeaderTimestamp: 1_700_000_000,
		HeaderNonce:     42,
		CoinbaseTx:      []byte{0x01, 0x02},
	}
	outcome := coordinator.Multi(
		coordinator.SendToClient(7, []byte{0xaa}),
		coordinator.SendToSibling(coordinator.SiblingEvent{Kind: coordinator.EventSubmitSolution, Payload: solution}),
	)

	frames := UpstreamFrames(outcome)
	require.Len(t, frames, 1)
	assert.NotEmpty(t, frames[0])
}

func TestUpstreamFrames_EmptyWhenNoSiblingEvent(t *testing.T) {
	outcome := coordinator.SendToClient(7, []byte{0xaa})
	frames := UpstreamFrames(outcome)
	assert.Empty(t, frames)
}
