package coordinator

import (
	"github.com/pleblottery/pleblottery/internal/sv2/binary"
)

// frameExtensionType is the extension_type this server uses for every
// mining/Template-Distribution message: the core protocol, no extensions.
const frameExtensionType uint16 = 0

func frame(msgType uint8, payload []byte) []byte {
	s := binary.NewSerializer()
	return s.SerializeFrame(msgType, frameExtensionType, payload)
}

func frameSetupConnectionSuccess(usedVersion uint16, flags uint32) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeSetupConnectionSuccess(&binary.SetupConnectionSuccess{
		UsedVersion: usedVersion,
		Flags:       flags,
	})
	return frame(binary.MsgTypeSetupConnectionSuccess, payload)
}

func frameOpenStandardMiningChannelSuccess(requestID, channelID uint32, target [32]byte, extranoncePrefix []byte, groupChannelID uint32) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeOpenStandardMiningChannelSuccess(&binary.OpenStandardMiningChannelSuccess{
		RequestID:        requestID,
		ChannelID:        channelID,
		Target:           target,
		ExtranoncePrefix: binary.B0_32(extranoncePrefix),
		GroupChannelID:   groupChannelID,
	})
	return frame(binary.MsgTypeOpenStandardMiningChannelSuccess, payload)
}

func frameOpenStandardMiningChannelError(requestID uint32, code ChannelErrorCode) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeOpenStandardMiningChannelError(&binary.OpenStandardMiningChannelError{
		RequestID: requestID,
		ErrorCode: binary.STR0_255(code),
	})
	return frame(binary.MsgTypeOpenStandardMiningChannelError, payload)
}

func frameOpenExtendedMiningChannelSuccess(requestID, channelID uint32, target [32]byte, extranonceSize uint16, extranoncePrefix []byte) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeOpenExtendedMiningChannelSuccess(&binary.OpenExtendedMiningChannelSuccess{
		RequestID:        requestID,
		ChannelID:        channelID,
		Target:           target,
		ExtranonceSize:   extranonceSize,
		ExtranoncePrefix: binary.B0_32(extranoncePrefix),
	})
	return frame(binary.MsgTypeOpenExtendedMiningChannelSuccess, payload)
}

func frameOpenExtendedMiningChannelError(requestID uint32, code ChannelErrorCode) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeOpenExtendedMiningChannelError(&binary.OpenExtendedMiningChannelError{
		RequestID: requestID,
		ErrorCode: binary.STR0_255(code),
	})
	return frame(binary.MsgTypeOpenExtendedMiningChannelError, payload)
}

func frameUpdateChannelError(channelID uint32, code ChannelErrorCode) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeUpdateChannelError(&binary.UpdateChannelError{
		ChannelID: channelID,
		ErrorCode: binary.STR0_255(code),
	})
	return frame(binary.MsgTypeUpdateChannelError, payload)
}

func frameNewMiningJob(channelID uint32, j *Job) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeNewMiningJob(&binary.NewMiningJob{
		ChannelID:      channelID,
		JobID:          j.JobID,
		FuturePrevHash: j.FutureJob,
		Version:        j.Version,
		VersionMask:    0,
	})
	return frame(binary.MsgTypeNewMiningJob, payload)
}

func frameNewExtendedMiningJob(channelID uint32, j *Job, versionRollingAllowed bool) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeNewExtendedMiningJob(&binary.NewExtendedMiningJob{
		ChannelID:             channelID,
		JobID:                 j.JobID,
		FuturePrevHash:        j.FutureJob,
		Version:               j.Version,
		VersionRollingAllowed: versionRollingAllowed,
		MerkleRoot:            j.MerkleRoot,
	})
	return frame(binary.MsgTypeNewExtendedMiningJob, payload)
}

func frameSetNewPrevHash(channelID, jobID uint32, j *Job) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeSetNewPrevHash(&binary.SetNewPrevHash{
		ChannelID: channelID,
		JobID:     jobID,
		PrevHash:  j.PrevHash,
		MinNTime:  j.HeaderTimestamp,
		NBits:     j.NBits,
	})
	return frame(binary.MsgTypeSetNewPrevHash, payload)
}

func frameSubmitSharesSuccess(channelID uint32, outcome ShareOutcome) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeSubmitSharesSuccess(&binary.SubmitSharesSuccess{
		ChannelID:       channelID,
		LastSequenceNum: outcome.LastSequenceNumber,
		NewSubmits:      outcome.AcceptedCount,
		NewDifficulty:   outcome.WorkSum,
	})
	return frame(binary.MsgTypeSubmitSharesSuccess, payload)
}

func frameSubmitSharesError(channelID, sequenceNum uint32, code ChannelErrorCode) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeSubmitSharesError(&binary.SubmitSharesError{
		ChannelID:   channelID,
		SequenceNum: sequenceNum,
		ErrorCode:   binary.STR0_255(code),
	})
	return frame(binary.MsgTypeSubmitSharesError, payload)
}

func frameSetCoinbaseOutputConstraints(maxAdditionalSize uint32, maxAdditionalSigops uint16) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeSetCoinbaseOutputConstraints(&binary.SetCoinbaseOutputConstraints{
		MaxAdditionalSize:   maxAdditionalSize,
		MaxAdditionalSigops: maxAdditionalSigops,
	})
	return frame(binary.MsgTypeSetCoinbaseOutputConstraints, payload)
}

func frameSubmitSolution(event SubmitSolutionEvent) []byte {
	s := binary.NewSerializer()
	payload := s.SerializeSubmitSolution(&binary.SubmitSolution{
		TemplateID:      event.TemplateID,
		Version:         event.Version,
		HeaderTimestamp: event.HeaderTimestamp,
		HeaderNonce:     event.HeaderNonce,
		CoinbaseTx:      binary.B0_64K(event.CoinbaseTx),
	})
	return frame(binary.MsgTypeSubmitSolution, payload)
}
