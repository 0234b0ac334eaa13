package coordinator

import "errors"

// Fatal coordinator faults (spec §7): handler faults and internal
// invariant violations. Implementations should drop the offending client
// on these, per the error-handling design.
var (
	ErrTemplateNotFound    = errors.New("set-new-prev-hash references a template not in the future-template cache")
	ErrUnknownClient       = errors.New("unknown client id")
	ErrIDNotFound          = errors.New("channel or client id not found")
	ErrChannelConstruction = errors.New("channel construction failed")
)

// ChannelErrorCode and the SV2 wire error-code strings it wraps (spec §6).
type ChannelErrorCode string

const (
	ErrCodeInvalidNominalHashrate       ChannelErrorCode = "invalid-nominal-hashrate"
	ErrCodeMaxTargetOutOfRange          ChannelErrorCode = "max-target-out-of-range"
	ErrCodeMinExtranonceSizeTooLarge    ChannelErrorCode = "min-extranonce-size-too-large"
	ErrCodeNotReadyToOpenChannel        ChannelErrorCode = "not-ready-to-open-channel"
	ErrCodeInvalidChannelID             ChannelErrorCode = "invalid-channel-id"
	ErrCodeInvalidShare                 ChannelErrorCode = "invalid-share"
	ErrCodeStaleShare                   ChannelErrorCode = "stale-share"
	ErrCodeInvalidJobID                 ChannelErrorCode = "invalid-job-id"
	ErrCodeDifficultyTooLow             ChannelErrorCode = "difficulty-too-low"
	ErrCodeDuplicateShare               ChannelErrorCode = "duplicate-share"
	ErrCodeRequestedMaxTargetOutOfRange ChannelErrorCode = "requested-max-target-out-of-range"
)

// ChannelError is a non-fatal protocol/channel error (spec §7): it is
// reported to the requesting client on the wire and leaves coordinator
// state unchanged.
type ChannelError struct {
	Code ChannelErrorCode
}

func (e *ChannelError) Error() string { return string(e.Code) }

func newChannelError(code ChannelErrorCode) *ChannelError {
	return &ChannelError{Code: code}
}
