package binary

import (
	"encoding/binary"
	"errors"
)

// =============================================================================
// STRATUM V2 BINARY PROTOCOL TYPES
// Based on Stratum V2 Specification (SRI v1.0)
// =============================================================================

// Message type constants for Stratum V2
const (
	// Connection Setup Messages (0x00-0x0F)
	MsgTypeSetupConnection        uint8 = 0x00
	MsgTypeSetupConnectionSuccess uint8 = 0x01
	MsgTypeSetupConnectionError   uint8 = 0x02
	MsgTypeChannelEndpointChanged uint8 = 0x03
	MsgTypeSetupMiningConnection  uint8 = 0x04

	// Mining Channel Messages (0x10-0x1F)
	MsgTypeOpenStandardMiningChannel        uint8 = 0x10
	MsgTypeOpenStandardMiningChannelSuccess uint8 = 0x11
	MsgTypeOpenStandardMiningChannelError   uint8 = 0x12
	MsgTypeOpenExtendedMiningChannel        uint8 = 0x13
	MsgTypeOpenExtendedMiningChannelSuccess uint8 = 0x14
	MsgTypeOpenExtendedMiningChannelError   uint8 = 0x15
	MsgTypeUpdateChannel                    uint8 = 0x16
	MsgTypeUpdateChannelError               uint8 = 0x17
	MsgTypeCloseChannel                     uint8 = 0x18

	// Mining Job Messages (0x20-0x2F)
	MsgTypeNewMiningJob              uint8 = 0x20
	MsgTypeNewExtendedMiningJob      uint8 = 0x21
	MsgTypeSetNewPrevHash            uint8 = 0x22
	MsgTypeSetCustomMiningJob        uint8 = 0x23
	MsgTypeSetCustomMiningJobSuccess uint8 = 0x24
	MsgTypeSetCustomMiningJobError   uint8 = 0x25

	// Share Submission Messages (0x30-0x3F)
	MsgTypeSubmitSharesStandard uint8 = 0x30
	MsgTypeSubmitSharesExtended uint8 = 0x31
	MsgTypeSubmitSharesSuccess  uint8 = 0x32
	MsgTypeSubmitSharesError    uint8 = 0x33

	// Difficulty Messages (0x40-0x4F)
	MsgTypeSetTarget       uint8 = 0x40
	MsgTypeSetGroupChannel uint8 = 0x41

	// Connection Control Messages (0x50-0x5F)
	MsgTypeReconnect           uint8 = 0x50
	MsgTypeSetExtranoncePrefix uint8 = 0x51

	// Template Distribution Protocol Messages (0x70-0x7F)
	// Separate subprotocol, separate wire, spoken upstream to the Template
	// Provider. Shares SetupConnection/SetupConnectionSuccess/Error with the
	// Mining protocol (same struct, distinguished by the connection it rides).
	MsgTypeSetCoinbaseOutputConstraints  uint8 = 0x70
	MsgTypeNewTemplate                   uint8 = 0x71
	MsgTypeSetNewPrevHashTD              uint8 = 0x72
	MsgTypeRequestTransactionData        uint8 = 0x73
	MsgTypeRequestTransactionDataSuccess uint8 = 0x74
	MsgTypeRequestTransactionDataError   uint8 = 0x75
	MsgTypeSubmitSolution                uint8 = 0x76
)

// Wire error-code strings (spec §6), carried verbatim in STR0_255 fields of
// the various *Error messages.
const (
	ErrCodeInvalidNominalHashrate       = "invalid-nominal-hashrate"
	ErrCodeMaxTargetOutOfRange          = "max-target-out-of-range"
	ErrCodeMinExtranonceSizeTooLarge    = "min-extranonce-size-too-large"
	ErrCodeNotReadyToOpenChannel        = "not-ready-to-open-channel"
	ErrCodeInvalidChannelID             = "invalid-channel-id"
	ErrCodeInvalidShare                 = "invalid-share"
	ErrCodeStaleShare                   = "stale-share"
	ErrCodeInvalidJobID                 = "invalid-job-id"
	ErrCodeDifficultyTooLow             = "difficulty-too-low"
	ErrCodeDuplicateShare               = "duplicate-share"
	ErrCodeRequestedMaxTargetOutOfRange = "requested-max-target-out-of-range"
)

// Extension type flags
const (
	ExtensionTypeNone           uint16 = 0x0000
	ExtensionTypeVersionRolling uint16 = 0x0001
	ExtensionTypeMinimumDiff    uint16 = 0x0002
	ExtensionTypeWorkSelection  uint16 = 0x0004
)

// Error codes
const (
	ErrUnknownMessage       uint8 = 0x00
	ErrInvalidExtensionType uint8 = 0x01
	ErrInvalidChannelID     uint8 = 0x02
	ErrInvalidJobID         uint8 = 0x03
	ErrInvalidTarget        uint8 = 0x04
	ErrInvalidShare         uint8 = 0x05
	ErrStaleShare           uint8 = 0x06
	ErrDuplicateShare       uint8 = 0x07
	ErrLowDifficultyShare   uint8 = 0x08
	ErrUnauthorized         uint8 = 0x09
	ErrNotSubscribed        uint8 = 0x0A
)

// Errors
var (
	ErrInvalidMessageLength = errors.New("invalid message length")
	ErrUnsupportedMessage   = errors.New("unsupported message type")
	ErrInvalidHeader        = errors.New("invalid message header")
	ErrTruncatedMessage     = errors.New("truncated message")
	ErrBufferTooSmall       = errors.New("buffer too small")
)

// =============================================================================
// Frame Header
// =============================================================================

// FrameHeader represents a Stratum V2 message frame header
// Format: [extension_type: u16] [msg_type: u8] [msg_length: u24]
type FrameHeader struct {
	ExtensionType uint16
	MsgType       uint8
	MsgLength     uint32 // 24-bit in wire format
}

// HeaderSize is the size of the frame header in bytes
const HeaderSize = 6

// Serialize serializes the header to bytes
func (h *FrameHeader) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.ExtensionType)
	buf[2] = h.MsgType
	// 24-bit length in little endian
	buf[3] = byte(h.MsgLength & 0xFF)
	buf[4] = byte((h.MsgLength >> 8) & 0xFF)
	buf[5] = byte((h.MsgLength >> 16) & 0xFF)
	return buf
}

// ParseHeader parses a frame header from bytes
func ParseHeader(data []byte) (*FrameHeader, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidHeader
	}

	h := &FrameHeader{
		ExtensionType: binary.LittleEndian.Uint16(data[0:2]),
		MsgType:       data[2],
		MsgLength:     uint32(data[3]) | uint32(data[4])<<8 | uint32(data[5])<<16,
	}
	return h, nil
}

// =============================================================================
// String Types (Variable Length)
// =============================================================================

// STR0_255 represents a string with max 255 bytes (1-byte length prefix)
type STR0_255 string

// Serialize serializes the string with length prefix
func (s STR0_255) Serialize() []byte {
	str := string(s)
	if len(str) > 255 {
		str = str[:255]
	}
	buf := make([]byte, 1+len(str))
	buf[0] = byte(len(str))
	copy(buf[1:], str)
	return buf
}

// ParseSTR0_255 parses a string from bytes
func ParseSTR0_255(data []byte) (STR0_255, int, error) {
	if len(data) < 1 {
		return "", 0, ErrTruncatedMessage
	}
	length := int(data[0])
	if len(data) < 1+length {
		return "", 0, ErrTruncatedMessage
	}
	return STR0_255(data[1 : 1+length]), 1 + length, nil
}

// B0_32 is a byte string with a 1-byte length prefix, max 32 bytes. Used for
// extranonce prefixes and rolled extranonces, which never exceed
// MAX_EXTRANONCE_LEN.
type B0_32 []byte

// B0_64K is a byte string with a 2-byte little-endian length prefix, max
// 65535 bytes. Used for coinbase transactions and transaction-data blobs,
// which can exceed the 255-byte STR0_255/B0_32 ceiling.
type B0_64K []byte

// =============================================================================
// Core Message Structures
// =============================================================================

// SetupConnection is sent by client to initiate connection
type SetupConnection struct {
	Protocol        uint8    // Mining protocol version
	MinVersion      uint16   // Minimum supported version
	MaxVersion      uint16   // Maximum supported version
	Flags           uint32   // Feature flags
	Endpoint        STR0_255 // Endpoint host:port
	Vendor          STR0_255 // Vendor name
	HardwareVersion STR0_255 // Hardware version string
	FirmwareVersion STR0_255 // Firmware version string
	DeviceID        STR0_255 // Unique device identifier
}

// SetupConnectionSuccess is sent by server on successful setup
type SetupConnectionSuccess struct {
	UsedVersion uint16 // Negotiated protocol version
	Flags       uint32 // Supported feature flags
}

// SetupConnectionError is sent by server on setup failure
type SetupConnectionError struct {
	Flags     uint32   // Flags for error details
	ErrorCode STR0_255 // Error code string
}

// OpenStandardMiningChannel requests opening a mining channel
type OpenStandardMiningChannel struct {
	RequestID         uint32   // Client-assigned request ID
	UserIdentity      STR0_255 // User/worker identity (wallet.worker)
	NominalHashrate   float32  // Expected hashrate in H/s
	MaxTargetRequired uint32   // Maximum target (minimum difficulty)
}

// OpenStandardMiningChannelSuccess confirms channel opened
type OpenStandardMiningChannelSuccess struct {
	RequestID        uint32   // Matching request ID
	ChannelID        uint32   // Server-assigned channel ID
	Target           [32]byte // Initial mining target
	ExtranoncePrefix B0_32    // Server-assigned extranonce prefix
	GroupChannelID   uint32   // Group channel identifier (0 if none)
}

// OpenStandardMiningChannelError indicates channel open failure
type OpenStandardMiningChannelError struct {
	RequestID uint32   // Matching request ID
	ErrorCode STR0_255 // Error code
}

// NewMiningJob contains a new mining job
type NewMiningJob struct {
	ChannelID      uint32 // Target channel
	JobID          uint32 // Unique job identifier
	FuturePrevHash bool   // If true, prevhash not yet available
	Version        uint32 // Block version
	VersionMask    uint32 // Mask for version rolling
}

// SetNewPrevHash updates the previous block hash
type SetNewPrevHash struct {
	ChannelID uint32   // Target channel
	JobID     uint32   // Job to update
	PrevHash  [32]byte // New previous block hash
	MinNTime  uint32   // Minimum ntime value
	NBits     uint32   // Target difficulty bits
}

// SubmitSharesStandard submits a standard share
type SubmitSharesStandard struct {
	ChannelID   uint32 // Channel ID
	SequenceNum uint32 // Sequence number for tracking
	JobID       uint32 // Job being mined
	Nonce       uint32 // Nonce solution
	NTime       uint32 // Block time
	Version     uint32 // Block version (if version rolling)
}

// SubmitSharesSuccess acknowledges accepted shares
type SubmitSharesSuccess struct {
	ChannelID       uint32 // Channel ID
	LastSequenceNum uint32 // Last accepted sequence number
	NewSubmits      uint32 // Count of newly accepted shares
	NewDifficulty   uint64 // Summed work of the accepted shares (ShareOutcome.WorkSum)
}

// SubmitSharesError indicates share rejection
type SubmitSharesError struct {
	ChannelID   uint32   // Channel ID
	SequenceNum uint32   // Failed sequence number
	ErrorCode   STR0_255 // Error code
}

// SetTarget updates the mining target
type SetTarget struct {
	ChannelID uint32   // Target channel
	MaxTarget [32]byte // New maximum target
}

// Reconnect instructs client to reconnect
type Reconnect struct {
	NewHost STR0_255 // New host to connect to
	NewPort uint16   // New port
}

// =============================================================================
// Extended / Group Channel Messages
// =============================================================================

// OpenExtendedMiningChannel requests opening an extended mining channel
type OpenExtendedMiningChannel struct {
	RequestID         uint32   // Client-assigned request ID
	UserIdentity      STR0_255 // User/worker identity (wallet.worker)
	NominalHashrate   float32  // Expected hashrate in H/s
	MaxTargetRequired uint32   // Maximum target (minimum difficulty)
	MinExtranonceSize uint16   // Minimum rollable extranonce bytes the device needs
}

// OpenExtendedMiningChannelSuccess confirms an extended channel opened
type OpenExtendedMiningChannelSuccess struct {
	RequestID        uint32   // Matching request ID
	ChannelID        uint32   // Server-assigned channel ID
	Target           [32]byte // Initial mining target
	ExtranonceSize   uint16   // Size of the rollable extranonce range
	ExtranoncePrefix B0_32    // Server-assigned extranonce prefix
}

// OpenExtendedMiningChannelError indicates extended channel open failure
type OpenExtendedMiningChannelError struct {
	RequestID uint32   // Matching request ID
	ErrorCode STR0_255 // Error code
}

// NewExtendedMiningJob contains a new job for an extended or group channel
type NewExtendedMiningJob struct {
	ChannelID             uint32   // Target channel (group or extended)
	JobID                 uint32   // Unique job identifier
	FuturePrevHash        bool     // If true, prevhash not yet available
	Version               uint32   // Block version
	VersionRollingAllowed bool     // Whether the miner may roll version bits
	MerkleRoot            [32]byte // Precomputed coinbase merkle root for this job
}

// UpdateChannel adjusts a channel's advertised hashrate/target
type UpdateChannel struct {
	ChannelID       uint32   // Channel to update
	NominalHashrate float32  // New expected hashrate in H/s
	MaximumTarget   [32]byte // New maximum target
}

// UpdateChannelError indicates an update-channel failure
type UpdateChannelError struct {
	ChannelID uint32   // Channel the update targeted
	ErrorCode STR0_255 // Error code
}

// CloseChannel requests a channel be closed
type CloseChannel struct {
	ChannelID uint32   // Channel to close
	Reason    STR0_255 // Human-readable reason
}

// SubmitSharesExtended submits a share on an extended channel, carrying the
// miner-rolled extranonce alongside the job coordinates.
type SubmitSharesExtended struct {
	ChannelID   uint32 // Channel ID
	SequenceNum uint32 // Sequence number for tracking
	JobID       uint32 // Job being mined
	Nonce       uint32 // Nonce solution
	NTime       uint32 // Block time
	Version     uint32 // Block version (if version rolling)
	Extranonce  B0_32  // Miner-rolled extranonce bytes
}

// SetCustomMiningJob is decoded only so it can be rejected: custom mining
// jobs are not supported.
type SetCustomMiningJob struct {
	ChannelID uint32   // Channel the custom job targets
	RequestID uint32   // Client-assigned request ID
	Token     STR0_255 // Negotiation token (job-negotiation protocol, unused)
	Version   uint32   // Block version
	PrevHash  [32]byte // Previous block hash
	MinNTime  uint32   // Minimum ntime
	NBits     uint32   // Target difficulty bits
}

// =============================================================================
// Template Distribution Protocol Messages
// =============================================================================

// SetCoinbaseOutputConstraints is emitted once at startup to tell the
// Template Provider how much room we need in the coinbase transaction.
type SetCoinbaseOutputConstraints struct {
	MaxAdditionalSize   uint32 // Extra coinbase tx bytes we may add
	MaxAdditionalSigops uint16 // Extra sigops our coinbase output may add
}

// NewTemplate carries a block-construction proposal from the Template
// Provider. MerklePath is the set of hashes needed to fold the coinbase txid
// up to the block's merkle root.
type NewTemplate struct {
	TemplateID               uint64     // Provider-assigned template identifier
	FutureTemplate           bool       // True if this template awaits a SetNewPrevHash
	Version                  uint32     // Block version
	CoinbaseTxVersion        uint32     // Coinbase transaction version field
	CoinbasePrefix           B0_32      // BIP34 height push + pool tag placeholder
	CoinbaseTxInputSequence  uint32     // Coinbase input sequence field
	CoinbaseTxValueRemaining uint64     // Sats available for our output(s)
	CoinbaseTxLocktime       uint32     // Coinbase transaction locktime
	MerklePath               [][32]byte // Merkle branch from coinbase to block root
}

// SetNewPrevHashTD activates a previously announced future template. Unlike
// the mining-protocol SetNewPrevHash (keyed by channel_id), this variant is
// keyed by template_id.
type SetNewPrevHashTD struct {
	TemplateID      uint64   // Template being activated
	PrevHash        [32]byte // New chain tip, internal byte order
	HeaderTimestamp uint32   // Block header timestamp
	NBits           uint32   // Target difficulty bits
	Target          [32]byte // Full 256-bit target
}

// SubmitSolution forwards a discovered block upstream to the Template
// Provider for broadcast.
type SubmitSolution struct {
	TemplateID      uint64 // Template the solution was built from
	Version         uint32 // Block version used
	HeaderTimestamp uint32 // ntime used
	HeaderNonce     uint32 // Winning nonce
	CoinbaseTx      B0_64K // Fully assembled coinbase transaction bytes
}

// RequestTransactionData asks the Template Provider for the non-coinbase
// transaction set of a template (unused in this role; kept for wire
// completeness since the Provider may echo the request type back).
type RequestTransactionData struct {
	TemplateID uint64 // Template to fetch transaction data for
}

// RequestTransactionDataSuccess is never expected in this role.
type RequestTransactionDataSuccess struct {
	TemplateID uint64 // Echoed template identifier
	ExcessData B0_64K // Additional transaction data bytes
}

// RequestTransactionDataError is never expected in this role.
type RequestTransactionDataError struct {
	TemplateID uint64   // Echoed template identifier
	ErrorCode  STR0_255 // Error code
}
