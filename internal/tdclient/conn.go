package tdclient

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/pleblottery/pleblottery/internal/coordinator"
	sv2binary "github.com/pleblottery/pleblottery/internal/sv2/binary"
	"github.com/pleblottery/pleblottery/internal/sv2/noise"
)

const maxFrameLength = 1 << 20

// DownstreamSink fans a Template Distribution handler's SendMessagesToClients
// batches out to connected miners. transport.Dispatcher implements this;
// the interface lives here (not in transport) so tdclient depends on
// coordinator's Outcome type only, not on the downstream transport package.
type DownstreamSink interface {
	DeliverToClients(outcome coordinator.Outcome) error
}

// Conn dials the upstream Template Provider, performs the Noise_NX
// handshake as the initiator, and pumps decoded messages through a
// Handler. Framing mirrors internal/transport's length-prefixed wrapping
// of encrypted SV2 frames; this package keeps its own copy since the two
// edges (accepting downstream miners vs. dialing the upstream Template
// Provider) have no shared lifecycle to couple through a common package.
type Conn struct {
	conn   net.Conn
	secure *noise.SecureChannel
}

// Dial connects to addr and completes the Noise_NX handshake. If
// expectedStatic is non-empty, the Template Provider's static key is
// checked against it (config.toml's template_distribution.auth_pk
// pinning) and the connection is rejected on mismatch.
func Dial(addr string, expectedStatic []byte) (*Conn, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing template provider %s: %w", addr, err)
	}
	secure, err := handshakeInitiator(raw, expectedStatic)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return &Conn{conn: raw, secure: secure}, nil
}

// handshakeInitiator drives the initiator side of Noise_NX over an
// already-open conn, split out from Dial so tests can exercise it over an
// in-memory net.Pipe without a real TCP dial.
func handshakeInitiator(conn net.Conn, expectedStatic []byte) (*noise.SecureChannel, error) {
	hs, err := noise.NewInitiatorHandshake()
	if err != nil {
		return nil, fmt.Errorf("starting noise handshake: %w", err)
	}

	msg1, err := hs.WriteMessage(nil)
	if err != nil {
		return nil, err
	}
	if err := writeLengthPrefixed(conn, msg1); err != nil {
		return nil, err
	}

	msg2, err := readLengthPrefixed(conn)
	if err != nil {
		return nil, err
	}
	if _, err := hs.ReadMessage(msg2); err != nil {
		return nil, fmt.Errorf("completing noise handshake: %w", err)
	}

	if len(expectedStatic) > 0 {
		remote := hs.GetRemoteStatic()
		if !bytesEqual(remote[:], expectedStatic) {
			return nil, fmt.Errorf("template provider static key does not match configured auth_pk")
		}
	}

	send, recv, err := hs.Split()
	if err != nil {
		return nil, err
	}
	return noise.NewSecureChannel(send, recv), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Close tears down the underlying TCP connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// WriteFrame encrypts and sends a plaintext SV2 frame upstream.
func (c *Conn) WriteFrame(frame []byte) error {
	ciphertext, err := c.secure.Encrypt(frame)
	if err != nil {
		return fmt.Errorf("encrypting upstream frame: %w", err)
	}
	return writeLengthPrefixed(c.conn, ciphertext)
}

// ReadFrame blocks for the next decrypted plaintext SV2 frame from the
// Template Provider.
func (c *Conn) ReadFrame() ([]byte, error) {
	ciphertext, err := readLengthPrefixed(c.conn)
	if err != nil {
		return nil, err
	}
	return c.secure.Decrypt(ciphertext)
}

// Run drives the read loop: it dispatches every decoded Template
// Distribution message to handler, fans any downstream job/prev-hash
// batches out through sink, and writes any resulting outbound frames
// (SubmitSolution) back upstream, until ReadFrame fails or sink reports a
// fatal Outcome.
func (c *Conn) Run(handler *Handler, sink DownstreamSink) error {
	if err := c.WriteFrame(handler.StartupFrame()); err != nil {
		return fmt.Errorf("sending startup constraints: %w", err)
	}

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return err
		}
		outcome, err := c.route(handler, frame)
		if err != nil {
			return err
		}
		if err := sink.DeliverToClients(outcome); err != nil {
			return fmt.Errorf("downstream fan-out: %w", err)
		}
		for _, out := range UpstreamFrames(outcome) {
			if err := c.WriteFrame(out); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) route(handler *Handler, frame []byte) (coordinator.Outcome, error) {
	header, err := sv2binary.ParseHeader(frame)
	if err != nil {
		return coordinator.Outcome{}, fmt.Errorf("malformed template provider frame: %w", err)
	}
	dec := sv2binary.NewDeserializer(frame[sv2binary.HeaderSize:])

	switch header.MsgType {
	case sv2binary.MsgTypeNewTemplate:
		msg, err := dec.DeserializeNewTemplate()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return handler.HandleNewTemplate(msg), nil

	case sv2binary.MsgTypeSetNewPrevHashTD:
		msg, err := dec.DeserializeSetNewPrevHashTD()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return handler.HandleSetNewPrevHash(msg), nil

	case sv2binary.MsgTypeRequestTransactionDataSuccess:
		msg, err := dec.DeserializeRequestTransactionDataSuccess()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return handler.HandleRequestTransactionDataSuccess(msg), nil

	case sv2binary.MsgTypeRequestTransactionDataError:
		msg, err := dec.DeserializeRequestTransactionDataError()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return handler.HandleRequestTransactionDataError(msg), nil

	default:
		return coordinator.Outcome{}, fmt.Errorf("unsupported template provider message type 0x%02x", header.MsgType)
	}
}

func readLengthPrefixed(conn net.Conn) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return nil, fmt.Errorf("reading length prefix: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n == 0 || n > maxFrameLength {
		return nil, fmt.Errorf("frame length %d out of bounds", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	return buf, nil
}

func writeLengthPrefixed(conn net.Conn, payload []byte) error {
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}
