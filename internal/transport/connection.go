// Package transport owns the edge spec.md scopes out of the coordinator:
// the net.Listener accept loop, the Noise_NX handshake, SV2 frame
// read/write, and inactivity enforcement. ServerConfig.CertValidity is
// carried but not checked anywhere in this package. It hands decoded
// messages to the mining coordinator and writes back whatever frames the
// resulting Outcome carries. Adapted from the teacher's sharded
// ConnectionManager/ManagedConnection (internal/stratum/connection_manager.go),
// generalized from a JSON-newline stratum-v1 transport to a length-framed,
// noise-secured SV2 transport.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	sv2noise "github.com/pleblottery/pleblottery/internal/sv2/noise"
)

// maxFrameLength bounds a single frame's payload so a corrupt or hostile
// peer cannot force an unbounded allocation while we read its length
// prefix.
const maxFrameLength = 1 << 20

// Connection wraps one downstream miner's socket with its assigned
// coordinator client id, its secure channel, and a serial send queue —
// mirrors ManagedConnection's role but keyed by a coordinator client id
// instead of a worker name/subscription pair.
type Connection struct {
	ID       string // uuid, used in log lines and metrics labels
	ClientID uint64
	RemoteIP string
	Conn     net.Conn
	Secure   *sv2noise.SecureChannel

	ConnectedAt  time.Time
	LastActivity int64 // unix nanos, updated atomically

	SendChan chan []byte
	done     chan struct{}
}

// newConnection wraps an accepted socket once its handshake has completed.
func newConnection(clientID uint64, conn net.Conn, secure *sv2noise.SecureChannel) *Connection {
	c := &Connection{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		RemoteIP:    remoteIP(conn),
		Conn:        conn,
		Secure:      secure,
		ConnectedAt: time.Now(),
		SendChan:    make(chan []byte, 256),
		done:        make(chan struct{}),
	}
	c.touch()
	return c
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func (c *Connection) touch() {
	atomic.StoreInt64(&c.LastActivity, time.Now().UnixNano())
}

func (c *Connection) idleSince() time.Duration {
	return time.Since(time.Unix(0, atomic.LoadInt64(&c.LastActivity)))
}

// writeLoop drains SendChan onto the wire, encrypting each frame through
// the Noise secure channel before writing its length prefix.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame, ok := <-c.SendChan:
			if !ok {
				return
			}
			if err := c.writeFrame(frame); err != nil {
				return
			}
		}
	}
}

func (c *Connection) writeFrame(frame []byte) error {
	ciphertext, err := c.Secure.Encrypt(frame)
	if err != nil {
		return fmt.Errorf("encrypting frame for %s: %w", c.ID, err)
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(ciphertext)))
	if _, err := c.Conn.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err = c.Conn.Write(ciphertext)
	return err
}

// readFrame blocks for exactly one length-prefixed, Noise-decrypted SV2
// frame and returns its plaintext bytes (header + payload).
func (c *Connection) readFrame() ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(c.Conn, lenPrefix[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n == 0 || n > maxFrameLength {
		return nil, fmt.Errorf("frame length %d out of bounds", n)
	}
	ciphertext := make([]byte, n)
	if _, err := io.ReadFull(c.Conn, ciphertext); err != nil {
		return nil, err
	}
	plaintext, err := c.Secure.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypting frame from %s: %w", c.ID, err)
	}
	c.touch()
	return plaintext, nil
}

// Close stops the write loop and closes the underlying socket. Idempotent.
func (c *Connection) Close() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}
	c.Conn.Close()
}

// Send enqueues a frame for delivery, dropping it if the connection's
// backlog is full rather than blocking the coordinator's single writer.
func (c *Connection) Send(frame []byte) {
	select {
	case c.SendChan <- frame:
	default:
	}
}
