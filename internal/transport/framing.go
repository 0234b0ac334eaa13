package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// readLengthPrefixed and writeLengthPrefixed carry the two raw,
// unencrypted Noise handshake messages before a secure channel exists;
// post-handshake traffic uses Connection.readFrame/writeFrame instead,
// which additionally encrypt through the established SecureChannel.
func readLengthPrefixed(conn net.Conn) ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return nil, fmt.Errorf("reading handshake length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n == 0 || n > maxFrameLength {
		return nil, fmt.Errorf("handshake message length %d out of bounds", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("reading handshake message: %w", err)
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
