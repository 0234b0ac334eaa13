package transport

import (
	"net"
	"testing"
	"time"

	"github.com/pleblottery/pleblottery/internal/coordinator"
	"github.com/pleblottery/pleblottery/internal/sv2/binary"
	"github.com/pleblottery/pleblottery/internal/sv2/noise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLengthPrefixed_RoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("hello noise")
	go writeLengthPrefixed(client, payload)

	got, err := readLengthPrefixed(server)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

// TestServer_Handshake_EstablishesSecureChannel drives both sides of
// Noise_NX over an in-memory net.Pipe: the client plays the initiator and
// the server plays the responder via Server.handshake, then both sides
// confirm they derived matching send/recv ciphers by exchanging one
// encrypted message.
func TestServer_Handshake_EstablishesSecureChannel(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	staticKey, err := noise.GenerateKeyPair()
	require.NoError(t, err)
	srv := NewServer(ServerConfig{StaticKey: staticKey}, NewDispatcher(newTestCoordinator(t)))

	type result struct {
		secure *noise.SecureChannel
		err    error
	}
	serverResult := make(chan result, 1)
	go func() {
		secure, err := srv.handshake(serverConn)
		serverResult <- result{secure, err}
	}()

	clientHS, err := noise.NewInitiatorHandshake()
	require.NoError(t, err)
	msg1, err := clientHS.WriteMessage(nil)
	require.NoError(t, err)
	require.NoError(t, writeLengthPrefixed(clientConn, msg1))

	msg2, err := readLengthPrefixed(clientConn)
	require.NoError(t, err)
	_, err = clientHS.ReadMessage(msg2)
	require.NoError(t, err)

	clientSend, clientRecv, err := clientHS.Split()
	require.NoError(t, err)
	clientSecure := noise.NewSecureChannel(clientSend, clientRecv)

	res := <-serverResult
	require.NoError(t, res.err)
	require.NotNil(t, res.secure)

	ciphertext, err := clientSecure.Encrypt([]byte("ping"))
	require.NoError(t, err)
	plaintext, err := res.secure.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(plaintext))
}

func newTestCoordinator(t *testing.T) *coordinator.MiningCoordinator {
	t.Helper()
	extranonce, err := coordinator.NewExtendedExtranonce("pleb")
	require.NoError(t, err)
	cfg := coordinator.DefaultCoordinatorConfig()
	cfg.DestinationScript = []byte{0x6a}
	return coordinator.NewMiningCoordinator(cfg, extranonce)
}

func fakeConnection(t *testing.T, clientID uint64) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return &Connection{
		ID:           "test",
		ClientID:     clientID,
		Conn:         server,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now().UnixNano(),
		SendChan:     make(chan []byte, 8),
		done:         make(chan struct{}),
	}
}

func TestDispatcher_Dispatch_UnknownClientLogsAndDropsFrame(t *testing.T) {
	coord := newTestCoordinator(t)
	d := NewDispatcher(coord)
	conn := fakeConnection(t, 99) // never registered with the coordinator

	ser := binary.NewSerializer()
	frame := ser.SerializeFrame(binary.MsgTypeOpenStandardMiningChannel, 0, ser.SerializeOpenStandardMiningChannel(&binary.OpenStandardMiningChannel{
		RequestID:         1,
		UserIdentity:      "alice",
		NominalHashrate:   1.0,
		MaxTargetRequired: 0x207fffff,
	}))

	d.Dispatch(conn, frame)
	// Fatal(unknown client) closes the connection rather than enqueueing a
	// reply frame.
	select {
	case <-conn.SendChan:
		t.Fatal("expected no frame queued for an unknown client")
	default:
	}
}

func TestDispatcher_Dispatch_RoutesOpenStandardMiningChannel(t *testing.T) {
	coord := newTestCoordinator(t)
	coord.AddClient(1, 0)
	coord.OnNewTemplate(&coordinator.Template{
		TemplateID:               1,
		FutureTemplate:           true,
		Version:                  0x20000000,
		CoinbaseTxVersion:        2,
		CoinbasePrefix:           []byte{0x02, 0x65, 0x00},
		CoinbaseTxValueRemaining: 5_000_000_000,
	})
	coord.OnSetNewPrevHash(&coordinator.PrevHashActivation{
		TemplateID:      1,
		PrevHash:        [32]byte{0x01},
		HeaderTimestamp: 1_700_000_000,
		NBits:           0x207fffff,
	})

	d := NewDispatcher(coord)
	conn := fakeConnection(t, 1)
	d.Register(conn)

	ser := binary.NewSerializer()
	frame := ser.SerializeFrame(binary.MsgTypeOpenStandardMiningChannel, 0, ser.SerializeOpenStandardMiningChannel(&binary.OpenStandardMiningChannel{
		RequestID:         1,
		UserIdentity:      "alice",
		NominalHashrate:   1.0,
		MaxTargetRequired: 0x207fffff,
	}))

	d.Dispatch(conn, frame)

	select {
	case reply := <-conn.SendChan:
		assert.Equal(t, binary.MsgTypeOpenStandardMiningChannelSuccess, reply[2])
	default:
		t.Fatal("expected a queued reply frame")
	}
}

func TestDispatcher_Dispatch_RoutesSetupConnection(t *testing.T) {
	coord := newTestCoordinator(t)
	d := NewDispatcher(coord)
	conn := fakeConnection(t, 1)
	d.Register(conn)

	ser := binary.NewSerializer()
	frame := ser.SerializeFrame(binary.MsgTypeSetupConnection, 0, ser.SerializeSetupConnection(&binary.SetupConnection{
		Protocol:   0,
		MinVersion: 2,
		MaxVersion: 2,
		Flags:      1, // requires-standard-jobs-only
		Endpoint:   "miner.example:3333",
	}))

	d.Dispatch(conn, frame)

	select {
	case reply := <-conn.SendChan:
		assert.Equal(t, binary.MsgTypeSetupConnectionSuccess, reply[2])
	default:
		t.Fatal("expected a queued SetupConnectionSuccess frame")
	}
}

// TestDispatcher_Dispatch_SetupConnectionFlagsSuppressGroupChannel exercises
// spec §8 scenario 6 end-to-end through the real dispatch path: a client
// whose SetupConnection sets flags bit 0 gets no Group Channel, so its
// subsequent standard-channel open reports group_channel_id=0.
func TestDispatcher_Dispatch_SetupConnectionFlagsSuppressGroupChannel(t *testing.T) {
	coord := newTestCoordinator(t)
	coord.OnNewTemplate(&coordinator.Template{
		TemplateID:               1,
		FutureTemplate:           true,
		Version:                  0x20000000,
		CoinbaseTxVersion:        2,
		CoinbasePrefix:           []byte{0x02, 0x65, 0x00},
		CoinbaseTxValueRemaining: 5_000_000_000,
	})
	coord.OnSetNewPrevHash(&coordinator.PrevHashActivation{
		TemplateID:      1,
		PrevHash:        [32]byte{0x01},
		HeaderTimestamp: 1_700_000_000,
		NBits:           0x207fffff,
	})

	d := NewDispatcher(coord)
	conn := fakeConnection(t, 1)
	d.Register(conn)

	ser := binary.NewSerializer()
	setup := ser.SerializeFrame(binary.MsgTypeSetupConnection, 0, ser.SerializeSetupConnection(&binary.SetupConnection{
		MinVersion: 2,
		MaxVersion: 2,
		Flags:      1,
	}))
	d.Dispatch(conn, setup)
	<-conn.SendChan // SetupConnectionSuccess

	openChannel := ser.SerializeFrame(binary.MsgTypeOpenStandardMiningChannel, 0, ser.SerializeOpenStandardMiningChannel(&binary.OpenStandardMiningChannel{
		RequestID:         1,
		UserIdentity:      "alice",
		NominalHashrate:   1.0,
		MaxTargetRequired: 0x207fffff,
	}))
	d.Dispatch(conn, openChannel)

	select {
	case reply := <-conn.SendChan:
		require.Equal(t, binary.MsgTypeOpenStandardMiningChannelSuccess, reply[2])
		dec := binary.NewDeserializer(reply[binary.HeaderSize:])
		success, err := dec.DeserializeOpenStandardMiningChannelSuccess()
		require.NoError(t, err)
		assert.Equal(t, uint32(0), success.GroupChannelID)
	default:
		t.Fatal("expected a queued OpenStandardMiningChannelSuccess frame")
	}
}

func TestDispatcher_Dispatch_MalformedHeaderIsIgnored(t *testing.T) {
	coord := newTestCoordinator(t)
	d := NewDispatcher(coord)
	conn := fakeConnection(t, 1)

	d.Dispatch(conn, []byte{0x01}) // too short for a header
	select {
	case <-conn.SendChan:
		t.Fatal("expected no frame queued for a malformed header")
	default:
	}
}
