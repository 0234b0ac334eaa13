package transport

import (
	"fmt"
	"log"
	"sync"

	"github.com/pleblottery/pleblottery/internal/coordinator"
	"github.com/pleblottery/pleblottery/internal/sv2/binary"
)

// Dispatcher decodes downstream SV2 frames, routes them to the mining
// coordinator, and turns the resulting Outcome back into frames written to
// the right connections. It is the only piece of this package that knows
// the coordinator's method set; Server only knows bytes and connections.
type Dispatcher struct {
	coord *coordinator.MiningCoordinator

	mu          sync.RWMutex
	connections map[uint64]*Connection
}

func NewDispatcher(coord *coordinator.MiningCoordinator) *Dispatcher {
	return &Dispatcher{
		coord:       coord,
		connections: make(map[uint64]*Connection),
	}
}

// OnDisconnect tears the client down (spec §4.2 remove_client).
func (d *Dispatcher) OnDisconnect(clientID uint64) {
	d.coord.RemoveClient(clientID)
}

// Dispatch decodes one plaintext frame and routes it to the coordinator,
// writing every resulting frame back out over conn (or a sibling
// connection, for SendMessagesToClients batches).
func (d *Dispatcher) Dispatch(conn *Connection, frame []byte) {
	header, err := binary.ParseHeader(frame)
	if err != nil {
		log.Printf("client %d: malformed frame header: %v", conn.ClientID, err)
		return
	}
	payload := frame[binary.HeaderSize:]
	dec := binary.NewDeserializer(payload)

	outcome, err := d.route(conn.ClientID, header.MsgType, dec)
	if err != nil {
		log.Printf("client %d: %v", conn.ClientID, err)
		return
	}
	d.deliver(conn, outcome)
}

func (d *Dispatcher) route(clientID uint64, msgType uint8, dec *binary.Deserializer) (coordinator.Outcome, error) {
	switch msgType {
	case binary.MsgTypeSetupConnection:
		msg, err := dec.DeserializeSetupConnection()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return d.coord.SetupConnection(clientID, msg), nil

	case binary.MsgTypeOpenStandardMiningChannel:
		msg, err := dec.DeserializeOpenStandardMiningChannel()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return d.coord.OpenStandardMiningChannel(clientID, msg), nil

	case binary.MsgTypeOpenExtendedMiningChannel:
		msg, err := dec.DeserializeOpenExtendedMiningChannel()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return d.coord.OpenExtendedMiningChannel(clientID, msg), nil

	case binary.MsgTypeUpdateChannel:
		msg, err := dec.DeserializeUpdateChannel()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return d.coord.UpdateChannel(clientID, msg), nil

	case binary.MsgTypeCloseChannel:
		msg, err := dec.DeserializeCloseChannel()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return d.coord.CloseChannel(clientID, msg), nil

	case binary.MsgTypeSubmitSharesStandard:
		msg, err := dec.DeserializeSubmitSharesStandard()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return d.coord.SubmitSharesStandard(clientID, msg), nil

	case binary.MsgTypeSubmitSharesExtended:
		msg, err := dec.DeserializeSubmitSharesExtended()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return d.coord.SubmitSharesExtended(clientID, msg), nil

	case binary.MsgTypeSetCustomMiningJob:
		msg, err := dec.DeserializeSetCustomMiningJob()
		if err != nil {
			return coordinator.Outcome{}, err
		}
		return d.coord.SetCustomMiningJob(clientID, msg), nil

	default:
		return coordinator.Outcome{}, fmt.Errorf("unsupported downstream message type 0x%02x", msgType)
	}
}

// deliver writes an Outcome's frames to the originating connection (for
// single-client replies) or to whichever connection owns each client id
// (for a SendMessagesToClients batch), and drops a client whose Outcome is
// fatal.
func (d *Dispatcher) deliver(origin *Connection, outcome coordinator.Outcome) {
	outcome.Walk(
		func(msg coordinator.OutboundMessage) {
			d.send(msg.ClientID, msg.Frame)
		},
		func(batch coordinator.ClientBatch) {
			for _, frame := range batch.Frames {
				d.send(batch.ClientID, frame)
			}
		},
		nil, // sibling events are consumed by the Template Distribution bridge, not this dispatcher
		func(fatal coordinator.FatalEvent) {
			log.Printf("client %d: fatal: %v", origin.ClientID, fatal.Err)
			origin.Close()
		},
	)
}

// DeliverToClients routes a SendMessagesToClients batch to whichever
// registered connection owns each client id, exactly as deliver does for a
// downstream-originated Outcome. It is the bridge the Template
// Distribution client uses to fan NewMiningJob/NewExtendedMiningJob/
// SetNewPrevHash batches out to connected miners, since the TD connection
// has no originating downstream Connection of its own. A fatal leaf (e.g.
// an unexpected upstream message) is surfaced as an error so the caller
// can tear down and redial the Template Provider connection.
func (d *Dispatcher) DeliverToClients(outcome coordinator.Outcome) error {
	var fatalErr error
	outcome.Walk(
		nil,
		func(batch coordinator.ClientBatch) {
			for _, frame := range batch.Frames {
				d.send(batch.ClientID, frame)
			}
		},
		nil,
		func(fatal coordinator.FatalEvent) {
			fatalErr = fatal.Err
		},
	)
	return fatalErr
}

func (d *Dispatcher) send(clientID uint64, frame []byte) {
	d.mu.RLock()
	conn, ok := d.connections[clientID]
	d.mu.RUnlock()
	if ok {
		conn.Send(frame)
	}
}

// Register/Unregister let Server keep the dispatcher's client→connection
// index in sync, so batches addressed to a different client (e.g. a
// group-channel broadcast) can still be routed.
func (d *Dispatcher) Register(conn *Connection) {
	d.mu.Lock()
	d.connections[conn.ClientID] = conn
	d.mu.Unlock()
}

func (d *Dispatcher) Unregister(clientID uint64) {
	d.mu.Lock()
	delete(d.connections, clientID)
	d.mu.Unlock()
}
