package coordinator

// OutboundMessage is one fully-serialized SV2 frame destined for a single
// downstream client.
type OutboundMessage struct {
	ClientID uint64
	Frame    []byte
}

// ClientBatch is the ordered set of frames to deliver to one client within
// a single broadcast (spec §5: "messages sent within one
// SendMessagesToClient batch are delivered to that client in the given
// order").
type ClientBatch struct {
	ClientID uint64
	Frames   [][]byte
}

// SiblingEvent is a cross-component event exchanged between the mining
// coordinator and the Template Distribution handler (spec §9's event bus),
// e.g. a discovered-block solution headed upstream.
type SiblingEvent struct {
	Kind    SiblingEventKind
	Payload interface{}
}

// SiblingEventKind tags the payload carried by a SiblingEvent.
type SiblingEventKind int

const (
	// EventSubmitSolution carries a *SubmitSolutionEvent to the TD client.
	EventSubmitSolution SiblingEventKind = iota
)

// SubmitSolutionEvent is the payload of an EventSubmitSolution SiblingEvent
// (spec §4.4 Submit Shares, BlockFound outcome).
type SubmitSolutionEvent struct {
	TemplateID      uint64
	Version         uint32
	HeaderTimestamp uint32
	HeaderNonce     uint32
	CoinbaseTx      []byte
}

// FatalEvent marks a handler fault or invariant violation (spec §7):
// unknown client id, missing future template on activation, extranonce
// exhaustion, or an internal invariant violation. The caller should drop
// the offending client (or, for invariant violations, the whole service).
type FatalEvent struct {
	Err error
}

func (e *FatalEvent) Error() string { return e.Err.Error() }

// OutcomeKind tags the variant carried by an Outcome (spec §9: "this is an
// internal tagged-variant Outcome ... that the runtime interprets").
type OutcomeKind int

const (
	OutcomeOk OutcomeKind = iota
	OutcomeSendMessagesToClient
	OutcomeSendMessagesToClients
	OutcomeSendEventToSiblingService
	OutcomeTriggerNewEvent
	OutcomeMultipleEvents
)

// Outcome is what a coordinator or TD-handler operation produces instead
// of calling its sibling component directly, keeping each component
// synchronous-at-heart and ordering explicit (spec §9).
type Outcome struct {
	Kind OutcomeKind

	// OutcomeSendMessagesToClient
	Client *OutboundMessage

	// OutcomeSendMessagesToClients
	Clients []ClientBatch

	// OutcomeSendEventToSiblingService / OutcomeTriggerNewEvent
	Event *SiblingEvent
	Fatal *FatalEvent

	// OutcomeMultipleEvents
	Events []Outcome
}

// Ok is the no-op outcome (e.g. Close Channel's silent acknowledgement).
func Ok() Outcome { return Outcome{Kind: OutcomeOk} }

// SendToClient wraps a single-client single-frame reply.
func SendToClient(clientID uint64, frame []byte) Outcome {
	return Outcome{Kind: OutcomeSendMessagesToClient, Client: &OutboundMessage{ClientID: clientID, Frame: frame}}
}

// SendToClients wraps a per-client batch broadcast (spec §4.4 On New
// Template / On Set New Prev Hash).
func SendToClients(batches []ClientBatch) Outcome {
	return Outcome{Kind: OutcomeSendMessagesToClients, Clients: batches}
}

// SendToSibling wraps a cross-component event, e.g. SubmitSolution headed
// to the TD client.
func SendToSibling(event SiblingEvent) Outcome {
	return Outcome{Kind: OutcomeSendEventToSiblingService, Event: &event}
}

// Fatal wraps a handler fault (spec §7).
func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeTriggerNewEvent, Fatal: &FatalEvent{Err: err}}
}

// Multi combines several outcomes that must be emitted together, e.g.
// BlockFound's simultaneous SubmitSolution-upstream and
// SubmitSharesSuccess-downstream (spec §4.4 Submit Shares, BlockFound row).
func Multi(outcomes ...Outcome) Outcome {
	return Outcome{Kind: OutcomeMultipleEvents, Events: outcomes}
}

// Walk flattens an outcome tree (Multi outcomes nest arbitrarily) and
// invokes the matching callback for every leaf it contains, in order.
// Any callback left nil is skipped for that leaf kind.
func (o Outcome) Walk(onClient func(OutboundMessage), onClients func(ClientBatch), onEvent func(SiblingEvent), onFatal func(FatalEvent)) {
	switch o.Kind {
	case OutcomeOk:
	case OutcomeSendMessagesToClient:
		if onClient != nil && o.Client != nil {
			onClient(*o.Client)
		}
	case OutcomeSendMessagesToClients:
		if onClients != nil {
			for _, b := range o.Clients {
				onClients(b)
			}
		}
	case OutcomeSendEventToSiblingService:
		if onEvent != nil && o.Event != nil {
			onEvent(*o.Event)
		}
	case OutcomeTriggerNewEvent:
		if onFatal != nil && o.Fatal != nil {
			onFatal(*o.Fatal)
		}
	case OutcomeMultipleEvents:
		for _, sub := range o.Events {
			sub.Walk(onClient, onClients, onEvent, onFatal)
		}
	}
}
