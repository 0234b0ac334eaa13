package coordinator

import "sync"

// clientFlagGroupChannelsDisabled is bit 0 of a client's SetupConnection
// flags: when set, no Group Channel is created for that client (spec §4.2
// add_client, §3 invariants).
const clientFlagGroupChannelsDisabled = 1 << 0

// Client holds one downstream connection's channel set and its own
// channel-id allocator (spec §4.2).
type Client struct {
	mu sync.RWMutex

	ClientID uint64
	Flags    uint32

	nextChannelID uint32

	group    *GroupChannel
	standard map[uint32]*StandardChannel
	extended map[uint32]*ExtendedChannel
}

func newClient(clientID uint64, flags uint32) *Client {
	c := &Client{
		ClientID:      clientID,
		Flags:         flags,
		nextChannelID: 1,
		standard:      make(map[uint32]*StandardChannel),
		extended:      make(map[uint32]*ExtendedChannel),
	}
	return c
}

// permitsGroupChannels reports whether bit 0 of the client's flags is
// clear (spec §3: "Group Channel. Present iff bit 0 of client flags is
// clear.").
func (c *Client) permitsGroupChannels() bool {
	return c.Flags&clientFlagGroupChannelsDisabled == 0
}

// allocateChannelID draws the next channel id for this client (spec §4.4
// Open [Standard|Extended] Mining Channel step 1). Channel id 1 is
// reserved for the client's Group Channel when one exists.
func (c *Client) allocateChannelID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextChannelID == 0 {
		c.nextChannelID = 1
	}
	if c.group != nil && c.nextChannelID == c.group.channelID {
		c.nextChannelID++
	}
	id := c.nextChannelID
	c.nextChannelID++
	return id
}

// GroupChannel returns the client's group channel, if one exists.
func (c *Client) GroupChannel() (*GroupChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.group, c.group != nil
}

// RegisterStandardChannel stores ch under the client and, if the client has
// a Group Channel, adds ch as a member (spec §4.4 Open Standard Mining
// Channel step 7). Returns the group_channel_id to report on the wire, or 0.
func (c *Client) RegisterStandardChannel(ch *StandardChannel) (groupChannelID uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.standard[ch.channelID] = ch
	if c.group != nil {
		c.group.AddMember(ch.channelID)
		return c.group.channelID
	}
	return 0
}

// RegisterExtendedChannel stores ch under the client.
func (c *Client) RegisterExtendedChannel(ch *ExtendedChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extended[ch.channelID] = ch
}

// StandardChannel looks up a standard channel owned by this client.
func (c *Client) StandardChannel(channelID uint32) (*StandardChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.standard[channelID]
	return ch, ok
}

// ExtendedChannel looks up an extended channel owned by this client.
func (c *Client) ExtendedChannel(channelID uint32) (*ExtendedChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.extended[channelID]
	return ch, ok
}

// Channels returns snapshots of the client's standard and extended channel
// maps, for iteration without holding the client lock across a template or
// prev-hash fan-out (spec §5's snapshot-then-iterate concurrency pattern).
func (c *Client) Channels() (standard []*StandardChannel, extended []*ExtendedChannel, group *GroupChannel) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ch := range c.standard {
		standard = append(standard, ch)
	}
	for _, ch := range c.extended {
		extended = append(extended, ch)
	}
	return standard, extended, c.group
}

// TotalNominalHashrate sums the nominal hashrate of every channel owned by
// the client (spec §4.2 remove_client's hashrate-to-subtract accounting;
// also exposed to the web/metrics read-only views).
func (c *Client) TotalNominalHashrate() float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var sum float32
	for _, ch := range c.standard {
		sum += ch.NominalHashrate()
	}
	for _, ch := range c.extended {
		sum += ch.NominalHashrate()
	}
	return sum
}

// ClientRegistry holds every connected client with per-client locking
// granularity (spec §4.2).
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[uint64]*Client
}

// NewClientRegistry constructs an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[uint64]*Client)}
}

// AddClient creates a client entry, and its Group Channel if permitted by
// flags (spec §4.2 add_client). Returns the new client.
func (r *ClientRegistry) AddClient(clientID uint64, flags uint32, extranoncePrefix, destinationScript []byte) *Client {
	c := newClient(clientID, flags)
	if c.permitsGroupChannels() {
		c.group = NewGroupChannel(1, extranoncePrefix, destinationScript)
		c.nextChannelID = 2
	}

	r.mu.Lock()
	r.clients[clientID] = c
	r.mu.Unlock()
	return c
}

// Client looks up a client by id.
func (r *ClientRegistry) Client(clientID uint64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	return c, ok
}

// Clients returns a snapshot of every currently registered client, for
// fan-out iteration without holding the registry lock (spec §5).
func (r *ClientRegistry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// RemoveClient removes a client, returning the hashrate to subtract from
// total_hashrate. Idempotent: removing an unknown id returns (0, false)
// (spec §4.2 remove_client).
func (r *ClientRegistry) RemoveClient(clientID uint64) (hashrate float32, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return 0, false
	}
	delete(r.clients, clientID)
	return c.TotalNominalHashrate(), true
}

// Count returns the number of currently registered clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
