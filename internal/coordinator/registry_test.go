package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRegistry_AddClient_CreatesGroupChannelByDefault(t *testing.T) {
	r := NewClientRegistry()
	c := r.AddClient(1, 0, nil, []byte{0x6a})
	group, ok := c.GroupChannel()
	require.True(t, ok)
	assert.Equal(t, uint32(1), group.channelID)
}

func TestClientRegistry_AddClient_FlagBit0DisablesGroupChannel(t *testing.T) {
	r := NewClientRegistry()
	c := r.AddClient(2, clientFlagGroupChannelsDisabled, nil, []byte{0x6a})
	_, ok := c.GroupChannel()
	assert.False(t, ok)

	// Channel id 1 is free to use directly when there is no group channel.
	assert.Equal(t, uint32(1), c.allocateChannelID())
}

func TestClientRegistry_RemoveClient_IsIdempotent(t *testing.T) {
	r := NewClientRegistry()
	r.AddClient(1, 0, nil, []byte{0x6a})

	_, removed := r.RemoveClient(1)
	assert.True(t, removed)

	_, removedAgain := r.RemoveClient(1)
	assert.False(t, removedAgain)
}

func TestClientRegistry_RemoveClient_ReturnsTotalHashrate(t *testing.T) {
	r := NewClientRegistry()
	c := r.AddClient(1, 0, nil, []byte{0x6a})

	std := NewStandardChannel(2, "alice", []byte("p1"), []byte{0x6a}, maxTarget, 40.0, 10, 1.0, 1)
	ext := NewExtendedChannel(3, "alice", []byte("p2"), []byte{0x6a}, maxTarget, 60.0, 10, 1.0, 8)
	c.RegisterStandardChannel(std)
	c.RegisterExtendedChannel(ext)

	hashrate, removed := r.RemoveClient(1)
	assert.True(t, removed)
	assert.Equal(t, float32(100.0), hashrate)
}

func TestClient_AllocateChannelID_SkipsGroupChannelID(t *testing.T) {
	r := NewClientRegistry()
	c := r.AddClient(1, 0, nil, []byte{0x6a})
	// Group channel already claimed id 1; the allocator starts at 2.
	assert.Equal(t, uint32(2), c.allocateChannelID())
	assert.Equal(t, uint32(3), c.allocateChannelID())
}

func TestClient_RegisterStandardChannel_AddsGroupMembership(t *testing.T) {
	r := NewClientRegistry()
	c := r.AddClient(1, 0, nil, []byte{0x6a})
	std := NewStandardChannel(2, "alice", []byte("p1"), []byte{0x6a}, maxTarget, 40.0, 10, 1.0, 0)

	groupChannelID := c.RegisterStandardChannel(std)
	group, _ := c.GroupChannel()
	assert.Equal(t, group.channelID, groupChannelID)

	group.mu.RLock()
	_, isMember := group.members[std.channelID]
	group.mu.RUnlock()
	assert.True(t, isMember)
}

func TestClientRegistry_Clients_SnapshotsWithoutHoldingLock(t *testing.T) {
	r := NewClientRegistry()
	r.AddClient(1, 0, nil, []byte{0x6a})
	r.AddClient(2, 0, nil, []byte{0x6a})

	snapshot := r.Clients()
	assert.Len(t, snapshot, 2)
	assert.Equal(t, 2, r.Count())
}
