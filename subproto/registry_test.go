package subproto

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celestiaorg/go-rlpx/capability"
)

var testAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30303}

// testHandler opts in according to its direction flags and counts queries.
type testHandler struct {
	proto     capability.Protocol
	acceptIn  bool
	acceptOut bool
	inCalls   int
	outCalls  int
}

func (h *testHandler) OnIncoming(*net.TCPAddr) ConnectionHandler {
	h.inCalls++
	if !h.acceptIn {
		return nil
	}
	return &testConnHandler{proto: h.proto}
}

func (h *testHandler) OnOutgoing(*net.TCPAddr, PeerID) ConnectionHandler {
	h.outCalls++
	if !h.acceptOut {
		return nil
	}
	return &testConnHandler{proto: h.proto}
}

// testConnHandler records which terminal transition resolved it.
type testConnHandler struct {
	proto       capability.Protocol
	unsupported OnNotSupported
	established *testConnection
}

func (h *testConnHandler) Protocol() capability.Protocol { return h.proto }

func (h *testConnHandler) OnUnsupportedByPeer(
	*capability.SharedCapabilities, Direction, PeerID,
) OnNotSupported {
	return h.unsupported
}

func (h *testConnHandler) IntoConnection(Direction, PeerID, ProtocolConn) Connection {
	h.established = &testConnection{inbound: make(chan Msg, 16)}
	return h.established
}

type testConnection struct {
	inbound chan Msg
	closed  bool
}

func (c *testConnection) Next(ctx context.Context) (Msg, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-ctx.Done():
		return Msg{}, ctx.Err()
	}
}

func (c *testConnection) Handle(_ context.Context, msg Msg) error {
	c.inbound <- msg
	return nil
}

func (c *testConnection) Close() error {
	c.closed = true
	return nil
}

func TestRegistry_QueriesEveryHandlerOnce(t *testing.T) {
	h1 := &testHandler{proto: capability.NewProtocol("aaa", 1, 4), acceptIn: true, acceptOut: true}
	h2 := &testHandler{proto: capability.NewProtocol("bbb", 1, 4), acceptIn: false, acceptOut: true}

	var reg Registry
	reg.Push(h1)
	reg.Push(h2)
	require.Equal(t, 2, reg.Len())

	pending := reg.OnIncoming(testAddr)
	require.Len(t, pending, 1)
	assert.Equal(t, capability.New("aaa", 1), pending[0].Protocol().Capability)
	assert.Equal(t, 1, h1.inCalls)
	assert.Equal(t, 1, h2.inCalls)

	pending = reg.OnOutgoing(testAddr, PeerID{1})
	require.Len(t, pending, 2)
	assert.Equal(t, capability.New("aaa", 1), pending[0].Protocol().Capability)
	assert.Equal(t, capability.New("bbb", 1), pending[1].Protocol().Capability)
	assert.Equal(t, 1, h1.outCalls)
	assert.Equal(t, 1, h2.outCalls)
}

func TestRegistry_OutputNeverExceedsRegistered(t *testing.T) {
	var reg Registry
	for i := 0; i < 5; i++ {
		reg.Push(&testHandler{proto: capability.NewProtocol("cap", uint(i), 1), acceptIn: i%2 == 0})
	}

	pending := reg.OnIncoming(testAddr)
	assert.LessOrEqual(t, len(pending), reg.Len())
	assert.Len(t, pending, 3)
}

func TestRegistry_PushErasedIsIdempotent(t *testing.T) {
	h := &testHandler{proto: capability.NewProtocol("aaa", 1, 4), acceptIn: true}
	erased := AsSubProtocol(h)

	again := AsSubProtocol(erased)
	assert.Equal(t, erased, again, "erasing twice must not double-wrap")

	var reg Registry
	reg.Push(erased)
	reg.Push(again)

	pending := reg.OnIncoming(testAddr)
	require.Len(t, pending, 2)
	// both entries reach the same underlying handler
	assert.Equal(t, 2, h.inCalls)
}

func TestProtocols_AnnouncedSetMatchesOptIns(t *testing.T) {
	var reg Registry
	reg.Push(&testHandler{proto: capability.NewProtocol("eth", 68, 13), acceptOut: true})
	reg.Push(&testHandler{proto: capability.NewProtocol("snap", 1, 8), acceptOut: true})

	pending := reg.OnOutgoing(testAddr, PeerID{})
	protos := Protocols(pending)
	require.Len(t, protos, 2)
	assert.Equal(t, capability.New("eth", 68), protos[0].Capability)
	assert.Equal(t, capability.New("snap", 1), protos[1].Capability)
}
