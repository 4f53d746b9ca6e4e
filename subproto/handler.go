package subproto

import (
	"context"
	"net"

	"github.com/celestiaorg/go-rlpx/capability"
)

// ProtocolHandler is the top-level decision point of a pluggable
// sub-protocol. It is consulted once per connection attempt, before any
// capability exchange, and decides whether the protocol is offered at all.
//
// Decisions must be prompt and local: no I/O, no blocking. They run on the
// path of establishing the whole peer session.
type ProtocolHandler interface {
	// OnIncoming is invoked for every inbound connection attempt. Returning
	// nil means the protocol is not announced to this remote.
	OnIncoming(addr *net.TCPAddr) ConnectionHandler

	// OnOutgoing is invoked for every outbound connection attempt. The
	// remote's identity is known because outbound attempts target a known
	// peer. Returning nil means the protocol is not announced.
	OnOutgoing(addr *net.TCPAddr, peer PeerID) ConnectionHandler
}

// ConnectionHandler negotiates one sub-protocol on one connection attempt.
// It is created fresh per attempt and owns any per-attempt state.
//
// Exactly one of OnUnsupportedByPeer or IntoConnection is invoked, exactly
// once. The transport never calls a ConnectionHandler directly; it goes
// through the Pending wrapper, which enforces single use.
type ConnectionHandler interface {
	// Protocol returns the capability to announce during the handshake. It
	// determines the outcome the handler is later notified about.
	Protocol() capability.Protocol

	// OnUnsupportedByPeer is invoked when the negotiated capability table
	// does not include the handler's protocol. The returned decision either
	// keeps the peer session alive without this protocol or tears it down.
	OnUnsupportedByPeer(shared *capability.SharedCapabilities, dir Direction, peer PeerID) OnNotSupported

	// IntoConnection is invoked when the peer supports the protocol,
	// converting the handler into the live connection bound to the
	// capability's sub-stream. Returning nil withdraws the protocol for this
	// session; the session proceeds as if the handler chose KeepAlive.
	IntoConnection(dir Direction, peer PeerID, conn ProtocolConn) Connection
}

// Connection is a live bidirectional message stream for one accepted
// capability on one peer session. Message IDs are relative to the
// capability's own zero-based numbering on both sides.
//
// The session event loop drives both directions. Next returning io.EOF, or
// either direction returning an error, ends the whole peer session, not just
// this capability.
type Connection interface {
	// Next yields the next message destined for the remote, blocking until
	// one is available. io.EOF signals that the protocol is done and the
	// peer session should disconnect.
	Next(ctx context.Context) (Msg, error)

	// Handle delivers an inbound message from the remote.
	Handle(ctx context.Context, msg Msg) error

	// Close releases the connection's resources. It is called exactly once
	// when the session ends, gracefully or not.
	Close() error
}

// ProtocolConn is the capability-scoped view of the multiplexed transport
// handed to a ConnectionHandler on the established path. It translates
// between the capability's own message numbering and the shared absolute ID
// space; sub-protocols never see absolute IDs.
type ProtocolConn interface {
	// SharedCapability returns the negotiated table entry this sub-stream is
	// bound to.
	SharedCapability() *capability.SharedCapability

	// RelativeMaskMsgID rewrites the message's capability-relative ID into
	// the shared absolute ID space. Pure arithmetic; out-of-range IDs are
	// the sub-protocol's bug and are not guarded here.
	RelativeMaskMsgID(msg Msg) Msg

	// Send transmits a message whose ID is relative to the capability's own
	// numbering. Masking is applied by the proxy.
	Send(ctx context.Context, msg Msg) error

	// Receive yields the next inbound message for this capability, with its
	// ID already unmasked to the capability's own numbering.
	Receive(ctx context.Context) (Msg, error)

	// Disconnect tears down the underlying peer connection, sending the
	// reason as the final payload.
	Disconnect(reason DisconnectReason) error
}
