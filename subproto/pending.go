package subproto

import (
	"fmt"

	"github.com/celestiaorg/go-rlpx/capability"
)

// Pending wraps a ConnectionHandler whose capability outcome is not yet
// known. It is the only form in which the registry hands handlers to the
// transport, and it enforces the one-shot contract: the wrapped handler is
// consumed by the first terminal call and unreachable afterwards.
//
// Resolving a Pending twice is a programming error in the transport and
// panics rather than being reported as a runtime error.
type Pending struct {
	inner ConnectionHandler
	proto capability.Protocol
}

// NewPending wraps the given handler. The announced protocol is captured
// eagerly so it stays queryable after the handler is consumed.
func NewPending(h ConnectionHandler) *Pending {
	return &Pending{inner: h, proto: h.Protocol()}
}

// Protocol returns the capability the wrapped handler announced.
func (p *Pending) Protocol() capability.Protocol {
	return p.proto
}

// Resolved reports whether a terminal transition already consumed the
// handler.
func (p *Pending) Resolved() bool {
	return p.inner == nil
}

// OnUnsupportedByPeer consumes the handler with the unsupported outcome and
// returns its keep-alive/disconnect decision.
func (p *Pending) OnUnsupportedByPeer(
	shared *capability.SharedCapabilities,
	dir Direction,
	peer PeerID,
) OnNotSupported {
	return p.take("OnUnsupportedByPeer").OnUnsupportedByPeer(shared, dir, peer)
}

// IntoConnection consumes the handler with the established outcome,
// converting it into the live connection. A nil result means the handler
// withdrew; the session proceeds without this protocol.
func (p *Pending) IntoConnection(dir Direction, peer PeerID, conn ProtocolConn) Connection {
	return p.take("IntoConnection").IntoConnection(dir, peer, conn)
}

func (p *Pending) take(op string) ConnectionHandler {
	if p.inner == nil {
		panic(fmt.Sprintf("subproto: %s on already resolved handler for %s", op, p.proto.Capability))
	}
	h := p.inner
	p.inner = nil
	return h
}
