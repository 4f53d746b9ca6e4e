package subproto

import (
	"net"

	logging "github.com/ipfs/go-log/v2"

	"github.com/celestiaorg/go-rlpx/capability"
)

var log = logging.Logger("rlpx/subproto")

// SubProtocol is a registry-owned, erased sub-protocol. Any ProtocolHandler
// converts into one; converting a SubProtocol yields itself, so pushing an
// already erased handler never double-wraps.
type SubProtocol struct {
	ProtocolHandler
}

// AsSubProtocol erases a protocol handler for registry storage. Idempotent.
func AsSubProtocol(h ProtocolHandler) SubProtocol {
	if sp, ok := h.(SubProtocol); ok {
		return sp
	}
	return SubProtocol{ProtocolHandler: h}
}

// Registry is the ordered collection of sub-protocols offered on every
// connection attempt. It is populated once at configuration time, before the
// transport starts accepting connections, and read-only afterwards; the
// read-only queries are safe for concurrent use across simultaneous attempts.
type Registry struct {
	protocols []SubProtocol
}

// Push appends a sub-protocol to the registry. Not safe for concurrent
// mutation; intended for setup only.
func (r *Registry) Push(h ProtocolHandler) {
	r.protocols = append(r.protocols, AsSubProtocol(h))
}

// Len returns the number of registered sub-protocols.
func (r *Registry) Len() int {
	return len(r.protocols)
}

// OnIncoming consults every registered handler about an inbound connection
// attempt and returns the pending handlers of those that opted in, in
// registration order.
func (r *Registry) OnIncoming(addr *net.TCPAddr) []*Pending {
	pending := make([]*Pending, 0, len(r.protocols))
	for _, proto := range r.protocols {
		if h := proto.OnIncoming(addr); h != nil {
			pending = append(pending, NewPending(h))
		}
	}
	log.Debugw("queried sub-protocols for inbound attempt",
		"addr", addr, "registered", len(r.protocols), "offered", len(pending))
	return pending
}

// OnOutgoing consults every registered handler about an outbound connection
// attempt and returns the pending handlers of those that opted in, in
// registration order.
func (r *Registry) OnOutgoing(addr *net.TCPAddr, peer PeerID) []*Pending {
	pending := make([]*Pending, 0, len(r.protocols))
	for _, proto := range r.protocols {
		if h := proto.OnOutgoing(addr, peer); h != nil {
			pending = append(pending, NewPending(h))
		}
	}
	log.Debugw("queried sub-protocols for outbound attempt",
		"addr", addr, "peer", peer.ShortString(),
		"registered", len(r.protocols), "offered", len(pending))
	return pending
}

// Protocols returns the capabilities the pending handlers announce, in
// order. This is the capability set to include in the handshake hello.
func Protocols(pending []*Pending) []capability.Protocol {
	protos := make([]capability.Protocol, len(pending))
	for i, p := range pending {
		protos[i] = p.Protocol()
	}
	return protos
}
