// Package subproto defines the contract application-level sub-protocols must
// satisfy to run over an established, multiplexed peer connection, and the
// registry the transport queries once per connection attempt.
//
// A sub-protocol plugs in by implementing ProtocolHandler. On every
// connection attempt the transport asks each registered handler whether to
// offer the protocol; handlers that opt in return a ConnectionHandler whose
// capability is announced during the handshake. After negotiation each
// retained handler is resolved exactly once: either the peer supports the
// capability and the handler converts into a live Connection bound to the
// capability's message-ID range, or it does not and the handler decides
// between keeping the session alive and disconnecting.
//
// Negotiation decisions are synchronous and must not perform I/O; only the
// live Connection suspends.
package subproto
