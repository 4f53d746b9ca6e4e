package subproto

import (
	"encoding/hex"
)

// PeerID is the 512-bit public key identifying a remote peer on the base
// transport.
type PeerID [64]byte

func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// ShortString returns an abbreviated form of the peer ID for logs.
func (p PeerID) ShortString() string {
	return hex.EncodeToString(p[:4])
}

// Direction tags a connection attempt as initiated by the remote or by us.
type Direction int

const (
	// DirInbound marks a connection attempt initiated by the remote peer.
	DirInbound Direction = iota
	// DirOutbound marks a connection attempt initiated locally.
	DirOutbound
)

func (d Direction) String() string {
	if d == DirOutbound {
		return "outbound"
	}
	return "inbound"
}

// Msg is one sub-protocol wire message: a message ID and its payload. Whether
// the ID is relative to the owning capability's numbering or absolute on the
// shared connection depends on which side of the Message-ID proxy the message
// is on.
type Msg struct {
	ID      uint64
	Payload []byte
}

// OnNotSupported is a connection handler's decision when the remote peer does
// not support its protocol.
type OnNotSupported int

const (
	// KeepAlive proceeds with the peer session and ignores the protocol.
	// It is the zero value and the default policy.
	KeepAlive OnNotSupported = iota
	// Disconnect tears down the whole peer session.
	Disconnect
)

func (o OnNotSupported) String() string {
	if o == Disconnect {
		return "disconnect"
	}
	return "keep-alive"
}

// DisconnectReason is the reason code carried on session teardown, following
// the base wire protocol's enumeration.
type DisconnectReason byte

const (
	DiscRequested           DisconnectReason = 0x00
	DiscNetworkError        DisconnectReason = 0x01
	DiscProtocolError       DisconnectReason = 0x02
	DiscUselessPeer         DisconnectReason = 0x03
	DiscTooManyPeers        DisconnectReason = 0x04
	DiscAlreadyConnected    DisconnectReason = 0x05
	DiscIncompatibleVersion DisconnectReason = 0x06
	DiscInvalidIdentity     DisconnectReason = 0x07
	DiscQuitting            DisconnectReason = 0x08
	DiscUnexpectedIdentity  DisconnectReason = 0x09
	DiscSelfConnect         DisconnectReason = 0x0a
	DiscReadTimeout         DisconnectReason = 0x0b
	DiscSubprotocolError    DisconnectReason = 0x10
)

var discReasonStrings = map[DisconnectReason]string{
	DiscRequested:           "disconnect requested",
	DiscNetworkError:        "network error",
	DiscProtocolError:       "breach of protocol",
	DiscUselessPeer:         "useless peer",
	DiscTooManyPeers:        "too many peers",
	DiscAlreadyConnected:    "already connected",
	DiscIncompatibleVersion: "incompatible protocol version",
	DiscInvalidIdentity:     "invalid node identity",
	DiscQuitting:            "client quitting",
	DiscUnexpectedIdentity:  "unexpected identity",
	DiscSelfConnect:         "connected to self",
	DiscReadTimeout:         "read timeout",
	DiscSubprotocolError:    "subprotocol error",
}

func (r DisconnectReason) String() string {
	if s, ok := discReasonStrings[r]; ok {
		return s
	}
	return "unknown disconnect reason"
}
