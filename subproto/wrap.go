package subproto

import (
	"context"
	"fmt"
	"net"

	"github.com/celestiaorg/go-rlpx/capability"
)

// Codec translates between a sub-protocol's concrete message type and the
// raw wire message. The message ID carried by the raw form is relative to
// the capability's own numbering.
type Codec[M any] interface {
	Encode(M) (Msg, error)
	Decode(Msg) (M, error)
}

// TypedConnection is a Connection over a sub-protocol's concrete message
// type.
type TypedConnection[M any] interface {
	Next(ctx context.Context) (M, error)
	Handle(ctx context.Context, msg M) error
	Close() error
}

// TypedConnectionHandler is a ConnectionHandler whose established path
// produces a typed connection.
type TypedConnectionHandler[M any] interface {
	Protocol() capability.Protocol
	OnUnsupportedByPeer(shared *capability.SharedCapabilities, dir Direction, peer PeerID) OnNotSupported
	IntoConnection(dir Direction, peer PeerID, conn ProtocolConn) TypedConnection[M]
}

// TypedProtocolHandler is a ProtocolHandler whose connection handlers are
// typed.
type TypedProtocolHandler[M any] interface {
	OnIncoming(addr *net.TCPAddr) TypedConnectionHandler[M]
	OnOutgoing(addr *net.TCPAddr, peer PeerID) TypedConnectionHandler[M]
}

// WrapProtocolHandler erases a typed protocol handler through the given
// codec. Direction, peer identity, capability outcome and message-ID masking
// pass through unchanged; only the message type becomes raw bytes on the
// erased path. Protocol authors never write erasure code by hand.
func WrapProtocolHandler[M any](h TypedProtocolHandler[M], codec Codec[M]) ProtocolHandler {
	return &wrappedProtocolHandler[M]{inner: h, codec: codec}
}

// WrapConnectionHandler erases a typed connection handler through the given
// codec.
func WrapConnectionHandler[M any](h TypedConnectionHandler[M], codec Codec[M]) ConnectionHandler {
	return &wrappedConnectionHandler[M]{inner: h, codec: codec}
}

type wrappedProtocolHandler[M any] struct {
	inner TypedProtocolHandler[M]
	codec Codec[M]
}

func (w *wrappedProtocolHandler[M]) OnIncoming(addr *net.TCPAddr) ConnectionHandler {
	if h := w.inner.OnIncoming(addr); h != nil {
		return WrapConnectionHandler(h, w.codec)
	}
	return nil
}

func (w *wrappedProtocolHandler[M]) OnOutgoing(addr *net.TCPAddr, peer PeerID) ConnectionHandler {
	if h := w.inner.OnOutgoing(addr, peer); h != nil {
		return WrapConnectionHandler(h, w.codec)
	}
	return nil
}

type wrappedConnectionHandler[M any] struct {
	inner TypedConnectionHandler[M]
	codec Codec[M]
}

func (w *wrappedConnectionHandler[M]) Protocol() capability.Protocol {
	return w.inner.Protocol()
}

func (w *wrappedConnectionHandler[M]) OnUnsupportedByPeer(
	shared *capability.SharedCapabilities,
	dir Direction,
	peer PeerID,
) OnNotSupported {
	return w.inner.OnUnsupportedByPeer(shared, dir, peer)
}

func (w *wrappedConnectionHandler[M]) IntoConnection(dir Direction, peer PeerID, conn ProtocolConn) Connection {
	typed := w.inner.IntoConnection(dir, peer, conn)
	if typed == nil {
		return nil
	}
	return &wrappedConnection[M]{inner: typed, codec: w.codec}
}

type wrappedConnection[M any] struct {
	inner TypedConnection[M]
	codec Codec[M]
}

func (w *wrappedConnection[M]) Next(ctx context.Context) (Msg, error) {
	typed, err := w.inner.Next(ctx)
	if err != nil {
		return Msg{}, err
	}
	msg, err := w.codec.Encode(typed)
	if err != nil {
		return Msg{}, fmt.Errorf("subproto: encoding outbound message: %w", err)
	}
	return msg, nil
}

func (w *wrappedConnection[M]) Handle(ctx context.Context, msg Msg) error {
	typed, err := w.codec.Decode(msg)
	if err != nil {
		return fmt.Errorf("subproto: decoding inbound message: %w", err)
	}
	return w.inner.Handle(ctx, typed)
}

func (w *wrappedConnection[M]) Close() error {
	return w.inner.Close()
}
