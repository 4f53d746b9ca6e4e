package multiplex

import (
	"context"

	"github.com/celestiaorg/go-rlpx/capability"
	"github.com/celestiaorg/go-rlpx/subproto"
)

// ProtocolStream is the capability-scoped sub-stream lent to exactly one
// live sub-protocol connection. It is the sole point where message IDs are
// translated between the capability's own zero-based numbering and the
// shared absolute ID space, keeping sub-protocols transport-numbering
// agnostic.
type ProtocolStream struct {
	shared  *capability.SharedCapability
	mux     *Mux
	inbound chan subproto.Msg
}

var _ subproto.ProtocolConn = (*ProtocolStream)(nil)

// SharedCapability returns the negotiated table entry the stream is bound to.
func (s *ProtocolStream) SharedCapability() *capability.SharedCapability {
	return s.shared
}

// RelativeMaskMsgID rewrites the message's capability-relative ID into the
// shared absolute ID space.
func (s *ProtocolStream) RelativeMaskMsgID(msg subproto.Msg) subproto.Msg {
	msg.ID = s.shared.MaskID(msg.ID)
	return msg
}

// Send masks the message's ID and transmits it on the shared connection.
func (s *ProtocolStream) Send(ctx context.Context, msg subproto.Msg) error {
	return s.mux.write(ctx, s.RelativeMaskMsgID(msg))
}

// Receive yields the next inbound message for this capability, its ID
// already unmasked. It returns ErrMuxClosed once the underlying connection
// ended and the buffer drained.
func (s *ProtocolStream) Receive(ctx context.Context) (subproto.Msg, error) {
	select {
	case msg := <-s.inbound:
		return msg, nil
	default:
	}
	select {
	case msg := <-s.inbound:
		return msg, nil
	case <-s.mux.done:
		// drain what was routed before close
		select {
		case msg := <-s.inbound:
			return msg, nil
		default:
			return subproto.Msg{}, ErrMuxClosed
		}
	case <-ctx.Done():
		return subproto.Msg{}, ctx.Err()
	}
}

// Disconnect tears down the whole peer connection with the given reason.
func (s *ProtocolStream) Disconnect(reason subproto.DisconnectReason) error {
	return s.mux.Disconnect(reason)
}

// Release returns the stream to the demultiplexer without touching the peer
// connection. Frames for the capability take the counted-drop path again
// until the stream is re-opened. The stream must not be used after Release;
// a lent-out stream with no consumer would otherwise stall Route once its
// buffer fills.
func (s *ProtocolStream) Release() {
	s.mux.mu.Lock()
	if s.mux.streams[s.shared.Capability()] == s {
		delete(s.mux.streams, s.shared.Capability())
	}
	s.mux.mu.Unlock()
}
