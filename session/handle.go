package session

import (
	"context"
	"fmt"

	"github.com/celestiaorg/go-rlpx/capability"
	"github.com/celestiaorg/go-rlpx/subproto"
)

// Handle is a non-owning view of a session for sending app-level messages.
// It does not keep the session alive: once the session is torn down, sends
// fail with ErrSessionClosed.
type Handle struct {
	s *Session
}

// Handle returns a weak handle to the session. The handle reads the set of
// established connections without locking, which is safe only because the set
// is frozen once Resolve returns: do not use a Handle concurrently with
// Resolve.
func (s *Session) Handle() *Handle {
	return &Handle{s: s}
}

// PeerID returns the remote peer's identity.
func (h *Handle) PeerID() subproto.PeerID {
	return h.s.peer
}

// Direction returns who initiated the peer connection.
func (h *Handle) Direction() subproto.Direction {
	return h.s.dir
}

// SharedCapabilities returns the session's negotiated capability table.
func (h *Handle) SharedCapabilities() *capability.SharedCapabilities {
	return h.s.shared
}

// Send transmits a message on the given capability's sub-stream. The message
// ID is relative to the capability's own numbering.
func (h *Handle) Send(ctx context.Context, c capability.Capability, msg subproto.Msg) error {
	select {
	case <-h.s.closed:
		return ErrSessionClosed
	default:
	}

	for _, lc := range h.s.conns {
		if lc.stream.SharedCapability().Capability() == c {
			return lc.stream.Send(ctx, msg)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotEstablished, c)
}
