// Package session drives the live sub-protocol connections of one peer over
// the demultiplexed transport: one event loop per peer session, not one per
// sub-protocol.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/celestiaorg/go-rlpx/capability"
	"github.com/celestiaorg/go-rlpx/multiplex"
	"github.com/celestiaorg/go-rlpx/subproto"
)

var (
	// ErrSessionClosed is returned on operations against a torn-down
	// session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrNotEstablished is returned by Handle.Send for capabilities without
	// a live connection on this session.
	ErrNotEstablished = errors.New("session: capability not established")

	// ErrDisconnectRequested is returned by Resolve when a handler's
	// unsupported-capability decision requires tearing the session down.
	ErrDisconnectRequested = errors.New("session: sub-protocol requested disconnect")

	// errIdleTimeout ends the session after IdleTimeout without inbound
	// traffic.
	errIdleTimeout = errors.New("session: idle timeout")

	// errProtocolDone marks a live connection's graceful end. Sub-protocols
	// cannot be torn down independently of the base connection, so it ends
	// the whole session.
	errProtocolDone = errors.New("session: sub-protocol finished")
)

// liveConn pairs an established sub-protocol connection with the
// capability sub-stream it exclusively owns.
type liveConn struct {
	conn   subproto.Connection
	stream *multiplex.ProtocolStream
}

// Session owns the sub-protocol side of one established peer connection. It
// resolves pending connection handlers against the negotiated capability
// table and then pumps every live connection until one of them, the remote,
// or the caller ends the session.
type Session struct {
	params *Parameters
	peer   subproto.PeerID
	dir    subproto.Direction
	mux    *multiplex.Mux
	shared *capability.SharedCapabilities
	clock  clock.Clock

	conns []liveConn

	lastActive atomic.Int64 // unix nanos

	closeOnce sync.Once
	closed    chan struct{}

	metrics *Metrics
}

// New creates a session over the given raw connection for a peer whose
// capability table has been negotiated.
func New(
	params *Parameters,
	conn multiplex.RawConn,
	shared *capability.SharedCapabilities,
	dir subproto.Direction,
	peer subproto.PeerID,
) (*Session, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("session: creation failed: %w", err)
	}
	return &Session{
		params: params,
		peer:   peer,
		dir:    dir,
		mux:    multiplex.NewMux(conn, shared),
		shared: shared,
		clock:  clock.New(),
		closed: make(chan struct{}),
	}, nil
}

// WithClock replaces the wall clock, for tests.
func (s *Session) WithClock(c clock.Clock) {
	s.clock = c
}

// WithMetrics enables otel metrics reporting for the session.
func (s *Session) WithMetrics() error {
	metrics, err := initMetrics()
	if err != nil {
		return fmt.Errorf("session: init metrics: %w", err)
	}
	s.metrics = metrics
	return nil
}

// Resolve settles every pending handler exactly once against the negotiated
// capability table: supported handlers convert into live connections bound to
// their capability's sub-stream, unsupported ones decide between keep-alive
// and disconnect. A disconnect decision tears the session down immediately
// and returns ErrDisconnectRequested; any other resolution failure also tears
// the session down before returning.
func (s *Session) Resolve(ctx context.Context, pending []*subproto.Pending) error {
	for _, p := range pending {
		c := p.Protocol().Capability
		if !s.shared.Contains(c) {
			outcome := p.OnUnsupportedByPeer(s.shared, s.dir, s.peer)
			s.metrics.observeUnsupported(ctx, c.String(), outcome)
			log.Debugw("capability unsupported by peer",
				"capability", c.String(), "peer", s.peer.ShortString(), "outcome", outcome)
			if outcome == subproto.Disconnect {
				s.teardown(ctx, subproto.DiscUselessPeer)
				return fmt.Errorf("%w: %s", ErrDisconnectRequested, c)
			}
			continue
		}

		stream, err := s.mux.Open(c)
		if err != nil {
			s.teardown(ctx, subproto.DiscProtocolError)
			return fmt.Errorf("session: opening stream for %s: %w", c, err)
		}
		conn := p.IntoConnection(s.dir, s.peer, stream)
		if conn == nil {
			// hand the stream back so inbound frames for the capability are
			// dropped instead of piling up with no consumer
			stream.Release()
			log.Debugw("handler withdrew after negotiation", "capability", c.String())
			continue
		}
		s.conns = append(s.conns, liveConn{conn: conn, stream: stream})
		s.metrics.observeEstablished(ctx, c.String())
	}
	return nil
}

// Run pumps all live connections until the session ends, then tears down the
// peer connection with the resolved reason. It blocks for the session's
// lifetime; the transport runs it as the peer's one event loop.
func (s *Session) Run(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	started := s.clock.Now()
	s.lastActive.Store(started.UnixNano())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.mux.Route(ctx)
	})
	for _, lc := range s.conns {
		group.Go(func() error {
			return s.outboundLoop(ctx, lc)
		})
		group.Go(func() error {
			return s.inboundLoop(ctx, lc)
		})
	}
	if s.params.IdleTimeout > 0 {
		group.Go(func() error {
			return s.idleLoop(ctx)
		})
	}

	err := group.Wait()
	reason, runErr := resolveTermination(err)
	s.teardown(ctx, reason)
	s.metrics.observeClosed(ctx, reason, s.clock.Now().Sub(started))
	log.Debugw("session ended",
		"peer", s.peer.ShortString(), "direction", s.dir, "reason", reason, "err", runErr)
	return runErr
}

// resolveTermination maps the first pump error to the disconnect reason sent
// to the remote and the error reported to the transport. Graceful
// sub-protocol completion reports no error.
func resolveTermination(err error) (subproto.DisconnectReason, error) {
	switch {
	case err == nil, errors.Is(err, errProtocolDone):
		return subproto.DiscRequested, nil
	case errors.Is(err, errIdleTimeout):
		return subproto.DiscReadTimeout, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return subproto.DiscRequested, err
	case errors.Is(err, io.EOF), errors.Is(err, multiplex.ErrMuxClosed):
		// remote hung up first
		return subproto.DiscRequested, err
	default:
		return subproto.DiscSubprotocolError, err
	}
}

func (s *Session) outboundLoop(ctx context.Context, lc liveConn) error {
	for {
		msg, err := lc.conn.Next(ctx)
		if errors.Is(err, io.EOF) {
			return errProtocolDone
		}
		if err != nil {
			return fmt.Errorf("session: %s connection: %w",
				lc.stream.SharedCapability().Capability(), err)
		}

		sendCtx, cancel := context.WithTimeout(ctx, s.params.SendTimeout)
		err = lc.stream.Send(sendCtx, msg)
		cancel()
		if err != nil {
			return fmt.Errorf("session: sending on %s: %w",
				lc.stream.SharedCapability().Capability(), err)
		}
	}
}

func (s *Session) inboundLoop(ctx context.Context, lc liveConn) error {
	for {
		msg, err := lc.stream.Receive(ctx)
		if err != nil {
			return err
		}
		s.lastActive.Store(s.clock.Now().UnixNano())
		if err := lc.conn.Handle(ctx, msg); err != nil {
			return fmt.Errorf("session: handling inbound on %s: %w",
				lc.stream.SharedCapability().Capability(), err)
		}
	}
}

func (s *Session) idleLoop(ctx context.Context) error {
	timer := s.clock.Timer(s.params.IdleTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-timer.C:
			idle := now.Sub(time.Unix(0, s.lastActive.Load()))
			if idle >= s.params.IdleTimeout {
				return errIdleTimeout
			}
			timer.Reset(s.params.IdleTimeout - idle)
		}
	}
}

// Disconnect tears the session down with the given reason. Safe to call from
// any goroutine; subsequent calls are no-ops.
func (s *Session) Disconnect(ctx context.Context, reason subproto.DisconnectReason) {
	s.teardown(ctx, reason)
}

func (s *Session) teardown(_ context.Context, reason subproto.DisconnectReason) {
	s.closeOnce.Do(func() {
		if err := s.mux.Disconnect(reason); err != nil {
			log.Debugw("disconnecting peer", "err", err)
		}
		for _, lc := range s.conns {
			if err := lc.conn.Close(); err != nil {
				log.Debugw("closing sub-protocol connection",
					"capability", lc.stream.SharedCapability().Capability().String(), "err", err)
			}
		}
		close(s.closed)
	})
}
