// Package multiplex routes sub-protocol messages between the shared absolute
// message-ID space of the underlying peer connection and the per-capability
// sub-streams handed to sub-protocol connections.
package multiplex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/celestiaorg/go-rlpx/capability"
	"github.com/celestiaorg/go-rlpx/subproto"
)

var log = logging.Logger("rlpx/multiplex")

var (
	// ErrCapabilityNotShared is returned by Open when the capability was not
	// negotiated with the remote.
	ErrCapabilityNotShared = errors.New("multiplex: capability not shared with peer")

	// ErrStreamAlreadyOpen is returned by Open when the capability's
	// sub-stream is already lent out. Exactly one live connection may own a
	// capability's sub-stream.
	ErrStreamAlreadyOpen = errors.New("multiplex: capability stream already open")

	// ErrMuxClosed is returned on operations against a demultiplexer whose
	// underlying connection ended.
	ErrMuxClosed = errors.New("multiplex: mux closed")
)

// RawConn is the framed byte transport beneath the demultiplexer. Message IDs
// on this interface are absolute on the shared connection. Implementations
// are provided by the transport layer; FrameConn is the in-repo one.
type RawConn interface {
	// ReadMsg returns the next inbound frame.
	ReadMsg(ctx context.Context) (subproto.Msg, error)

	// WriteMsg transmits a frame.
	WriteMsg(ctx context.Context, msg subproto.Msg) error

	// Disconnect sends the reason as the final payload and closes the
	// connection.
	Disconnect(reason subproto.DisconnectReason) error
}

// streamBufferSize bounds inbound messages buffered per capability before
// Route blocks, backpressuring the whole connection.
const streamBufferSize = 64

// Mux demultiplexes one peer connection into per-capability sub-streams
// according to the negotiated capability table. Writes from all sub-streams
// are serialized onto the underlying connection; reads are driven by Route.
type Mux struct {
	conn   RawConn
	shared *capability.SharedCapabilities

	mu      sync.Mutex
	streams map[capability.Capability]*ProtocolStream

	done      chan struct{}
	closeOnce sync.Once

	wmu sync.Mutex

	metrics *Metrics
}

// NewMux creates a demultiplexer over the given connection, bound to the
// capability table negotiated for this session.
func NewMux(conn RawConn, shared *capability.SharedCapabilities) *Mux {
	return &Mux{
		conn:    conn,
		shared:  shared,
		streams: make(map[capability.Capability]*ProtocolStream, shared.Len()),
		done:    make(chan struct{}),
	}
}

// WithMetrics enables otel metrics reporting for the demultiplexer.
func (m *Mux) WithMetrics() error {
	metrics, err := initMetrics()
	if err != nil {
		return fmt.Errorf("multiplex: init metrics: %w", err)
	}
	m.metrics = metrics
	return nil
}

// Open lends out the sub-stream for the given capability. It fails if the
// capability was not negotiated or its stream is already owned.
func (m *Mux) Open(c capability.Capability) (*ProtocolStream, error) {
	sc, ok := m.shared.Find(c)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotShared, c)
	}

	select {
	case <-m.done:
		return nil, ErrMuxClosed
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[c]; ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamAlreadyOpen, c)
	}

	stream := &ProtocolStream{
		shared:  sc,
		mux:     m,
		inbound: make(chan subproto.Msg, streamBufferSize),
	}
	m.streams[c] = stream
	return stream, nil
}

// Route reads frames off the underlying connection and delivers them to the
// owning capability's sub-stream until the connection or context ends.
// Frames whose ID falls outside every negotiated range, or whose capability
// has no open stream, are dropped.
func (m *Mux) Route(ctx context.Context) error {
	defer m.markClosed()

	for {
		msg, err := m.conn.ReadMsg(ctx)
		if err != nil {
			return err
		}

		sc, ok := m.shared.ByMessageID(msg.ID)
		if !ok {
			log.Warnw("dropping frame with unnegotiated message ID", "id", msg.ID)
			m.metrics.observeDropped(ctx, dropUnnegotiatedID)
			continue
		}

		m.mu.Lock()
		stream := m.streams[sc.Capability()]
		m.mu.Unlock()
		if stream == nil {
			log.Debugw("dropping frame for capability without open stream",
				"capability", sc.Capability().String())
			m.metrics.observeDropped(ctx, dropNoStream)
			continue
		}

		// deliver with the ID unmasked into the capability's own numbering
		rel, _ := sc.UnmaskID(msg.ID)
		select {
		case stream.inbound <- subproto.Msg{ID: rel, Payload: msg.Payload}:
			m.metrics.observeRouted(ctx, sc.Capability())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Disconnect tears down the underlying connection with the given reason.
func (m *Mux) Disconnect(reason subproto.DisconnectReason) error {
	m.markClosed()
	return m.conn.Disconnect(reason)
}

func (m *Mux) write(ctx context.Context, msg subproto.Msg) error {
	select {
	case <-m.done:
		return ErrMuxClosed
	default:
	}
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.conn.WriteMsg(ctx, msg)
}

func (m *Mux) markClosed() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}
