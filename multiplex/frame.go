package multiplex

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multiformats/go-varint"

	"github.com/celestiaorg/go-rlpx/subproto"
)

// disconnectMsgID is the reserved base-protocol message ID announcing
// disconnection.
const disconnectMsgID = 0x01

// maxFramePayload bounds a single frame's payload.
const maxFramePayload = 1 << 24 // 16 MiB

// ErrFrameTooLarge is returned for frames exceeding maxFramePayload.
var ErrFrameTooLarge = errors.New("multiplex: frame payload too large")

// ErrConnClosed is returned on reads and writes after Disconnect.
var ErrConnClosed = errors.New("multiplex: connection closed")

// FrameConn implements RawConn over a raw byte connection using
// varint-delimited frames: message ID, payload length, payload.
type FrameConn struct {
	rwc io.ReadWriteCloser
	br  *bufio.Reader

	rmu, wmu sync.Mutex
	closed   atomic.Bool
}

// deadliner is implemented by net.Conn-like transports that support
// deadlines.
type deadliner interface {
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

var _ RawConn = (*FrameConn)(nil)

// NewFrameConn frames the given byte connection.
func NewFrameConn(rwc io.ReadWriteCloser) *FrameConn {
	return &FrameConn{rwc: rwc, br: bufio.NewReader(rwc)}
}

// ReadMsg reads the next frame. The context deadline, when present and
// supported by the underlying connection, bounds the read.
func (c *FrameConn) ReadMsg(ctx context.Context) (subproto.Msg, error) {
	if c.closed.Load() {
		return subproto.Msg{}, ErrConnClosed
	}
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if d, ok := c.rwc.(deadliner); ok {
		dl, _ := ctx.Deadline()
		if err := d.SetReadDeadline(dl); err != nil {
			log.Debugw("setting read deadline", "err", err)
		}
		// unblock the read when the context is canceled
		stop := context.AfterFunc(ctx, func() {
			d.SetReadDeadline(time.Unix(0, 1)) //nolint:errcheck
		})
		defer stop()
	}

	id, err := varint.ReadUvarint(c.br)
	if err != nil {
		if ctx.Err() != nil {
			return subproto.Msg{}, ctx.Err()
		}
		return subproto.Msg{}, err
	}
	size, err := varint.ReadUvarint(c.br)
	if err != nil {
		return subproto.Msg{}, fmt.Errorf("multiplex: reading frame size: %w", err)
	}
	if size > maxFramePayload {
		return subproto.Msg{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return subproto.Msg{}, fmt.Errorf("multiplex: reading frame payload: %w", err)
	}
	return subproto.Msg{ID: id, Payload: payload}, nil
}

// WriteMsg writes one frame. The context deadline, when present and
// supported by the underlying connection, bounds the write.
func (c *FrameConn) WriteMsg(ctx context.Context, msg subproto.Msg) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if d, ok := c.rwc.(deadliner); ok {
		dl, _ := ctx.Deadline()
		if err := d.SetWriteDeadline(dl); err != nil {
			log.Debugw("setting write deadline", "err", err)
		}
		stop := context.AfterFunc(ctx, func() {
			d.SetWriteDeadline(time.Unix(0, 1)) //nolint:errcheck
		})
		defer stop()
	}

	if err := c.writeFrame(msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *FrameConn) writeFrame(msg subproto.Msg) error {
	if len(msg.Payload) > maxFramePayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(msg.Payload))
	}

	buf := make([]byte, 0, 2*varint.MaxLenUvarint63+len(msg.Payload))
	buf = append(buf, varint.ToUvarint(msg.ID)...)
	buf = append(buf, varint.ToUvarint(uint64(len(msg.Payload)))...)
	buf = append(buf, msg.Payload...)

	if _, err := c.rwc.Write(buf); err != nil {
		return fmt.Errorf("multiplex: writing frame: %w", err)
	}
	return nil
}

// disconnectWriteTimeout bounds the best-effort write of the final
// disconnect frame; the remote may already have stopped reading.
const disconnectWriteTimeout = time.Second

// Disconnect sends the final disconnect frame carrying the reason byte and
// closes the connection.
func (c *FrameConn) Disconnect(reason subproto.DisconnectReason) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.wmu.Lock()
	if d, ok := c.rwc.(deadliner); ok {
		d.SetWriteDeadline(time.Now().Add(disconnectWriteTimeout)) //nolint:errcheck
	}
	err := c.writeFrame(subproto.Msg{ID: disconnectMsgID, Payload: []byte{byte(reason)}})
	c.wmu.Unlock()
	if err != nil {
		log.Debugw("writing disconnect frame", "err", err)
	}
	return c.rwc.Close()
}
