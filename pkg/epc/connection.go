package epc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/sexpc/internal/logger"
	"github.com/marmos91/sexpc/pkg/sexp"
)

// readChunkSize is the per-read buffer for the socket pump.
const readChunkSize = 4096

// Connection owns one peer socket: it frames outgoing messages, reassembles
// incoming ones from the stream, and publishes each decoded message onto
// its event channel keyed by the message's head symbol.
type Connection struct {
	name    string
	conn    net.Conn
	channel *Channel
	dec     decoder

	// writeMu serializes frame writes so each message reaches the wire
	// as one unit.
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}

	log *slog.Logger
}

// newConnection wraps an established socket. The connection name carries
// the first eight characters of a fresh uuid so both directions of a
// session can be correlated in logs.
func newConnection(conn net.Conn) *Connection {
	name := "epc-" + uuid.NewString()[:8]
	return &Connection{
		name:    name,
		conn:    conn,
		channel: NewChannel(),
		closed:  make(chan struct{}),
		log: logger.With(
			logger.KeyConn, name,
			logger.KeyPeer, conn.RemoteAddr().String(),
		),
	}
}

// Name returns the connection's log name.
func (c *Connection) Name() string {
	return c.name
}

// Channel returns the connection's event channel.
func (c *Connection) Channel() *Channel {
	return c.channel
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Live reports whether the connection is still open.
func (c *Connection) Live() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

// Send frames and writes one message. The frame goes out in a single
// write call.
func (c *Connection) Send(v sexp.Value) error {
	if !c.Live() {
		return ErrConnectionClosed
	}

	frame, err := encodeFrame(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("epc: send: %w", err)
	}
	return nil
}

// serve pumps the socket until it reaches a terminal state: read bytes,
// feed the reassembly buffer, and publish every complete frame. A single
// undecodable frame is logged and skipped; only an unusable header or a
// socket error ends the loop. serve closes the connection on return.
func (c *Connection) serve() {
	defer c.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.dec.feed(buf[:n])
			if ferr := c.drain(); ferr != nil {
				c.log.Warn("Unrecoverable framing error, closing connection",
					logger.KeyError, ferr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && c.Live() {
				c.log.Debug("Socket read ended", logger.KeyError, err)
			}
			return
		}
	}
}

// drain publishes every complete frame currently buffered. Returns a
// non-nil error only when the buffer cannot be advanced safely.
func (c *Connection) drain() error {
	for {
		v, err := c.dec.next()
		switch {
		case err == nil:
			c.dispatch(v)
		case errors.Is(err, errIncompleteFrame):
			return nil
		default:
			var fe *FrameError
			if errors.As(err, &fe) {
				// The frame's extent was consumed; the stream is intact.
				c.log.Warn("Dropped undecodable frame", logger.KeyError, err)
				continue
			}
			return err
		}
	}
}

// dispatch routes one decoded message to the channel. The message must be
// a list headed by an event symbol; anything else is logged and dropped.
func (c *Connection) dispatch(v sexp.Value) {
	list, err := sexp.AsList(v)
	if err != nil || len(list) == 0 {
		c.log.Warn("Dropped non-list message", "message", sexp.Print(v))
		return
	}
	event, err := sexp.AsSymbol(list[0])
	if err != nil {
		c.log.Warn("Dropped message with non-symbol event", "message", sexp.Print(v))
		return
	}
	c.channel.Send(event, sexp.List(list[1:]))
}

// Close tears the connection down: close the socket and release the read
// buffer. Safe to call multiple times and from any goroutine.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if err := c.conn.Close(); err != nil {
			c.log.Debug("Error closing socket", logger.KeyError, err)
		}
		c.dec.buf = nil
		c.log.Debug("Connection closed")
	})
}

// closeGraceful waits up to the grace period for an in-flight write to
// finish before closing.
func (c *Connection) closeGraceful(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
	}
	c.Close()
}
