// Package gorillaws is a message channel over a gorilla/websocket
// connection to one room of a relay.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/surrealdb/scenesync/pkg/channel"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/logger"
)

// DefaultDialer is gorilla's default dialer with compression enabled.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

type Connection struct {
	cfg    channel.Config
	room   string
	logger logger.Logger

	handlers channel.Registry

	conn *gorilla.Conn
	// connLock guards conn and serializes writes. It is held only around
	// reads of conn and single writes, never across a dial.
	connLock sync.Mutex

	// connCloseCh is closed when the connection goes away, stopping the
	// read loop and failing later sends.
	connCloseCh chan struct{}
	closeOnce   sync.Once

	stateMu        sync.Mutex
	connCloseError error
	closed         bool
}

var _ channel.Conn = (*Connection)(nil)

func New(cfg *channel.Config, room string) *Connection {
	return &Connection{
		cfg:         *cfg,
		room:        room,
		logger:      logger.OrDiscard(cfg.Logger),
		connCloseCh: make(chan struct{}),
	}
}

// Dialer returns a dial func for scenesync.Deps that connects to the
// document's room.
func Dialer(cfg *channel.Config) func(ctx context.Context, documentID string) (channel.Channel, error) {
	return func(ctx context.Context, documentID string) (channel.Channel, error) {
		c := New(cfg, documentID)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (c *Connection) Room() string {
	return c.room
}

// Connect dials the room. A Connection connects once; after it is closed,
// make a new one.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if c.IsClosed() {
		return constants.ErrChannelClosed
	}
	addr, err := channel.RoomURL(c.cfg.BaseURL, c.room)
	if err != nil {
		return err
	}

	conn, res, err := DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		err = fmt.Errorf("failed to dial %s: %w", addr, err)
		if res != nil && res.StatusCode != http.StatusSwitchingProtocols {
			return &channel.HandshakeError{StatusCode: res.StatusCode, Err: err}
		}
		return err
	}
	defer res.Body.Close()

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	go c.readLoop(conn)

	c.logger.Debug("channel connected", "room", c.room)
	return nil
}

func (c *Connection) IsClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closed
}

// Err is why the connection closed, or nil while it is open.
func (c *Connection) Err() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.connCloseError
}

func (c *Connection) OnMessage(event channel.Event, h channel.Handler) func() {
	return c.handlers.Add(event, h)
}

// Send writes one event. The write deadline follows ctx, or Timeout when
// ctx has none.
func (c *Connection) Send(ctx context.Context, event channel.Event, payload any) error {
	if c.cfg.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}
	}

	select {
	case <-c.connCloseCh:
		return c.closedError()
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	frame, err := channel.Encode(c.cfg.Marshaler, c.room, event, payload)
	if err != nil {
		return err
	}
	return c.write(ctx, frame)
}

func (c *Connection) closedError() error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %w", constants.ErrChannelClosed, err)
	}
	return constants.ErrChannelClosed
}

func (c *Connection) write(ctx context.Context, frame []byte) error {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if c.conn == nil {
		return constants.ErrChannelClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		defer func() {
			if err := c.conn.SetWriteDeadline(time.Time{}); err != nil {
				c.logger.Error("BUG: failed to reset write deadline", "error", err)
			}
		}()
	}

	err := c.conn.WriteMessage(gorilla.BinaryMessage, frame)
	if errors.Is(err, gorilla.ErrCloseSent) {
		c.closeWithError(err)
	}
	return err
}

func (c *Connection) closeWithError(err error) {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return
	}
	c.closed = true
	c.connCloseError = err
	c.stateMu.Unlock()

	c.closeOnce.Do(func() { close(c.connCloseCh) })
}

func (c *Connection) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closeWithError(readError(err))
			c.logger.Debug("channel read loop stopped", "room", c.room, "error", err)
			return
		}

		msg, err := channel.Decode(c.cfg.Unmarshaler, data)
		if err != nil {
			c.logger.Warn("failed to decode frame", "room", c.room, "error", err)
			continue
		}
		c.handlers.Dispatch(msg)
	}
}

func readError(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		return net.ErrClosed
	case gorilla.IsUnexpectedCloseError(err, gorilla.CloseNormalClosure):
		return io.ErrClosedPipe
	}
	return err
}

// Close sends a close frame, bounded by ctx, and closes the socket even if
// the close frame could not be written.
func (c *Connection) Close(ctx context.Context) error {
	if c.IsClosed() {
		return nil
	}
	c.closeWithError(net.ErrClosed)

	c.connLock.Lock()
	defer c.connLock.Unlock()

	conn := c.conn
	c.conn = nil
	if conn == nil {
		return nil
	}

	writeErr := make(chan error, 1)
	go func() {
		if deadline, ok := ctx.Deadline(); ok {
			if err := conn.SetWriteDeadline(deadline); err != nil {
				writeErr <- err
				return
			}
		}
		writeErr <- conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	}()

	select {
	case err := <-writeErr:
		if err != nil {
			c.logger.Debug("failed to write close message", "room", c.room, "error", err)
		}
	case <-ctx.Done():
	}

	return conn.Close()
}
