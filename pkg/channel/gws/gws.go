// Package gws is a message channel over an lxzan/gws client connection to
// one room of a relay.
package gws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/surrealdb/scenesync/pkg/channel"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/logger"
)

type Connection struct {
	cfg    channel.Config
	room   string
	logger logger.Logger

	handlers channel.Registry

	conn     *gws.Conn
	connLock sync.Mutex

	connCloseCh    chan struct{}
	connCloseError error
	closed         bool
}

var _ channel.Conn = (*Connection)(nil)

type websocketHandler struct {
	conn *Connection
}

func (h *websocketHandler) OnOpen(socket *gws.Conn) {
}

func (h *websocketHandler) OnClose(socket *gws.Conn, err error) {
	h.conn.closeWithError(err)
	h.conn.logger.Debug("channel read loop stopped", "room", h.conn.room, "error", err)
}

func (h *websocketHandler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.WritePong(payload)
}

func (h *websocketHandler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *websocketHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	msg, err := channel.Decode(h.conn.cfg.Unmarshaler, message.Bytes())
	if err != nil {
		h.conn.logger.Warn("failed to decode frame", "room", h.conn.room, "error", err)
		return
	}
	h.conn.handlers.Dispatch(msg)
}

func New(cfg *channel.Config, room string) *Connection {
	return &Connection{
		cfg:         *cfg,
		room:        room,
		logger:      logger.OrDiscard(cfg.Logger),
		connCloseCh: make(chan struct{}),
	}
}

// Dialer returns a dial func for scenesync.Deps.
func Dialer(cfg *channel.Config) func(ctx context.Context, documentID string) (channel.Channel, error) {
	return func(ctx context.Context, documentID string) (channel.Channel, error) {
		c := New(cfg, documentID)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

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

	option := &gws.ClientOption{
		Addr: addr,
		PermessageDeflate: gws.PermessageDeflate{
			Enabled: true,
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		option.HandshakeTimeout = time.Until(deadline)
	}

	conn, res, err := gws.NewClient(&websocketHandler{conn: c}, option)
	if err != nil {
		err = fmt.Errorf("failed to dial %s: %w", addr, err)
		if res != nil && res.StatusCode != http.StatusSwitchingProtocols {
			return &channel.HandshakeError{StatusCode: res.StatusCode, Err: err}
		}
		return err
	}

	c.connLock.Lock()
	c.conn = conn
	c.connLock.Unlock()

	go conn.ReadLoop()

	c.logger.Debug("channel connected", "room", c.room)
	return nil
}

func (c *Connection) Room() string {
	return c.room
}

// Err is why the connection closed, or nil while it is open or after a
// local Close.
func (c *Connection) Err() error {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.connCloseError
}

func (c *Connection) IsClosed() bool {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.closed
}

func (c *Connection) OnMessage(event channel.Event, h channel.Handler) func() {
	return c.handlers.Add(event, h)
}

func (c *Connection) Send(ctx context.Context, event channel.Event, payload any) error {
	select {
	case <-c.connCloseCh:
		c.connLock.Lock()
		err := c.connCloseError
		c.connLock.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %w", constants.ErrChannelClosed, err)
		}
		return constants.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	frame, err := channel.Encode(c.cfg.Marshaler, c.room, event, payload)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	conn := c.conn
	c.connLock.Unlock()
	if conn == nil {
		return constants.ErrChannelClosed
	}
	return conn.WriteMessage(gws.OpcodeBinary, frame)
}

func (c *Connection) closeWithError(err error) {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.connCloseError = err
	close(c.connCloseCh)
}

func (c *Connection) Close(ctx context.Context) error {
	c.connLock.Lock()
	conn := c.conn
	c.conn = nil
	c.connLock.Unlock()

	c.closeWithError(nil)
	if conn == nil {
		return nil
	}

	if err := conn.WriteClose(constants.CloseMessageCode, nil); err != nil {
		c.logger.Debug("failed to write close message", "room", c.room, "error", err)
	}
	return conn.NetConn().Close()
}
