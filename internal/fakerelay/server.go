// Package fakerelay is a websocket room relay for tests. Every frame a
// client sends is forwarded untouched to the other clients in its room.
// Connections can be dropped and refused on demand to exercise reconnects.
package fakerelay

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lxzan/gws"
)

const roomKey = "room"

type Server struct {
	addr     string
	listener net.Listener
	server   *gws.Server

	mu    sync.RWMutex
	rooms map[string]map[*gws.Conn]struct{}

	frames  atomic.Int64
	accepts atomic.Int64
	refuse  atomic.Bool
}

// Handler implements gws.Event for relay connections.
type Handler struct {
	server *Server
}

// NewServer creates a relay. Use "127.0.0.1:0" to bind a random port.
func NewServer(addr string) *Server {
	s := &Server{
		addr:  addr,
		rooms: make(map[string]map[*gws.Conn]struct{}),
	}
	s.server = gws.NewServer(&Handler{server: s}, &gws.ServerOption{
		PermessageDeflate: gws.PermessageDeflate{Enabled: true},
		Authorize:         s.authorize,
	})
	s.server.OnError = func(_ net.Conn, err error) {
		if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
			log.Printf("fakerelay: %v", err)
		}
	}
	return s
}

// authorize accepts /rooms/{id} and remembers the room on the session.
func (s *Server) authorize(r *http.Request, session gws.SessionStorage) bool {
	if s.refuse.Load() {
		return false
	}
	rest, ok := strings.CutPrefix(r.URL.EscapedPath(), "/rooms/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return false
	}
	room, err := url.PathUnescape(rest)
	if err != nil {
		return false
	}
	session.Store(roomKey, room)
	s.accepts.Add(1)
	return true
}

func (s *Server) Start() error {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := s.server.RunListener(listener); err != nil {
			if !errors.Is(err, net.ErrClosed) && !isUseOfClosedNetworkError(err) {
				log.Printf("fakerelay: %v", err)
			}
		}
	}()
	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.DropAll()
	return err
}

func (s *Server) Address() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL is the ws:// base url clients dial.
func (s *Server) URL() string {
	return "ws://" + s.Address()
}

// DropAll cuts every connection without a close frame, as a network
// failure would.
func (s *Server) DropAll() {
	s.mu.RLock()
	var conns []*gws.Conn
	for _, members := range s.rooms {
		for c := range members {
			conns = append(conns, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range conns {
		_ = c.NetConn().Close()
	}
}

// Refuse makes the relay reject new connections until called with false.
func (s *Server) Refuse(refuse bool) {
	s.refuse.Store(refuse)
}

// Members is the number of connections in room.
func (s *Server) Members(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// Frames is the number of frames received so far.
func (s *Server) Frames() int {
	return int(s.frames.Load())
}

// Accepts is the number of connections accepted so far.
func (s *Server) Accepts() int {
	return int(s.accepts.Load())
}

func roomOf(socket *gws.Conn) string {
	v, ok := socket.Session().Load(roomKey)
	if !ok {
		return ""
	}
	room, _ := v.(string)
	return room
}

func (h *Handler) OnOpen(socket *gws.Conn) {
	room := roomOf(socket)
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	if h.server.rooms[room] == nil {
		h.server.rooms[room] = make(map[*gws.Conn]struct{})
	}
	h.server.rooms[room][socket] = struct{}{}
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	room := roomOf(socket)
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	delete(h.server.rooms[room], socket)
	if len(h.server.rooms[room]) == 0 {
		delete(h.server.rooms, room)
	}
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakerelay: error writing pong: %v", err)
	}
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {
}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	h.server.frames.Add(1)

	room := roomOf(socket)
	h.server.mu.RLock()
	peers := make([]*gws.Conn, 0, len(h.server.rooms[room]))
	for c := range h.server.rooms[room] {
		if c != socket {
			peers = append(peers, c)
		}
	}
	h.server.mu.RUnlock()

	data := message.Bytes()
	for _, c := range peers {
		if err := c.WriteMessage(message.Opcode, data); err != nil && !isUseOfClosedNetworkError(err) {
			log.Printf("fakerelay: error forwarding frame: %v", err)
		}
	}
}

func isUseOfClosedNetworkError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) || strings.HasSuffix(err.Error(), "use of closed network connection")
}
