package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/surrealdb/scenesync/pkg/logger"
)

type Server struct {
	cfg       *Config
	id        string
	backplane Backplane
	logger    logger.Logger
	upgrader  websocket.Upgrader

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

type room struct {
	clients     map[*client]struct{}
	unsubscribe func()
}

type client struct {
	id   string
	room string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// NewServer creates a relay. backplane may be nil for a single instance.
func NewServer(cfg *Config, backplane Backplane) *Server {
	return &Server{
		cfg:       cfg,
		id:        uuid.Must(uuid.NewV4()).String(),
		backplane: backplane,
		logger:    logger.OrDiscard(cfg.Logger),
		upgrader: websocket.Upgrader{
			EnableCompression: true,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

// ID identifies this instance on the backplane.
func (s *Server) ID() string {
	return s.id
}

// Handler routes /rooms/{id} to the websocket endpoint and /health to a
// JSON status.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/rooms/{id}", s.handleRoom).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"instance": s.id,
		"rooms":    s.roomCount(),
	})
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["id"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("relay upgrade failed", "room", name, "error", err)
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	buffer := s.cfg.SendBuffer
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	c := &client{
		id:   uuid.Must(uuid.NewV4()).String(),
		room: name,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}

	if err := s.join(r.Context(), c); err != nil {
		s.logger.Warn("relay could not join room", "room", name, "error", err)
		c.close()
		return
	}
	s.logger.Debug("relay client joined", "room", name, "client_id", c.id)

	go s.writeLoop(c)
	s.readLoop(c)

	s.leave(c)
	c.close()
	s.logger.Debug("relay client left", "room", name, "client_id", c.id)
}

func (s *Server) join(ctx context.Context, c *client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return http.ErrServerClosed
	}

	rm, ok := s.rooms[c.room]
	if !ok {
		rm = &room{clients: make(map[*client]struct{})}
		if s.backplane != nil {
			name := c.room
			unsub, err := s.backplane.Subscribe(ctx, name, func(env Envelope) {
				if env.Origin == s.id {
					return
				}
				s.deliver(name, nil, env.Data)
			})
			if err != nil {
				return err
			}
			rm.unsubscribe = unsub
		}
		s.rooms[c.room] = rm
	}
	rm.clients[c] = struct{}{}
	return nil
}

func (s *Server) leave(c *client) {
	s.mu.Lock()
	rm, ok := s.rooms[c.room]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(rm.clients, c)
	var unsub func()
	if len(rm.clients) == 0 {
		delete(s.rooms, c.room)
		unsub = rm.unsubscribe
	}
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// deliver hands data to every member of name except from. A client whose
// buffer is full is disconnected; it will reconnect and catch up with the
// next update.
func (s *Server) deliver(name string, from *client, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rm, ok := s.rooms[name]
	if !ok {
		return
	}
	for c := range rm.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- data:
		case <-c.done:
		default:
			s.logger.Warn("relay disconnecting slow client", "room", name, "client_id", c.id)
			go c.close()
		}
	}
}

func (s *Server) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isClosedConnError(err) {
				s.logger.Debug("relay read failed", "room", c.room, "client_id", c.id, "error", err)
			}
			return
		}

		s.deliver(c.room, c, data)

		if s.backplane != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
			err := s.backplane.Publish(ctx, Envelope{Origin: s.id, Room: c.room, Data: data})
			cancel()
			if err != nil {
				s.logger.Warn("relay failed to publish to backplane", "room", c.room, "error", err)
			}
		}
	}
}

func (s *Server) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if s.cfg.WriteTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.logger.Debug("relay write failed", "room", c.room, "client_id", c.id, "error", err)
				c.close()
				return
			}
		}
	}
}

// Members is the number of clients this instance holds in name.
func (s *Server) Members(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rm, ok := s.rooms[name]; ok {
		return len(rm.clients)
	}
	return 0
}

func (s *Server) roomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// CloseClients disconnects every client and refuses new ones.
func (s *Server) CloseClients() {
	s.mu.Lock()
	s.closed = true
	var clients []*client
	for _, rm := range s.rooms {
		for c := range rm.clients {
			clients = append(clients, c)
		}
	}
	s.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(time.Second))
		c.close()
	}
}

// Run serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("relay listening", "addr", ln.Addr().String(), "instance", s.id, "backplane", s.backplane != nil)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("relay shutting down", "instance", s.id)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		// Hijacked websocket connections are not tracked by Shutdown.
		s.CloseClients()
		return server.Shutdown(shutdownCtx)
	case err := <-serverErr:
		s.CloseClients()
		return err
	}
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
