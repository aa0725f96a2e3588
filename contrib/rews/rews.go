package rews

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/surrealdb/scenesync/pkg/channel"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/logger"
)

type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (state State) String() string {
	switch state {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

func (state State) validateTransitionTo(newState State) error {
	switch state {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateDisconnected, StateClosing:
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateDisconnected, StateClosing:
			return nil
		}
	case StateConnected:
		switch newState {
		case StateConnecting, StateClosing, StateDisconnected:
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", state, newState)
}

// Connection is a channel that survives dropped sockets. Each connection
// attempt gets a fresh C from NewFunc; handlers registered with OnMessage
// stay attached across reconnects.
type Connection[C channel.Conn] struct {
	// NewFunc creates an unconnected channel for each connection attempt.
	NewFunc func(context.Context) (C, error)

	// CheckInterval is how often the reconnection loop looks for a dropped
	// connection. Defaults to one second.
	CheckInterval time.Duration

	// Retryer paces the attempts of Connect. Nil makes Connect try once.
	Retryer Retryer

	// OnReconnect runs after each successful reconnection.
	OnReconnect func()

	handlers channel.Registry

	connMu  sync.Mutex
	current C
	has     bool
	unsubs  []func()
	events  map[channel.Event]bool

	// connCloseCh and reconnLoopCloseCh are set under connMu when the
	// reconnection loop starts.
	connCloseCh       chan struct{}
	reconnLoopCloseCh chan struct{}

	logger logger.Logger

	state   State
	stateMu sync.Mutex
}

var _ channel.Channel = (*Connection[channel.Conn])(nil)

func New[C channel.Conn](newConn func(context.Context) (C, error), checkInterval time.Duration, log logger.Logger) *Connection[C] {
	return &Connection[C]{
		NewFunc:       newConn,
		CheckInterval: checkInterval,
		logger:        logger.OrDiscard(log),
		state:         StateDisconnected,
		events:        make(map[channel.Event]bool),
	}
}

// Dialer returns a dial func for scenesync.Deps that opens a reconnecting
// channel per document, built by newConn.
func Dialer[C channel.Conn](newConn func(ctx context.Context, documentID string) (C, error), checkInterval time.Duration, retryer Retryer, log logger.Logger) func(ctx context.Context, documentID string) (channel.Channel, error) {
	return func(ctx context.Context, documentID string) (channel.Channel, error) {
		c := New(func(ctx context.Context) (C, error) { return newConn(ctx, documentID) }, checkInterval, log)
		c.Retryer = retryer
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func (arws *Connection[C]) transitionTo(newState State) error {
	arws.stateMu.Lock()
	defer arws.stateMu.Unlock()

	if err := arws.state.validateTransitionTo(newState); err != nil {
		return err
	}

	arws.state = newState
	arws.logger.Debug("rews.Connection state transitioned", "new_state", newState)
	return nil
}

func (arws *Connection[C]) State() State {
	arws.stateMu.Lock()
	defer arws.stateMu.Unlock()
	return arws.state
}

// IsClosed is true once Close was called. A dropped socket that is being
// replaced does not count as closed.
func (arws *Connection[C]) IsClosed() bool {
	switch arws.State() {
	case StateClosing, StateClosed:
		return true
	}
	return false
}

// Connect establishes the first connection, retrying according to Retryer,
// and starts the reconnection loop.
func (arws *Connection[C]) Connect(ctx context.Context) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = arws.connectOnce(ctx)
		if lastErr == nil {
			if arws.Retryer != nil {
				arws.Retryer.Reset()
			}
			break
		}
		if arws.Retryer == nil {
			return lastErr
		}
		if arws.IsClosed() {
			return fmt.Errorf("rews.Connection closed while connecting: %w", constants.ErrChannelClosed)
		}
		delay, ok := arws.Retryer.NextDelay(attempt, lastErr)
		if !ok {
			return fmt.Errorf("rews.Connection gave up after %d attempts: %w", attempt+1, lastErr)
		}
		arws.logger.Debug("rews.Connection retrying connect", "attempt", attempt+1, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	arws.connMu.Lock()
	defer arws.connMu.Unlock()
	if arws.IsClosed() {
		return fmt.Errorf("rews.Connection closed while connecting: %w", constants.ErrChannelClosed)
	}
	if arws.connCloseCh == nil {
		arws.connCloseCh = make(chan struct{})
		arws.reconnLoopCloseCh = make(chan struct{})
		go arws.reconnectionLoop(arws.connCloseCh, arws.reconnLoopCloseCh)
	}
	return nil
}

func (arws *Connection[C]) connectOnce(ctx context.Context) error {
	if err := arws.transitionTo(StateConnecting); err != nil {
		return err
	}

	conn, err := arws.NewFunc(ctx)
	if err == nil {
		err = conn.Connect(ctx)
	}
	if err != nil {
		if stateErr := arws.transitionTo(StateDisconnected); stateErr != nil && !arws.IsClosed() {
			arws.logger.Error("BUG: rews.Connection failed to transition to disconnected state", "error", stateErr)
		}
		return fmt.Errorf("rews.Connection failed to connect: %w", err)
	}

	arws.attach(conn)

	if err := arws.transitionTo(StateConnected); err != nil {
		// Close won the race while we were dialing.
		_ = conn.Close(ctx)
		return fmt.Errorf("rews.Connection closed while connecting: %w", constants.ErrChannelClosed)
	}
	return nil
}

// attach makes conn current and forwards its messages to our handlers.
func (arws *Connection[C]) attach(conn C) {
	arws.connMu.Lock()
	defer arws.connMu.Unlock()

	for _, unsub := range arws.unsubs {
		unsub()
	}
	arws.unsubs = nil
	arws.current, arws.has = conn, true
	for event := range arws.events {
		arws.unsubs = append(arws.unsubs, conn.OnMessage(event, arws.dispatch))
	}
}

func (arws *Connection[C]) dispatch(msg channel.Message) {
	arws.handlers.Dispatch(msg)
}

func (arws *Connection[C]) conn() (C, bool) {
	arws.connMu.Lock()
	defer arws.connMu.Unlock()
	return arws.current, arws.has
}

func (arws *Connection[C]) OnMessage(event channel.Event, h channel.Handler) func() {
	unsub := arws.handlers.Add(event, h)

	arws.connMu.Lock()
	defer arws.connMu.Unlock()
	if !arws.events[event] {
		arws.events[event] = true
		if arws.has {
			arws.unsubs = append(arws.unsubs, arws.current.OnMessage(event, arws.dispatch))
		}
	}
	return unsub
}

// Send fails fast while disconnected. Callers that track what was sent
// simply retry with their next pass.
func (arws *Connection[C]) Send(ctx context.Context, event channel.Event, payload any) error {
	if state := arws.State(); state != StateConnected {
		return fmt.Errorf("rews.Connection is %v: %w", state, constants.ErrChannelClosed)
	}
	conn, ok := arws.conn()
	if !ok {
		return constants.ErrChannelClosed
	}
	return conn.Send(ctx, event, payload)
}

// Close stops the reconnection loop, then closes the current connection.
func (arws *Connection[C]) Close(ctx context.Context) error {
	if err := arws.transitionTo(StateClosing); err != nil {
		if arws.IsClosed() {
			return nil
		}
		return fmt.Errorf("rews.Connection cannot close: %w", err)
	}
	defer func() {
		if err := arws.transitionTo(StateClosed); err != nil {
			arws.logger.Error("BUG: rews.Connection failed to transition to closed state", "error", err)
		}
	}()

	// Closing is already set, so Connect can no longer start the loop.
	arws.connMu.Lock()
	closeCh, loopDone := arws.connCloseCh, arws.reconnLoopCloseCh
	arws.connMu.Unlock()
	if closeCh != nil {
		close(closeCh)
		<-loopDone
	}

	conn, ok := arws.conn()
	if !ok {
		return nil
	}
	return conn.Close(ctx)
}

func (arws *Connection[C]) reconnectionLoop(closeCh <-chan struct{}, done chan<- struct{}) {
	checkInterval := time.Second
	if arws.CheckInterval > 0 {
		checkInterval = arws.CheckInterval
	}
	defer close(done)

	for {
		select {
		case <-closeCh:
			return
		case <-time.After(checkInterval):
		}

		conn, ok := arws.conn()
		if !ok || !conn.IsClosed() {
			continue
		}

		if arws.State() == StateConnected {
			if err := arws.transitionTo(StateDisconnected); err != nil {
				continue
			}
		}

		arws.logger.Info("rews.Connection is attempting to reconnect")
		ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultWSTimeout)
		err := arws.connectOnce(ctx)
		cancel()
		if err != nil {
			arws.logger.Warn("rews.Connection failed to reconnect", "error", err)
			continue
		}
		arws.logger.Info("rews.Connection reconnected")
		if arws.OnReconnect != nil {
			arws.OnReconnect()
		}
	}
}
