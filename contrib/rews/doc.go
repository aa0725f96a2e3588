// Package rews provides a reliable, auto-reconnecting channel for scene
// sessions.
//
// Connection wraps any channel.Conn and adds:
//   - Automatic reconnection when the socket drops
//   - Handlers that stay registered across reconnections
//   - Relay-aware reconnect pacing that stops on a rejected room
//
// Basic usage:
//
//	conn := rews.New(
//	    func(ctx context.Context) (*gorillaws.Connection, error) {
//	        return gorillaws.New(cfg, documentID), nil
//	    },
//	    time.Second, // reconnection check interval
//	    logger,
//	)
//
//	retryer := rews.NewRelayBackoff()
//	retryer.MaxElapsed = time.Minute
//	conn.Retryer = retryer
//
//	if err := conn.Connect(ctx); err != nil {
//	    // Handle connection failure after all retries
//	}
//
// Sends made while the socket is down fail with constants.ErrChannelClosed.
// A session does not advance its version ledger on a failed send, so the
// next local change after reconnection carries everything peers missed.
//
// To plug it into a session, use Dialer as scenesync.Deps.Dial.
package rews
