package rews

import (
	"errors"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/surrealdb/scenesync/pkg/channel"
)

// Retryer paces connection attempts.
type Retryer interface {
	// NextDelay returns how long to wait before retry number attempt
	// (0-based) after lastErr, and false to give up.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a successful connection.
	Reset()
}

// Rejected reports whether the relay refused the room during the handshake
// in a way retrying will not change: any 4xx except 408 and 429.
func Rejected(err error) bool {
	var hs *channel.HandshakeError
	if !errors.As(err, &hs) {
		return false
	}
	switch hs.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return hs.StatusCode >= 400 && hs.StatusCode < 500
}

// overloaded reports a relay that asked clients to come back later.
func overloaded(err error) bool {
	var hs *channel.HandshakeError
	if !errors.As(err, &hs) {
		return false
	}
	return hs.StatusCode == http.StatusTooManyRequests || hs.StatusCode == http.StatusServiceUnavailable
}

// RelayBackoff paces reconnects to a relay room. Delays grow by Multiplier
// from InitialDelay up to MaxDelay and are spread by JitterFactor, so the
// clients a relay restart dropped together do not return together. A
// rejected handshake ends the retries at once; an overloaded relay is left
// alone for the full MaxDelay.
//
// RelayBackoff is safe for concurrent use. Connections sharing one also
// share its MaxElapsed budget.
type RelayBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor spreads each delay by up to that fraction of itself in
	// either direction. Zero disables jitter.
	JitterFactor float64

	// MaxRetries is the number of retries before giving up. Zero retries
	// forever.
	MaxRetries int

	// MaxElapsed caps the summed delays handed out since the last Reset.
	// Zero means no cap.
	MaxElapsed time.Duration

	mu     sync.Mutex
	waited time.Duration
}

func NewRelayBackoff() *RelayBackoff {
	return &RelayBackoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
		MaxElapsed:   2 * time.Minute,
	}
}

func (r *RelayBackoff) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if Rejected(lastErr) {
		return 0, false
	}
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	var delay time.Duration
	if overloaded(lastErr) {
		delay = r.MaxDelay
	} else {
		delay = r.backoff(attempt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.MaxElapsed > 0 && r.waited+delay > r.MaxElapsed {
		return 0, false
	}
	r.waited += delay
	return delay, true
}

func (r *RelayBackoff) backoff(attempt int) time.Duration {
	delay := math.Min(float64(r.InitialDelay)*math.Pow(r.Multiplier, float64(attempt)), float64(r.MaxDelay))
	if r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
	}
	if delay < float64(r.InitialDelay) {
		delay = float64(r.InitialDelay)
	}
	return time.Duration(delay)
}

// Reset restores the full MaxElapsed budget.
func (r *RelayBackoff) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waited = 0
}

// FixedDelayRetryer waits Delay between attempts whatever the error. It
// suits a local relay that refuses connections while starting up.
type FixedDelayRetryer struct {
	Delay time.Duration

	// MaxRetries is the number of retries before giving up. Zero retries
	// forever.
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}
