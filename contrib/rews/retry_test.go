package rews

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/surrealdb/scenesync/pkg/channel"
)

func handshake(status int) error {
	return fmt.Errorf("rews.Connection failed to connect: %w",
		&channel.HandshakeError{StatusCode: status, Err: errors.New("bad handshake")})
}

func TestRejected(t *testing.T) {
	assert.True(t, Rejected(handshake(http.StatusBadRequest)))
	assert.True(t, Rejected(handshake(http.StatusForbidden)))
	assert.False(t, Rejected(handshake(http.StatusTooManyRequests)))
	assert.False(t, Rejected(handshake(http.StatusRequestTimeout)))
	assert.False(t, Rejected(handshake(http.StatusBadGateway)))
	assert.False(t, Rejected(errors.New("connection refused")))
	assert.False(t, Rejected(nil))
}

func TestRelayBackoff(t *testing.T) {
	t.Run("defaults stay within jitter bounds", func(t *testing.T) {
		r := NewRelayBackoff()

		for attempt, base := range []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second} {
			delay, ok := r.NextDelay(attempt, nil)
			assert.True(t, ok)
			assert.GreaterOrEqual(t, delay, max(time.Duration(float64(base)*0.7), r.InitialDelay))
			assert.LessOrEqual(t, delay, time.Duration(float64(base)*1.3))
		}
	})

	t.Run("grows until capped", func(t *testing.T) {
		r := &RelayBackoff{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
		}

		var got []time.Duration
		for i := 0; i < 6; i++ {
			delay, ok := r.NextDelay(i, nil)
			assert.True(t, ok)
			got = append(got, delay)
		}
		assert.Equal(t, []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			time.Second,
			time.Second,
		}, got)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		r := &RelayBackoff{InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxRetries: 3}

		for i := 0; i < 3; i++ {
			_, ok := r.NextDelay(i, nil)
			assert.True(t, ok, "attempt %d", i)
		}
		delay, ok := r.NextDelay(3, nil)
		assert.False(t, ok)
		assert.Zero(t, delay)
	})

	t.Run("rejected room is not retried", func(t *testing.T) {
		r := NewRelayBackoff()
		_, ok := r.NextDelay(0, handshake(http.StatusNotFound))
		assert.False(t, ok)
	})

	t.Run("overloaded relay waits the longest delay", func(t *testing.T) {
		r := &RelayBackoff{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
		delay, ok := r.NextDelay(0, handshake(http.StatusServiceUnavailable))
		assert.True(t, ok)
		assert.Equal(t, time.Second, delay)
	})

	t.Run("elapsed budget restored by reset", func(t *testing.T) {
		r := &RelayBackoff{InitialDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 1, MaxElapsed: 250 * time.Millisecond}

		for i := 0; i < 2; i++ {
			_, ok := r.NextDelay(i, nil)
			assert.True(t, ok)
		}
		_, ok := r.NextDelay(2, nil)
		assert.False(t, ok)

		r.Reset()
		_, ok = r.NextDelay(0, nil)
		assert.True(t, ok)
	})
}

func TestFixedDelayRetryer(t *testing.T) {
	r := NewFixedDelayRetryer(50*time.Millisecond, 2)

	for i := 0; i < 2; i++ {
		delay, ok := r.NextDelay(i, handshake(http.StatusBadRequest))
		assert.True(t, ok)
		assert.Equal(t, 50*time.Millisecond, delay)
	}
	_, ok := r.NextDelay(2, nil)
	assert.False(t, ok)

	unlimited := NewFixedDelayRetryer(time.Millisecond, 0)
	_, ok = unlimited.NextDelay(1000, nil)
	assert.True(t, ok)
}
