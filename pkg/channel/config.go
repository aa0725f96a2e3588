package channel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/surrealdb/scenesync/internal/codec"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/logger"
)

// Config is shared by the websocket transports.
type Config struct {
	// BaseURL is the relay's ws:// or wss:// endpoint, without the room path.
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler
	Logger      logger.Logger

	// Timeout bounds each Send when the caller's context has no deadline.
	// Zero disables it.
	Timeout time.Duration
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return constants.ErrNoBaseURL
	}
	if c.Marshaler == nil {
		return constants.ErrNoMarshaler
	}
	if c.Unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}
	return nil
}

// RoomURL is the address of room on the relay at base.
func RoomURL(base, room string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	switch u.Scheme {
	case constants.WebsocketScheme, constants.WebsocketSecureScheme:
	case constants.HTTPScheme:
		u.Scheme = constants.WebsocketScheme
	case constants.HTTPSecureScheme:
		u.Scheme = constants.WebsocketSecureScheme
	default:
		return "", fmt.Errorf("invalid base url %q: unsupported scheme %q", base, u.Scheme)
	}
	return strings.TrimSuffix(u.String(), "/") + "/rooms/" + url.PathEscape(room), nil
}

// Conn is a Channel with an explicit connect step.
type Conn interface {
	Channel
	Connect(ctx context.Context) error
}
