package relay

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	scenesync "github.com/surrealdb/scenesync"
	"github.com/surrealdb/scenesync/pkg/logger"
)

const (
	EnvAddr        = "SCENERELAY_ADDR"
	EnvRedisAddr   = "SCENERELAY_REDIS_ADDR"
	EnvRedisPrefix = "SCENERELAY_REDIS_PREFIX"
	EnvReadLimit   = "SCENERELAY_READ_LIMIT"

	DefaultAddr            = ":8090"
	DefaultRedisPrefix     = "scenesync:room:"
	DefaultReadLimit       = 16 << 20
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultSendBuffer      = 256
)

var (
	ErrNoAddr       = errors.New("listen address not set")
	ErrBadReadLimit = errors.New("read limit must be positive")
)

type Config struct {
	// Addr is the address Run listens on.
	Addr string

	// RedisAddr enables the redis backplane when set.
	RedisAddr   string
	RedisPrefix string

	// ReadLimit caps the size of a single frame. Scenes with embedded
	// images are large, hence the generous default.
	ReadLimit int64

	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// SendBuffer is how many frames may wait for a slow client before it
	// is disconnected.
	SendBuffer int

	Logger logger.Logger
}

// NewConfig returns the defaults, overridden by the SCENERELAY_* environment
// variables.
func NewConfig() (*Config, error) {
	c := &Config{
		Addr:            scenesync.GetEnvOrDefault(EnvAddr, DefaultAddr),
		RedisAddr:       scenesync.GetEnvOrDefault(EnvRedisAddr, ""),
		RedisPrefix:     scenesync.GetEnvOrDefault(EnvRedisPrefix, DefaultRedisPrefix),
		ReadLimit:       DefaultReadLimit,
		WriteTimeout:    DefaultWriteTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		SendBuffer:      DefaultSendBuffer,
	}
	if raw := scenesync.GetEnvOrDefault(EnvReadLimit, ""); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", EnvReadLimit, raw, err)
		}
		c.ReadLimit = n
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return ErrNoAddr
	}
	if c.ReadLimit <= 0 {
		return ErrBadReadLimit
	}
	return nil
}
