package scenesync

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"

	"github.com/surrealdb/scenesync/pkg/constants"
)

const (
	EnvBroadcastInterval = "SCENESYNC_BROADCAST_INTERVAL"
	EnvSaveDelay         = "SCENESYNC_SAVE_DELAY"
	EnvPreviewDelay      = "SCENESYNC_PREVIEW_DELAY"
	EnvFrameInterval     = "SCENESYNC_FRAME_INTERVAL"
)

// Config tunes one Session.
type Config struct {
	DocumentID string

	// SenderID tags outgoing updates so this client can drop its own echoes.
	SenderID string

	BroadcastInterval time.Duration
	SaveDelay         time.Duration
	PreviewDelay      time.Duration
	FrameInterval     time.Duration
	RequestTimeout    time.Duration
}

// NewConfig returns the default configuration for documentID with a fresh
// random SenderID.
func NewConfig(documentID string) *Config {
	return &Config{
		DocumentID:        documentID,
		SenderID:          newSenderID(),
		BroadcastInterval: constants.DefaultBroadcastInterval,
		SaveDelay:         constants.DefaultSaveDelay,
		PreviewDelay:      constants.DefaultPreviewDelay,
		FrameInterval:     constants.DefaultFrameInterval,
		RequestTimeout:    constants.DefaultHTTPTimeout,
	}
}

func newSenderID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Must(uuid.NewV1()).String()
	}
	return id.String()
}

// LoadEnv overrides the timing settings from SCENESYNC_* environment
// variables. Unset variables keep the current value.
func (c *Config) LoadEnv() error {
	var errs []error
	load := func(key string, dst *time.Duration) {
		d, err := durationFromEnv(key, *dst)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}
	load(EnvBroadcastInterval, &c.BroadcastInterval)
	load(EnvSaveDelay, &c.SaveDelay)
	load(EnvPreviewDelay, &c.PreviewDelay)
	load(EnvFrameInterval, &c.FrameInterval)
	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if c.DocumentID == "" {
		return constants.ErrNoDocumentID
	}
	if c.SenderID == "" {
		c.SenderID = newSenderID()
	}
	return nil
}
