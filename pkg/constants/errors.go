package constants

import "errors"

// Errors
var (
	ErrVersionConflict     = errors.New("document version conflict")
	ErrUnsafeSnapshot      = errors.New("snapshot rejected by safety guard")
	ErrSuspiciousBlankLoad = errors.New("scene loaded blank although the stored preview is not")
	ErrSessionClosed       = errors.New("session is closed")
	ErrQueueClosed         = errors.New("save queue is closed")
	ErrChannelClosed       = errors.New("channel is closed")
)

var (
	ErrNoDocumentID  = errors.New("document id not set")
	ErrNoEngine      = errors.New("render engine not set")
	ErrNoChannel     = errors.New("channel dialer not set")
	ErrNoAPI         = errors.New("persistence api not set")
	ErrNoBaseURL     = errors.New("base url not set")
	ErrNoMarshaler   = errors.New("marshaler is not set")
	ErrNoUnmarshaler = errors.New("unmarshaler is not set")
)
