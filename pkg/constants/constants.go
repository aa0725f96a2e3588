package constants

import "time"

const (
	DefaultBroadcastInterval = 100 * time.Millisecond
	DefaultSaveDelay         = 1500 * time.Millisecond
	DefaultPreviewDelay      = 10 * time.Second
	DefaultFrameInterval     = 16 * time.Millisecond
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultWSTimeout         = 30 * time.Second

	// FileSignatureEdgeBytes is how many leading and trailing bytes of a
	// file's payload go into its signature.
	FileSignatureEdgeBytes = 64

	// CloseMessageCode is the websocket close code sent on a clean client close.
	CloseMessageCode = 1000
)

var (
	WebsocketScheme       = "ws"
	WebsocketSecureScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)
