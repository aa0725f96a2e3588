package persist

import "fmt"

type EventKind int

const (
	EventSaved EventKind = iota
	EventConflict
	EventSaveFailed
	EventSuspiciousBlank
	EventPreviewFailed
)

func (k EventKind) String() string {
	switch k {
	case EventSaved:
		return "saved"
	case EventConflict:
		return "conflict"
	case EventSaveFailed:
		return "save-failed"
	case EventSuspiciousBlank:
		return "suspicious-blank"
	case EventPreviewFailed:
		return "preview-failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a user-facing notification. Manual is set when the save was an
// explicit user request.
type Event struct {
	Kind       EventKind
	DocumentID string
	Version    int64
	Manual     bool
	Err        error
}

type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) {
	f(e)
}
