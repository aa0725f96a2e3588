package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/surrealdb/scenesync/pkg/constants"
)

// ConflictError is returned when a save presented a stale version.
// CurrentVersion is what the backend holds, when it said so.
type ConflictError struct {
	CurrentVersion *int64
}

func (e *ConflictError) Error() string {
	if e.CurrentVersion == nil {
		return constants.ErrVersionConflict.Error()
	}
	return fmt.Sprintf("%s: current version is %d", constants.ErrVersionConflict, *e.CurrentVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == constants.ErrVersionConflict
}

// StatusError is any other non-successful response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: status=%d, body=%s", e.StatusCode, e.Body)
}

// NotFound reports whether err is a 404 from the backend.
func NotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
