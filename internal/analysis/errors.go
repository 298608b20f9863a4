package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/geniusreads/conceptd/internal/db"
)

var (
	// ErrMissingCredential means the extraction backend needs a key and none
	// is configured. Nothing was written.
	ErrMissingCredential = errors.New("extraction credential is not configured")
	// ErrSessionNotFound means the session does not exist. Nothing was written.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAnalysisInProgress means another analysis holds the session. Nothing
	// was written.
	ErrAnalysisInProgress = errors.New("analysis already in progress for this session")
)

// ExtractionError is an upstream failure. Message is the service's own text.
type ExtractionError struct {
	Message string
	Err     error
}

func (e *ExtractionError) Error() string { return e.Message }

func (e *ExtractionError) Unwrap() error { return e.Err }

// PersistenceError is a failed store write. Writes that succeeded before it
// stay committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrorKind classifies analysis errors for callers and transports
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindConfiguration ErrorKind = "configuration"
	KindUpstream      ErrorKind = "upstream"
	KindPersistence   ErrorKind = "persistence"
	KindConflict      ErrorKind = "conflict"
	KindNotFound      ErrorKind = "not_found"
	KindInternal      ErrorKind = "internal"
)

// Kind returns the class of err
func Kind(err error) ErrorKind {
	var extErr *ExtractionError
	var persistErr *PersistenceError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrMissingCredential):
		return KindConfiguration
	case errors.Is(err, ErrAnalysisInProgress):
		return KindConflict
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, db.ErrNotFound):
		return KindNotFound
	case errors.As(err, &extErr), errors.Is(err, context.DeadlineExceeded):
		return KindUpstream
	case errors.As(err, &persistErr):
		return KindPersistence
	default:
		return KindInternal
	}
}
