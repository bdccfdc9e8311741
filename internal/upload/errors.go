package upload

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidKey is returned before any filesystem path is built from a
	// content key that is empty or not a safe path component.
	ErrInvalidKey = errors.New("invalid content key")

	// ErrInvalidIndex is returned for a negative chunk index.
	ErrInvalidIndex = errors.New("chunk index must be a non-negative integer")

	// ErrSessionNotFound is returned when no staging area exists for a key.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrNoChunks is returned by merge when the staging area holds no chunks.
	ErrNoChunks = errors.New("no chunks uploaded for session")

	// ErrIncompleteUpload is returned by merge when the session declared a
	// total chunk count and fewer chunks than that have arrived.
	ErrIncompleteUpload = errors.New("upload incomplete")

	// ErrInconsistentTotal is returned when a chunk declares a total chunk
	// count that conflicts with the one already recorded for the session.
	ErrInconsistentTotal = errors.New("total chunk count conflicts with previously declared value")
)

// CleanupError reports a cleanup that removed some files but failed on
// others. The session is not lost: the paths that survived are listed so a
// retry or a sweep can finish the job.
type CleanupError struct {
	ContentKey string
	Failed     []string
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("partial cleanup of session %s: %d path(s) not removed: %s",
		e.ContentKey, len(e.Failed), strings.Join(e.Failed, ", "))
}
