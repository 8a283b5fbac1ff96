package dispatcher

import (
	"context"
	"errors"
	"strings"

	"github.com/local/markersplit/internal/splitter"
	"github.com/local/markersplit/internal/storage"
)

// Failure kinds recorded on jobs beyond the splitter taxonomy.
const (
	kindStorage    = "storage"
	kindInvalidJob = "invalid-job"
	kindTimeout    = "timeout"
)

// isTransientError checks if a job failure may succeed when retried later.
// Only storage trouble qualifies: a split of the same bytes gives the same answer.
func isTransientError(err error) bool {
	if err == nil || isFatalError(err) {
		return false
	}

	var se *StorageError
	if !errors.As(err, &se) {
		return false
	}
	if storage.Retryable(se.Err) {
		return true
	}

	// Network errors surfaced after the client's own retries ran out
	errStr := strings.ToLower(se.Err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "eof")
}

// isFatalError checks if error is fatal and should not be retried
func isFatalError(err error) bool {
	if err == nil {
		return false
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return true
	}

	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrPasswordRequired) {
		return true
	}
	var se *StorageError
	if errors.As(err, &se) && strings.Contains(se.Err.Error(), "decryption failed") {
		return true
	}

	switch splitter.KindOf(err) {
	case splitter.KindStartNotFound, splitter.KindEndNotFound, splitter.KindMarkerDecode,
		splitter.KindInvalidRange, splitter.KindInvalidDocument, splitter.KindInvalidOptions:
		return true
	}
	return false
}

// isTimeoutError checks if error is specifically a timeout
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

// failureKind names the failure recorded on a job's status.
func failureKind(err error) string {
	var (
		valErr *ValidationError
		se     *StorageError
	)
	switch {
	case errors.As(err, &valErr):
		return kindInvalidJob
	case errors.As(err, &se):
		return kindStorage
	case isTimeoutError(err):
		return kindTimeout
	default:
		return string(splitter.KindOf(err))
	}
}
