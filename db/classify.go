package db

import (
	"errors"
	"strings"

	kivik "github.com/go-kivik/kivik/v4"
)

// httpStatus extracts an HTTP status code from a CouchDB-layer error,
// whether it is a wrapped CouchDBError or a raw Kivik error.
func httpStatus(err error) int {
	var ce *CouchDBError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return kivik.HTTPStatus(err)
}

// IsTransient classifies document-store errors as transient infrastructure
// faults: throttling, service-unavailable, request timeouts, or anything
// whose message mentions a timeout. These are retried under the backoff
// policy; everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch httpStatus(err) {
	case 408, 429, 503:
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// IsIndexingWait classifies errors seen while polling a freshly created
// view. CouchDB answers 404 until the design document is visible and 408
// while the index build exceeds the query timeout; both mean "not ready
// yet", not failure. Outside the post-provision poll, 404 is permanent.
func IsIndexingWait(err error) bool {
	if err == nil {
		return false
	}
	switch httpStatus(err) {
	case 404, 408:
		return true
	}
	return IsTransient(err)
}

// IsProvisionRetryable classifies errors during the design-document
// read-modify-write. A 409 conflict means another provisioner won the
// write race; the caller re-reads, re-merges and retries.
func IsProvisionRetryable(err error) bool {
	if err == nil {
		return false
	}
	if httpStatus(err) == 409 {
		return true
	}
	return IsTransient(err)
}
