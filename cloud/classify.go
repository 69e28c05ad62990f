package cloud

import (
	"errors"

	"github.com/aws/smithy-go"
)

// IsThrottle reports whether err is a transient AWS API fault worth
// retrying: request throttling or a temporarily unavailable service.
// Authorization and validation failures are permanent and fail the call.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "Throttling", "ThrottlingException", "RequestLimitExceeded", "ServiceUnavailable":
		return true
	}
	return false
}
