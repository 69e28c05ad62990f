// Package retry implements the exponential backoff engine shared by the
// document store, the metrics gateway and the cloud API clients. Each
// backend supplies its own classifier deciding which errors are transient;
// everything else is surfaced immediately.
//
// The engine is bounded twice: by attempt count and by total elapsed time.
// When either bound is hit it gives up silently in the sense that it returns
// the last observed error to the caller instead of panicking; the give-up
// itself is always logged, because the exporter runs unattended and
// operators must be able to distinguish a stalled retry loop from dropped
// data using logs alone.
package retry

import (
	"time"

	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/common"
)

// Classifier reports whether an error is transient and worth retrying.
// Returning false makes the error fatal for the current operation.
type Classifier func(err error) bool

// Policy drives a bounded exponential backoff loop.
//
// The delay starts at BaseDelay and doubles after every failed attempt,
// capped at MaxDelay. The loop stops after MaxAttempts attempts or once the
// next sleep would exceed MaxElapsed of total wall time, whichever comes
// first.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// MaxElapsed bounds the total wall time spent including sleeps.
	MaxElapsed time.Duration

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt delay. Zero means no cap.
	MaxDelay time.Duration

	// Logger receives the backoff and give-up lines. Defaults to the
	// global logger when nil.
	Logger *logrus.Logger

	// Sleep is overridable for tests. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

func (p Policy) logger() *logrus.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return common.Logger
}

func (p Policy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Do executes fn under the policy, retrying while retryable classifies the
// returned error as transient. It returns nil on success and the last
// observed error once the policy gives up or the classifier reports a fatal
// error.
func (p Policy) Do(operation string, retryable Classifier, fn func() error) error {
	start := time.Now()
	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !retryable(lastErr) {
			p.logger().WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempt,
			}).WithError(lastErr).Error("giving up: permanent error")
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if p.MaxElapsed > 0 && time.Since(start)+delay > p.MaxElapsed {
			p.logger().WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempt,
				"elapsed":   time.Since(start).String(),
			}).WithError(lastErr).Error("giving up: retry time budget exhausted")
			return lastErr
		}

		p.logger().WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt,
			"backoff":   delay.String(),
		}).WithError(lastErr).Warn("backing off before retry")

		p.sleep(delay)
		delay *= 2
	}

	p.logger().WithFields(logrus.Fields{
		"operation": operation,
		"attempts":  p.MaxAttempts,
	}).WithError(lastErr).Error("giving up: attempt budget exhausted")
	return lastErr
}

// Always classifies every error as retryable.
func Always(error) bool { return true }
