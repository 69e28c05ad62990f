// Package metrics implements the push-based metric sink. Each run builds
// one Sink, fills it with gauge samples, and pushes the whole snapshot to
// the Prometheus Pushgateway under the fixed grouping key
// {instance="latest"}. Pushing again under the same job and grouping key
// replaces the previous payload entirely — the gateway keeps no history, so
// every run publishes a complete, fresh picture.
//
// There is deliberately no package-level registry: a Sink is constructed
// per run and passed to every report stage, so two concurrent report
// generators can never bleed series into each other.
package metrics

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/common"
	"dashboard.sw360.org/retry"
)

// MaxPushRetries bounds gateway push attempts.
const MaxPushRetries = 5

// GroupingInstance is the fixed grouping key value under which every push
// is namespaced. Using a constant instance makes each push replace the
// last one instead of accumulating per-host series.
const GroupingInstance = "latest"

// Sink holds the gauges of one exporter run and pushes them atomically.
type Sink struct {
	gatewayURL string
	registry   *prometheus.Registry
	gauges     map[string]*prometheus.GaugeVec
	schemas    map[string][]string
	written    map[string]struct{}
	policy     retry.Policy
	logger     *logrus.Logger
}

// NewSink creates an empty sink pushing to the given gateway URL.
func NewSink(gatewayURL string, logger *logrus.Logger) *Sink {
	if logger == nil {
		logger = common.Logger
	}
	return &Sink{
		gatewayURL: gatewayURL,
		registry:   prometheus.NewRegistry(),
		gauges:     make(map[string]*prometheus.GaugeVec),
		schemas:    make(map[string][]string),
		written:    make(map[string]struct{}),
		policy: retry.Policy{
			MaxAttempts: MaxPushRetries,
			MaxElapsed:  time.Minute,
			BaseDelay:   time.Second,
			Logger:      logger,
		},
		logger: logger,
	}
}

// Set records a gauge sample.
//
// The label schema of a gauge is fixed by its first Set: every later call
// for the same name must carry exactly the same label keys, otherwise Set
// returns an error — a schema drift is a programming error in the calling
// report, not something to paper over.
//
// Within one run a (name, label values) series may be set only once.
// Setting it twice means an upstream deduplication step is missing, so the
// second write is rejected rather than silently winning.
func (s *Sink) Set(name, help string, labels prometheus.Labels, value float64) error {
	keys := labelKeys(labels)

	schema, ok := s.schemas[name]
	if !ok {
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, keys)
		if err := s.registry.Register(vec); err != nil {
			return fmt.Errorf("failed to register gauge %s: %w", name, err)
		}
		s.gauges[name] = vec
		s.schemas[name] = keys
		schema = keys
	} else if !equalKeys(schema, keys) {
		return fmt.Errorf("gauge %s: label keys %v do not match registered schema %v",
			name, keys, schema)
	}

	series := seriesKey(name, schema, labels)
	if _, dup := s.written[series]; dup {
		return fmt.Errorf("gauge %s: series %s set twice in one run", name, series)
	}
	s.written[series] = struct{}{}

	s.gauges[name].With(labels).Set(value)
	return nil
}

// SetValue records an unlabeled gauge sample.
func (s *Sink) SetValue(name, help string, value float64) error {
	return s.Set(name, help, prometheus.Labels{}, value)
}

// SampleCount returns the number of series written so far this run.
func (s *Sink) SampleCount() int {
	return len(s.written)
}

// Gather snapshots the run's metric families without pushing them.
func (s *Sink) Gather() ([]*dto.MetricFamily, error) {
	return s.registry.Gather()
}

// Push transmits the whole registry to the gateway under the job name and
// the fixed grouping key. The gateway replaces any previous payload for
// (job, instance=latest); nothing accumulates across runs.
func (s *Sink) Push(job string) error {
	pusher := s.pusher(job)
	err := s.policy.Do("push metrics for job "+job, IsTransientTransport, func() error {
		return pusher.Push()
	})
	if err != nil {
		return fmt.Errorf("failed to push metrics for job %s: %w", job, err)
	}
	s.logger.WithFields(logrus.Fields{
		"job":     job,
		"samples": len(s.written),
		"gateway": s.gatewayURL,
	}).Info("pushed metrics")
	return nil
}

// Clear deletes the previous payload for the job before a fresh push. Used
// when the label sets of a job may shrink between runs, so series that no
// longer exist do not linger on dashboards.
func (s *Sink) Clear(job string) error {
	pusher := s.pusher(job)
	err := s.policy.Do("clear metrics for job "+job, IsTransientTransport, func() error {
		return pusher.Delete()
	})
	if err != nil {
		return fmt.Errorf("failed to clear metrics for job %s: %w", job, err)
	}
	return nil
}

func (s *Sink) pusher(job string) *push.Pusher {
	return push.New(s.gatewayURL, job).
		Gatherer(s.registry).
		Grouping("instance", GroupingInstance).
		Format(expfmt.NewFormat(expfmt.TypeTextPlain))
}

// IsTransientTransport classifies gateway push errors. Only
// connection-level transport faults are retried; an HTTP error status from
// the gateway (bad payload, unknown job) is permanent.
func IsTransientTransport(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// SanitizeName converts an arbitrary grouping key into a valid metric name
// fragment: anything outside [a-zA-Z0-9_] becomes an underscore.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelKeys(labels prometheus.Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seriesKey(name string, schema []string, labels prometheus.Labels) string {
	var b strings.Builder
	b.WriteString(name)
	for _, k := range schema {
		b.WriteByte('{')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte('}')
	}
	return b.String()
}
