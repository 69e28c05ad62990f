package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(gatewayURL string) *Sink {
	s := NewSink(gatewayURL, nil)
	s.policy.Sleep = func(time.Duration) {}
	s.policy.BaseDelay = time.Millisecond
	return s
}

func TestSinkSet(t *testing.T) {
	t.Run("labeled gauge", func(t *testing.T) {
		s := newTestSink("http://localhost:9091")
		err := s.Set("release_clearing_status", "Release status based on type",
			prometheus.Labels{"type": "OSS", "status": "APPROVED"}, 12)
		require.NoError(t, err)
		assert.Equal(t, 1, s.SampleCount())
	})

	t.Run("unlabeled gauge", func(t *testing.T) {
		s := newTestSink("http://localhost:9091")
		require.NoError(t, s.SetValue("projects_count", "Total number of projects", 42))
	})

	t.Run("schema violation is an error", func(t *testing.T) {
		s := newTestSink("http://localhost:9091")
		require.NoError(t, s.Set("g", "help", prometheus.Labels{"year": "2020"}, 1))
		err := s.Set("g", "help", prometheus.Labels{"month": "01"}, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "do not match registered schema")
	})

	t.Run("duplicate series in one run is rejected", func(t *testing.T) {
		s := newTestSink("http://localhost:9091")
		labels := prometheus.Labels{"componentId": "c1", "component": "zlib"}
		require.NoError(t, s.Set("most_used_component_count", "h", labels, 3))
		err := s.Set("most_used_component_count", "h", labels, 4)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "set twice")
	})

	t.Run("same name different label values is fine", func(t *testing.T) {
		s := newTestSink("http://localhost:9091")
		require.NoError(t, s.Set("g", "h", prometheus.Labels{"year": "2020"}, 1))
		require.NoError(t, s.Set("g", "h", prometheus.Labels{"year": "2021"}, 2))
		assert.Equal(t, 2, s.SampleCount())
	})
}

// gatewayRecorder records the last payload per request path.
type gatewayRecorder struct {
	methods []string
	paths   []string
	bodies  []string
}

func (g *gatewayRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		g.methods = append(g.methods, r.Method)
		g.paths = append(g.paths, r.URL.Path)
		g.bodies = append(g.bodies, string(body))
		w.WriteHeader(http.StatusOK)
	})
}

func TestSinkPush(t *testing.T) {
	t.Run("pushes full snapshot under fixed grouping key", func(t *testing.T) {
		rec := &gatewayRecorder{}
		srv := httptest.NewServer(rec.handler())
		defer srv.Close()

		s := newTestSink(srv.URL)
		require.NoError(t, s.Set("g", "h", prometheus.Labels{"kind": "first"}, 1))
		require.NoError(t, s.Push("couchdb_exporter"))

		require.Len(t, rec.paths, 1)
		assert.Equal(t, "PUT", rec.methods[0])
		assert.Equal(t, "/metrics/job/couchdb_exporter/instance/latest", rec.paths[0])
		assert.Contains(t, rec.bodies[0], `kind="first"`)
	})

	t.Run("second push replaces, never merges", func(t *testing.T) {
		rec := &gatewayRecorder{}
		srv := httptest.NewServer(rec.handler())
		defer srv.Close()

		first := newTestSink(srv.URL)
		require.NoError(t, first.Set("g", "h", prometheus.Labels{"kind": "first"}, 1))
		require.NoError(t, first.Push("couchdb_exporter"))

		second := newTestSink(srv.URL)
		require.NoError(t, second.Set("g", "h", prometheus.Labels{"kind": "second"}, 2))
		require.NoError(t, second.Push("couchdb_exporter"))

		require.Len(t, rec.bodies, 2)
		assert.Equal(t, rec.paths[0], rec.paths[1], "same grouping key, so the gateway replaces")
		assert.Contains(t, rec.bodies[1], `kind="second"`)
		assert.NotContains(t, rec.bodies[1], `kind="first"`,
			"the replacement payload must not carry the previous label set")
	})

	t.Run("clear issues a delete for the job", func(t *testing.T) {
		rec := &gatewayRecorder{}
		srv := httptest.NewServer(rec.handler())
		defer srv.Close()

		s := newTestSink(srv.URL)
		require.NoError(t, s.Clear("couchdb_exporter"))
		require.Len(t, rec.methods, 1)
		assert.Equal(t, "DELETE", rec.methods[0])
		assert.Equal(t, "/metrics/job/couchdb_exporter/instance/latest", rec.paths[0])
	})

	t.Run("gateway status errors are not retried", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		s := newTestSink(srv.URL)
		require.NoError(t, s.SetValue("g", "h", 1))
		err := s.Push("job")
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("connection faults are retried up to the bound", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close() // refuse every connection

		s := newTestSink(srv.URL)
		require.NoError(t, s.SetValue("g", "h", 1))
		err := s.Push("job")
		require.Error(t, err)
	})
}

func TestIsTransientTransport(t *testing.T) {
	assert.True(t, IsTransientTransport(&url.Error{Op: "Put", URL: "http://gw", Err: errors.New("connection reset")}))
	assert.True(t, IsTransientTransport(io.ErrUnexpectedEOF))
	assert.False(t, IsTransientTransport(errors.New("unexpected status code 400")))
	assert.False(t, IsTransientTransport(nil))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "components_count_total_OSS", SanitizeName("components_count_total_OSS"))
	assert.Equal(t, "components_count_total_Code_Snippet", SanitizeName("components_count_total_Code Snippet"))
	assert.Equal(t, "a_b_c", SanitizeName("a-b.c"))
}
