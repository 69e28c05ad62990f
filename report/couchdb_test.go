package report

import (
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dashboard.sw360.org/db"
	"dashboard.sw360.org/metrics"
	"dashboard.sw360.org/retry"
)

// fakePortal backs both the provisioner and the fetcher with canned rows.
type fakePortal struct {
	docs   map[string]*db.DesignDoc
	rows   map[string][]db.ViewRow
	totals map[string]int64
	puts   int
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		docs:   make(map[string]*db.DesignDoc),
		rows:   make(map[string][]db.ViewRow),
		totals: make(map[string]int64),
	}
}

func (f *fakePortal) GetDesignDoc(name string) (*db.DesignDoc, error) {
	if doc, ok := f.docs[name]; ok {
		return doc, nil
	}
	return nil, &db.CouchDBError{StatusCode: 404, ErrorType: "not_found", Reason: "missing"}
}

func (f *fakePortal) PutDesignDoc(doc *db.DesignDoc) error {
	f.puts++
	f.docs[strings.TrimPrefix(doc.ID, "_design/")] = doc
	return nil
}

func (f *fakePortal) ProbeView(designDoc, view string) error {
	return nil
}

func (f *fakePortal) QueryView(designName, viewName string, opts db.ViewOptions) (*db.ViewResult, error) {
	key := designName + "/" + viewName
	return &db.ViewResult{Rows: f.rows[key], TotalRows: f.totals[key]}, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		MaxElapsed:  time.Minute,
		BaseDelay:   time.Millisecond,
		Sleep:       func(time.Duration) {},
	}
}

func newTestCollector(portal, attachments *fakePortal) (*PortalCollector, *metrics.Sink) {
	logger := quietLogger()
	sink := metrics.NewSink("http://localhost:9091", logger)
	provisioner := func(store db.DesignDocStore) *db.ViewProvisioner {
		return &db.ViewProvisioner{
			Store:       store,
			WritePolicy: fastPolicy(),
			PollPolicy:  fastPolicy(),
			SettleDelay: time.Millisecond,
			Sleep:       func(time.Duration) {},
			Logger:      logger,
		}
	}
	collector := &PortalCollector{
		Views:           provisioner(portal),
		AttachmentViews: provisioner(attachments),
		Fetcher:         &db.ResultFetcher{Querier: portal, Policy: fastPolicy(), Logger: logger},
		AttachmentFetch: &db.ResultFetcher{Querier: attachments, Policy: fastPolicy(), Logger: logger},
		Sink:            sink,
		Logger:          logger,
	}
	return collector, sink
}

// gaugeValue finds one sample by gauge name and label subset. The second
// return value reports whether the series exists.
func gaugeValue(t *testing.T, sink *metrics.Sink, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := sink.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			have := map[string]string{}
			for _, pair := range metric.GetLabel() {
				have[pair.GetName()] = pair.GetValue()
			}
			match := true
			for k, v := range labels {
				if have[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func requireGauge(t *testing.T, sink *metrics.Sink, name string, labels map[string]string) float64 {
	t.Helper()
	value, ok := gaugeValue(t, sink, name, labels)
	require.True(t, ok, "missing series %s %v", name, labels)
	return value
}

func TestCollectTotals(t *testing.T) {
	portal := newFakePortal()
	portal.totals["Component/all"] = 12
	portal.totals["Project/all"] = 3
	portal.totals["Release/all"] = 40

	collector, sink := newTestCollector(portal, newFakePortal())
	require.NoError(t, collector.CollectTotals())

	assert.InDelta(t, 12.0, requireGauge(t, sink, "components_count_total", nil), 0.001)
	assert.InDelta(t, 3.0, requireGauge(t, sink, "projects_count", nil), 0.001)
	assert.InDelta(t, 40.0, requireGauge(t, sink, "releases_count", nil), 0.001)
}

func TestCollectAttachmentUsage(t *testing.T) {
	attachments := newFakePortal()
	attachments.rows["AttachmentContent/totalDiskUsage"] = []db.ViewRow{
		{Value: map[string]interface{}{"sum": float64(2048), "count": float64(2)}},
	}

	collector, sink := newTestCollector(newFakePortal(), attachments)
	require.NoError(t, collector.CollectAttachmentUsage())

	assert.InDelta(t, 2.0, requireGauge(t, sink, "attachment_count", nil), 0.001)
	assert.InDelta(t, 2048.0, requireGauge(t, sink, "attachment_disk_usage_bytes", nil), 0.001)
	// The view was provisioned in the attachment database.
	assert.Equal(t, 1, attachments.puts)
}

func TestCollectComponentsByType(t *testing.T) {
	portal := newFakePortal()
	portal.rows["Component/bycomponenttype"] = []db.ViewRow{
		{Key: "OSS", Value: "c1"},
		{Key: "OSS", Value: "c2"},
		{Key: "Code Snippet", Value: "c3"},
		{Key: "", Value: "c4"},
	}

	collector, sink := newTestCollector(portal, newFakePortal())
	require.NoError(t, collector.CollectComponentsByType())

	assert.InDelta(t, 2.0, requireGauge(t, sink, "components_count_total_OSS", nil), 0.001)
	assert.InDelta(t, 1.0, requireGauge(t, sink, "components_count_total_Code_Snippet", nil), 0.001)
	assert.InDelta(t, 1.0, requireGauge(t, sink, "components_count_total_empty", nil), 0.001)
}

func TestCollectTimeSeries(t *testing.T) {
	portal := newFakePortal()
	portal.rows["Project/byCreatedOn"] = []db.ViewRow{
		{Key: "2021-03-01", Value: "p1"},
		{Key: "2021-07-15", Value: "p2"},
		{Key: "not-a-date", Value: "p3"},
	}
	portal.rows["Component/byCreatedOn"] = []db.ViewRow{
		{Key: "2022-01-01", Value: "c1"},
		// Predates the reporting window.
		{Key: "2014-06-01", Value: "c0"},
	}
	portal.rows["Release/byCreatedOn"] = []db.ViewRow{
		{Key: "2021-02-02", Value: "r1"},
	}

	collector, sink := newTestCollector(portal, newFakePortal())
	require.NoError(t, collector.CollectTimeSeries())

	assert.InDelta(t, 2.0, requireGauge(t, sink, "Projects", map[string]string{"year": "2021"}), 0.001)
	assert.InDelta(t, 1.0, requireGauge(t, sink, "Releases", map[string]string{"year": "2021"}), 0.001)
	// Years present in one series are zero-filled in the others.
	assert.InDelta(t, 0.0, requireGauge(t, sink, "Components", map[string]string{"year": "2021"}), 0.001)
	assert.InDelta(t, 1.0, requireGauge(t, sink, "Components", map[string]string{"year": "2022"}), 0.001)

	_, found := gaugeValue(t, sink, "Components", map[string]string{"year": "2014"})
	assert.False(t, found)
}

func TestCollectClearingStatus(t *testing.T) {
	portal := newFakePortal()
	portal.rows["Release/byECCStatus"] = []db.ViewRow{
		{Key: "c1", Value: []interface{}{"APPROVED", "OSS"}},
		{Key: "c2", Value: []interface{}{"APPROVED", "OSS"}},
		{Key: "c3", Value: []interface{}{"OPEN", "OSS"}},
		{Key: "c4", Value: []interface{}{"", ""}},
	}

	collector, sink := newTestCollector(portal, newFakePortal())
	require.NoError(t, collector.CollectClearingStatus())

	assert.InDelta(t, 2.0, requireGauge(t, sink, "release_clearing_status",
		map[string]string{"type": "OSS", "status": "APPROVED"}), 0.001)
	assert.InDelta(t, 1.0, requireGauge(t, sink, "release_clearing_status",
		map[string]string{"type": "OSS", "status": "OPEN"}), 0.001)
	assert.InDelta(t, 1.0, requireGauge(t, sink, "release_clearing_status",
		map[string]string{"type": "EMPTY", "status": "EMPTY"}), 0.001)
}

func TestCollectMostUsedComponents(t *testing.T) {
	portal := newFakePortal()
	portal.rows["Release/byReleaseIdAndComponent"] = []db.ViewRow{
		{Key: "c1", Value: "zlib 1.0"},
		{Key: "c1", Value: "zlib 1.1"},
		{Key: "c2", Value: "curl 8.0"},
	}

	collector, sink := newTestCollector(portal, newFakePortal())
	require.NoError(t, collector.CollectMostUsedComponents())

	assert.InDelta(t, 2.0, requireGauge(t, sink, "most_used_component_count",
		map[string]string{"componentId": "c1"}), 0.001)
	assert.InDelta(t, 1.0, requireGauge(t, sink, "most_used_component_count",
		map[string]string{"componentId": "c2", "Component": "curl 8.0"}), 0.001)
}

func TestCollectMostClearedComponents(t *testing.T) {
	portal := newFakePortal()
	portal.rows["Release/byECCStatusAndName"] = []db.ViewRow{
		{Key: "c1", Value: []interface{}{"APPROVED", "zlib"}},
		{Key: "c1", Value: []interface{}{"APPROVED", "zlib"}},
		{Key: "c1", Value: []interface{}{"OPEN", "zlib"}},
		{Key: "c2", Value: []interface{}{"REJECTED", "curl"}},
	}

	collector, sink := newTestCollector(portal, newFakePortal())
	require.NoError(t, collector.CollectMostClearedComponents())

	assert.InDelta(t, 2.0, requireGauge(t, sink, "most_cleared_component_count",
		map[string]string{"componentId": "c1", "Component": "zlib"}), 0.001)

	_, found := gaugeValue(t, sink, "most_cleared_component_count",
		map[string]string{"componentId": "c2"})
	assert.False(t, found, "components without approved releases are not reported")
}

func TestCollectMostUsedLicenses(t *testing.T) {
	portal := newFakePortal()
	portal.rows["Component/bymainLicenseIdArr"] = []db.ViewRow{
		{Key: "MIT", Value: "c1"},
		{Key: "MIT", Value: "c2"},
		{Key: "EMPTY", Value: "c3"},
	}

	collector, sink := newTestCollector(portal, newFakePortal())
	require.NoError(t, collector.CollectMostUsedLicenses())

	assert.InDelta(t, 2.0, requireGauge(t, sink, "most_used_license_count",
		map[string]string{"License": "MIT"}), 0.001)
	assert.InDelta(t, 1.0, requireGauge(t, sink, "most_used_license_count",
		map[string]string{"License": "EMPTY"}), 0.001)
}

func TestCollectUnusedComponents(t *testing.T) {
	portal := newFakePortal()
	portal.rows["Project/byReleaseId"] = []db.ViewRow{
		{Key: "r1"},
	}
	portal.rows["Release/byReleaseIdAndComponentId"] = []db.ViewRow{
		{Key: "r1", Value: []interface{}{"c1", "zlib"}},
		{Key: "r2", Value: []interface{}{"c2", "curl"}},
		{Key: "r3", Value: []interface{}{"c2", "curl"}},
	}

	collector, sink := newTestCollector(portal, newFakePortal())
	require.NoError(t, collector.CollectUnusedComponents())

	_, usedFound := gaugeValue(t, sink, "unused_component_count",
		map[string]string{"component": "c1"})
	assert.False(t, usedFound, "linked releases do not appear")

	assert.InDelta(t, 1.0, requireGauge(t, sink, "unused_component_count",
		map[string]string{"component": "c2", "name": "curl"}), 0.001)
}

func TestStagesRunIsolated(t *testing.T) {
	stages := []Stage{
		{Name: "fails", Run: func() error { return assert.AnError }},
		{Name: "succeeds", Run: func() error { return nil }},
	}
	failed := RunStages(stages, quietLogger())
	assert.Equal(t, 1, failed)
}
