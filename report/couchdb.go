package report

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/aggregate"
	"dashboard.sw360.org/common"
	"dashboard.sw360.org/db"
	"dashboard.sw360.org/metrics"
)

// PortalCollector runs the document store stages: it provisions the
// reporting views, fetches their rows, and records gauges on the sink.
type PortalCollector struct {
	Views           *db.ViewProvisioner
	AttachmentViews *db.ViewProvisioner
	Fetcher         *db.ResultFetcher
	AttachmentFetch *db.ResultFetcher
	Sink            *metrics.Sink
	Logger          *logrus.Logger
}

func (c *PortalCollector) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return common.Logger
}

// Stages returns the document store stages in execution order.
func (c *PortalCollector) Stages() []Stage {
	return []Stage{
		{Name: "totals", Run: c.CollectTotals},
		{Name: "attachment_usage", Run: c.CollectAttachmentUsage},
		{Name: "components_by_type", Run: c.CollectComponentsByType},
		{Name: "time_series", Run: c.CollectTimeSeries},
		{Name: "clearing_status", Run: c.CollectClearingStatus},
		{Name: "most_used_components", Run: c.CollectMostUsedComponents},
		{Name: "most_cleared_components", Run: c.CollectMostClearedComponents},
		{Name: "most_used_licenses", Run: c.CollectMostUsedLicenses},
		{Name: "unused_components", Run: c.CollectUnusedComponents},
	}
}

// CollectTotals counts components, projects and releases via the portal's
// own "all" views. The count is the view's total row count; no rows are
// transferred.
func (c *PortalCollector) CollectTotals() error {
	counts := map[string]int64{
		ComponentDesignDoc: c.Fetcher.CountRows(ComponentDesignDoc, AllView),
		ProjectDesignDoc:   c.Fetcher.CountRows(ProjectDesignDoc, AllView),
		ReleaseDesignDoc:   c.Fetcher.CountRows(ReleaseDesignDoc, AllView),
	}

	if err := c.Sink.SetValue("projects_count", "Total number of projects",
		float64(counts[ProjectDesignDoc])); err != nil {
		return err
	}
	if err := c.Sink.SetValue("releases_count", "Total number of releases",
		float64(counts[ReleaseDesignDoc])); err != nil {
		return err
	}
	return c.Sink.SetValue("components_count_total", "Total number of components",
		float64(counts[ComponentDesignDoc]))
}

// CollectAttachmentUsage folds attachment lengths in the attachment
// database and records the attachment count and total payload size.
func (c *PortalCollector) CollectAttachmentUsage() error {
	if _, err := c.AttachmentViews.Ensure(AttachmentDiskUsage); err != nil {
		return fmt.Errorf("attachment usage view: %w", err)
	}

	rows := c.AttachmentFetch.Fetch(AttachmentDesignDoc, AttachmentDiskUsage.Name,
		db.ViewOptions{Reduce: true})

	var totalBytes, count float64
	for _, row := range rows {
		stats, ok := row.Value.(map[string]interface{})
		if !ok {
			continue
		}
		if sum, ok := stats["sum"].(float64); ok {
			totalBytes += sum
		}
		if n, ok := stats["count"].(float64); ok {
			count += n
		}
	}

	c.logger().WithFields(logrus.Fields{
		"attachments": int64(count),
		"size":        humanize.IBytes(uint64(totalBytes)),
	}).Info("attachment disk usage")

	if err := c.Sink.SetValue("attachment_count", "Total number of attachments", count); err != nil {
		return err
	}
	return c.Sink.SetValue("attachment_disk_usage_bytes",
		"Total size of all attachment payloads in bytes", totalBytes)
}

// CollectComponentsByType records one gauge per component type, named
// components_count_total_<type>. Blank types count under "empty".
func (c *PortalCollector) CollectComponentsByType() error {
	if _, err := c.Views.Ensure(ComponentsByType); err != nil {
		return fmt.Errorf("components by type view: %w", err)
	}

	rows := c.Fetcher.FetchRows(ComponentDesignDoc, ComponentsByType.Name)
	counts := aggregate.CountByKey(rowKeys(rows, "empty"))

	for componentType, count := range counts {
		name := metrics.SanitizeName("components_count_total_" + componentType)
		help := fmt.Sprintf("Number of components of type %s", componentType)
		if err := c.Sink.SetValue(name, help, float64(count)); err != nil {
			return err
		}
	}
	return nil
}

// CollectTimeSeries buckets component, project and release creation dates
// by year and records one labeled sample per year. Years missing from one
// document kind but present in another are reported as zero, so the three
// series stay aligned.
func (c *PortalCollector) CollectTimeSeries() error {
	kinds := []struct {
		view  db.ViewDefinition
		gauge string
		help  string
	}{
		{ProjectsByCreatedOn, "Projects", "Number of projects created per year"},
		{ComponentsByCreatedOn, "Components", "Number of components created per year"},
		{ReleasesByCreatedOn, "Releases", "Number of releases created per year"},
	}

	buckets := make([]map[int]int, len(kinds))
	years := make(map[int]struct{})
	for i, kind := range kinds {
		if _, err := c.Views.Ensure(kind.view); err != nil {
			return fmt.Errorf("%s view: %w", kind.view.Name, err)
		}
		rows := c.Fetcher.FetchRows(kind.view.DesignDoc, kind.view.Name)
		byYear, dropped := aggregate.YearBuckets(rowKeyStrings(rows), true, c.logger())
		if dropped > 0 {
			c.logger().WithFields(logrus.Fields{
				"view":    kind.view.Name,
				"dropped": dropped,
			}).Warn("dropped rows with unusable creation dates")
		}
		buckets[i] = byYear
		for year := range byYear {
			years[year] = struct{}{}
		}
	}

	for year := range years {
		for i, kind := range kinds {
			labels := prometheus.Labels{"year": fmt.Sprintf("%d", year)}
			if err := c.Sink.Set(kind.gauge, kind.help, labels,
				float64(buckets[i][year])); err != nil {
				return err
			}
		}
	}
	return nil
}

// CollectClearingStatus counts releases by (componentType, eccStatus).
// Blank fields normalize to EMPTY so the label set stays total.
func (c *PortalCollector) CollectClearingStatus() error {
	if _, err := c.Views.Ensure(ReleasesByECCStatus); err != nil {
		return fmt.Errorf("clearing status view: %w", err)
	}

	rows := c.Fetcher.FetchRows(ReleaseDesignDoc, ReleasesByECCStatus.Name)

	type typeStatus struct {
		componentType string
		status        string
	}
	counts := make(map[typeStatus]int)
	for _, row := range rows {
		status, componentType := pairStrings(row.Value)
		counts[typeStatus{
			componentType: aggregate.NormalizeKey(componentType, "EMPTY"),
			status:        aggregate.NormalizeKey(status, "EMPTY"),
		}]++
	}

	for key, count := range counts {
		labels := prometheus.Labels{"type": key.componentType, "status": key.status}
		if err := c.Sink.Set("release_clearing_status",
			"Release status based on type", labels, float64(count)); err != nil {
			return err
		}
	}
	return nil
}

// CollectMostUsedComponents counts releases per component and records one
// labeled sample per component.
func (c *PortalCollector) CollectMostUsedComponents() error {
	if _, err := c.Views.Ensure(ReleasesByComponent); err != nil {
		return fmt.Errorf("releases by component view: %w", err)
	}

	rows := c.Fetcher.FetchRows(ReleaseDesignDoc, ReleasesByComponent.Name)

	counts := make(map[string]*aggregate.NamedCount)
	for _, row := range rows {
		componentID := asString(row.Key)
		if componentID == "" {
			continue
		}
		if entry, ok := counts[componentID]; ok {
			entry.Count++
			continue
		}
		counts[componentID] = &aggregate.NamedCount{
			ID:    componentID,
			Name:  asString(row.Value),
			Count: 1,
		}
	}

	return c.setComponentCounts("most_used_component_count",
		"Count of most used components", counts)
}

// CollectMostClearedComponents counts APPROVED releases per component.
func (c *PortalCollector) CollectMostClearedComponents() error {
	if _, err := c.Views.Ensure(ReleasesByECCStatusAndName); err != nil {
		return fmt.Errorf("cleared components view: %w", err)
	}

	rows := c.Fetcher.FetchRows(ReleaseDesignDoc, ReleasesByECCStatusAndName.Name)

	counts := make(map[string]*aggregate.NamedCount)
	for _, row := range rows {
		status, name := pairStrings(row.Value)
		if status != "APPROVED" {
			continue
		}
		componentID := asString(row.Key)
		if componentID == "" {
			continue
		}
		if entry, ok := counts[componentID]; ok {
			entry.Count++
			continue
		}
		counts[componentID] = &aggregate.NamedCount{ID: componentID, Name: name, Count: 1}
	}

	return c.setComponentCounts("most_cleared_component_count",
		"Count of most cleared components", counts)
}

// CollectMostUsedLicenses counts components per main license.
func (c *PortalCollector) CollectMostUsedLicenses() error {
	if _, err := c.Views.Ensure(ComponentsByMainLicense); err != nil {
		return fmt.Errorf("licenses view: %w", err)
	}

	rows := c.Fetcher.FetchRows(ComponentDesignDoc, ComponentsByMainLicense.Name)
	counts := aggregate.CountByKey(rowKeys(rows, "EMPTY"))

	for license, count := range counts {
		labels := prometheus.Labels{"License": license}
		if err := c.Sink.Set("most_used_license_count",
			"Count of most used licenses", labels, float64(count)); err != nil {
			return err
		}
	}
	return nil
}

// CollectUnusedComponents reports components whose releases no project
// links. A release counts as used when any project's releaseIdToUsage
// mentions it.
func (c *PortalCollector) CollectUnusedComponents() error {
	if _, err := c.Views.Ensure(ProjectsByReleaseID); err != nil {
		return fmt.Errorf("projects by release view: %w", err)
	}
	if _, err := c.Views.Ensure(ReleasesByID); err != nil {
		return fmt.Errorf("releases by id view: %w", err)
	}

	usedRows := c.Fetcher.FetchRows(ProjectDesignDoc, ProjectsByReleaseID.Name)
	releaseRows := c.Fetcher.FetchRows(ReleaseDesignDoc, ReleasesByID.Name)

	used := aggregate.NewSeen()
	for _, row := range usedRows {
		used.Add(asString(row.Key))
	}

	emitted := aggregate.NewSeen()
	for _, row := range releaseRows {
		releaseID := asString(row.Key)
		if releaseID == "" {
			continue
		}
		if _, isUsed := used[releaseID]; isUsed {
			continue
		}
		componentID, name := pairStrings(row.Value)
		if componentID == "" || !emitted.Add(componentID+"\x00"+name) {
			continue
		}
		labels := prometheus.Labels{"component": componentID, "name": name}
		if err := c.Sink.Set("unused_component_count",
			"Count of components not being used", labels, 1); err != nil {
			return err
		}
	}
	return nil
}

func (c *PortalCollector) setComponentCounts(gauge, help string, counts map[string]*aggregate.NamedCount) error {
	ordered := make([]aggregate.NamedCount, 0, len(counts))
	for _, entry := range counts {
		ordered = append(ordered, *entry)
	}
	aggregate.SortCounts(ordered)

	for _, entry := range ordered {
		labels := prometheus.Labels{"componentId": entry.ID, "Component": entry.Name}
		if err := c.Sink.Set(gauge, help, labels, float64(entry.Count)); err != nil {
			return err
		}
	}
	return nil
}

// rowKeys extracts string keys, substituting placeholder for blanks.
func rowKeys(rows []db.ViewRow, placeholder string) []string {
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, aggregate.NormalizeKey(asString(row.Key), placeholder))
	}
	return keys
}

// rowKeyStrings extracts raw string keys, keeping blanks for the caller
// to drop.
func rowKeyStrings(rows []db.ViewRow) []string {
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, asString(row.Key))
	}
	return keys
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// pairStrings unpacks a two-element array value emitted by a view.
func pairStrings(v interface{}) (string, string) {
	pair, ok := v.([]interface{})
	if !ok || len(pair) < 2 {
		return "", ""
	}
	return asString(pair[0]), asString(pair[1])
}
