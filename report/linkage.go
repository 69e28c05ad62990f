package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/common"
	"dashboard.sw360.org/db"
)

// ProjectRef identifies a project that links a release.
type ProjectRef struct {
	ProjectID   string `json:"project_id"`
	ProjectName string `json:"project_name"`
}

// ReleaseUsage is one release of a component with the projects using it.
type ReleaseUsage struct {
	ReleaseID    string       `json:"release_id"`
	ReleaseName  string       `json:"release_name"`
	Version      string       `json:"release_version"`
	CreatedOn    string       `json:"release_created_on"`
	CreatedBy    string       `json:"release_created_by"`
	ProjectCount int          `json:"project_count"`
	Projects     []ProjectRef `json:"projects"`
}

// ComponentLinkage groups a component with its releases and their usage.
type ComponentLinkage struct {
	ComponentID   string         `json:"component_id"`
	ComponentName string         `json:"component_name"`
	ComponentType string         `json:"component_type"`
	CreatedOn     string         `json:"component_created_on"`
	CreatedBy     string         `json:"component_created_by"`
	TotalReleases int            `json:"total_releases"`
	Releases      []ReleaseUsage `json:"releases"`
}

// OrphanedRelease is a release whose component no longer exists.
type OrphanedRelease struct {
	ReleaseID   string `json:"release_id"`
	ReleaseName string `json:"release_name"`
	ComponentID string `json:"component_id"`
}

// LinkageReport is the component -> release -> project usage report.
type LinkageReport struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Components  []ComponentLinkage `json:"components"`
	Orphaned    []OrphanedRelease  `json:"orphaned_releases"`
}

// FetchPortalDocuments pulls every component, release and project from
// the portal database via Mango queries.
func FetchPortalDocuments(service *db.CouchDBService) ([]common.Component, []common.Release, []common.Project, error) {
	components, err := db.Find[common.Component](service, db.MangoQuery{
		Selector: db.TypeSelector(common.DocTypeComponent),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetching components: %w", err)
	}

	releases, err := db.Find[common.Release](service, db.MangoQuery{
		Selector: db.TypeSelector(common.DocTypeRelease),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetching releases: %w", err)
	}

	projects, err := db.Find[common.Project](service, db.MangoQuery{
		Selector: db.TypeSelector(common.DocTypeProject),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetching projects: %w", err)
	}

	return components, releases, projects, nil
}

// BuildLinkage assembles the usage report. Releases are sorted within a
// component by project count descending, then name; components by total
// release count descending, then name. Releases referencing a missing
// component are collected separately as orphans.
func BuildLinkage(components []common.Component, releases []common.Release, projects []common.Project) *LinkageReport {
	projectCount := make(map[string]int)
	projectRefs := make(map[string][]ProjectRef)
	for _, project := range projects {
		for releaseID := range project.ReleaseIDToUsage {
			projectCount[releaseID]++
			projectRefs[releaseID] = append(projectRefs[releaseID], ProjectRef{
				ProjectID:   project.ID,
				ProjectName: project.Name,
			})
		}
	}

	known := make(map[string]struct{}, len(components))
	for _, component := range components {
		known[component.ID] = struct{}{}
	}

	byComponent := make(map[string][]common.Release)
	var orphaned []OrphanedRelease
	for _, release := range releases {
		if release.ComponentID == "" {
			orphaned = append(orphaned, OrphanedRelease{
				ReleaseID:   release.ID,
				ReleaseName: release.Name,
			})
			continue
		}
		if _, ok := known[release.ComponentID]; !ok {
			orphaned = append(orphaned, OrphanedRelease{
				ReleaseID:   release.ID,
				ReleaseName: release.Name,
				ComponentID: release.ComponentID,
			})
			continue
		}
		byComponent[release.ComponentID] = append(byComponent[release.ComponentID], release)
	}

	report := &LinkageReport{
		GeneratedAt: time.Now().UTC(),
		Orphaned:    orphaned,
	}
	for _, component := range components {
		entry := ComponentLinkage{
			ComponentID:   component.ID,
			ComponentName: component.Name,
			ComponentType: component.ComponentType,
			CreatedOn:     component.CreatedOn,
			CreatedBy:     component.CreatedBy,
			TotalReleases: len(byComponent[component.ID]),
		}
		for _, release := range byComponent[component.ID] {
			entry.Releases = append(entry.Releases, ReleaseUsage{
				ReleaseID:    release.ID,
				ReleaseName:  release.Name,
				Version:      release.Version,
				CreatedOn:    release.CreatedOn,
				CreatedBy:    release.CreatedBy,
				ProjectCount: projectCount[release.ID],
				Projects:     projectRefs[release.ID],
			})
		}
		sort.SliceStable(entry.Releases, func(i, j int) bool {
			if entry.Releases[i].ProjectCount != entry.Releases[j].ProjectCount {
				return entry.Releases[i].ProjectCount > entry.Releases[j].ProjectCount
			}
			return entry.Releases[i].ReleaseName < entry.Releases[j].ReleaseName
		})
		report.Components = append(report.Components, entry)
	}

	sort.SliceStable(report.Components, func(i, j int) bool {
		if report.Components[i].TotalReleases != report.Components[j].TotalReleases {
			return report.Components[i].TotalReleases > report.Components[j].TotalReleases
		}
		return report.Components[i].ComponentName < report.Components[j].ComponentName
	})

	return report
}

// WriteJSON writes the full report, indented, with stable key order.
func (r *LinkageReport) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding linkage report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing linkage report: %w", err)
	}
	return nil
}

// WriteCSV writes a flat per-release summary of the report.
func (r *LinkageReport) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating linkage summary: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"component_id", "component_name", "component_type",
		"release_id", "release_name", "release_version", "project_count",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, component := range r.Components {
		if len(component.Releases) == 0 {
			record := []string{
				component.ComponentID, component.ComponentName, component.ComponentType,
				"", "", "", "0",
			}
			if err := w.Write(record); err != nil {
				return err
			}
			continue
		}
		for _, release := range component.Releases {
			record := []string{
				component.ComponentID, component.ComponentName, component.ComponentType,
				release.ReleaseID, release.ReleaseName, release.Version,
				fmt.Sprintf("%d", release.ProjectCount),
			}
			if err := w.Write(record); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

// WriteReports writes the timestamped JSON and CSV files next to each
// other and returns their paths.
func (r *LinkageReport) WriteReports(dir string, logger *logrus.Logger) (string, string, error) {
	if logger == nil {
		logger = common.Logger
	}
	timestamp := r.GeneratedAt.Format("20060102_150405")
	jsonPath := fmt.Sprintf("%s/components_releases_projects_report_%s.json", dir, timestamp)
	csvPath := fmt.Sprintf("%s/components_releases_projects_summary_%s.csv", dir, timestamp)

	if err := r.WriteJSON(jsonPath); err != nil {
		return "", "", err
	}
	if err := r.WriteCSV(csvPath); err != nil {
		return "", "", err
	}
	logger.WithFields(logrus.Fields{
		"json": jsonPath,
		"csv":  csvPath,
	}).Info("linkage reports written")
	return jsonPath, csvPath, nil
}
