package cli

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dashboard.sw360.org/common"
	"dashboard.sw360.org/db"
	"dashboard.sw360.org/report"
)

var linkageOutputDir string

var linkageCmd = &cobra.Command{
	Use:   "linkage",
	Short: "Write the component/release/project linkage report",
	Long: `Fetches every component, release and project from the portal database,
assembles the component -> release -> project usage report, and writes a
timestamped JSON report plus a flat CSV summary to the output directory.
Releases whose component no longer exists are listed as orphans.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLinkageReport()
	},
}

func init() {
	linkageCmd.Flags().StringVarP(&linkageOutputDir, "output", "o", ".",
		"directory the report files are written to")
}

func runLinkageReport() error {
	logger := common.Logger

	url, err := cfg.CouchDB.BuildURL()
	if err != nil {
		return err
	}
	timeout := time.Duration(cfg.CouchDB.Timeout) * time.Second
	portal, err := db.NewCouchDBService(url, cfg.CouchDB.Database, timeout)
	if err != nil {
		return fmt.Errorf("connecting to portal database: %w", err)
	}
	defer portal.Close()

	components, releases, projects, err := report.FetchPortalDocuments(portal)
	if err != nil {
		return err
	}

	linkage := report.BuildLinkage(components, releases, projects)
	jsonPath, csvPath, err := linkage.WriteReports(linkageOutputDir, logger)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"components": len(linkage.Components),
		"orphaned":   len(linkage.Orphaned),
		"json":       jsonPath,
		"csv":        csvPath,
	}).Info("linkage report written")
	return nil
}
