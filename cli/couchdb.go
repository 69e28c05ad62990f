package cli

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dashboard.sw360.org/common"
	"dashboard.sw360.org/db"
	"dashboard.sw360.org/metrics"
	"dashboard.sw360.org/report"
)

var couchdbCmd = &cobra.Command{
	Use:   "couchdb",
	Short: "Export catalogue statistics from the SW360 document store",
	Long: `Provisions the reporting views in the portal and attachment databases,
runs every document store report stage, and pushes the resulting gauges
to the Pushgateway under the configured CouchDB job. The previous payload
of the job is deleted first, so series whose label sets shrank do not
linger on dashboards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCouchDBExport()
	},
}

func runCouchDBExport() error {
	logger := common.Logger

	collector, cleanup, err := newPortalCollector(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	failed := report.RunStages(collector.Stages(), logger)

	if cfg.DryRun {
		logger.WithField("samples", collector.Sink.SampleCount()).
			Info("dry run, skipping gateway push")
		return stageError(failed)
	}

	job := cfg.Pushgateway.CouchDBJob
	if err := collector.Sink.Clear(job); err != nil {
		logger.WithError(err).Warn("clearing previous gateway payload failed")
	}
	if err := collector.Sink.Push(job); err != nil {
		return err
	}
	return stageError(failed)
}

// newPortalCollector connects to the portal and attachment databases and
// assembles the document store collector. The returned cleanup closes both
// connections.
func newPortalCollector(logger *logrus.Logger) (*report.PortalCollector, func(), error) {
	url, err := cfg.CouchDB.BuildURL()
	if err != nil {
		return nil, nil, err
	}
	timeout := time.Duration(cfg.CouchDB.Timeout) * time.Second

	portal, err := db.NewCouchDBService(url, cfg.CouchDB.Database, timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to portal database: %w", err)
	}
	attachments, err := db.NewCouchDBService(url, cfg.CouchDB.AttachmentDatabase, timeout)
	if err != nil {
		portal.Close()
		return nil, nil, fmt.Errorf("connecting to attachment database: %w", err)
	}
	cleanup := func() {
		attachments.Close()
		portal.Close()
	}

	collector := &report.PortalCollector{
		Views:           newProvisioner(portal, logger),
		AttachmentViews: newProvisioner(attachments, logger),
		Fetcher:         &db.ResultFetcher{Querier: portal, Policy: db.DefaultRetryPolicy(), Logger: logger},
		AttachmentFetch: &db.ResultFetcher{Querier: attachments, Policy: db.DefaultRetryPolicy(), Logger: logger},
		Sink:            metrics.NewSink(cfg.Pushgateway.URL, logger),
		Logger:          logger,
	}
	return collector, cleanup, nil
}

func newProvisioner(store db.DesignDocStore, logger *logrus.Logger) *db.ViewProvisioner {
	return &db.ViewProvisioner{
		Store:       store,
		DryRun:      cfg.DryRun,
		WritePolicy: db.DefaultRetryPolicy(),
		PollPolicy:  db.DefaultRetryPolicy(),
		Logger:      logger,
	}
}

func stageError(failed int) error {
	if failed > 0 {
		return fmt.Errorf("%d report stages failed", failed)
	}
	return nil
}
