package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"dashboard.sw360.org/cloud"
	"dashboard.sw360.org/common"
	"dashboard.sw360.org/metrics"
	"dashboard.sw360.org/report"
)

var cloudwatchCmd = &cobra.Command{
	Use:   "cloudwatch",
	Short: "Export EC2 and EBS telemetry from AWS CloudWatch",
	Long: `Reads the running EC2 instances and their CloudWatch metrics, reconciles
in-guest disk samples against the attached EBS volumes, and pushes the
resulting gauges to the Pushgateway under the configured CloudWatch job.
Credentials come from the standard AWS SDK chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCloudWatchExport(cmd.Context())
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run the document store and CloudWatch exporters in sequence",
	RunE: func(cmd *cobra.Command, args []string) error {
		couchErr := runCouchDBExport()
		if couchErr != nil {
			common.Logger.WithError(couchErr).Error("document store export failed")
		}
		awsErr := runCloudWatchExport(cmd.Context())
		if awsErr != nil {
			common.Logger.WithError(awsErr).Error("cloudwatch export failed")
		}
		if couchErr != nil || awsErr != nil {
			return fmt.Errorf("export finished with failures")
		}
		return nil
	},
}

func runCloudWatchExport(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := common.Logger

	collector, err := newInfraCollector(ctx, logger)
	if err != nil {
		return err
	}

	failed := report.RunStages(collector.Stages(ctx), logger)

	if cfg.DryRun {
		logger.WithField("samples", collector.Sink.SampleCount()).
			Info("dry run, skipping gateway push")
		return stageError(failed)
	}

	if err := collector.Sink.Push(cfg.Pushgateway.CloudWatchJob); err != nil {
		return err
	}
	return stageError(failed)
}

func newInfraCollector(ctx context.Context, logger *logrus.Logger) (*report.InfraCollector, error) {
	awsCfg, err := cloud.LoadAWSConfig(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	timeout := time.Duration(cfg.AWS.Timeout) * time.Second

	return &report.InfraCollector{
		EC2:        cloud.NewEC2Service(cloud.NewEC2Client(awsCfg), logger, timeout),
		CloudWatch: cloud.NewCloudWatchService(cloud.NewCloudWatchClient(awsCfg), logger, timeout),
		Sink:       metrics.NewSink(cfg.Pushgateway.URL, logger),
		Logger:     logger,
	}, nil
}
