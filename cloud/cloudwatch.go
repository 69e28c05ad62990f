package cloud

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/retry"
)

// CloudWatch agent namespace and the in-guest disk metrics it publishes.
const (
	CWAgentNamespace = "CWAgent"
	DiskTotalMetric  = "disk_total"
	DiskUsedMetric   = "disk_used"
)

const (
	// Single-metric reads look at the last 15 minutes in 5-minute buckets
	// and keep the newest datapoint.
	statisticsPeriod = 300
	statisticsWindow = 15 * time.Minute

	// Enhanced disk reads cover a full day in one bucket; the agent only
	// reports every few minutes and the daily maximum is what the volume
	// gauges need.
	diskPeriod = 86400
	diskWindow = 24 * time.Hour
)

// CloudWatchAPI is the subset of the CloudWatch client the exporter needs.
type CloudWatchAPI interface {
	GetMetricStatistics(ctx context.Context, in *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
	ListMetrics(ctx context.Context, in *cloudwatch.ListMetricsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.ListMetricsOutput, error)
	GetMetricData(ctx context.Context, in *cloudwatch.GetMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricDataOutput, error)
}

// DiskSample is one in-guest filesystem measurement from the CloudWatch
// agent: total and used bytes for a block device. The device name is the
// guest's (for example xvda1) and never matches an EBS volume ID directly.
type DiskSample struct {
	Device     string
	TotalBytes float64
	UsedBytes  float64
}

// CloudWatchService wraps the CloudWatch API with retry and logging.
type CloudWatchService struct {
	api     CloudWatchAPI
	policy  retry.Policy
	logger  *logrus.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewCloudWatchService creates a CloudWatchService around the given client.
func NewCloudWatchService(api CloudWatchAPI, logger *logrus.Logger, timeout time.Duration) *CloudWatchService {
	policy := DefaultRetryPolicy()
	policy.Logger = logger
	return &CloudWatchService{
		api:     api,
		policy:  policy,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
	}
}

func (s *CloudWatchService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// MetricValue reads the newest datapoint of a single metric over the last
// fifteen minutes. The second return value is false when no datapoint
// exists, which is not an error: a stopped agent simply yields no data.
func (s *CloudWatchService) MetricValue(ctx context.Context, namespace, metricName string, dimensions map[string]string, stat cwtypes.Statistic) (float64, bool, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	end := s.now()
	input := &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(namespace),
		MetricName: aws.String(metricName),
		Dimensions: buildDimensions(dimensions),
		StartTime:  aws.Time(end.Add(-statisticsWindow)),
		EndTime:    aws.Time(end),
		Period:     aws.Int32(statisticsPeriod),
		Statistics: []cwtypes.Statistic{stat},
	}

	var out *cloudwatch.GetMetricStatisticsOutput
	err := s.policy.Do("get metric statistics", IsThrottle, func() error {
		var callErr error
		out, callErr = s.api.GetMetricStatistics(opCtx, input)
		return callErr
	})
	if err != nil {
		return 0, false, err
	}
	return latestDatapoint(out.Datapoints, stat)
}

// EnhancedDiskSamples reads the CloudWatch agent's disk_total and
// disk_used metrics for one instance and pairs them by device. An
// instance without the agent yields no samples and no error.
func (s *CloudWatchService) EnhancedDiskSamples(ctx context.Context, instanceID string) ([]DiskSample, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	totals, err := s.listDiskMetrics(opCtx, instanceID, DiskTotalMetric)
	if err != nil {
		return nil, err
	}
	used, err := s.listDiskMetrics(opCtx, instanceID, DiskUsedMetric)
	if err != nil {
		return nil, err
	}
	if len(totals) == 0 && len(used) == 0 {
		return nil, nil
	}

	queries, refs := buildDiskQueries(append(totals, used...))
	if len(queries) == 0 {
		return nil, nil
	}

	end := s.now()
	input := &cloudwatch.GetMetricDataInput{
		MetricDataQueries: queries,
		StartTime:         aws.Time(end.Add(-diskWindow)),
		EndTime:           aws.Time(end),
	}

	var results []cwtypes.MetricDataResult
	for {
		var out *cloudwatch.GetMetricDataOutput
		err := s.policy.Do("get metric data", IsThrottle, func() error {
			var callErr error
			out, callErr = s.api.GetMetricData(opCtx, input)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		results = append(results, out.MetricDataResults...)
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}

	samples := samplesFromResults(results, refs)
	s.logger.WithFields(logrus.Fields{
		"instance": instanceID,
		"devices":  len(samples),
	}).Debug("collected enhanced disk samples")
	return samples, nil
}

// listDiskMetrics finds the full dimension sets under which the agent
// publishes the given disk metric for one instance.
func (s *CloudWatchService) listDiskMetrics(ctx context.Context, instanceID, metricName string) ([]cwtypes.Metric, error) {
	input := &cloudwatch.ListMetricsInput{
		Namespace:  aws.String(CWAgentNamespace),
		MetricName: aws.String(metricName),
		Dimensions: []cwtypes.DimensionFilter{
			{
				Name:  aws.String("InstanceId"),
				Value: aws.String(instanceID),
			},
		},
	}

	var metrics []cwtypes.Metric
	for {
		var out *cloudwatch.ListMetricsOutput
		err := s.policy.Do("list metrics", IsThrottle, func() error {
			var callErr error
			out, callErr = s.api.ListMetrics(ctx, input)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, out.Metrics...)
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}
	return metrics, nil
}

// diskQueryRef remembers which metric and device a GetMetricData query
// identifier stands for.
type diskQueryRef struct {
	metric string
	device string
}

// buildDiskQueries turns listed metrics into one GetMetricData query per
// metric/device pair. Identifiers are "{metric}_{device}" with the device
// lowered and non-alphanumerics folded to underscores, since CloudWatch
// restricts query identifiers to [a-z][a-zA-Z0-9_]*.
func buildDiskQueries(metrics []cwtypes.Metric) ([]cwtypes.MetricDataQuery, map[string]diskQueryRef) {
	queries := make([]cwtypes.MetricDataQuery, 0, len(metrics))
	refs := make(map[string]diskQueryRef, len(metrics))
	for i := range metrics {
		metric := metrics[i]
		name := aws.ToString(metric.MetricName)
		device := dimensionValue(metric.Dimensions, "device")
		if device == "" {
			continue
		}
		id := queryID(name, device)
		if _, dup := refs[id]; dup {
			continue
		}
		refs[id] = diskQueryRef{metric: name, device: device}
		queries = append(queries, cwtypes.MetricDataQuery{
			Id: aws.String(id),
			MetricStat: &cwtypes.MetricStat{
				Metric: &metric,
				Period: aws.Int32(diskPeriod),
				Stat:   aws.String(string(cwtypes.StatisticMaximum)),
			},
			ReturnData: aws.Bool(true),
		})
	}
	return queries, refs
}

// samplesFromResults pairs disk_total and disk_used results by device.
// Devices with only one side present are dropped: a usage gauge without a
// capacity (or the reverse) cannot be reconciled.
func samplesFromResults(results []cwtypes.MetricDataResult, refs map[string]diskQueryRef) []DiskSample {
	type pair struct {
		total    float64
		used     float64
		hasTotal bool
		hasUsed  bool
	}
	byDevice := make(map[string]*pair)
	for _, result := range results {
		ref, ok := refs[aws.ToString(result.Id)]
		if !ok || len(result.Values) == 0 {
			continue
		}
		entry := byDevice[ref.device]
		if entry == nil {
			entry = &pair{}
			byDevice[ref.device] = entry
		}
		// Values are newest first.
		switch ref.metric {
		case DiskTotalMetric:
			entry.total = result.Values[0]
			entry.hasTotal = true
		case DiskUsedMetric:
			entry.used = result.Values[0]
			entry.hasUsed = true
		}
	}

	samples := make([]DiskSample, 0, len(byDevice))
	for device, entry := range byDevice {
		if !entry.hasTotal || !entry.hasUsed {
			continue
		}
		samples = append(samples, DiskSample{
			Device:     device,
			TotalBytes: entry.total,
			UsedBytes:  entry.used,
		})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Device < samples[j].Device })
	return samples
}

func latestDatapoint(datapoints []cwtypes.Datapoint, stat cwtypes.Statistic) (float64, bool, error) {
	if len(datapoints) == 0 {
		return 0, false, nil
	}
	latest := datapoints[0]
	for _, dp := range datapoints[1:] {
		if dp.Timestamp != nil && (latest.Timestamp == nil || dp.Timestamp.After(*latest.Timestamp)) {
			latest = dp
		}
	}
	var value *float64
	switch stat {
	case cwtypes.StatisticAverage:
		value = latest.Average
	case cwtypes.StatisticSum:
		value = latest.Sum
	case cwtypes.StatisticMaximum:
		value = latest.Maximum
	case cwtypes.StatisticMinimum:
		value = latest.Minimum
	case cwtypes.StatisticSampleCount:
		value = latest.SampleCount
	}
	if value == nil {
		return 0, false, fmt.Errorf("datapoint carries no %s statistic", stat)
	}
	return *value, true, nil
}

func buildDimensions(dimensions map[string]string) []cwtypes.Dimension {
	names := make([]string, 0, len(dimensions))
	for name := range dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]cwtypes.Dimension, 0, len(names))
	for _, name := range names {
		out = append(out, cwtypes.Dimension{
			Name:  aws.String(name),
			Value: aws.String(dimensions[name]),
		})
	}
	return out
}

func dimensionValue(dimensions []cwtypes.Dimension, name string) string {
	for _, d := range dimensions {
		if aws.ToString(d.Name) == name {
			return aws.ToString(d.Value)
		}
	}
	return ""
}

func queryID(metricName, device string) string {
	var b strings.Builder
	b.Grow(len(metricName) + 1 + len(device))
	b.WriteString(metricName)
	b.WriteByte('_')
	for _, r := range strings.ToLower(device) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
