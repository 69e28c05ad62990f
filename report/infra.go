package report

import (
	"context"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/aggregate"
	"dashboard.sw360.org/cloud"
	"dashboard.sw360.org/common"
	"dashboard.sw360.org/metrics"
)

// instanceAPI and volumeAPI are the cloud surfaces the infra collector
// touches, narrowed for testing.
type instanceAPI interface {
	RunningInstances(ctx context.Context) ([]cloud.InstanceRecord, error)
	VolumesForInstance(ctx context.Context, instanceID string) ([]cloud.VolumeRecord, error)
}

type telemetryAPI interface {
	MetricValue(ctx context.Context, namespace, metricName string, dimensions map[string]string, stat cwtypes.Statistic) (float64, bool, error)
	EnhancedDiskSamples(ctx context.Context, instanceID string) ([]cloud.DiskSample, error)
}

// InfraCollector runs the AWS stages: EC2 instance gauges and the
// reconciled EBS volume report.
type InfraCollector struct {
	EC2        instanceAPI
	CloudWatch telemetryAPI
	Sink       *metrics.Sink
	Logger     *logrus.Logger

	instances []cloud.InstanceRecord
}

func (c *InfraCollector) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return common.Logger
}

// Stages returns the AWS stages in execution order.
func (c *InfraCollector) Stages(ctx context.Context) []Stage {
	return []Stage{
		{Name: "ec2_instances", Run: func() error { return c.CollectInstanceMetrics(ctx) }},
		{Name: "ebs_volumes", Run: func() error { return c.CollectVolumeMetrics(ctx) }},
	}
}

// instanceMetrics are the per-instance CloudWatch reads. Memory comes
// from the CloudWatch agent and is simply absent on instances without it.
var instanceMetrics = []struct {
	gauge     string
	help      string
	namespace string
	metric    string
	stat      cwtypes.Statistic
}{
	{"ec2_cpu_utilization", "CPU utilization percent per instance", "AWS/EC2", "CPUUtilization", cwtypes.StatisticAverage},
	{"ec2_memory_utilization", "Memory utilization percent per instance", cloud.CWAgentNamespace, "mem_used_percent", cwtypes.StatisticAverage},
	{"ec2_network_in_bytes", "Network bytes in per instance", "AWS/EC2", "NetworkIn", cwtypes.StatisticAverage},
	{"ec2_network_out_bytes", "Network bytes out per instance", "AWS/EC2", "NetworkOut", cwtypes.StatisticAverage},
}

// CollectInstanceMetrics records the running instance count and the CPU,
// memory and network gauges for every running instance.
func (c *InfraCollector) CollectInstanceMetrics(ctx context.Context) error {
	instances, err := c.EC2.RunningInstances(ctx)
	if err != nil {
		return err
	}
	c.instances = instances

	if err := c.Sink.SetValue("ec2_running_instances",
		"Number of running EC2 instances", float64(len(instances))); err != nil {
		return err
	}

	seen := aggregate.NewSeen()
	for _, instance := range instances {
		if !seen.Add(instance.ID) {
			continue
		}
		labels := instanceLabels(instance)
		dimensions := map[string]string{"InstanceId": instance.ID}

		for _, metric := range instanceMetrics {
			value, ok, err := c.CloudWatch.MetricValue(ctx, metric.namespace, metric.metric, dimensions, metric.stat)
			if err != nil {
				c.logger().WithFields(logrus.Fields{
					"instance": instance.ID,
					"metric":   metric.metric,
				}).WithError(err).Warn("metric read failed")
				continue
			}
			if !ok {
				continue
			}
			if err := c.Sink.Set(metric.gauge, metric.help, labels, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// volumeGauges share one label schema across size, used, free and
// utilization.
const (
	volumeSizeGauge        = "ebs_volume_size_gb"
	volumeUsedGauge        = "ebs_volume_used_gb"
	volumeFreeGauge        = "ebs_volume_free_gb"
	volumeUtilizationGauge = "ebs_volume_utilization_percent"
)

// ebsMetrics are the per-volume CloudWatch reads.
var ebsMetrics = []struct {
	gauge  string
	help   string
	metric string
	stat   cwtypes.Statistic
}{
	{"ebs_volume_queue_length", "EBS volume queue length", "VolumeQueueLength", cwtypes.StatisticAverage},
	{"ebs_volume_read_ops", "EBS volume read operations", "VolumeReadOps", cwtypes.StatisticSum},
	{"ebs_volume_write_ops", "EBS volume write operations", "VolumeWriteOps", cwtypes.StatisticSum},
}

// CollectVolumeMetrics reconciles in-guest disk samples against each
// instance's EBS volumes and records capacity and usage gauges. Volumes
// without a matching sample get the flat 50% estimate; a volume attached
// to several of the listed instances is reported once.
func (c *InfraCollector) CollectVolumeMetrics(ctx context.Context) error {
	instances := c.instances
	if instances == nil {
		var err error
		instances, err = c.EC2.RunningInstances(ctx)
		if err != nil {
			return err
		}
	}

	processed := aggregate.NewSeen()
	for _, instance := range instances {
		samples, err := c.CloudWatch.EnhancedDiskSamples(ctx, instance.ID)
		if err != nil {
			c.logger().WithField("instance", instance.ID).
				WithError(err).Warn("enhanced disk metrics unavailable")
			samples = nil
		}
		volumes, err := c.EC2.VolumesForInstance(ctx, instance.ID)
		if err != nil {
			c.logger().WithField("instance", instance.ID).
				WithError(err).Error("volume listing failed, skipping instance")
			continue
		}

		for _, usage := range cloud.VolumeUsage(samples, volumes) {
			if !processed.Add(usage.VolumeID) {
				continue
			}
			if err := c.recordVolumeUsage(instance, usage); err != nil {
				return err
			}
		}

		for _, volume := range volumes {
			labels := volumeLabels(instance, volume.ID, volume.Type)
			dimensions := map[string]string{"VolumeId": volume.ID}
			for _, metric := range ebsMetrics {
				value, ok, err := c.CloudWatch.MetricValue(ctx, "AWS/EBS", metric.metric, dimensions, metric.stat)
				if err != nil {
					c.logger().WithFields(logrus.Fields{
						"volume": volume.ID,
						"metric": metric.metric,
					}).WithError(err).Warn("metric read failed")
					continue
				}
				if !ok {
					continue
				}
				if err := c.Sink.Set(metric.gauge, metric.help, labels, value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *InfraCollector) recordVolumeUsage(instance cloud.InstanceRecord, usage cloud.DiskUsage) error {
	labels := volumeLabels(instance, usage.VolumeID, usage.VolumeType)

	entry := c.logger().WithFields(logrus.Fields{
		"volume":   usage.VolumeID,
		"instance": instance.ID,
		"size":     humanize.IBytes(uint64(usage.SizeGB * cloud.BytesPerGB)),
	})
	if usage.Estimated {
		entry.Info("no disk sample matched, reporting estimated usage")
	} else {
		entry.WithField("device", usage.Device).Debug("reporting measured usage")
	}

	if err := c.Sink.Set(volumeSizeGauge, "EBS volume size in GB", labels, usage.SizeGB); err != nil {
		return err
	}
	if err := c.Sink.Set(volumeUsedGauge, "EBS volume used space in GB", labels, usage.UsedGB); err != nil {
		return err
	}
	if err := c.Sink.Set(volumeFreeGauge, "EBS volume free space in GB", labels, usage.FreeGB); err != nil {
		return err
	}
	return c.Sink.Set(volumeUtilizationGauge, "EBS volume utilization percent", labels, usage.Utilization)
}

func instanceLabels(instance cloud.InstanceRecord) prometheus.Labels {
	name := instance.Name
	if name == "" {
		name = "unnamed"
	}
	return prometheus.Labels{
		"instance_id":       instance.ID,
		"instance_type":     instance.Type,
		"availability_zone": instance.AvailabilityZone,
		"name":              name,
	}
}

func volumeLabels(instance cloud.InstanceRecord, volumeID, volumeType string) prometheus.Labels {
	name := instance.Name
	if name == "" {
		name = "unnamed"
	}
	return prometheus.Labels{
		"volume_id":     volumeID,
		"instance_id":   instance.ID,
		"instance_name": name,
		"volume_type":   volumeType,
	}
}
