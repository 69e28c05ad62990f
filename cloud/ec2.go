package cloud

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/retry"
)

// EC2API is the subset of the EC2 client the exporter needs.
type EC2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeVolumes(ctx context.Context, in *ec2.DescribeVolumesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error)
}

// InstanceRecord is a running EC2 instance reduced to the fields the
// exporter reports on.
type InstanceRecord struct {
	ID               string
	Type             string
	AvailabilityZone string
	LaunchTime       time.Time
	Name             string
}

// VolumeRecord is an EBS volume reduced to what the reconciler and the
// volume gauges need.
type VolumeRecord struct {
	ID     string
	SizeGB int32
	Type   string
	State  string
}

// EC2Service wraps the EC2 API with retry and logging.
type EC2Service struct {
	api     EC2API
	policy  retry.Policy
	logger  *logrus.Logger
	timeout time.Duration
}

// NewEC2Service creates an EC2Service around the given API client.
func NewEC2Service(api EC2API, logger *logrus.Logger, timeout time.Duration) *EC2Service {
	policy := DefaultRetryPolicy()
	policy.Logger = logger
	return &EC2Service{
		api:     api,
		policy:  policy,
		logger:  logger,
		timeout: timeout,
	}
}

func (s *EC2Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// RunningInstances lists all instances in the running state.
func (s *EC2Service) RunningInstances(ctx context.Context) ([]InstanceRecord, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{
				Name:   aws.String("instance-state-name"),
				Values: []string{"running"},
			},
		},
	}

	var instances []InstanceRecord
	for {
		var out *ec2.DescribeInstancesOutput
		err := s.policy.Do("describe instances", IsThrottle, func() error {
			var callErr error
			out, callErr = s.api.DescribeInstances(opCtx, input)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		for _, reservation := range out.Reservations {
			for _, instance := range reservation.Instances {
				instances = append(instances, instanceRecord(instance))
			}
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}

	s.logger.WithField("instances", len(instances)).Info("discovered running instances")
	return instances, nil
}

// VolumesForInstance lists the EBS volumes attached to the instance.
// Only volumes in the in-use state are returned.
func (s *EC2Service) VolumesForInstance(ctx context.Context, instanceID string) ([]VolumeRecord, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	input := &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{
			{
				Name:   aws.String("attachment.instance-id"),
				Values: []string{instanceID},
			},
		},
	}

	var volumes []VolumeRecord
	for {
		var out *ec2.DescribeVolumesOutput
		err := s.policy.Do("describe volumes", IsThrottle, func() error {
			var callErr error
			out, callErr = s.api.DescribeVolumes(opCtx, input)
			return callErr
		})
		if err != nil {
			return nil, err
		}
		for _, volume := range out.Volumes {
			if volume.State != ec2types.VolumeStateInUse {
				continue
			}
			volumes = append(volumes, VolumeRecord{
				ID:     aws.ToString(volume.VolumeId),
				SizeGB: aws.ToInt32(volume.Size),
				Type:   string(volume.VolumeType),
				State:  string(volume.State),
			})
		}
		if out.NextToken == nil {
			break
		}
		input.NextToken = out.NextToken
	}
	return volumes, nil
}

func instanceRecord(instance ec2types.Instance) InstanceRecord {
	record := InstanceRecord{
		ID:   aws.ToString(instance.InstanceId),
		Type: string(instance.InstanceType),
	}
	if instance.Placement != nil {
		record.AvailabilityZone = aws.ToString(instance.Placement.AvailabilityZone)
	}
	if instance.LaunchTime != nil {
		record.LaunchTime = *instance.LaunchTime
	}
	for _, tag := range instance.Tags {
		if aws.ToString(tag.Key) == "Name" {
			record.Name = aws.ToString(tag.Value)
			break
		}
	}
	return record
}
