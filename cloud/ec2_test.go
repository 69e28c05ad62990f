package cloud

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	instancePages []*ec2.DescribeInstancesOutput
	volumes       *ec2.DescribeVolumesOutput
	instanceCalls int
}

func (f *fakeEC2) DescribeInstances(_ context.Context, _ *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	page := f.instancePages[f.instanceCalls]
	f.instanceCalls++
	return page, nil
}

func (f *fakeEC2) DescribeVolumes(_ context.Context, _ *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	return f.volumes, nil
}

func newTestEC2(api EC2API) *EC2Service {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	service := NewEC2Service(api, logger, time.Minute)
	service.policy.Sleep = func(time.Duration) {}
	return service
}

func TestRunningInstances(t *testing.T) {
	launch := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := &fakeEC2{
		instancePages: []*ec2.DescribeInstancesOutput{
			{
				Reservations: []ec2types.Reservation{
					{
						Instances: []ec2types.Instance{
							{
								InstanceId:   aws.String("i-1"),
								InstanceType: ec2types.InstanceTypeT3Medium,
								LaunchTime:   aws.Time(launch),
								Placement:    &ec2types.Placement{AvailabilityZone: aws.String("eu-central-1a")},
								Tags: []ec2types.Tag{
									{Key: aws.String("Name"), Value: aws.String("portal")},
								},
							},
						},
					},
				},
				NextToken: aws.String("more"),
			},
			{
				Reservations: []ec2types.Reservation{
					{
						Instances: []ec2types.Instance{
							{InstanceId: aws.String("i-2"), InstanceType: ec2types.InstanceTypeM5Large},
						},
					},
				},
			},
		},
	}

	instances, err := newTestEC2(fake).RunningInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, 2, fake.instanceCalls)

	assert.Equal(t, "i-1", instances[0].ID)
	assert.Equal(t, "t3.medium", instances[0].Type)
	assert.Equal(t, "eu-central-1a", instances[0].AvailabilityZone)
	assert.Equal(t, "portal", instances[0].Name)
	assert.Equal(t, launch, instances[0].LaunchTime)
	assert.Equal(t, "i-2", instances[1].ID)
}

func TestVolumesForInstance(t *testing.T) {
	fake := &fakeEC2{
		volumes: &ec2.DescribeVolumesOutput{
			Volumes: []ec2types.Volume{
				{
					VolumeId:   aws.String("vol-1"),
					Size:       aws.Int32(100),
					VolumeType: ec2types.VolumeTypeGp3,
					State:      ec2types.VolumeStateInUse,
				},
				{
					VolumeId:   aws.String("vol-2"),
					Size:       aws.Int32(50),
					VolumeType: ec2types.VolumeTypeGp2,
					State:      ec2types.VolumeStateAvailable,
				},
			},
		},
	}

	volumes, err := newTestEC2(fake).VolumesForInstance(context.Background(), "i-1")
	require.NoError(t, err)
	// Detached volumes are excluded.
	require.Len(t, volumes, 1)
	assert.Equal(t, "vol-1", volumes[0].ID)
	assert.Equal(t, int32(100), volumes[0].SizeGB)
	assert.Equal(t, "gp3", volumes[0].Type)
	assert.Equal(t, "in-use", volumes[0].State)
}
