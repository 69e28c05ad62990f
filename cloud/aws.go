// Package cloud provides the AWS side of the exporter: EC2 instance and
// EBS volume enumeration, CloudWatch metric reads, and the reconciliation
// heuristic that matches in-guest disk usage samples (reported by device
// name) to EBS volumes (identified by volume ID).
//
// The two namespaces never share an identifier — the CloudWatch agent
// reports devices like /dev/xvdf with no volume ID, while the EC2 API
// reports volume IDs with no device name — so the matching is approximate
// by design, based on nearest volume size. Consumers of the resulting
// gauges can recognize estimated values by the exact 50.0 utilization the
// fallback path emits.
package cloud

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"dashboard.sw360.org/retry"
)

// Retry bounds for AWS API calls. Tighter than the document store bounds:
// CloudWatch throttling clears quickly and a scheduled run should not park
// for minutes on one API.
const (
	MaxAPIRetries = 5
	MaxAPITime    = 60 * time.Second
)

// DefaultRetryPolicy returns the backoff policy for AWS API calls.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: MaxAPIRetries,
		MaxElapsed:  MaxAPITime,
		BaseDelay:   time.Second,
	}
}

// DefaultRegion is used when no region is configured anywhere.
const DefaultRegion = "eu-central-1"

// LoadAWSConfig builds the SDK configuration. Static credentials from the
// environment take precedence; otherwise the default chain (IAM role,
// shared config) applies.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = DefaultRegion
	}

	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	sessionToken := os.Getenv("AWS_SESSION_TOKEN")

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, sessionToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg, nil
}

// NewEC2Client creates an EC2 client from the configuration.
func NewEC2Client(cfg aws.Config) *ec2.Client {
	return ec2.NewFromConfig(cfg)
}

// NewCloudWatchClient creates a CloudWatch client from the configuration.
func NewCloudWatchClient(cfg aws.Config) *cloudwatch.Client {
	return cloudwatch.NewFromConfig(cfg)
}
