package monitor

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"slowpress/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher ships the collected metrics snapshot to CloudWatch.
// Publishing is best effort: a failed put is logged, never propagated.
type CloudWatchPublisher struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchPublisher creates a publisher for the given namespace.
func NewCloudWatchPublisher(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchPublisher {
	return &CloudWatchPublisher{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// Publish emits one datum per metric in the snapshot.
func (p *CloudWatchPublisher) Publish(ctx context.Context, m types.Metrics) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String("ScheduledContentCount"),
				Value:      aws.Float64(float64(m.ScheduledContentCount)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("PublishedContentCount"),
				Value:      aws.Float64(float64(m.PublishedContentCount)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("ErrorCount"),
				Value:      aws.Float64(float64(m.ErrorCount)),
				Unit:       cwtypes.StandardUnitCount,
			},
			{
				MetricName: aws.String("ErrorRate"),
				Value:      aws.Float64(m.ErrorRate),
				Unit:       cwtypes.StandardUnitCountSecond,
			},
			{
				MetricName: aws.String("BatchProcessingTime"),
				Value:      aws.Float64(float64(m.BatchProcessingTime.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
			{
				MetricName: aws.String("AveragePublicationTime"),
				Value:      aws.Float64(float64(m.AveragePublicationTime.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
			},
		},
	}

	if _, err := p.client.PutMetricData(ctx, input); err != nil {
		p.logger.Error("failed to publish metrics",
			"error", err.Error(),
			"namespace", p.namespace,
		)
	}
}
