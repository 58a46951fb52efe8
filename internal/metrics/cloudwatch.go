package metrics

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI is the subset of the CloudWatch client used here.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// RetentionSummary is what a retention run reports to CloudWatch.
type RetentionSummary struct {
	Deleted  int64
	Tenants  int
	Failures int
}

// CloudWatchPublisher pushes retention summaries under a namespace.
type CloudWatchPublisher struct {
	client    CloudWatchAPI
	namespace string
}

func NewCloudWatchPublisher(client CloudWatchAPI, namespace string) *CloudWatchPublisher {
	return &CloudWatchPublisher{client: client, namespace: namespace}
}

// PublishRetention emits DeletedEvents, TenantsProcessed and TenantErrors in
// one PutMetricData call.
func (p *CloudWatchPublisher) PublishRetention(ctx context.Context, s RetentionSummary) error {
	dims := []cwtypes.Dimension{{Name: aws.String("Job"), Value: aws.String("retention")}}
	datum := func(name string, v float64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Value:      aws.Float64(v),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		}
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []cwtypes.MetricDatum{
			datum("DeletedEvents", float64(s.Deleted)),
			datum("TenantsProcessed", float64(s.Tenants)),
			datum("TenantErrors", float64(s.Failures)),
		},
	})
	if err != nil {
		return fmt.Errorf("put retention metrics: %w", err)
	}
	return nil
}
