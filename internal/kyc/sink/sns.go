package sink

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"kyc-intake/internal/kyc/models"
)

// SNSPublisher is the slice of *sns.Client the sink needs.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSink fans submissions out through an SNS topic. Message attributes let
// subscribers filter without parsing the body.
type SNSSink struct {
	client   SNSPublisher
	topicARN string
}

func NewSNSSink(client SNSPublisher, topicARN string) *SNSSink {
	return &SNSSink{client: client, topicARN: topicARN}
}

func (s *SNSSink) Name() string {
	return "sns"
}

func (s *SNSSink) Deliver(ctx context.Context, sub *models.Submission) error {
	body, err := encodeSubmission(sub, false)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String("Company KYC submission"),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"business_type": {DataType: aws.String("String"), StringValue: aws.String(businessTypeAttr(sub))},
			"gst_status":    {DataType: aws.String("String"), StringValue: aws.String(string(sub.GST.Status))},
		},
	})
	if err != nil {
		return fmt.Errorf("publish submission: %w", err)
	}
	return nil
}

// SNS rejects empty string attribute values.
func businessTypeAttr(sub *models.Submission) string {
	if sub.Form.BusinessType == models.BusinessTypeUnset {
		return "unset"
	}
	return string(sub.Form.BusinessType)
}
