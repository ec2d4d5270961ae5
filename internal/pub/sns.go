package pub

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

const (
	EventAttrName       = "event"
	ContentTypeAttrName = "content-type"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type snsPub struct{ cli SNSAPI }

func NewSNS(c SNSAPI) *snsPub { return &snsPub{cli: c} }

// Publish sends payload to the topic arn; the event name travels as a message
// attribute so subscribers can filter on it.
func (s *snsPub) Publish(ctx context.Context, arn string, event string, payload []byte) error {
	_, err := s.cli.Publish(ctx, &sns.PublishInput{
		TopicArn: &arn,
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			ContentTypeAttrName: {DataType: aws.String("String"), StringValue: aws.String("application/json")},
			EventAttrName:       {DataType: aws.String("String"), StringValue: aws.String(event)},
		},
	})
	return err
}
