package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the part of the SNS client the topic publisher uses
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// TopicPublisher forwards events as JSON to an SNS topic for downstream consumers
type TopicPublisher struct {
	client   SNSAPI
	topicARN string
}

// NewTopicPublisher creates an SNS sender for topicARN
func NewTopicPublisher(client SNSAPI, topicARN string) *TopicPublisher {
	return &TopicPublisher{client: client, topicARN: topicARN}
}

func (p *TopicPublisher) Name() string {
	return "sns"
}

func (p *TopicPublisher) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(truncate(event.Subject, 100)),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(event.Type))},
			"user_id":    {DataType: aws.String("String"), StringValue: aws.String(event.UserID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish to topic: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
