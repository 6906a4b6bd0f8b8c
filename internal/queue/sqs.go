package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	defaultSQSRegion         = "us-east-1"
	defaultVisibilitySeconds = 1200
	sqsMaxMessages           = 10
	sqsWaitSeconds           = 20
	receiveCountAttribute    = "ApproximateReceiveCount"
)

// SQSOptions configures the SQS backend.
type SQSOptions struct {
	QueueURL          string
	Region            string
	VisibilitySeconds int
	WaitSeconds       int
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSClient sends and receives queue messages on AWS SQS.
type SQSClient struct {
	client            sqsAPI
	queueURL          string
	visibilitySeconds int
	waitSeconds       int
}

// NewSQSClient constructs an SQS-backed queue client.
func NewSQSClient(ctx context.Context, opts SQSOptions) (*SQSClient, error) {
	if strings.TrimSpace(opts.QueueURL) == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = defaultSQSRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newSQSWithClient(sqs.NewFromConfig(cfg), opts), nil
}

func newSQSWithClient(client sqsAPI, opts SQSOptions) *SQSClient {
	visibility := opts.VisibilitySeconds
	if visibility <= 0 {
		visibility = defaultVisibilitySeconds
	}
	wait := opts.WaitSeconds
	if wait <= 0 {
		wait = sqsWaitSeconds
	}
	return &SQSClient{
		client:            client,
		queueURL:          strings.TrimSpace(opts.QueueURL),
		visibilitySeconds: visibility,
		waitSeconds:       min(wait, sqsWaitSeconds),
	}
}

// Send delivers a message to the configured SQS queue.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to ten messages.
func (s *SQSClient) Receive(ctx context.Context) ([]Delivery, error) {
	resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: sqsMaxMessages,
		WaitTimeSeconds:     int32(s.waitSeconds),
		VisibilityTimeout:   int32(s.visibilitySeconds),
		AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName(receiveCountAttribute)},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	out := make([]Delivery, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		receipt := aws.ToString(m.ReceiptHandle)
		out = append(out, NewDelivery(aws.ToString(m.MessageId), aws.ToString(m.Body), ReceiveCount(m.Attributes), func(ctx context.Context) error {
			return s.Delete(ctx, receipt)
		}))
	}
	return out, nil
}

// Delete removes a message by receipt handle.
func (s *SQSClient) Delete(ctx context.Context, receipt string) error {
	if receipt == "" {
		return fmt.Errorf("missing receipt handle")
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

// Ping reads a queue attribute to confirm the queue is reachable.
func (s *SQSClient) Ping(ctx context.Context) error {
	_, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(s.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
	})
	return err
}

// ReceiveCount parses ApproximateReceiveCount, returning 0 when absent.
func ReceiveCount(attrs map[string]string) int {
	if attrs == nil {
		return 0
	}
	raw := attrs[receiveCountAttribute]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

var (
	_ Client   = (*SQSClient)(nil)
	_ Consumer = (*SQSClient)(nil)
	_ Pinger   = (*SQSClient)(nil)
)
