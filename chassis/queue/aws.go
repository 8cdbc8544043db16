package queue

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
)

// AWSQueue implementation
type AWSQueue struct {
	QueueURL string
	queue    *sqs.SQS
}

// InitAWSQueue ...
func InitAWSQueue(cfg Config) Client {
	ssn := session.Must(session.NewSession(&aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewSharedCredentials(cfg.CredentialsFile, cfg.CredentialsProfile),
		MaxRetries:  aws.Int(cfg.Retries),
	}))
	queue := sqs.New(ssn)
	URL := fmt.Sprintf("%s/%s", cfg.URL, cfg.Name)
	return &AWSQueue{
		queue:    queue,
		QueueURL: URL,
	}
}

// SendMessage ...
func (q AWSQueue) SendMessage(ctx context.Context, message string) error {
	msg := &sqs.SendMessageInput{
		MessageBody:  aws.String(message),    // Required
		QueueUrl:     aws.String(q.QueueURL), // Required
		DelaySeconds: aws.Int64(0),
	}
	sendResponse, err := q.queue.SendMessageWithContext(ctx, msg)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"event": "send_message",
		"queue": "aws_sqs",
	}).Debug(*sendResponse.MessageId)
	return nil
}
