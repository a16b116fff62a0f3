package resume

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Continuation hands resume messages to a durable channel that triggers a
// later invocation.
type Continuation interface {
	Continue(ctx context.Context, msgs []Message) error
}

// Appender is the durable local queue behind JournalContinuation.
type Appender interface {
	Append(v any) (uint64, error)
}

// JournalContinuation writes resume messages to a local journal drained by
// the server's continuation worker.
type JournalContinuation struct {
	journal Appender
}

// NewJournalContinuation returns a continuation writing to j.
func NewJournalContinuation(j Appender) *JournalContinuation {
	return &JournalContinuation{journal: j}
}

func (c *JournalContinuation) Continue(_ context.Context, msgs []Message) error {
	for _, m := range msgs {
		if _, err := c.journal.Append(m); err != nil {
			return fmt.Errorf("resume: journal continuation for %s: %w", m.InputID, err)
		}
	}
	return nil
}

// SQSAPI is the subset of the SQS client used to send messages.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSContinuation sends one message per resume message to a continuing queue.
type SQSContinuation struct {
	api      SQSAPI
	queueURL string
}

// NewSQSContinuation returns a continuation sending to queueURL through api.
func NewSQSContinuation(api SQSAPI, queueURL string) *SQSContinuation {
	return &SQSContinuation{api: api, queueURL: queueURL}
}

// Continue sends every message even after a failure and returns the joined
// errors.
func (c *SQSContinuation) Continue(ctx context.Context, msgs []Message) error {
	var errs []error
	for _, m := range msgs {
		_, err := c.api.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:          aws.String(c.queueURL),
			MessageBody:       aws.String(m.Body),
			MessageAttributes: sqsAttributes(m.Attributes()),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("resume: send continuation for %s: %w", m.InputID, err))
			continue
		}
		log.Printf("resume: continuing %s from offset %d on %s", m.InputID, m.LastEndingOffset, c.queueURL)
	}
	return errors.Join(errs...)
}

func sqsAttributes(attrs map[string]string) map[string]types.MessageAttributeValue {
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		dataType := "String"
		if IsNumeric(k) {
			dataType = "Number"
		}
		out[k] = types.MessageAttributeValue{
			DataType:    aws.String(dataType),
			StringValue: aws.String(v),
		}
	}
	return out
}
