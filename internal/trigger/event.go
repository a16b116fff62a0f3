// Package trigger classifies invocation events and turns them into units of
// work: one source, where to read it, and where to resume.
package trigger

import (
	"strings"
)

// Event is the envelope of an invocation. Queue and stream triggers carry
// Records; CloudWatch Logs subscriptions carry AWSLogs.
type Event struct {
	Records []Record `json:"Records,omitempty"`
	AWSLogs *AWSLogs `json:"awslogs,omitempty"`
	// Event wraps AWSLogs when the subscription payload is nested.
	Event *struct {
		AWSLogs *AWSLogs `json:"awslogs,omitempty"`
	} `json:"event,omitempty"`
}

// AWSLogs holds a base64 encoded, gzip compressed subscription payload.
type AWSLogs struct {
	Data string `json:"data"`
}

// Record is one SQS message or Kinesis record.
type Record struct {
	EventSource       string                      `json:"eventSource"`
	EventSourceARN    string                      `json:"eventSourceARN"`
	AWSRegion         string                      `json:"awsRegion,omitempty"`
	MessageID         string                      `json:"messageId,omitempty"`
	Body              string                      `json:"body,omitempty"`
	MessageAttributes map[string]MessageAttribute `json:"messageAttributes,omitempty"`
	Kinesis           *KinesisRecord              `json:"kinesis,omitempty"`
}

// MessageAttribute is an SQS message attribute as delivered to the handler.
type MessageAttribute struct {
	StringValue *string `json:"stringValue,omitempty"`
	DataType    string  `json:"dataType"`
}

// KinesisRecord is the payload of a Kinesis record.
type KinesisRecord struct {
	Data           string `json:"data"`
	SequenceNumber string `json:"sequenceNumber"`
	PartitionKey   string `json:"partitionKey,omitempty"`
}

// attributes flattens the string values of the message attributes.
func (r Record) attributes() map[string]string {
	out := make(map[string]string, len(r.MessageAttributes))
	for k, v := range r.MessageAttributes {
		if v.StringValue != nil {
			out[k] = *v.StringValue
		}
	}
	return out
}

type s3Notification struct {
	Records []s3Record `json:"Records"`
}

type s3Record struct {
	EventSource string `json:"eventSource"`
	AWSRegion   string `json:"awsRegion"`
	EventName   string `json:"eventName,omitempty"`
	S3          struct {
		Bucket struct {
			Name string `json:"name"`
			ARN  string `json:"arn"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size,omitempty"`
		} `json:"object"`
	} `json:"s3"`
}

type cloudWatchPayload struct {
	MessageType string `json:"messageType"`
	Owner       string `json:"owner"`
	LogGroup    string `json:"logGroup"`
	LogStream   string `json:"logStream"`
	LogEvents   []struct {
		ID        string `json:"id"`
		Timestamp int64  `json:"timestamp"`
		Message   string `json:"message"`
	} `json:"logEvents"`
}

// arn is a parsed Amazon resource name.
type arn struct {
	Service  string
	Region   string
	Account  string
	Resource string
}

func parseARN(s string) (arn, bool) {
	parts := strings.SplitN(s, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return arn{}, false
	}
	return arn{Service: parts[2], Region: parts[3], Account: parts[4], Resource: parts[5]}, true
}

// queueURL derives the SQS queue URL from the queue ARN.
func (a arn) queueURL() string {
	return "https://sqs." + a.Region + ".amazonaws.com/" + a.Account + "/" + a.Resource
}

// stream splits a Kinesis resource of the form stream/name.
func (a arn) stream() (typ, name string) {
	typ, name, ok := strings.Cut(a.Resource, "/")
	if !ok {
		return "", a.Resource
	}
	return typ, name
}
