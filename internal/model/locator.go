package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// SourceKind identifies which kind of origin produced a payload.
type SourceKind string

const (
	SourceS3         SourceKind = "s3"
	SourceSQS        SourceKind = "sqs"
	SourceCloudWatch SourceKind = "cloudwatch_logs"
	SourceKinesis    SourceKind = "kinesis"
	SourcePayload    SourceKind = "payload"
)

// SourceLocator identifies the origin of a payload uniquely.
// It is immutable once a unit of work begins.
type SourceLocator struct {
	Kind   SourceKind `json:"kind"`
	Region string     `json:"region,omitempty"`
	// Account is the cloud account id owning the source, when known.
	Account string `json:"account,omitempty"`

	Bucket    string `json:"bucket,omitempty"`
	BucketARN string `json:"bucket_arn,omitempty"`
	Key       string `json:"key,omitempty"`

	LogGroup  string `json:"log_group,omitempty"`
	LogStream string `json:"log_stream,omitempty"`
	EventID   string `json:"event_id,omitempty"`

	Queue     string `json:"queue,omitempty"`
	QueueURL  string `json:"queue_url,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	StreamType     string `json:"stream_type,omitempty"`
	StreamName     string `json:"stream_name,omitempty"`
	StreamARN      string `json:"stream_arn,omitempty"`
	SequenceNumber string `json:"sequence_number,omitempty"`

	PayloadID string `json:"payload_id,omitempty"`
}

// Identity returns the stable string that names the source for deduplication.
func (l SourceLocator) Identity() string {
	switch l.Kind {
	case SourceS3:
		return l.BucketARN + l.Key
	case SourceSQS:
		return l.Queue + l.MessageID
	case SourceCloudWatch:
		return l.LogGroup + l.LogStream + l.EventID
	case SourceKinesis:
		return l.StreamType + l.StreamName + "-" + l.SequenceNumber
	default:
		return string(l.Kind) + l.PayloadID
	}
}

// Path returns the human readable location stored as log.file.path.
func (l SourceLocator) Path() string {
	switch l.Kind {
	case SourceS3:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", l.Bucket, l.Region, l.Key)
	case SourceSQS:
		if l.QueueURL != "" {
			return l.QueueURL
		}
		return l.Queue
	case SourceCloudWatch:
		return l.LogGroup + "/" + l.LogStream
	case SourceKinesis:
		return l.StreamARN
	default:
		return l.PayloadID
	}
}

// DeliveryKey derives the deterministic backend document id for a record
// starting at offset. Identical (locator, offset) pairs always yield the same key.
func DeliveryKey(l SourceLocator, offset Offset) string {
	sum := sha256.Sum256([]byte(l.Identity()))
	return fmt.Sprintf("%s-%012d", hex.EncodeToString(sum[:])[:10], offset)
}

// ExpandedDeliveryKey derives the id for the n-th element of a JSON array
// that shares its enclosing record's offset.
func ExpandedDeliveryKey(l SourceLocator, offset Offset, n int) string {
	return fmt.Sprintf("%s-%06d", DeliveryKey(l, offset), n)
}
