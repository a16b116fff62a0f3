package trigger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tinytelemetry/ferry/internal/model"
	"github.com/tinytelemetry/ferry/internal/resume"
	"github.com/tinytelemetry/ferry/internal/shipper"
	"github.com/tinytelemetry/ferry/internal/storage"
)

// Kind is the input type a unit is configured by.
type Kind string

const (
	KindS3SQS      Kind = "s3-sqs"
	KindSQS        Kind = "sqs"
	KindCloudWatch Kind = "cloudwatch-logs"
	KindKinesis    Kind = "kinesis-data-stream"
	// KindReplay units carry one already enriched event to write again.
	KindReplay Kind = "replay-sqs"
)

// ErrUnsupportedTrigger is returned for events no route understands.
var ErrUnsupportedTrigger = errors.New("trigger: unsupported trigger")

// Unit is one source to process within an invocation.
type Unit struct {
	Kind    Kind
	InputID string
	Locator model.SourceLocator
	Origin  storage.Origin

	RangeStart   model.Offset
	SkipExpanded int
	JSONState    model.JSONState

	// Body is the unit of work as a resume message carries it.
	Body string
	// Config is the input configuration a continuation travelled with.
	Config string

	Replay *shipper.ReplayPayload
}

// Token returns the resume position the unit starts at.
func (u Unit) Token() model.ResumeToken {
	return model.ResumeToken{
		Locator:             u.Locator,
		LastEndingOffset:    u.RangeStart,
		PositionWithinBatch: u.SkipExpanded,
		JSONState:           u.JSONState,
	}
}

// Continuing reports whether the unit resumes earlier work.
func (u Unit) Continuing() bool {
	return u.RangeStart > 0 || u.SkipExpanded > 0
}

// Router turns invocation events into units.
type Router struct {
	objects storage.ObjectAPI
	region  string
}

// NewRouter returns a router reading S3 objects through objects. region is
// used when an event does not name one.
func NewRouter(objects storage.ObjectAPI, region string) *Router {
	return &Router{objects: objects, region: region}
}

// Route parses raw and returns its units in processing order.
func (r *Router) Route(ctx context.Context, raw []byte) ([]Unit, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedTrigger, err)
	}

	logs := ev.AWSLogs
	if logs == nil && ev.Event != nil {
		logs = ev.Event.AWSLogs
	}
	if logs != nil && logs.Data != "" {
		return r.cloudWatch(ctx, logs.Data)
	}
	if len(ev.Records) == 0 {
		return nil, ErrUnsupportedTrigger
	}

	var units []Unit
	for i, rec := range ev.Records {
		var (
			us  []Unit
			err error
		)
		switch rec.EventSource {
		case "aws:sqs":
			us, err = r.sqs(rec)
		case "aws:kinesis":
			us, err = r.kinesis(rec)
		default:
			err = fmt.Errorf("%w: record %d has event source %q", ErrUnsupportedTrigger, i, rec.EventSource)
		}
		if err != nil {
			return nil, err
		}
		units = append(units, us...)
	}
	return units, nil
}

func (r *Router) cloudWatch(ctx context.Context, data string) ([]Unit, error) {
	decoded, err := storage.ReadAll(ctx, storage.NewPayloadOrigin(data))
	if err != nil {
		return nil, fmt.Errorf("trigger: decode awslogs data: %w", err)
	}
	var payload cloudWatchPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("trigger: parse awslogs data: %w", err)
	}
	if payload.MessageType == "CONTROL_MESSAGE" {
		log.Printf("trigger: ignoring cloudwatch logs control message")
		return nil, nil
	}

	inputID := fmt.Sprintf("arn:aws:logs:%s:%s:log-group:%s:*", r.region, payload.Owner, payload.LogGroup)
	units := make([]Unit, 0, len(payload.LogEvents))
	for _, le := range payload.LogEvents {
		units = append(units, Unit{
			Kind:    KindCloudWatch,
			InputID: inputID,
			Locator: model.SourceLocator{
				Kind:      model.SourceCloudWatch,
				Region:    r.region,
				Account:   payload.Owner,
				LogGroup:  payload.LogGroup,
				LogStream: payload.LogStream,
				EventID:   le.ID,
			},
			Origin: storage.NewBytesOrigin([]byte(le.Message)),
			Body:   le.Message,
		})
	}
	return units, nil
}

func (r *Router) kinesis(rec Record) ([]Unit, error) {
	if rec.Kinesis == nil {
		return nil, fmt.Errorf("%w: kinesis record without data", ErrUnsupportedTrigger)
	}
	a, _ := parseARN(rec.EventSourceARN)
	typ, name := a.stream()
	return []Unit{{
		Kind:    KindKinesis,
		InputID: rec.EventSourceARN,
		Locator: model.SourceLocator{
			Kind:           model.SourceKinesis,
			Region:         firstNonEmpty(rec.AWSRegion, a.Region, r.region),
			Account:        a.Account,
			StreamType:     typ,
			StreamName:     name,
			StreamARN:      rec.EventSourceARN,
			SequenceNumber: rec.Kinesis.SequenceNumber,
		},
		Origin: storage.NewPayloadOrigin(rec.Kinesis.Data),
		Body:   rec.Kinesis.Data,
	}}, nil
}

func (r *Router) sqs(rec Record) ([]Unit, error) {
	attrs := rec.attributes()

	if replay, ok := parseReplay(rec.Body); ok {
		return []Unit{{
			Kind:    KindReplay,
			InputID: replay.EventInputID,
			Locator: replay.Event.Locator,
			Body:    rec.Body,
			Config:  attrs[resume.AttrConfig],
			Replay:  replay,
		}}, nil
	}

	if msg, ok := resume.FromAttributes(rec.Body, attrs); ok {
		return r.continuation(rec, msg)
	}

	queue, _ := parseARN(rec.EventSourceARN)
	if notif, ok := parseS3Notification(rec.Body); ok {
		return r.s3Units(rec.EventSourceARN, queue.Account, notif, resume.Message{})
	}
	return []Unit{r.sqsUnit(rec, queue, rec.MessageID)}, nil
}

func (r *Router) sqsUnit(rec Record, queue arn, messageID string) Unit {
	return Unit{
		Kind:    KindSQS,
		InputID: rec.EventSourceARN,
		Locator: model.SourceLocator{
			Kind:      model.SourceSQS,
			Region:    firstNonEmpty(queue.Region, rec.AWSRegion, r.region),
			Account:   queue.Account,
			Queue:     queue.Resource,
			QueueURL:  queue.queueURL(),
			MessageID: messageID,
		},
		Origin: storage.NewBytesOrigin([]byte(rec.Body)),
		Body:   rec.Body,
	}
}

// continuation rebuilds the unit a resume message was emitted for. The
// message's source ARN names the original input, not the continuing queue.
func (r *Router) continuation(rec Record, msg resume.Message) ([]Unit, error) {
	source, ok := parseARN(msg.InputID)
	if !ok {
		return nil, fmt.Errorf("%w: continuation with invalid source %q", ErrUnsupportedTrigger, msg.InputID)
	}

	var u Unit
	switch source.Service {
	case "logs":
		u = Unit{
			Kind:    KindCloudWatch,
			InputID: msg.InputID,
			Locator: model.SourceLocator{
				Kind:      model.SourceCloudWatch,
				Region:    source.Region,
				Account:   source.Account,
				LogGroup:  msg.LogGroup,
				LogStream: msg.LogStream,
				EventID:   msg.EventID,
			},
			Origin: storage.NewBytesOrigin([]byte(msg.Body)),
			Body:   msg.Body,
		}
	case "kinesis":
		typ, name := source.stream()
		u = Unit{
			Kind:    KindKinesis,
			InputID: msg.InputID,
			Locator: model.SourceLocator{
				Kind:           model.SourceKinesis,
				Region:         source.Region,
				Account:        source.Account,
				StreamType:     typ,
				StreamName:     name,
				StreamARN:      msg.InputID,
				SequenceNumber: msg.SequenceNumber,
			},
			Origin: storage.NewPayloadOrigin(msg.Body),
			Body:   msg.Body,
		}
	case "sqs":
		if notif, ok := parseS3Notification(msg.Body); ok {
			return r.s3Units(msg.InputID, source.Account, notif, msg)
		}
		messageID := msg.MessageID
		if messageID == "" {
			messageID = rec.MessageID
		}
		original := rec
		original.EventSourceARN = msg.InputID
		u = r.sqsUnit(original, source, messageID)
	default:
		return nil, fmt.Errorf("%w: continuation for service %q", ErrUnsupportedTrigger, source.Service)
	}
	u.RangeStart = msg.LastEndingOffset
	u.SkipExpanded = msg.LastExpandedOffset
	u.JSONState = msg.JSONState
	u.Config = msg.Config
	return []Unit{u}, nil
}

// s3Units returns one unit per notified object. The resume position of from
// only applies to the first object: continuations carry a single record.
func (r *Router) s3Units(inputID, account string, notif s3Notification, from resume.Message) ([]Unit, error) {
	if r.objects == nil {
		return nil, errors.New("trigger: s3 notification received but no s3 client is configured")
	}
	units := make([]Unit, 0, len(notif.Records))
	for i, rec := range notif.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("trigger: object key %q: %w", rec.S3.Object.Key, err)
		}
		bucketARN := rec.S3.Bucket.ARN
		if bucketARN == "" {
			bucketARN = "arn:aws:s3:::" + rec.S3.Bucket.Name
		}
		body, err := json.Marshal(s3Notification{Records: []s3Record{rec}})
		if err != nil {
			return nil, fmt.Errorf("trigger: marshal s3 record: %w", err)
		}
		u := Unit{
			Kind:    KindS3SQS,
			InputID: inputID,
			Locator: model.SourceLocator{
				Kind:      model.SourceS3,
				Region:    firstNonEmpty(rec.AWSRegion, r.region),
				Account:   account,
				Bucket:    storage.BucketNameFromARN(bucketARN),
				BucketARN: bucketARN,
				Key:       key,
			},
			Origin: storage.NewS3Origin(r.objects, storage.BucketNameFromARN(bucketARN), key),
			Body:   string(body),
			Config: from.Config,
		}
		if i == 0 {
			u.RangeStart = from.LastEndingOffset
			u.SkipExpanded = from.LastExpandedOffset
			u.JSONState = from.JSONState
		}
		units = append(units, u)
	}
	return units, nil
}

func parseS3Notification(body string) (s3Notification, bool) {
	if !strings.HasPrefix(strings.TrimSpace(body), "{") {
		return s3Notification{}, false
	}
	var n s3Notification
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		return s3Notification{}, false
	}
	if len(n.Records) == 0 || n.Records[0].EventSource != "aws:s3" {
		return s3Notification{}, false
	}
	return n, true
}

func parseReplay(body string) (*shipper.ReplayPayload, bool) {
	if !strings.Contains(body, `"output_type"`) || !strings.Contains(body, `"event_payload"`) {
		return nil, false
	}
	var p shipper.ReplayPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil || p.OutputType == "" {
		return nil, false
	}
	return &p, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
