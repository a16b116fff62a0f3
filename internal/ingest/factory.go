package ingest

import (
	"strings"
	"time"

	"github.com/tinytelemetry/ferry/internal/logparse"
	"github.com/tinytelemetry/ferry/internal/model"
)

// Meta carries invocation-scoped metadata stamped on every event.
type Meta struct {
	InputID      string
	InvocationID string
}

// EventFactory converts logical records into canonical events.
type EventFactory struct {
	now func() time.Time
}

// NewEventFactory returns a factory stamping events with now. A nil clock
// uses time.Now.
func NewEventFactory(now func() time.Time) *EventFactory {
	if now == nil {
		now = time.Now
	}
	return &EventFactory{now: now}
}

// Build converts rec into an Event. The timestamp is the conversion time;
// producer timestamps found in JSON documents go to log.origin_time.
// The offset is the start of the record's span, End - Length.
func (f *EventFactory) Build(rec model.LogicalRecord, loc model.SourceLocator, meta Meta) model.Event {
	message := strings.ToValidUTF8(string(rec.Payload), "\uFFFD")
	offset := rec.Start()

	logFields := map[string]any{
		"offset": offset,
		"file":   map[string]any{"path": loc.Path()},
		"level":  severity(rec.JSON, message),
	}
	var service string
	if doc, ok := rec.JSON.(map[string]any); ok {
		if ts, ok := extractOriginTime(doc); ok {
			logFields["origin_time"] = ts.UTC().Format(time.RFC3339Nano)
		}
		service = extractStringField(doc, serviceKeys...)
	}

	cloud := map[string]any{"provider": "aws"}
	if loc.Region != "" {
		cloud["region"] = loc.Region
	}
	if loc.Account != "" {
		cloud["account"] = map[string]any{"id": loc.Account}
	}

	fields := map[string]any{
		"message": message,
		"log":     logFields,
		"aws":     awsFields(loc),
		"cloud":   cloud,
	}
	if service != "" {
		fields["service"] = map[string]any{"name": service}
	}
	if meta.InputID != "" || meta.InvocationID != "" {
		fields["agent"] = map[string]any{"input_id": meta.InputID, "invocation_id": meta.InvocationID}
	}

	return model.Event{
		Timestamp:     f.now().UTC(),
		Message:       message,
		Fields:        fields,
		Offset:        offset,
		Locator:       loc,
		JSON:          rec.JSON,
		Expanded:      rec.Expanded,
		ExpandedIndex: rec.ExpandedIndex,
	}
}

func severity(doc any, message string) string {
	if m, ok := doc.(map[string]any); ok {
		if lvl, ok := logparse.SeverityFromDocument(m); ok {
			return lvl
		}
	}
	return logparse.ExtractSeverityFromText(message)
}

func awsFields(loc model.SourceLocator) map[string]any {
	switch loc.Kind {
	case model.SourceS3:
		return map[string]any{"s3": map[string]any{
			"bucket": map[string]any{"name": loc.Bucket, "arn": loc.BucketARN},
			"object": map[string]any{"key": loc.Key},
		}}
	case model.SourceSQS:
		return map[string]any{"sqs": map[string]any{
			"name":       loc.Queue,
			"message_id": loc.MessageID,
		}}
	case model.SourceCloudWatch:
		return map[string]any{"cloudwatch_logs": map[string]any{
			"group_name":  loc.LogGroup,
			"stream_name": loc.LogStream,
			"event_id":    loc.EventID,
		}}
	case model.SourceKinesis:
		return map[string]any{"kinesis": map[string]any{
			"type":            loc.StreamType,
			"name":            loc.StreamName,
			"sequence_number": loc.SequenceNumber,
		}}
	default:
		return map[string]any{}
	}
}
