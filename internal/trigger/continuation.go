package trigger

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tinytelemetry/ferry/internal/resume"
)

// LocalContinuationARN is the source ARN of continuation events built for
// the local continuation worker.
const LocalContinuationARN = "arn:aws:sqs:local:000000000000:ferry-continuation"

// ContinuationEvent builds the queue event a continuing queue would deliver
// for msgs. Each message becomes one record with a fresh message id.
func ContinuationEvent(msgs []resume.Message) ([]byte, error) {
	ev := Event{Records: make([]Record, 0, len(msgs))}
	for _, m := range msgs {
		attrs := m.Attributes()
		rec := Record{
			EventSource:       "aws:sqs",
			EventSourceARN:    LocalContinuationARN,
			MessageID:         uuid.NewString(),
			Body:              m.Body,
			MessageAttributes: make(map[string]MessageAttribute, len(attrs)),
		}
		for k, v := range attrs {
			dataType := "String"
			if resume.IsNumeric(k) {
				dataType = "Number"
			}
			rec.MessageAttributes[k] = MessageAttribute{StringValue: &v, DataType: dataType}
		}
		ev.Records = append(ev.Records, rec)
	}
	return json.Marshal(ev)
}
