package shipper

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"

	"github.com/tinytelemetry/ferry/internal/model"
)

// ReplayOutputType names the backend a replayed event is written to.
const ReplayOutputType = "duckdb"

// ReplayPayload is the body of a replay queue message. Event is already
// enriched and keyed, so replaying it is idempotent.
type ReplayPayload struct {
	OutputType     string      `json:"output_type"`
	EventInputID   string      `json:"event_input_id"`
	EventInputType string      `json:"event_input_type"`
	Event          model.Event `json:"event_payload"`
}

// SQSSender is the subset of the SQS client used by SQSReplay.
type SQSSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSReplay sends rejected events to a replay queue.
type SQSReplay struct {
	api       SQSSender
	queueURL  string
	inputID   string
	inputType string
	config    string
}

// NewSQSReplay returns a replay sink for events of one input. config is the
// serialized input configuration sent along each message.
func NewSQSReplay(api SQSSender, queueURL, inputType, inputID, config string) *SQSReplay {
	return &SQSReplay{api: api, queueURL: queueURL, inputID: inputID, inputType: inputType, config: config}
}

func (r *SQSReplay) Replay(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ReplayPayload{
		OutputType:     ReplayOutputType,
		EventInputID:   r.inputID,
		EventInputType: r.inputType,
		Event:          ev,
	})
	if err != nil {
		return fmt.Errorf("shipper: marshal replay payload: %w", err)
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(r.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if r.config != "" {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			"config": {DataType: aws.String("String"), StringValue: aws.String(r.config)},
		}
	}
	if _, err := r.api.SendMessage(ctx, in); err != nil {
		return fmt.Errorf("shipper: send replay: %w", err)
	}
	return nil
}
