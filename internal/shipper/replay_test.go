package shipper

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"
)

type fakeSender struct {
	inputs []*sqs.SendMessageInput
}

func (f *fakeSender) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSReplay(t *testing.T) {
	t.Parallel()

	api := &fakeSender{}
	r := NewSQSReplay(api, "https://sqs/replay", "sqs", "arn:aws:sqs:us-east-1:1:in", "inputs: []")

	ev := event("boom", 4)
	ev.DeliveryKey = "abc-000000000004"
	if err := r.Replay(context.Background(), ev); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(api.inputs) != 1 {
		t.Fatalf("sent = %d, want 1", len(api.inputs))
	}

	var got ReplayPayload
	if err := json.Unmarshal([]byte(aws.ToString(api.inputs[0].MessageBody)), &got); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if got.OutputType != ReplayOutputType || got.EventInputID != "arn:aws:sqs:us-east-1:1:in" {
		t.Fatalf("payload = %+v", got)
	}
	if got.Event.DeliveryKey != ev.DeliveryKey || got.Event.Message != "boom" {
		t.Fatalf("event = %+v", got.Event)
	}
	if aws.ToString(api.inputs[0].MessageAttributes["config"].StringValue) != "inputs: []" {
		t.Fatal("config attribute missing")
	}
}
