package resume

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/tinytelemetry/ferry/internal/journal"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	failOn string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if aws.ToString(in.MessageBody) == f.failOn {
		return nil, errors.New("throttled")
	}
	f.inputs = append(f.inputs, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("new")}, nil
}

func TestSQSContinuation(t *testing.T) {
	t.Parallel()

	api := &fakeSQS{}
	c := NewSQSContinuation(api, "https://sqs.us-east-1.amazonaws.com/1/continue")
	msgs := []Message{
		{Body: "A\nB\nC", InputID: "arn:aws:sqs:us-east-1:1:in", MessageID: "m-1", LastEndingOffset: 2},
		{Body: "D", InputID: "arn:aws:sqs:us-east-1:1:in", MessageID: "m-2"},
	}
	if err := c.Continue(context.Background(), msgs); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if len(api.inputs) != 2 {
		t.Fatalf("sent = %d, want 2", len(api.inputs))
	}

	first := api.inputs[0]
	if aws.ToString(first.QueueUrl) != "https://sqs.us-east-1.amazonaws.com/1/continue" {
		t.Fatalf("queue url = %q", aws.ToString(first.QueueUrl))
	}
	offset := first.MessageAttributes[AttrLastEndingOffset]
	if aws.ToString(offset.DataType) != "Number" || aws.ToString(offset.StringValue) != "2" {
		t.Fatalf("offset attribute = %s/%s", aws.ToString(offset.DataType), aws.ToString(offset.StringValue))
	}
	if got := aws.ToString(first.MessageAttributes[AttrMessageID].StringValue); got != "m-1" {
		t.Fatalf("message id attribute = %q", got)
	}
	if got := aws.ToString(api.inputs[1].MessageAttributes[AttrLastEndingOffset].StringValue); got != "0" {
		t.Fatalf("second offset = %q, want 0", got)
	}
}

func TestSQSContinuation_SendsRemainingAfterFailure(t *testing.T) {
	t.Parallel()

	api := &fakeSQS{failOn: "bad"}
	c := NewSQSContinuation(api, "q")
	err := c.Continue(context.Background(), []Message{
		{Body: "bad", InputID: "a"},
		{Body: "good", InputID: "b"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(api.inputs) != 1 || aws.ToString(api.inputs[0].MessageBody) != "good" {
		t.Fatal("message after the failure was not sent")
	}
}

func TestJournalContinuation(t *testing.T) {
	t.Parallel()

	j, err := journal.Open(filepath.Join(t.TempDir(), "continuation.journal"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	defer j.Close()

	want := []Message{
		{Body: "x", InputID: "arn:aws:sqs:us-east-1:1:q", LastEndingOffset: 4},
		{Body: "y", InputID: "arn:aws:sqs:us-east-1:1:q"},
	}
	if err := NewJournalContinuation(j).Continue(context.Background(), want); err != nil {
		t.Fatalf("Continue: %v", err)
	}

	var got []Message
	err = j.Replay(func(_ uint64, payload []byte) error {
		var m Message
		if err := json.Unmarshal(payload, &m); err != nil {
			return err
		}
		got = append(got, m)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("journaled messages (-want +got):\n%s", diff)
	}
}
