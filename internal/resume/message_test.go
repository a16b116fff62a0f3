package resume

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinytelemetry/ferry/internal/model"
)

func TestMessage_AttributesRoundTrip(t *testing.T) {
	t.Parallel()

	m := Message{
		Body:               "line one\nline two",
		InputID:            "arn:aws:logs:us-east-1:123456789012:log-group:app:*",
		Config:             "inputs: []",
		EventID:            "e-1",
		LogGroup:           "app",
		LogStream:          "web-1",
		LastEndingOffset:   9,
		LastExpandedOffset: 2,
		JSONState:          model.JSONState{Mode: model.JSONObjects, PlainUntil: 30},
	}
	attrs := m.Attributes()
	if attrs[AttrLastEndingOffset] != "9" || attrs[AttrLastExpandedOffset] != "2" {
		t.Fatalf("attributes = %v", attrs)
	}
	if attrs[AttrJSONMode] != "objects" || attrs[AttrJSONPlainUntil] != "30" {
		t.Fatalf("json state attributes = %v", attrs)
	}
	if len(attrs) > 10 {
		t.Fatalf("%d attributes exceed the queue limit of 10", len(attrs))
	}
	if _, ok := attrs[AttrMessageID]; ok {
		t.Fatal("empty message id was emitted")
	}

	got, ok := FromAttributes(m.Body, attrs)
	if !ok {
		t.Fatal("FromAttributes rejected a continuation")
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("message (-want +got):\n%s", diff)
	}
}

func TestFromAttributes_NotContinuation(t *testing.T) {
	t.Parallel()

	if _, ok := FromAttributes("body", map[string]string{"other": "x"}); ok {
		t.Fatal("FromAttributes accepted attributes without an event source")
	}
}

func TestFromAttributes_BadOffset(t *testing.T) {
	t.Parallel()

	m, ok := FromAttributes("b", map[string]string{AttrEventSourceARN: "arn:aws:sqs:us-east-1:1:q", AttrLastEndingOffset: "nope"})
	if !ok || m.LastEndingOffset != 0 {
		t.Fatalf("message = %+v, %v", m, ok)
	}
}

func TestFromAttributes_UnknownJSONMode(t *testing.T) {
	t.Parallel()

	m, ok := FromAttributes("b", map[string]string{
		AttrEventSourceARN:   "arn:aws:sqs:us-east-1:1:q",
		AttrLastEndingOffset: "40",
		AttrJSONMode:         "guess",
		AttrJSONPlainUntil:   "12",
	})
	if !ok {
		t.Fatal("FromAttributes rejected a continuation")
	}
	if m.JSONState != (model.JSONState{}) {
		t.Fatalf("json state = %+v, want undecided", m.JSONState)
	}
}

func TestNewMessage(t *testing.T) {
	t.Parallel()

	tok := model.ResumeToken{
		Locator:             model.SourceLocator{Kind: model.SourceCloudWatch, LogGroup: "g", LogStream: "s", EventID: "e"},
		LastEndingOffset:    12,
		PositionWithinBatch: 1,
		JSONState:           model.JSONState{Mode: model.JSONPlain},
	}
	got := NewMessage("payload", "arn:aws:logs:us-east-1:1:log-group:g:*", "", tok)
	want := Message{
		Body:               "payload",
		InputID:            "arn:aws:logs:us-east-1:1:log-group:g:*",
		EventID:            "e",
		LogGroup:           "g",
		LogStream:          "s",
		LastEndingOffset:   12,
		LastExpandedOffset: 1,
		JSONState:          model.JSONState{Mode: model.JSONPlain},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("message (-want +got):\n%s", diff)
	}
}
