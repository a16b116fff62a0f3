package shipper

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinytelemetry/ferry/internal/model"
)

// memBackend stores events by delivery key and reports repeats as duplicates.
type memBackend struct {
	docs    map[string]model.Event
	calls   int
	err     error
	rejectN map[string]bool
}

func newMemBackend() *memBackend {
	return &memBackend{docs: map[string]model.Event{}, rejectN: map[string]bool{}}
}

func (m *memBackend) BulkCreate(_ context.Context, events []model.Event) (model.BulkResult, error) {
	m.calls++
	if m.err != nil {
		return model.BulkResult{}, m.err
	}
	var res model.BulkResult
	for i, ev := range events {
		if m.rejectN[ev.Message] {
			res.Failed++
			res.Rejected = append(res.Rejected, i)
			continue
		}
		if _, ok := m.docs[ev.DeliveryKey]; ok {
			res.Duplicates++
			continue
		}
		m.docs[ev.DeliveryKey] = ev
		res.Succeeded++
	}
	return res, nil
}

type memReplay struct {
	events []model.Event
}

func (r *memReplay) Replay(_ context.Context, ev model.Event) error {
	r.events = append(r.events, ev)
	return nil
}

var s3Loc = model.SourceLocator{
	Kind:      model.SourceS3,
	Region:    "us-east-1",
	Bucket:    "trail",
	BucketARN: "arn:aws:s3:::trail",
	Key:       "AWSLogs/123/CloudTrail/us-east-1/2024/01/15/file.json.gz",
}

func event(msg string, offset int64) model.Event {
	return model.Event{Message: msg, Offset: offset, Locator: s3Loc, Fields: map[string]any{"message": msg}}
}

func TestBatcher_FlushesAtBatchSize(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	b := NewBatcher(backend, Config{BatchSize: 2})
	ctx := context.Background()

	for i, msg := range []string{"a", "b", "c"} {
		if got := b.Send(ctx, event(msg, int64(i*2))); got != OutcomeSent {
			t.Fatalf("Send(%q) = %s, want sent", msg, got)
		}
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls)
	}
	if b.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", b.Pending())
	}
	res := b.Flush(ctx)
	if res.Succeeded != 1 || backend.calls != 2 {
		t.Fatalf("final flush = %+v after %d calls", res, backend.calls)
	}
	if got := b.Flush(ctx); got.Succeeded != 0 || backend.calls != 2 {
		t.Fatal("empty flush reached the backend")
	}
	if len(backend.docs) != 3 {
		t.Fatalf("stored = %d, want 3", len(backend.docs))
	}
}

func TestBatcher_RedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	ctx := context.Background()

	first := NewBatcher(backend)
	first.Send(ctx, event("A", 0))
	first.Send(ctx, event("B", 2))
	first.Flush(ctx)

	// A retry of the same source replays B and adds C.
	second := NewBatcher(backend)
	second.Send(ctx, event("B", 2))
	second.Send(ctx, event("C", 4))
	res := second.Flush(ctx)

	if res.Succeeded != 1 || res.Duplicates != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 1 succeeded 1 duplicate", res)
	}
	if len(backend.docs) != 3 {
		t.Fatalf("stored = %d, want 3", len(backend.docs))
	}
}

func TestBatcher_EmptyAndFiltered(t *testing.T) {
	t.Parallel()

	filter, err := NewFilter(nil, []string{`^DEBUG`})
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	backend := newMemBackend()
	b := NewBatcher(backend, Config{Filter: filter})
	ctx := context.Background()

	outcomes := []Outcome{
		b.Send(ctx, event("", 0)),
		b.Send(ctx, event("DEBUG noisy", 1)),
		b.Send(ctx, event("INFO kept", 13)),
	}
	if diff := cmp.Diff([]Outcome{OutcomeEmpty, OutcomeFiltered, OutcomeSent}, outcomes); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
	b.Flush(ctx)
	want := Stats{Sent: 1, Empty: 1, Filtered: 1, Succeeded: 1, Flushes: 1}
	if diff := cmp.Diff(want, b.Stats()); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
}

func TestBatcher_Enrichment(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	b := NewBatcher(backend, Config{Destination: Destination{
		Namespace:        "prod",
		Tags:             []string{"team-a"},
		IntegrationScope: "data_stream",
	}})
	ctx := context.Background()

	in := event("hello", 7)
	b.Send(ctx, in)
	b.Flush(ctx)

	if _, ok := in.Fields["data_stream"]; ok {
		t.Fatal("caller fields were modified")
	}
	key := model.DeliveryKey(s3Loc, 7)
	got, ok := backend.docs[key]
	if !ok {
		t.Fatalf("document %q not stored", key)
	}
	if got.Index != "logs-aws.cloudtrail-prod" {
		t.Fatalf("index = %q", got.Index)
	}
	if diff := cmp.Diff([]string{"preserve_original_event", "forwarded", "aws-cloudtrail", "team-a"}, got.Tags); diff != "" {
		t.Fatalf("tags (-want +got):\n%s", diff)
	}
	wantStream := map[string]any{"type": "logs", "dataset": "aws.cloudtrail", "namespace": "prod"}
	if diff := cmp.Diff(wantStream, got.Fields["data_stream"]); diff != "" {
		t.Fatalf("data_stream (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"dataset": "aws.cloudtrail", "original": "hello"}, got.Fields["event"]); diff != "" {
		t.Fatalf("event (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"integration_scope": "data_stream"}, got.Fields["meta"]); diff != "" {
		t.Fatalf("meta (-want +got):\n%s", diff)
	}
}

func TestBatcher_ExpandedElementsGetDistinctKeys(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	b := NewBatcher(backend)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := event("elem", 10)
		ev.Expanded = true
		ev.ExpandedIndex = i
		b.Send(ctx, ev)
	}
	res := b.Flush(ctx)
	if res.Succeeded != 3 {
		t.Fatalf("result = %+v, want 3 succeeded", res)
	}
	if _, ok := backend.docs[model.ExpandedDeliveryKey(s3Loc, 10, 2)]; !ok {
		t.Fatal("expanded key missing")
	}
}

func TestBatcher_FailuresGoToReplay(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rejected documents", func(t *testing.T) {
		t.Parallel()
		backend := newMemBackend()
		backend.rejectN["bad"] = true
		replay := &memReplay{}
		b := NewBatcher(backend, Config{Replay: replay})

		b.Send(ctx, event("ok", 0))
		b.Send(ctx, event("bad", 3))
		res := b.Flush(ctx)

		if res.Failed != 1 || res.Succeeded != 1 {
			t.Fatalf("result = %+v", res)
		}
		if len(replay.events) != 1 || replay.events[0].Message != "bad" {
			t.Fatalf("replayed = %+v", replay.events)
		}
		if b.Stats().Replayed != 1 {
			t.Fatalf("stats = %+v", b.Stats())
		}
	})

	t.Run("backend error", func(t *testing.T) {
		t.Parallel()
		backend := newMemBackend()
		backend.err = errors.New("connection refused")
		replay := &memReplay{}
		b := NewBatcher(backend, Config{Replay: replay})

		b.Send(ctx, event("x", 0))
		b.Send(ctx, event("y", 2))
		res := b.Flush(ctx)

		if res.Failed != 2 || len(replay.events) != 2 {
			t.Fatalf("result = %+v, replayed %d", res, len(replay.events))
		}
		if b.Pending() != 0 {
			t.Fatal("failed batch still pending")
		}
	})
}
