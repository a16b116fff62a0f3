package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tinytelemetry/ferry/internal/handler"
	"github.com/tinytelemetry/ferry/internal/journal"
	"github.com/tinytelemetry/ferry/internal/model"
	"github.com/tinytelemetry/ferry/internal/resume"
	"github.com/tinytelemetry/ferry/internal/trigger"
)

type recordingInvoker struct {
	events [][]byte
	err    error
	// follow is appended to the journal during the first invocation, the way
	// a suspending invocation continues its work.
	follow func()
}

func (r *recordingInvoker) Invoke(_ context.Context, raw []byte) (handler.Result, error) {
	r.events = append(r.events, raw)
	if r.follow != nil {
		r.follow()
		r.follow = nil
	}
	return handler.Result{Status: handler.StatusCompleted}, r.err
}

func openJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "continuations.jsonl"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func message(n int) resume.Message {
	loc := model.SourceLocator{Kind: model.SourceSQS, Queue: "ingest", MessageID: fmt.Sprintf("m-%d", n)}
	return resume.NewMessage("body", "arn:aws:sqs:eu-west-1:123456789012:ingest", "", model.ResumeToken{Locator: loc, LastEndingOffset: int64(n)})
}

func newWorker(j *journal.Journal, inv invoker) *continuationWorker {
	return &continuationWorker{queue: j, invoker: inv, interval: time.Second, timeout: time.Minute}
}

func TestContinuationWorker_DrainsAndCommits(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	cont := resume.NewJournalContinuation(j)
	if err := cont.Continue(context.Background(), []resume.Message{message(1), message(2)}); err != nil {
		t.Fatalf("Continue: %v", err)
	}

	inv := &recordingInvoker{follow: func() {
		if err := cont.Continue(context.Background(), []resume.Message{message(3)}); err != nil {
			t.Errorf("Continue: %v", err)
		}
	}}
	w := newWorker(j, inv)

	n, err := w.drain(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("first drain = %d, %v; want 2", n, err)
	}

	var ev trigger.Event
	if err := json.Unmarshal(inv.events[0], &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(ev.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(ev.Records))
	}

	// The message continued during the first invocation is still pending.
	n, err = w.drain(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("second drain = %d, %v; want 1", n, err)
	}
	if n, _ := w.drain(context.Background()); n != 0 || j.Pending() {
		t.Fatalf("journal not drained: n = %d, pending = %v", n, j.Pending())
	}
}

func TestContinuationWorker_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	j := openJournal(t)
	if _, err := j.Append(message(1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	inv := &recordingInvoker{err: errors.New("s3: get: connection reset")}
	w := newWorker(j, inv)
	if _, err := w.drain(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !j.Pending() {
		t.Fatal("failed messages were committed")
	}

	inv.err = fmt.Errorf("%w: sqs x", handler.ErrInputNotFound)
	if n, err := w.drain(context.Background()); err != nil || n != 1 {
		t.Fatalf("drain = %d, %v", n, err)
	}
	if j.Pending() {
		t.Fatal("unroutable messages must be dropped")
	}
}
