package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/goccy/go-json"

	"github.com/tinytelemetry/ferry/internal/handler"
	"github.com/tinytelemetry/ferry/internal/resume"
	"github.com/tinytelemetry/ferry/internal/trigger"
)

// continuationQueue is the journal as seen by the continuation worker.
type continuationQueue interface {
	Replay(fn func(seq uint64, payload []byte) error) error
	Commit(seq uint64) error
}

type invoker interface {
	Invoke(ctx context.Context, raw []byte) (handler.Result, error)
}

// continuationWorker re-invokes the handler with the resume messages left in
// the local journal by suspended invocations.
type continuationWorker struct {
	queue    continuationQueue
	invoker  invoker
	interval time.Duration
	timeout  time.Duration
}

func (w *continuationWorker) run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.drain(ctx); err != nil {
			log.Printf("continuation worker: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// drain invokes the handler once with every pending message and commits them
// unless the invocation failed in a way a retry can fix. It returns the
// number of messages consumed.
func (w *continuationWorker) drain(ctx context.Context) (int, error) {
	var (
		msgs   []resume.Message
		maxSeq uint64
	)
	err := w.queue.Replay(func(seq uint64, payload []byte) error {
		maxSeq = seq
		var m resume.Message
		if err := json.Unmarshal(payload, &m); err != nil {
			log.Printf("continuation worker: dropping malformed entry %d: %v", seq, err)
			return nil
		}
		msgs = append(msgs, m)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if maxSeq == 0 {
		return 0, nil
	}
	if len(msgs) == 0 {
		return 0, w.queue.Commit(maxSeq)
	}

	raw, err := trigger.ContinuationEvent(msgs)
	if err != nil {
		return 0, err
	}

	ictx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	res, err := w.invoker.Invoke(ictx, raw)
	if err != nil && !errors.Is(err, handler.ErrInputNotFound) && !errors.Is(err, trigger.ErrUnsupportedTrigger) {
		return 0, err
	}
	if err != nil {
		log.Printf("continuation worker: dropping %d messages: %v", len(msgs), err)
	} else {
		log.Printf("continuation worker: %d messages %s, %d events sent", len(msgs), res.Status, res.Sent)
	}
	return len(msgs), w.queue.Commit(maxSeq)
}
